package resolver

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/big"
	"time"

	"github.com/klingon-exchange/fusion-resolver/internal/config"
	"github.com/klingon-exchange/fusion-resolver/internal/escrow"
	"github.com/klingon-exchange/fusion-resolver/internal/identity"
	"github.com/klingon-exchange/fusion-resolver/internal/orcherr"
	"github.com/klingon-exchange/fusion-resolver/internal/swap"
	"github.com/klingon-exchange/fusion-resolver/pkg/helpers"
)

// InitiateEvmToActor creates a swap whose source escrow lives on the EVM
// chain (funded by the user) and whose destination escrow lives on the
// actor-chain (pre-funded by the resolver so the user can claim there).
func (o *Orchestrator) InitiateEvmToActor(ctx context.Context, p InitiateParams) (*SwapInitiationResult, error) {
	return o.initiate(ctx, swap.EvmToActor, p)
}

// InitiateActorToEvm is symmetric: source on the actor-chain (user-funded),
// dest on the EVM chain (resolver-funded).
func (o *Orchestrator) InitiateActorToEvm(ctx context.Context, p InitiateParams) (*SwapInitiationResult, error) {
	return o.initiate(ctx, swap.ActorToEvm, p)
}

func (o *Orchestrator) initiate(ctx context.Context, direction swap.Direction, p InitiateParams) (*SwapInitiationResult, error) {
	srcToken, ok := o.cfg.TokenBySymbol(p.SourceTokenSymbol)
	if !ok {
		return nil, orcherr.Invalid("unsupported source token %q", p.SourceTokenSymbol)
	}
	dstToken, ok := o.cfg.TokenBySymbol(p.DestTokenSymbol)
	if !ok {
		return nil, orcherr.Invalid("unsupported dest token %q", p.DestTokenSymbol)
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}

	o.mu.RLock()
	now := o.now()
	o.mu.RUnlock()

	duration := p.TimelockDuration
	if duration <= config.MinDuration {
		duration = config.MinDuration * 2
	}
	timelock := now.Add(duration)
	swapID := newSwapID()

	s, err := swap.New(swap.NewParams{
		SwapID:             swapID,
		Direction:          direction,
		UserEvmAddress:     p.UserEvmAddress,
		UserActorPrincipal: p.UserActorPrincipal,
		SourceToken:        p.SourceTokenSymbol,
		DestToken:          p.DestTokenSymbol,
		Amount:             p.Amount,
		Secret:             secret,
		Timelock:           timelock,
		Now:                now,
	})
	if err != nil {
		return nil, err
	}

	var srcRef, dstRef escrowRef
	var srcDesc, dstDesc string

	if direction == swap.EvmToActor {
		srcRef, srcDesc, err = o.deployUserFundedEvmEscrow(ctx, p.UserEvmAddress, srcToken, p.Amount, secret, timelock)
		if err != nil {
			return nil, err
		}
		dstRef, dstDesc, err = o.deployResolverFundedActorEscrow(ctx, swapID, p.UserActorPrincipal, dstToken, p.Amount, secret, timelock)
		if err != nil {
			return nil, err
		}
	} else {
		srcRef, srcDesc, err = o.deployUserFundedActorEscrow(ctx, swapID, p.UserActorPrincipal, srcToken, p.Amount, secret, timelock)
		if err != nil {
			return nil, err
		}
		dstRef, dstDesc, err = o.deployResolverFundedEvmEscrow(ctx, p.UserEvmAddress, dstToken, p.Amount, secret, timelock)
		if err != nil {
			return nil, err
		}
	}

	if err := s.MarkEscrowsDeployed(srcDesc, dstDesc); err != nil {
		return nil, err
	}

	refs := [2]escrowRef{srcRef, dstRef}
	o.mu.Lock()
	o.swaps[swapID] = s
	o.refs[swapID] = refs
	o.mu.Unlock()
	o.persistSwap(s, refs)

	return &SwapInitiationResult{
		SwapID:          swapID,
		SourceEscrowRef: srcDesc,
		DestEscrowRef:   dstDesc,
		Instructions:    fmt.Sprintf("fund %s with %s %s before %s", srcDesc, helpers.FormatAmount(p.Amount, srcToken.Decimals), p.SourceTokenSymbol, timelock.Format(time.RFC3339)),
	}, nil
}

// deployUserFundedEvmEscrow deploys the EVM-side escrow the user is
// expected to fund themselves (EvmToActor's source side): the resolver
// signs the deploy transaction, with the user as its counterparty.
func (o *Orchestrator) deployUserFundedEvmEscrow(ctx context.Context, user identity.EvmAddress, token config.Token, amount *big.Int, secret [32]byte, timelock time.Time) (escrowRef, string, error) {
	tokenAddr, err := evmTokenAddress(token)
	if err != nil {
		return escrowRef{}, "", err
	}
	hashlock := secretHash(secret)
	addr, err := o.evm.DeploySrcEscrow(ctx, o.resolverEvmAddr, user, tokenAddr, amount, hashlock, uint64(timelock.Unix()))
	if err != nil {
		return escrowRef{}, "", err
	}
	return escrowRef{onEvm: true, evmAddr: addr}, addr.String(), nil
}

// deployResolverFundedEvmEscrow deploys the EVM-side escrow the resolver
// itself pre-funds (ActorToEvm's destination side), then immediately
// sends the deposit.
func (o *Orchestrator) deployResolverFundedEvmEscrow(ctx context.Context, recipient identity.EvmAddress, token config.Token, amount *big.Int, secret [32]byte, timelock time.Time) (escrowRef, string, error) {
	tokenAddr, err := evmTokenAddress(token)
	if err != nil {
		return escrowRef{}, "", err
	}
	hashlock := secretHash(secret)
	addr, err := o.evm.DeployDstEscrow(ctx, o.resolverEvmAddr, recipient, tokenAddr, amount, hashlock, uint64(timelock.Unix()))
	if err != nil {
		return escrowRef{}, "", err
	}
	if tokenAddr.IsZero() {
		if _, err := o.evm.SendValue(ctx, o.resolverEvmAddr, addr, amount); err != nil {
			return escrowRef{}, "", err
		}
	}
	return escrowRef{onEvm: true, evmAddr: addr}, addr.String(), nil
}

// deployUserFundedActorEscrow deploys the actor-chain escrow the user
// funds themselves (ActorToEvm's source side): depositor=user,
// recipient=resolver (the resolver claims this side once it reveals the
// secret on the EVM destination).
func (o *Orchestrator) deployUserFundedActorEscrow(ctx context.Context, swapID string, user identity.ActorPrincipal, token config.Token, amount *big.Int, secret [32]byte, timelock time.Time) (escrowRef, string, error) {
	params := escrow.Params{
		Hashlock:      secretHash(secret),
		Timelock:      timelock,
		Amount:        amount,
		TokenLedgerID: token.ActorLedgerID,
		Depositor:     user,
		Recipient:     o.resolverActor,
		Resolver:      o.resolverActor,
	}
	handle, err := o.actors.Deploy(ctx, swapID, params)
	if err != nil {
		return escrowRef{}, "", err
	}
	return escrowRef{onEvm: false, actorRef: handle}, string(handle), nil
}

// deployResolverFundedActorEscrow deploys the actor-chain escrow the
// resolver pre-funds (EvmToActor's destination side): depositor=resolver,
// recipient=user.
func (o *Orchestrator) deployResolverFundedActorEscrow(ctx context.Context, swapID string, user identity.ActorPrincipal, token config.Token, amount *big.Int, secret [32]byte, timelock time.Time) (escrowRef, string, error) {
	params := escrow.Params{
		Hashlock:      secretHash(secret),
		Timelock:      timelock,
		Amount:        amount,
		TokenLedgerID: token.ActorLedgerID,
		Depositor:     o.resolverActor,
		Recipient:     user,
		Resolver:      o.resolverActor,
	}
	handle, err := o.actors.Deploy(ctx, swapID, params)
	if err != nil {
		return escrowRef{}, "", err
	}
	e, ok := o.actors.Get(handle)
	if !ok {
		return escrowRef{}, "", orcherr.Processing("deployed escrow %s vanished before funding", handle)
	}
	if err := e.Deposit(ctx, o.resolverActor, amount); err != nil {
		return escrowRef{}, "", err
	}
	return escrowRef{onEvm: false, actorRef: handle}, string(handle), nil
}

func evmTokenAddress(token config.Token) (identity.EvmAddress, error) {
	if token.EvmAddress == "" {
		return identity.EvmAddress{}, nil // native asset sentinel
	}
	return identity.ParseEvmAddress(token.EvmAddress)
}

func secretHash(secret [32]byte) [32]byte {
	return sha256.Sum256(secret[:])
}
