package resolver

import (
	"context"
	"math/big"

	"github.com/klingon-exchange/fusion-resolver/internal/orcherr"
	"github.com/klingon-exchange/fusion-resolver/internal/p2p"
	"github.com/klingon-exchange/fusion-resolver/internal/swap"
)

// CheckEscrowFunding polls both escrows via C1 (actor-chain) and C3 (EVM)
// and folds the observed FundingStatus into the swap. It
// is idempotent: repeated calls against unchanged external state settle
// on the same swap.FundingStatus.
func (o *Orchestrator) CheckEscrowFunding(ctx context.Context, swapID string) (swap.FundingStatus, error) {
	o.mu.RLock()
	s, ok := o.swaps[swapID]
	refs, refsOK := o.refs[swapID]
	now := o.now()
	o.mu.RUnlock()
	if !ok || !refsOK {
		return "", orcherr.NotFound("no swap %s", swapID)
	}

	srcFunded, err := o.isFunded(ctx, refs[0], s.Amount)
	if err != nil {
		return "", err
	}
	dstFunded, err := o.isFunded(ctx, refs[1], s.Amount)
	if err != nil {
		return "", err
	}

	var funding swap.FundingStatus
	switch {
	case srcFunded && dstFunded:
		funding = swap.FundingBoth
	case srcFunded:
		funding = swap.FundingSource
	case dstFunded:
		funding = swap.FundingDest
	default:
		funding = swap.FundingNeither
	}

	prevStatus := s.GetStatus()
	if _, err := s.ApplyFunding(funding, now); err != nil {
		return funding, err
	}
	o.persistSwap(s, refs)
	if prevStatus != swap.StatusReady && s.GetStatus() == swap.StatusReady {
		o.announce(ctx, swapID, p2p.TransitionReady)
	}
	return funding, nil
}

// isFunded reports whether a single escrow currently holds the swap
// amount. The EVM side has no escrow-contract-internal "status" to query
// (its internals are an external collaborator), so
// balance-at-address is the funding proxy there; the actor-chain side
// asks the escrow instance directly.
func (o *Orchestrator) isFunded(ctx context.Context, ref escrowRef, amount *big.Int) (bool, error) {
	if ref.onEvm {
		balance, err := o.evm.GetBalance(ctx, ref.evmAddr)
		if err != nil {
			return false, err
		}
		return balance.Cmp(amount) >= 0, nil
	}
	e, ok := o.actors.Get(ref.actorRef)
	if !ok {
		return false, orcherr.Processing("actor-chain escrow %s not found", ref.actorRef)
	}
	return e.IsFunded(), nil
}
