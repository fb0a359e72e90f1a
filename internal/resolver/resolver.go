// Package resolver implements the resolver orchestrator (C5): the
// process-wide registry of swaps, secrets, and escrow handles, and the
// operations that drive a swap through the lifecycle in internal/swap by
// coordinating internal/factory (the actor-chain side) and internal/evmadapter
// (the EVM side). It holds the only process-wide mutable state in this
// system; every escrow and the swap map itself follow the single-actor,
// suspend-and-revalidate discipline.
package resolver

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/klingon-exchange/fusion-resolver/internal/config"
	"github.com/klingon-exchange/fusion-resolver/internal/escrow"
	"github.com/klingon-exchange/fusion-resolver/internal/factory"
	"github.com/klingon-exchange/fusion-resolver/internal/identity"
	"github.com/klingon-exchange/fusion-resolver/internal/orcherr"
	"github.com/klingon-exchange/fusion-resolver/internal/swap"
	"github.com/klingon-exchange/fusion-resolver/pkg/logging"
)

// EvmPort is the subset of *evmadapter.Adapter the orchestrator needs.
// Declaring it here (rather than depending on the concrete type) lets
// tests drive the orchestrator against a fake EVM chain without a live
// RPC gateway; *evmadapter.Adapter satisfies it as-is.
type EvmPort interface {
	GetBalance(ctx context.Context, addr identity.EvmAddress) (*big.Int, error)
	DeploySrcEscrow(ctx context.Context, from, user, token identity.EvmAddress, amount *big.Int, hashlock [32]byte, timelock uint64) (identity.EvmAddress, error)
	DeployDstEscrow(ctx context.Context, from, recipient, token identity.EvmAddress, amount *big.Int, hashlock [32]byte, timelock uint64) (identity.EvmAddress, error)
	Withdraw(ctx context.Context, from, escrowAddr identity.EvmAddress, secret [32]byte, immutables []byte) (common.Hash, error)
	Cancel(ctx context.Context, from, escrowAddr identity.EvmAddress, immutables []byte) (common.Hash, error)
	SendValue(ctx context.Context, from, to identity.EvmAddress, value *big.Int) (common.Hash, error)
	DeriveResolverAddress(ctx context.Context) (identity.EvmAddress, error)
}

// immutablesPlaceholder stands in for the EVM-side escrow contract's own
// immutables encoding, which is out of scope here (the escrow
// contract internals are an external collaborator) — see also
// Adapter.BuildTimelocks.
func immutablesPlaceholder() []byte { return nil }

// escrowRef records which chain a swap's source/dest escrow lives on and
// how to reach it, since EvmToActor and ActorToEvm swaps place the two
// escrows on opposite chains.
type escrowRef struct {
	onEvm    bool
	evmAddr  identity.EvmAddress // set when onEvm
	actorRef factory.Handle      // set when !onEvm
}

// Orchestrator holds the process-wide resolver state: the
// swap map, the actor-chain escrow factory, the EVM adapter, and
// configuration. The secret store is not a separate map — it lives
// inside each *swap.Swap and is erased by the swap itself once
// terminal; this avoids a second place that could fall out of sync.
type Orchestrator struct {
	mu    sync.RWMutex
	swaps map[string]*swap.Swap
	refs  map[string][2]escrowRef // swapID -> [source, dest]

	cfg     *config.Config
	evm     EvmPort
	actors  *factory.Factory
	ledger  escrow.Ledger
	log     *logging.Logger
	store   Store     // optional; nil means no persistence (pure in-memory)
	gossip  Announcer // optional; nil means no resolver-federation gossip

	resolverEvmAddr identity.EvmAddress
	resolverActor   identity.ActorPrincipal

	now func() time.Time
}

// New returns an Orchestrator ready to service requests. resolverActor is
// the principal the orchestrator uses as depositor/recipient on its own
// half of every actor-chain escrow it deploys.
func New(cfg *config.Config, evm EvmPort, actors *factory.Factory, ledger escrow.Ledger, resolverEvmAddr identity.EvmAddress, resolverActor identity.ActorPrincipal) *Orchestrator {
	return &Orchestrator{
		swaps:           make(map[string]*swap.Swap),
		refs:            make(map[string][2]escrowRef),
		cfg:             cfg,
		evm:             evm,
		actors:          actors,
		ledger:          ledger,
		log:             logging.GetDefault().Component("resolver"),
		resolverEvmAddr: resolverEvmAddr,
		resolverActor:   resolverActor,
		now:             time.Now,
	}
}

// SetClock overrides the orchestrator's notion of "now", for deterministic
// timelock-expiry tests.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = now
}

// GetSwap is the unauthenticated read operation.
func (o *Orchestrator) GetSwap(swapID string) (*swap.Swap, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.swaps[swapID]
	if !ok {
		return nil, orcherr.NotFound("no swap %s", swapID)
	}
	return s, nil
}

// newSwapID generates a swap id via the host RNG (google/uuid), never
// derived from observable inputs such as a counter or timestamp.
func newSwapID() string {
	return uuid.NewString()
}

// generateSecret draws 32 bytes from the host's cryptographic RNG; the
// secret must never be derivable from observable inputs such as
// timestamps, callers, or counters.
func generateSecret() ([32]byte, error) {
	var secret [32]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return secret, orcherr.Wrap(orcherr.ProcessingError, "generate swap secret", err)
	}
	return secret, nil
}
