// Package factory implements the escrow factory (C2): given escrow
// parameters, it creates a new actor-chain execution unit with the
// orchestrator as its sole controller, installs the escrow logic, and
// records the swap_id -> escrow handle mapping. Modeled directly on C1's
// in-process Escrow type since this design has no separate canister
// installation step to simulate beyond bookkeeping the handle.
package factory

import (
	"context"
	"fmt"
	"sync"

	"github.com/klingon-exchange/fusion-resolver/internal/escrow"
	"github.com/klingon-exchange/fusion-resolver/internal/orcherr"
)

// Handle identifies one deployed escrow instance.
type Handle string

// Factory deploys escrow instances and tracks them by swap id. The
// orchestrator is the factory's only caller and the resulting escrow's
// sole controller.
type Factory struct {
	ledger escrow.Ledger

	mu      sync.RWMutex
	escrows map[Handle]*escrow.Escrow
	bySwap  map[string]Handle
	counter uint64

	// quota, when > 0, bounds the number of live escrow instances this
	// factory will create, modeling the creation-quota / resource-budget
	// exhaustion failure mode of constrained hosts. Zero means unlimited.
	quota uint64
}

// New returns a Factory backed by the given ledger (the same ledger every
// deployed escrow will transfer against).
func New(ledger escrow.Ledger) *Factory {
	return &Factory{
		ledger:  ledger,
		escrows: make(map[Handle]*escrow.Escrow),
		bySwap:  make(map[string]Handle),
	}
}

// SetQuota bounds the number of escrows this factory will ever deploy,
// simulating a creation-quota / resource-budget ceiling.
func (f *Factory) SetQuota(quota uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quota = quota
}

// Deploy creates a new escrow instance for swapID with the given params.
// Failure modes: quota exhaustion (swap stays in its pre-call state,
// caller surfaces the error) and parameter validation ("installation
// failure", torn down before it is recorded).
func (f *Factory) Deploy(ctx context.Context, swapID string, params escrow.Params) (Handle, error) {
	f.mu.Lock()
	if f.quota > 0 && uint64(len(f.escrows)) >= f.quota {
		f.mu.Unlock()
		return "", orcherr.New(orcherr.InsufficientCycles, "escrow creation quota exhausted")
	}
	if _, exists := f.bySwap[swapID]; exists {
		f.mu.Unlock()
		return "", orcherr.New(orcherr.ProcessingError, fmt.Sprintf("swap %s already has a deployed escrow", swapID))
	}
	f.counter++
	handle := Handle(fmt.Sprintf("escrow-%d", f.counter))
	f.mu.Unlock()

	e, err := escrow.New(params, f.ledger)
	if err != nil {
		// Installation failure: nothing was recorded, so there is
		// nothing to tear down beyond surfacing the error.
		return "", orcherr.Wrap(orcherr.ProcessingError, "escrow installation failed", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.escrows[handle] = e
	f.bySwap[swapID] = handle
	return handle, nil
}

// Get returns the escrow instance for a handle.
func (f *Factory) Get(handle Handle) (*escrow.Escrow, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.escrows[handle]
	return e, ok
}

// HandleForSwap returns the escrow handle deployed for a swap id, if any.
func (f *Factory) HandleForSwap(swapID string) (Handle, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	h, ok := f.bySwap[swapID]
	return h, ok
}

// GetForSwap is a convenience wrapper combining HandleForSwap and Get.
func (f *Factory) GetForSwap(swapID string) (*escrow.Escrow, bool) {
	h, ok := f.HandleForSwap(swapID)
	if !ok {
		return nil, false
	}
	return f.Get(h)
}

// Count reports the number of escrows deployed so far, for quota
// observability.
func (f *Factory) Count() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return uint64(len(f.escrows))
}
