package resolver

import (
	"context"

	"github.com/klingon-exchange/fusion-resolver/internal/orcherr"
	"github.com/klingon-exchange/fusion-resolver/internal/p2p"
)

// RefundExpired issues a refund on whichever side is funded once
// now >= timelock. Callable by anyone. A second call on an
// already-terminal swap fails with ProcessingError rather than
// double-refunding. If a funded side's refund fails, the swap
// stays in Expired — not terminal — so the call can be retried; status
// only reaches Refunded once every funded side has actually paid back.
func (o *Orchestrator) RefundExpired(ctx context.Context, swapID string) error {
	o.mu.RLock()
	s, ok := o.swaps[swapID]
	refs, refsOK := o.refs[swapID]
	now := o.now()
	o.mu.RUnlock()
	if !ok || !refsOK {
		return orcherr.NotFound("no swap %s", swapID)
	}

	if err := s.MarkExpired(now); err != nil {
		// Swap already terminal (Completed or Refunded): nothing to do,
		// surface the same error so a caller can't mistake this for a
		// fresh refund.
		return err
	}

	if err := o.refundEscrowIfFunded(ctx, refs[0]); err != nil {
		return err
	}
	if err := o.refundEscrowIfFunded(ctx, refs[1]); err != nil {
		return err
	}

	if err := s.Refund(now); err != nil {
		return err
	}
	o.persistSwap(s, refs)
	o.announce(ctx, swapID, p2p.TransitionRefunded)
	return nil
}

// refundEscrowIfFunded refunds one escrow if it holds funds; an unfunded
// side requires no action. A failure on a funded side
// propagates so the caller does not mark the swap Refunded over locked
// funds.
func (o *Orchestrator) refundEscrowIfFunded(ctx context.Context, ref escrowRef) error {
	if ref.onEvm {
		balance, err := o.evm.GetBalance(ctx, ref.evmAddr)
		if err != nil {
			return err
		}
		if balance.Sign() == 0 {
			return nil
		}
		_, err = o.evm.Cancel(ctx, o.resolverEvmAddr, ref.evmAddr, immutablesPlaceholder())
		return err
	}
	e, ok := o.actors.Get(ref.actorRef)
	if !ok || !e.IsFunded() {
		return nil
	}
	return e.Refund(ctx)
}
