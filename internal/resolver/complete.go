package resolver

import (
	"context"

	"github.com/klingon-exchange/fusion-resolver/internal/escrow"
	"github.com/klingon-exchange/fusion-resolver/internal/orcherr"
	"github.com/klingon-exchange/fusion-resolver/internal/p2p"
	"github.com/klingon-exchange/fusion-resolver/internal/swap"
)

// authorizeUserOrOperator enforces the "user or operator" caller
// restriction: caller must be the depositor identity
// encoded in the swap (by either address family) or the principal
// configured as this orchestrator's operator.
func (o *Orchestrator) authorizeUserOrOperator(s *swap.Swap, caller string) error {
	if caller == "" {
		return orcherr.New(orcherr.InvalidInput, "caller identity required")
	}
	if caller == s.UserEvmAddress.String() || caller == s.UserActorPrincipal.String() {
		return nil
	}
	if o.cfg.OperatorPrincipal != "" && caller == o.cfg.OperatorPrincipal {
		return nil
	}
	return orcherr.New(orcherr.InvalidInput, "caller is not authorized to complete this swap")
}

// Complete drives Ready -> Completed. The secret is revealed on the
// destination escrow (the user's payout side) first — observing that
// reveal is what lets the resolver claim the source side with the same
// preimage.
func (o *Orchestrator) Complete(ctx context.Context, swapID string, caller string) error {
	o.mu.RLock()
	s, ok := o.swaps[swapID]
	refs, refsOK := o.refs[swapID]
	now := o.now()
	o.mu.RUnlock()
	if !ok || !refsOK {
		return orcherr.NotFound("no swap %s", swapID)
	}
	if err := o.authorizeUserOrOperator(s, caller); err != nil {
		return err
	}

	secret := s.Secret()
	if secret == nil {
		return orcherr.New(orcherr.ProcessingError, "swap has no live secret to reveal")
	}

	if err := o.releaseEscrow(ctx, refs[1], *secret); err != nil {
		return err
	}
	if err := o.releaseEscrow(ctx, refs[0], *secret); err != nil {
		return err
	}

	if err := s.Complete(*secret, now); err != nil {
		return err
	}
	o.persistSwap(s, refs)
	o.announce(ctx, swapID, p2p.TransitionCompleted)
	return nil
}

// releaseEscrow reveals secret against one escrow, regardless of which
// chain it lives on. An actor-chain escrow already released with this
// same secret counts as success, so a Complete retried after a crash
// between its two claim actions re-drives only the side that still
// needs it.
func (o *Orchestrator) releaseEscrow(ctx context.Context, ref escrowRef, secret [32]byte) error {
	if ref.onEvm {
		who := o.resolverEvmAddr
		_, err := o.evm.Withdraw(ctx, who, ref.evmAddr, secret, immutablesPlaceholder())
		return err
	}
	e, ok := o.actors.Get(ref.actorRef)
	if !ok {
		return orcherr.Processing("actor-chain escrow %s not found", ref.actorRef)
	}
	if e.GetStatus() == escrow.StatusReleased {
		if revealed := e.RevealedSecret(); revealed != nil && *revealed == secret {
			return nil
		}
		return orcherr.Processing("escrow %s released with a different secret", ref.actorRef)
	}
	return e.Release(ctx, secret)
}
