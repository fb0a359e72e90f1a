package resolver

import (
	"context"

	"github.com/klingon-exchange/fusion-resolver/internal/p2p"
)

// Announcer is the subset of *p2p.Node the orchestrator needs to tell the
// resolver federation about a swap-status transition: a
// standby resolver races to complete a swap if the primary crashes
// mid-flight, which only works if standbys heard the transitions leading
// up to Ready.
type Announcer interface {
	Publish(ctx context.Context, a p2p.Announcement) error
}

// AttachGossip wires a federation node into the orchestrator. Unattached
// (nil), the orchestrator runs standalone with no gossip at all.
func (o *Orchestrator) AttachGossip(node Announcer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gossip = node
}

// announce best-effort publishes a transition to the federation. Failures
// are logged, not propagated — gossip is advisory, never part of a swap's
// own consistency boundary.
func (o *Orchestrator) announce(ctx context.Context, swapID string, transition p2p.TransitionKind) {
	o.mu.RLock()
	g := o.gossip
	o.mu.RUnlock()
	if g == nil {
		return
	}
	if err := g.Publish(ctx, p2p.Announcement{
		SwapID:     swapID,
		Transition: transition,
		Resolver:   o.resolverEvmAddr.String(),
	}); err != nil {
		o.log.Debug("gossip publish failed", "swap_id", swapID, "transition", transition, "error", err)
	}
}
