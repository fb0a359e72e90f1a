package rpc

import "github.com/klingon-exchange/fusion-resolver/internal/p2p"

// WireGossip forwards resolver-federation announcements (internal/p2p) to
// every connected WebSocket client, so a UI watching a swap sees Ready /
// Completed / Refunded transitions driven by a standby resolver exactly
// as promptly as ones driven locally.
func (s *Server) WireGossip(node *p2p.Node) {
	node.OnAnnouncement(func(a p2p.Announcement) {
		if s.wsHub == nil {
			return
		}
		s.wsHub.Broadcast(EventSwapStatus, map[string]interface{}{
			"swap_id":    a.SwapID,
			"transition": string(a.Transition),
			"resolver":   a.Resolver,
			"source":     "gossip",
		})
	})
}
