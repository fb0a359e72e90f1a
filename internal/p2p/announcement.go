package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// defaultTopic is used when config.P2PConfig.Topic is empty.
const defaultTopic = "resolver-federation/v1"

// TransitionKind enumerates the swap-status transitions worth announcing
// to the federation: Ready, Completed, and Refunded are the ones a
// standby resolver needs to race or stand down on.
type TransitionKind string

const (
	TransitionReady     TransitionKind = "Ready"
	TransitionCompleted TransitionKind = "Completed"
	TransitionRefunded  TransitionKind = "Refunded"
)

// Announcement is the gossiped message shape: one resolver telling the
// federation that a swap it is driving just changed status. It carries no
// secret material — the preimage never appears here, only the fact that a
// transition happened and (for Completed) the swap id a standby should
// stop racing on.
type Announcement struct {
	SwapID     string         `json:"swap_id"`
	Transition TransitionKind `json:"transition"`
	Resolver   string         `json:"resolver"` // announcing resolver's operator principal/address
	Timestamp  int64          `json:"timestamp"`
}

// Publish broadcasts an announcement to the federation topic. Failures
// are non-fatal to the caller's own state transition, which has already
// committed locally by the time Publish is called — gossip is advisory,
// not part of the swap's consistency boundary.
func (n *Node) Publish(ctx context.Context, a Announcement) error {
	if n.topic == nil {
		return fmt.Errorf("p2p: node has no topic joined")
	}
	a.Resolver = nonEmpty(a.Resolver, n.ID().String())
	if a.Timestamp == 0 {
		a.Timestamp = time.Now().Unix()
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal announcement: %w", err)
	}
	return n.topic.Publish(ctx, data)
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

// readLoop consumes the topic subscription and dispatches well-formed
// announcements from other peers to every registered handler.
func (n *Node) readLoop() {
	selfID := n.ID()
	for {
		msg, err := n.sub.Next(n.ctx)
		if err != nil {
			// Context canceled (Stop called) or subscription closed.
			return
		}
		if msg.ReceivedFrom == selfID {
			continue
		}
		var a Announcement
		if err := json.Unmarshal(msg.Data, &a); err != nil {
			n.log.Debug("discarding malformed announcement", "peer", shortID(msg.ReceivedFrom), "error", err)
			continue
		}
		if a.SwapID == "" {
			continue
		}

		n.mu.RLock()
		handlers := make([]AnnouncementHandler, len(n.handlers))
		copy(handlers, n.handlers)
		n.mu.RUnlock()

		for _, h := range handlers {
			h(a)
		}
	}
}
