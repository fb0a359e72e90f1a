package resolver

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/klingon-exchange/fusion-resolver/internal/factory"
	"github.com/klingon-exchange/fusion-resolver/internal/identity"
	"github.com/klingon-exchange/fusion-resolver/internal/orcherr"
	"github.com/klingon-exchange/fusion-resolver/internal/storage"
	"github.com/klingon-exchange/fusion-resolver/internal/swap"
)

// Store is the subset of *storage.Storage the orchestrator needs to
// survive a restart without losing in-flight swaps — without it, losing
// in-memory state mid-swap would leave expiry refund as the only
// recovery.
type Store interface {
	SaveSwap(storage.SwapRecord) error
	ListNonTerminalSwaps() ([]storage.SwapRecord, error)
	SaveEscrowHandle(storage.EscrowHandleRecord) error
	LoadEscrowHandles(swapID string) ([]storage.EscrowHandleRecord, error)
}

// AttachStore wires a persistence backend into the orchestrator. Every
// subsequent status-changing operation also upserts the affected swap's
// row; it is called once during daemon startup, after New.
func (o *Orchestrator) AttachStore(store Store) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.store = store
}

// persistSwap upserts one swap's current state and escrow refs. Persist
// failures are logged, not propagated: a missed snapshot degrades
// recovery granularity on an eventual crash, it does not change the
// swap's correctness (the confirmed-success rule governs the
// chain-level transition, not this bookkeeping mirror of it).
func (o *Orchestrator) persistSwap(s *swap.Swap, refs [2]escrowRef) {
	if o.store == nil {
		return
	}
	now := o.now()
	record := storage.SwapRecord{
		SwapID:             s.SwapID,
		Direction:          string(s.Direction),
		UserEvmAddress:     s.UserEvmAddress.String(),
		UserActorPrincipal: s.UserActorPrincipal.String(),
		SourceToken:        s.SourceToken,
		DestToken:          s.DestToken,
		Amount:             s.Amount.String(),
		SecretHash:         hex.EncodeToString(s.SecretHash[:]),
		Timelock:           s.Timelock.Unix(),
		SourceEscrowRef:    s.SourceEscrowRef,
		DestEscrowRef:      s.DestEscrowRef,
		Status:             string(s.Status),
		CreatedAt:          s.CreatedAt.Unix(),
		UpdatedAt:          now.Unix(),
	}
	if err := o.store.SaveSwap(record); err != nil {
		o.log.Warn("persist swap failed", "swap_id", s.SwapID, "error", err)
	}

	for side, ref := range map[string]escrowRef{"source": refs[0], "dest": refs[1]} {
		hr := storage.EscrowHandleRecord{SwapID: s.SwapID, Side: side, OnEvm: ref.onEvm}
		if ref.onEvm {
			hr.EvmAddr = ref.evmAddr.String()
		} else {
			hr.ActorRef = string(ref.actorRef)
		}
		if err := o.store.SaveEscrowHandle(hr); err != nil {
			o.log.Warn("persist escrow handle failed", "swap_id", s.SwapID, "side", side, "error", err)
		}
	}
}

// Restore reloads every non-terminal swap and its escrow handles from the
// attached store, reconstructing in-memory *swap.Swap and escrowRef
// entries so check_escrow_funding / complete / refund_expired can resume
// operating on them exactly as if the process had never restarted.
// Secrets are reattached separately via RestoreSecrets, since they live
// in the sealed vault, not the swaps table.
func (o *Orchestrator) Restore(ctx context.Context) (int, error) {
	if o.store == nil {
		return 0, orcherr.New(orcherr.ProcessingError, "no store attached")
	}
	records, err := o.store.ListNonTerminalSwaps()
	if err != nil {
		return 0, orcherr.Wrap(orcherr.ProcessingError, "list non-terminal swaps", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	restored := 0
	for _, r := range records {
		s, err := restoreSwap(r)
		if err != nil {
			o.log.Warn("skip unrestorable swap", "swap_id", r.SwapID, "error", err)
			continue
		}

		handles, err := o.store.LoadEscrowHandles(r.SwapID)
		if err != nil {
			o.log.Warn("skip swap with unreadable escrow handles", "swap_id", r.SwapID, "error", err)
			continue
		}
		refs, err := restoreRefs(handles)
		if err != nil {
			o.log.Warn("skip swap with incomplete escrow handles", "swap_id", r.SwapID, "error", err)
			continue
		}

		o.swaps[r.SwapID] = s
		o.refs[r.SwapID] = refs
		restored++
	}
	return restored, nil
}

// RestoreSecrets reattaches live secrets recovered from an opened sealed
// vault (resolver.OpenSecrets) to any in-memory swap that still needs one
// and whose hashlock it matches.
func (o *Orchestrator) RestoreSecrets(secrets map[string][32]byte) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	attached := 0
	for swapID, secret := range secrets {
		s, ok := o.swaps[swapID]
		if !ok {
			continue
		}
		if err := s.SetSecret(secret); err != nil {
			o.log.Warn("reattach secret failed", "swap_id", swapID, "error", err)
			continue
		}
		attached++
	}
	return attached
}

func restoreSwap(r storage.SwapRecord) (*swap.Swap, error) {
	userEvm, err := identity.ParseEvmAddress(r.UserEvmAddress)
	if err != nil {
		return nil, fmt.Errorf("parse user evm address: %w", err)
	}
	userActor, err := identity.ParsePrincipal(r.UserActorPrincipal)
	if err != nil {
		return nil, fmt.Errorf("parse user actor principal: %w", err)
	}
	amount, ok := new(big.Int).SetString(r.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("parse amount %q", r.Amount)
	}
	hashBytes, err := hex.DecodeString(r.SecretHash)
	if err != nil || len(hashBytes) != 32 {
		return nil, fmt.Errorf("parse secret hash %q: %w", r.SecretHash, err)
	}
	var hash [32]byte
	copy(hash[:], hashBytes)

	return swap.Restore(swap.RestoreParams{
		SwapID:             r.SwapID,
		Direction:          swap.Direction(r.Direction),
		UserEvmAddress:     userEvm,
		UserActorPrincipal: userActor,
		SourceToken:        r.SourceToken,
		DestToken:          r.DestToken,
		Amount:             amount,
		SecretHash:         hash,
		Timelock:           time.Unix(r.Timelock, 0).UTC(),
		SourceEscrowRef:    r.SourceEscrowRef,
		DestEscrowRef:      r.DestEscrowRef,
		Status:             swap.Status(r.Status),
		CreatedAt:          time.Unix(r.CreatedAt, 0).UTC(),
	})
}

func restoreRefs(handles []storage.EscrowHandleRecord) ([2]escrowRef, error) {
	var refs [2]escrowRef
	seen := map[string]bool{}
	for _, h := range handles {
		var ref escrowRef
		ref.onEvm = h.OnEvm
		if h.OnEvm {
			addr, err := identity.ParseEvmAddress(h.EvmAddr)
			if err != nil {
				return refs, fmt.Errorf("parse evm escrow address: %w", err)
			}
			ref.evmAddr = addr
		} else {
			ref.actorRef = factory.Handle(h.ActorRef)
		}
		switch h.Side {
		case "source":
			refs[0] = ref
		case "dest":
			refs[1] = ref
		default:
			return refs, fmt.Errorf("unknown escrow handle side %q", h.Side)
		}
		seen[h.Side] = true
	}
	if !seen["source"] || !seen["dest"] {
		return refs, fmt.Errorf("missing source or dest escrow handle")
	}
	return refs, nil
}
