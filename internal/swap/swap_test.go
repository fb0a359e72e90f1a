package swap

import (
	"math/big"
	"testing"
	"time"

	"github.com/klingon-exchange/fusion-resolver/internal/config"
)

func newTestSwap(t *testing.T) *Swap {
	t.Helper()
	now := time.Now()
	var secret [32]byte
	secret[0] = 0x07
	s, err := New(NewParams{
		SwapID:    "swap-1",
		Direction: EvmToActor,
		Amount:    big.NewInt(1_000_000_000),
		Secret:    secret,
		Timelock:  now.Add(config.MinDuration + time.Hour),
		Now:       now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewRejectsShortTimelock(t *testing.T) {
	now := time.Now()
	_, err := New(NewParams{
		SwapID:   "swap-x",
		Direction: EvmToActor,
		Amount:   big.NewInt(1),
		Timelock: now.Add(time.Minute),
		Now:      now,
	})
	if err == nil {
		t.Fatalf("expected error for timelock below MinDuration")
	}
}

func TestNewRejectsZeroAmount(t *testing.T) {
	now := time.Now()
	_, err := New(NewParams{
		SwapID:    "swap-x",
		Direction: EvmToActor,
		Amount:    big.NewInt(0),
		Timelock:  now.Add(time.Hour * 2),
		Now:       now,
	})
	if err == nil {
		t.Fatalf("expected error for zero amount")
	}
}

func TestHappyPathToCompleted(t *testing.T) {
	s := newTestSwap(t)
	now := time.Now()

	if err := s.MarkEscrowsDeployed("src-ref", "dst-ref"); err != nil {
		t.Fatalf("MarkEscrowsDeployed: %v", err)
	}
	if status, err := s.ApplyFunding(FundingSource, now); err != nil || status != StatusSourceFunded {
		t.Fatalf("expected SourceFunded, got %s err %v", status, err)
	}
	if status, err := s.ApplyFunding(FundingBoth, now); err != nil || status != StatusReady {
		t.Fatalf("expected Ready, got %s err %v", status, err)
	}

	secret := s.Secret()
	if secret == nil {
		t.Fatalf("expected live secret before completion")
	}
	if err := s.Complete(*secret, now); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if s.GetStatus() != StatusCompleted {
		t.Fatalf("status = %s, want Completed", s.GetStatus())
	}
	if s.Secret() != nil {
		t.Fatalf("secret must be erased once terminal (invariant 1)")
	}
}

// Both sides funding within one polling interval jumps straight to Ready.
func TestBothFundedSamePoll(t *testing.T) {
	s := newTestSwap(t)
	now := time.Now()
	if err := s.MarkEscrowsDeployed("src", "dst"); err != nil {
		t.Fatalf("MarkEscrowsDeployed: %v", err)
	}
	if status, err := s.ApplyFunding(FundingBoth, now); err != nil || status != StatusReady {
		t.Fatalf("expected direct jump to Ready, got %s err %v", status, err)
	}
}

// S2: expiry refund.
func TestExpiryRefund(t *testing.T) {
	now := time.Now()
	var secret [32]byte
	s, err := New(NewParams{
		SwapID:    "swap-2",
		Direction: EvmToActor,
		Amount:    big.NewInt(10),
		Secret:    secret,
		Timelock:  now.Add(config.MinDuration + time.Minute),
		Now:       now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.MarkEscrowsDeployed("src", "dst"); err != nil {
		t.Fatalf("MarkEscrowsDeployed: %v", err)
	}

	expired := s.Timelock.Add(time.Second)
	if err := s.Refund(expired); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if s.GetStatus() != StatusRefunded {
		t.Fatalf("status = %s, want Refunded", s.GetStatus())
	}

	// A second refund must not succeed.
	if err := s.Refund(expired); err == nil {
		t.Fatalf("expected error refunding an already-terminal swap")
	}
}

func TestCompleteRejectsWrongSecret(t *testing.T) {
	s := newTestSwap(t)
	now := time.Now()
	s.MarkEscrowsDeployed("src", "dst")
	s.ApplyFunding(FundingBoth, now)

	var wrong [32]byte
	wrong[0] = 0xff
	if err := s.Complete(wrong, now); err == nil {
		t.Fatalf("expected error for mismatched secret")
	}
	if s.GetStatus() != StatusReady {
		t.Fatalf("status should remain Ready after rejected completion, got %s", s.GetStatus())
	}
}

func TestCompleteRequiresReady(t *testing.T) {
	s := newTestSwap(t)
	secret := s.Secret()
	if err := s.Complete(*secret, time.Now()); err == nil {
		t.Fatalf("expected error completing before Ready")
	}
}

func TestCannotReachBothCompletedAndRefunded(t *testing.T) {
	s := newTestSwap(t)
	now := time.Now()
	s.MarkEscrowsDeployed("src", "dst")
	s.ApplyFunding(FundingBoth, now)
	secret := s.Secret()
	if err := s.Complete(*secret, now); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := s.Refund(s.Timelock.Add(time.Second)); err == nil {
		t.Fatalf("a Completed swap must never also be refundable")
	}
}

func TestMarkExpiredFromAnyNonTerminalState(t *testing.T) {
	s := newTestSwap(t)
	if err := s.MarkExpired(s.Timelock.Add(time.Second)); err != nil {
		t.Fatalf("MarkExpired from Created: %v", err)
	}
	if s.GetStatus() != StatusExpired {
		t.Fatalf("status = %s, want Expired", s.GetStatus())
	}
}
