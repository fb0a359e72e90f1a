package swap

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/klingon-exchange/fusion-resolver/internal/orcherr"
)

// MarkEscrowsDeployed records both escrow refs and advances
// Created -> EscrowsDeployed. Idempotent: calling it again with the same
// refs while already past Created is a no-op error surfaced as
// ProcessingError so callers don't mistake a retry for progress.
func (s *Swap) MarkEscrowsDeployed(sourceRef, destRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status != StatusCreated {
		return orcherr.New(orcherr.ProcessingError, fmt.Sprintf("cannot mark escrows deployed from status %s", s.Status))
	}
	s.SourceEscrowRef = sourceRef
	s.DestEscrowRef = destRef
	s.Status = StatusEscrowsDeployed
	return nil
}

// ApplyFunding folds an observed FundingStatus into the swap's status.
// It is pure over the funding input — repeated calls with the same
// FundingStatus yield the same resulting Status, and it never regresses
// a swap that has already reached Ready or beyond.
func (s *Swap) ApplyFunding(funding FundingStatus, now time.Time) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Status.Terminal() {
		return s.Status, orcherr.New(orcherr.ProcessingError, "swap already terminal")
	}
	if !now.Before(s.Timelock) {
		s.transitionToExpired()
		return s.Status, nil
	}

	switch s.Status {
	case StatusCreated:
		return s.Status, orcherr.New(orcherr.ProcessingError, "escrows not yet deployed")
	case StatusEscrowsDeployed, StatusSourceFunded, StatusDestFunded:
		switch funding {
		case FundingBoth:
			s.Status = StatusReady
		case FundingSource:
			s.Status = StatusSourceFunded
		case FundingDest:
			s.Status = StatusDestFunded
		case FundingNeither:
			// no change
		default:
			return s.Status, orcherr.New(orcherr.InvalidInput, "unknown funding status")
		}
	case StatusReady:
		// Already both-funded; nothing more to observe.
	default:
		return s.Status, orcherr.New(orcherr.ProcessingError, fmt.Sprintf("unexpected status %s", s.Status))
	}
	return s.Status, nil
}

// Complete drives Ready -> Completed. secretPreimage is the value the
// resolver is about to reveal on the user-payout side; the swap checks
// it is in fact this swap's secret before committing, and erases the
// live secret afterward.
func (s *Swap) Complete(secretPreimage [32]byte, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Status != StatusReady {
		return orcherr.New(orcherr.ProcessingError, fmt.Sprintf("cannot complete from status %s, want Ready", s.Status))
	}
	if !now.Before(s.Timelock) {
		s.transitionToExpired()
		return orcherr.New(orcherr.ProcessingError, "timelock passed before completion")
	}
	if sha256.Sum256(secretPreimage[:]) != s.SecretHash {
		return orcherr.New(orcherr.InvalidInput, "secret does not match this swap's hashlock")
	}

	s.Status = StatusCompleted
	s.eraseSecret()
	return nil
}

// MarkExpired forces the Expired transition, reachable from any
// non-terminal state once now >= timelock.
func (s *Swap) MarkExpired(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status.Terminal() {
		return orcherr.New(orcherr.ProcessingError, "swap already terminal")
	}
	if now.Before(s.Timelock) {
		return orcherr.New(orcherr.ProcessingError, "timelock has not passed yet")
	}
	s.transitionToExpired()
	return nil
}

// transitionToExpired must be called with mu held.
func (s *Swap) transitionToExpired() {
	if s.Status != StatusExpired {
		s.Status = StatusExpired
	}
}

// Refund drives Expired -> Refunded. A second call once already
// Refunded fails with ProcessingError rather than double-refunding.
func (s *Swap) Refund(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Status.Terminal() {
		return orcherr.New(orcherr.ProcessingError, "swap already terminal")
	}
	if now.Before(s.Timelock) {
		return orcherr.New(orcherr.ProcessingError, "refund requires now >= timelock")
	}
	if s.Status != StatusExpired {
		s.transitionToExpired()
	}
	s.Status = StatusRefunded
	s.eraseSecret()
	return nil
}
