// Package swap implements the per-swap lifecycle state machine (C4):
// Created -> EscrowsDeployed -> (either side Funded) -> Ready ->
// Completed / Expired -> Refunded, plus the Swap aggregate's data model
// and invariants.
package swap

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/klingon-exchange/fusion-resolver/internal/config"
	"github.com/klingon-exchange/fusion-resolver/internal/identity"
	"github.com/klingon-exchange/fusion-resolver/internal/orcherr"
)

// Direction is the side the user is trading from.
type Direction string

const (
	EvmToActor Direction = "EvmToActor"
	ActorToEvm Direction = "ActorToEvm"
)

// Status is the swap's lifecycle position.
type Status string

const (
	StatusCreated         Status = "Created"
	StatusEscrowsDeployed Status = "EscrowsDeployed"
	StatusSourceFunded    Status = "SourceFunded"
	StatusDestFunded      Status = "DestFunded"
	StatusReady           Status = "Ready"
	StatusCompleted       Status = "Completed"
	StatusExpired         Status = "Expired"
	StatusRefunded        Status = "Refunded"
)

// Terminal reports whether status is one of the two terminal states.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRefunded
}

// FundingStatus is the observed funding state of the two escrows.
type FundingStatus string

const (
	FundingNeither FundingStatus = "Neither"
	FundingSource  FundingStatus = "Source"
	FundingDest    FundingStatus = "Dest"
	FundingBoth    FundingStatus = "Both"
)

// Swap is the primary aggregate, keyed by SwapID.
type Swap struct {
	mu sync.Mutex

	SwapID             string
	Direction          Direction
	UserEvmAddress     identity.EvmAddress
	UserActorPrincipal identity.ActorPrincipal
	SourceToken        string
	DestToken          string
	Amount             *big.Int
	SecretHash         [32]byte
	secret             *[32]byte // erased once terminal; present only for this swap's own secret.
	Timelock           time.Time
	SourceEscrowRef    string
	DestEscrowRef      string
	Status             Status
	CreatedAt          time.Time
}

// NewParams are the caller-supplied fields for New; Swap fills in
// SecretHash, Status, and CreatedAt itself.
type NewParams struct {
	SwapID             string
	Direction          Direction
	UserEvmAddress     identity.EvmAddress
	UserActorPrincipal identity.ActorPrincipal
	SourceToken        string
	DestToken          string
	Amount             *big.Int
	Secret             [32]byte
	Timelock           time.Time
	Now                time.Time
}

// New validates the creation invariants and returns a fresh Swap in
// status Created, holding its own secret until it is revealed.
func New(p NewParams) (*Swap, error) {
	if p.SwapID == "" {
		return nil, orcherr.New(orcherr.InvalidInput, "swap id must not be empty")
	}
	if p.Direction != EvmToActor && p.Direction != ActorToEvm {
		return nil, orcherr.New(orcherr.InvalidInput, "unknown swap direction")
	}
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return nil, orcherr.New(orcherr.InvalidInput, "amount must be > 0")
	}
	if p.Amount.BitLen() > 128 {
		return nil, orcherr.New(orcherr.InvalidInput, "amount does not fit in u128")
	}
	if !p.Timelock.After(p.Now.Add(config.MinDuration)) {
		return nil, orcherr.New(orcherr.InvalidInput, fmt.Sprintf("timelock must be more than %s in the future", config.MinDuration))
	}

	secret := p.Secret
	hash := sha256.Sum256(secret[:])

	return &Swap{
		SwapID:             p.SwapID,
		Direction:          p.Direction,
		UserEvmAddress:     p.UserEvmAddress,
		UserActorPrincipal: p.UserActorPrincipal,
		SourceToken:        p.SourceToken,
		DestToken:          p.DestToken,
		Amount:             new(big.Int).Set(p.Amount),
		SecretHash:         hash,
		secret:             &secret,
		Timelock:           p.Timelock,
		Status:             StatusCreated,
		CreatedAt:          p.Now,
	}, nil
}

// RestoreParams are the persisted fields needed to rebuild a Swap after a
// restart (internal/storage.SwapRecord, converted by internal/resolver).
// Unlike New, Restore does not re-check "timelock > now + min_duration":
// that invariant was already enforced at original creation time, and a
// swap nearing or past its timelock is exactly the case recovery must
// still be able to represent.
type RestoreParams struct {
	SwapID             string
	Direction          Direction
	UserEvmAddress     identity.EvmAddress
	UserActorPrincipal identity.ActorPrincipal
	SourceToken        string
	DestToken          string
	Amount             *big.Int
	SecretHash         [32]byte
	Timelock           time.Time
	SourceEscrowRef    string
	DestEscrowRef      string
	Status             Status
	CreatedAt          time.Time
}

// Restore rebuilds a Swap from a persisted record, with no live secret
// (the caller attaches one afterward via SetSecret if the sealed vault
// still holds it).
func Restore(p RestoreParams) (*Swap, error) {
	if p.SwapID == "" {
		return nil, orcherr.New(orcherr.InvalidInput, "swap id must not be empty")
	}
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return nil, orcherr.New(orcherr.InvalidInput, "amount must be > 0")
	}
	return &Swap{
		SwapID:             p.SwapID,
		Direction:          p.Direction,
		UserEvmAddress:     p.UserEvmAddress,
		UserActorPrincipal: p.UserActorPrincipal,
		SourceToken:        p.SourceToken,
		DestToken:          p.DestToken,
		Amount:             new(big.Int).Set(p.Amount),
		SecretHash:         p.SecretHash,
		Timelock:           p.Timelock,
		SourceEscrowRef:    p.SourceEscrowRef,
		DestEscrowRef:      p.DestEscrowRef,
		Status:             p.Status,
		CreatedAt:          p.CreatedAt,
	}, nil
}

// SetSecret attaches a live secret recovered from the sealed vault, once
// it is confirmed to match this swap's hashlock. It refuses to attach a
// secret to a swap that is already terminal, since the secret must stay
// erased there.
func (s *Swap) SetSecret(secret [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status.Terminal() {
		return orcherr.New(orcherr.ProcessingError, "cannot attach a secret to a terminal swap")
	}
	if sha256.Sum256(secret[:]) != s.SecretHash {
		return orcherr.New(orcherr.InvalidInput, "secret does not match this swap's hashlock")
	}
	out := secret
	s.secret = &out
	return nil
}

// GetStatus returns the current status.
func (s *Swap) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Status
}

// Secret returns the live preimage, or nil once the swap is terminal or
// if this orchestrator never held it (counterparty's swap).
func (s *Swap) Secret() *[32]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.secret == nil {
		return nil
	}
	out := *s.secret
	return &out
}

// eraseSecret drops the live secret; a terminal swap must never retain
// its preimage. Must be called with mu held.
func (s *Swap) eraseSecret() {
	s.secret = nil
}
