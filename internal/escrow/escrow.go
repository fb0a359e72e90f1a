// Package escrow implements the actor-chain hashlock/timelock escrow (C1):
// a single-purpose custody unit holding one asset for one swap, deployed
// fresh per swap by the factory (internal/factory) with immutable
// parameters. Modeled as a cooperative single-threaded actor:
// every mutating call holds its lock only across synchronous sections and
// explicitly re-validates state after any suspending ledger call, so that
// interleaved messages can never observe or commit a torn transition.
package escrow

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/klingon-exchange/fusion-resolver/internal/identity"
	"github.com/klingon-exchange/fusion-resolver/internal/orcherr"
)

// Status is the escrow's lifecycle position.
type Status string

const (
	StatusCreated  Status = "Created"
	StatusFunded   Status = "Funded"
	StatusReleased Status = "Released"
	StatusRefunded Status = "Refunded"
)

// Ledger is the token-ledger transfer primitive the escrow suspends on.
// Token ledgers on the actor-chain are an external collaborator; this
// interface is the whole of what the escrow needs from one.
type Ledger interface {
	// Transfer moves amount of tokenLedgerID from "from"'s subaccount
	// to "to". It must be safe to call again after a timeout — the
	// escrow treats failure as "no transfer happened" and does not
	// retry internally.
	Transfer(ctx context.Context, tokenLedgerID string, from, to identity.ActorPrincipal, amount *big.Int) error
}

// Params are the immutable parameters fixed at escrow creation. None of
// these mutate after Init.
type Params struct {
	Hashlock      [32]byte
	Timelock      time.Time
	Amount        *big.Int
	TokenLedgerID string
	Depositor     identity.ActorPrincipal
	Recipient     identity.ActorPrincipal
	Resolver      identity.ActorPrincipal
}

func (p Params) validate() error {
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return fmt.Errorf("amount must be > 0")
	}
	if p.Amount.BitLen() > 128 {
		return fmt.Errorf("amount does not fit in u128")
	}
	if p.TokenLedgerID == "" {
		return fmt.Errorf("token ledger id required")
	}
	if p.Depositor.IsZero() || p.Recipient.IsZero() || p.Resolver.IsZero() {
		return fmt.Errorf("depositor, recipient and resolver principals are required")
	}
	return nil
}

// Escrow is one actor-chain escrow instance. A single instance binds
// exactly one (hashlock, timelock, amount, recipient, depositor, resolver)
// tuple; none of it mutates after Init.
type Escrow struct {
	mu sync.Mutex

	params          Params
	status          Status
	depositedAmount *big.Int
	revealedSecret  *[32]byte

	ledger Ledger
	now    func() time.Time
}

// New initializes a fresh escrow (C1 "Init"). Construction is the only
// place params are set; every later accessor returns them unchanged.
func New(params Params, ledger Ledger) (*Escrow, error) {
	if err := params.validate(); err != nil {
		return nil, orcherr.Wrap(orcherr.InvalidInput, "invalid escrow params", err)
	}
	if ledger == nil {
		return nil, orcherr.New(orcherr.ProcessingError, "ledger must not be nil")
	}
	return &Escrow{
		params:          params,
		status:          StatusCreated,
		depositedAmount: big.NewInt(0),
		ledger:          ledger,
		now:             time.Now,
	}, nil
}

// Params returns the escrow's immutable parameters.
func (e *Escrow) Params() Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

// GetStatus returns the current lifecycle status.
func (e *Escrow) GetStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// IsFunded reports whether the escrow holds its full deposit.
func (e *Escrow) IsFunded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status == StatusFunded
}

// Balance returns the amount currently deposited (0 until Funded, reset
// conceptually but left as the historical deposit once Released/Refunded,
// matching the round-trip law "deposit(a); balance() = a").
func (e *Escrow) Balance() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(e.depositedAmount)
}

// RevealedSecret returns the preimage once Release has succeeded, or nil
// before that.
func (e *Escrow) RevealedSecret() *[32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.revealedSecret == nil {
		return nil
	}
	out := *e.revealedSecret
	return &out
}

// Deposit funds the escrow. Authorized to params.Depositor; requires
// status = Created and amount = params.Amount. On ledger failure the
// escrow remains Created.
func (e *Escrow) Deposit(ctx context.Context, caller identity.ActorPrincipal, amount *big.Int) error {
	e.mu.Lock()
	if !caller.Equal(e.params.Depositor) {
		e.mu.Unlock()
		return orcherr.New(orcherr.InvalidInput, "unauthorized: caller is not the depositor")
	}
	if e.status != StatusCreated {
		e.mu.Unlock()
		return orcherr.New(orcherr.ProcessingError, fmt.Sprintf("wrong state %s for deposit", e.status))
	}
	if amount == nil || amount.Cmp(e.params.Amount) != 0 {
		e.mu.Unlock()
		return orcherr.New(orcherr.InvalidInput, "deposit amount does not match escrow amount")
	}
	ledgerID, to := e.params.TokenLedgerID, e.selfPrincipal()
	e.mu.Unlock()

	// Suspension point: the ledger transfer may interleave with other
	// messages. Re-validate status on resumption before committing.
	if err := e.ledger.Transfer(ctx, ledgerID, caller, to, amount); err != nil {
		return orcherr.Wrap(orcherr.ExternalCallError, "ledger transfer failed", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusCreated {
		// Another message already progressed the escrow past Created
		// while this deposit's transfer was in flight. The funds moved
		// once; do not double-count or overwrite a more advanced state.
		return orcherr.New(orcherr.ProcessingError, "escrow state advanced during deposit")
	}
	e.status = StatusFunded
	e.depositedAmount = new(big.Int).Set(amount)
	return nil
}

// Release reveals secret and pays the deposit to the recipient. Requires
// status = Funded, now < timelock, and SHA-256(secret) = hashlock. ANY caller
// presenting a valid preimage may invoke this — the resolver is simply
// the typical first caller, not an enforced restriction.
func (e *Escrow) Release(ctx context.Context, secret [32]byte) error {
	e.mu.Lock()
	if e.status != StatusFunded {
		e.mu.Unlock()
		return orcherr.New(orcherr.ProcessingError, fmt.Sprintf("wrong state %s for release", e.status))
	}
	if !e.now().Before(e.params.Timelock) {
		e.mu.Unlock()
		return orcherr.New(orcherr.ProcessingError, "timelock has passed")
	}
	hash := sha256.Sum256(secret[:])
	if hash != e.params.Hashlock {
		e.mu.Unlock()
		return orcherr.New(orcherr.InvalidInput, "secret does not match hashlock")
	}
	amount, ledgerID, to, self := e.depositedAmount, e.params.TokenLedgerID, e.params.Recipient, e.selfPrincipal()
	e.mu.Unlock()

	if err := e.ledger.Transfer(ctx, ledgerID, self, to, amount); err != nil {
		return orcherr.Wrap(orcherr.ExternalCallError, "ledger transfer failed", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusFunded {
		return orcherr.New(orcherr.ProcessingError, "escrow state advanced during release")
	}
	e.status = StatusReleased
	s := secret
	e.revealedSecret = &s
	return nil
}

// Refund returns the deposit to the depositor. Any caller may invoke it;
// requires status = Funded and now >= timelock.
func (e *Escrow) Refund(ctx context.Context) error {
	e.mu.Lock()
	if e.status != StatusFunded {
		e.mu.Unlock()
		return orcherr.New(orcherr.ProcessingError, fmt.Sprintf("wrong state %s for refund", e.status))
	}
	if e.now().Before(e.params.Timelock) {
		e.mu.Unlock()
		return orcherr.New(orcherr.ProcessingError, "timelock has not passed yet")
	}
	amount, ledgerID, to, self := e.depositedAmount, e.params.TokenLedgerID, e.params.Depositor, e.selfPrincipal()
	e.mu.Unlock()

	if err := e.ledger.Transfer(ctx, ledgerID, self, to, amount); err != nil {
		return orcherr.Wrap(orcherr.ExternalCallError, "ledger transfer failed", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusFunded {
		return orcherr.New(orcherr.ProcessingError, "escrow state advanced during refund")
	}
	e.status = StatusRefunded
	return nil
}

// selfPrincipal derives a stable pseudo-principal for the escrow's own
// custody subaccount from its hashlock, so the in-memory ledger has a
// distinct "from"/"to" identity to move funds against. Real actor-chain
// escrows hold an actual subaccount; this is the model's stand-in.
func (e *Escrow) selfPrincipal() identity.ActorPrincipal {
	return identity.OpaquePrincipalFromSeed(e.params.Hashlock[:])
}

// SetClock overrides the escrow's notion of "now", for deterministic
// timelock expiry tests.
func (e *Escrow) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}
