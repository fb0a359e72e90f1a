package escrow

import (
	"context"
	"math/big"
	"sync"

	"github.com/klingon-exchange/fusion-resolver/internal/identity"
	"github.com/klingon-exchange/fusion-resolver/internal/orcherr"
)

// MemoryLedger is an in-memory stand-in for the actor-chain token
// ledger, which is otherwise an external actor reached through a plain
// transfer primitive. It is used by tests and by resolverd's
// -dev-local-signer mode in place of a real ledger canister.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]map[string]*big.Int // ledgerID -> principal text -> balance
	fail     map[string]error               // principal text -> injected failure, for tests
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[string]map[string]*big.Int)}
}

// Credit gives a principal a starting balance on a ledger, for test setup
// and resolver pre-funding.
func (l *MemoryLedger) Credit(ledgerID string, to identity.ActorPrincipal, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensure(ledgerID, to.String())
	l.balances[ledgerID][to.String()].Add(l.balances[ledgerID][to.String()], amount)
}

// Balance reports a principal's balance on a ledger.
func (l *MemoryLedger) Balance(ledgerID string, of identity.ActorPrincipal) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensure(ledgerID, of.String())
	return new(big.Int).Set(l.balances[ledgerID][of.String()])
}

// InjectFailure makes the next Transfer out of "from" fail with err, for
// exercising the deposit/release/refund ledger-failure paths.
func (l *MemoryLedger) InjectFailure(from identity.ActorPrincipal, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail == nil {
		l.fail = make(map[string]error)
	}
	l.fail[from.String()] = err
}

func (l *MemoryLedger) ensure(ledgerID, principal string) {
	if l.balances[ledgerID] == nil {
		l.balances[ledgerID] = make(map[string]*big.Int)
	}
	if l.balances[ledgerID][principal] == nil {
		l.balances[ledgerID][principal] = big.NewInt(0)
	}
}

// Transfer implements Ledger.
func (l *MemoryLedger) Transfer(ctx context.Context, ledgerID string, from, to identity.ActorPrincipal, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err, ok := l.fail[from.String()]; ok && err != nil {
		delete(l.fail, from.String())
		return err
	}

	l.ensure(ledgerID, from.String())
	l.ensure(ledgerID, to.String())

	bal := l.balances[ledgerID][from.String()]
	if bal.Cmp(amount) < 0 {
		return orcherr.New(orcherr.InvalidInput, "insufficient balance for transfer")
	}
	bal.Sub(bal, amount)
	l.balances[ledgerID][to.String()].Add(l.balances[ledgerID][to.String()], amount)
	return nil
}
