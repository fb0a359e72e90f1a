package factory

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/klingon-exchange/fusion-resolver/internal/escrow"
	"github.com/klingon-exchange/fusion-resolver/internal/identity"
)

func testParams(t *testing.T) escrow.Params {
	t.Helper()
	return escrow.Params{
		Hashlock:      [32]byte{1, 2, 3},
		Timelock:      time.Now().Add(time.Hour),
		Amount:        big.NewInt(10),
		TokenLedgerID: "ledger-1",
		Depositor:     identity.OpaquePrincipalFromSeed([]byte("depositor")),
		Recipient:     identity.OpaquePrincipalFromSeed([]byte("recipient")),
		Resolver:      identity.OpaquePrincipalFromSeed([]byte("resolver")),
	}
}

func TestDeployAndLookup(t *testing.T) {
	f := New(escrow.NewMemoryLedger())
	h, err := f.Deploy(context.Background(), "swap-1", testParams(t))
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	e, ok := f.Get(h)
	if !ok || e == nil {
		t.Fatalf("expected escrow to be retrievable by handle")
	}
	got, ok := f.GetForSwap("swap-1")
	if !ok || got != e {
		t.Fatalf("expected same escrow instance retrievable by swap id")
	}
	if f.Count() != 1 {
		t.Fatalf("count = %d, want 1", f.Count())
	}
}

func TestDeployDuplicateSwapIDRejected(t *testing.T) {
	f := New(escrow.NewMemoryLedger())
	if _, err := f.Deploy(context.Background(), "swap-1", testParams(t)); err != nil {
		t.Fatalf("first deploy: %v", err)
	}
	if _, err := f.Deploy(context.Background(), "swap-1", testParams(t)); err == nil {
		t.Fatalf("expected error deploying a second escrow for the same swap id")
	}
}

func TestDeployQuotaExhausted(t *testing.T) {
	f := New(escrow.NewMemoryLedger())
	f.SetQuota(1)
	if _, err := f.Deploy(context.Background(), "swap-1", testParams(t)); err != nil {
		t.Fatalf("first deploy: %v", err)
	}
	if _, err := f.Deploy(context.Background(), "swap-2", testParams(t)); err == nil {
		t.Fatalf("expected quota exhaustion error")
	}
}

func TestDeployInvalidParamsDoesNotRegister(t *testing.T) {
	f := New(escrow.NewMemoryLedger())
	bad := testParams(t)
	bad.Amount = big.NewInt(0)
	if _, err := f.Deploy(context.Background(), "swap-x", bad); err == nil {
		t.Fatalf("expected installation failure for invalid params")
	}
	if _, ok := f.GetForSwap("swap-x"); ok {
		t.Fatalf("a failed installation must not be recorded")
	}
}
