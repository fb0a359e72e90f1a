package resolver

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/klingon-exchange/fusion-resolver/internal/config"
	"github.com/klingon-exchange/fusion-resolver/internal/escrow"
	"github.com/klingon-exchange/fusion-resolver/internal/factory"
	"github.com/klingon-exchange/fusion-resolver/internal/identity"
)

// fakeEvm is a minimal in-memory stand-in for the EVM chain, used so
// these tests never touch a real JSON-RPC gateway. Escrow "funding" is
// modeled exactly as the adapter treats it: balance held at the escrow
// address.
type fakeEvm struct {
	mu        sync.Mutex
	balances  map[string]*big.Int
	withdrawn map[string]bool
	canceled  map[string]bool
	nextAddr  byte
}

func newFakeEvm() *fakeEvm {
	return &fakeEvm{
		balances:  make(map[string]*big.Int),
		withdrawn: make(map[string]bool),
		canceled:  make(map[string]bool),
	}
}

func (f *fakeEvm) newAddress() identity.EvmAddress {
	f.nextAddr++
	var raw [20]byte
	raw[19] = f.nextAddr
	addr, _ := identity.EvmAddressFromBytes(raw[:])
	return addr
}

func (f *fakeEvm) GetBalance(ctx context.Context, addr identity.EvmAddress) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.balances[addr.String()]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (f *fakeEvm) creditBalance(addr identity.EvmAddress, amount *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.balances[addr.String()]
	if !ok {
		cur = big.NewInt(0)
	}
	f.balances[addr.String()] = new(big.Int).Add(cur, amount)
}

func (f *fakeEvm) DeploySrcEscrow(ctx context.Context, from, user, token identity.EvmAddress, amount *big.Int, hashlock [32]byte, timelock uint64) (identity.EvmAddress, error) {
	return f.newAddress(), nil
}

func (f *fakeEvm) DeployDstEscrow(ctx context.Context, from, recipient, token identity.EvmAddress, amount *big.Int, hashlock [32]byte, timelock uint64) (identity.EvmAddress, error) {
	return f.newAddress(), nil
}

func (f *fakeEvm) Withdraw(ctx context.Context, from, escrowAddr identity.EvmAddress, secret [32]byte, immutables []byte) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.withdrawn[escrowAddr.String()] = true
	return common.Hash{}, nil
}

func (f *fakeEvm) Cancel(ctx context.Context, from, escrowAddr identity.EvmAddress, immutables []byte) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled[escrowAddr.String()] = true
	return common.Hash{}, nil
}

func (f *fakeEvm) SendValue(ctx context.Context, from, to identity.EvmAddress, value *big.Int) (common.Hash, error) {
	f.creditBalance(to, value)
	return common.Hash{}, nil
}

func (f *fakeEvm) DeriveResolverAddress(ctx context.Context) (identity.EvmAddress, error) {
	return identity.MustParseEvmAddress("0x0000000000000000000000000000000000000099"), nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.SupportedTokens = []config.Token{
		{Symbol: "ETH", EvmAddress: "", Decimals: 18},
		{Symbol: "ACT", ActorLedgerID: "act-ledger", Decimals: 8},
	}
	cfg.OperatorPrincipal = "operator"
	return cfg
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeEvm, *factory.Factory, *escrow.MemoryLedger) {
	t.Helper()
	evm := newFakeEvm()
	ledger := escrow.NewMemoryLedger()
	actors := factory.New(ledger)
	resolverEvm := identity.MustParseEvmAddress("0x000000000000000000000000000000000000009A")
	resolverActor := identity.OpaquePrincipalFromSeed([]byte("resolver"))
	// Pre-fund the resolver's actor-chain balance so it can pre-fund
	// destination escrows on that side.
	ledger.Credit("act-ledger", resolverActor, big.NewInt(1_000_000_000_000))
	o := New(testConfig(), evm, actors, ledger, resolverEvm, resolverActor)
	return o, evm, actors, ledger
}

// S1: happy path, EVM -> Actor.
func TestHappyPathEvmToActor(t *testing.T) {
	o, evm, _, ledger := newTestOrchestrator(t)
	ctx := context.Background()

	userActor := identity.OpaquePrincipalFromSeed([]byte("user"))
	userEvm := identity.MustParseEvmAddress("0x0000000000000000000000000000000000000001")
	amount := big.NewInt(1_000_000_000)

	res, err := o.InitiateEvmToActor(ctx, InitiateParams{
		UserEvmAddress:     userEvm,
		UserActorPrincipal: userActor,
		SourceTokenSymbol:  "ETH",
		DestTokenSymbol:    "ACT",
		Amount:             amount,
		TimelockDuration:   2 * time.Hour,
	})
	if err != nil {
		t.Fatalf("InitiateEvmToActor: %v", err)
	}

	// Dest (actor-chain) should already be pre-funded by the resolver.
	o.mu.RLock()
	refs := o.refs[res.SwapID]
	o.mu.RUnlock()
	dstEscrow, ok := o.actors.Get(refs[1].actorRef)
	if !ok || !dstEscrow.IsFunded() {
		t.Fatalf("expected resolver-funded destination escrow to be Funded")
	}

	// User funds the EVM source escrow.
	srcAddr := refs[0].evmAddr
	evm.creditBalance(srcAddr, amount)

	funding, err := o.CheckEscrowFunding(ctx, res.SwapID)
	if err != nil {
		t.Fatalf("CheckEscrowFunding: %v", err)
	}
	if funding != "Both" {
		t.Fatalf("funding = %s, want Both", funding)
	}

	if err := o.Complete(ctx, res.SwapID, userEvm.String()); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	s, err := o.GetSwap(res.SwapID)
	if err != nil {
		t.Fatalf("GetSwap: %v", err)
	}
	if s.GetStatus() != "Completed" {
		t.Fatalf("status = %s, want Completed", s.GetStatus())
	}
	if dstEscrow.RevealedSecret() == nil {
		t.Fatalf("expected dest escrow secret revealed")
	}
	if !evm.withdrawn[srcAddr.String()] {
		t.Fatalf("expected resolver to have withdrawn from the EVM source escrow")
	}

	// User balance on the actor-chain ledger should now hold the amount.
	bal := ledger.Balance("act-ledger", userActor)
	if bal.Cmp(amount) != 0 {
		t.Fatalf("user actor-chain balance = %s, want %s", bal, amount)
	}
}

// S2: expiry refund — user never funds the source side.
func TestExpiryRefund(t *testing.T) {
	o, _, _, ledger := newTestOrchestrator(t)
	ctx := context.Background()

	userActor := identity.OpaquePrincipalFromSeed([]byte("user2"))
	userEvm := identity.MustParseEvmAddress("0x0000000000000000000000000000000000000002")
	amount := big.NewInt(10)

	res, err := o.InitiateEvmToActor(ctx, InitiateParams{
		UserEvmAddress:     userEvm,
		UserActorPrincipal: userActor,
		SourceTokenSymbol:  "ETH",
		DestTokenSymbol:    "ACT",
		Amount:             amount,
		TimelockDuration:   config.MinDuration + time.Minute,
	})
	if err != nil {
		t.Fatalf("InitiateEvmToActor: %v", err)
	}

	future := time.Now().Add(config.MinDuration * 3)
	o.SetClock(func() time.Time { return future })
	// The pre-funded dest escrow checks the timelock against its own
	// clock; move it forward too.
	o.mu.RLock()
	dstRef := o.refs[res.SwapID][1].actorRef
	o.mu.RUnlock()
	if e, ok := o.actors.Get(dstRef); ok {
		e.SetClock(func() time.Time { return future })
	}

	if err := o.RefundExpired(ctx, res.SwapID); err != nil {
		t.Fatalf("RefundExpired: %v", err)
	}

	s, err := o.GetSwap(res.SwapID)
	if err != nil {
		t.Fatalf("GetSwap: %v", err)
	}
	if s.GetStatus() != "Refunded" {
		t.Fatalf("status = %s, want Refunded", s.GetStatus())
	}

	// Resolver's pre-funded dest escrow tokens should have returned to it.
	resolverBalance := ledger.Balance("act-ledger", o.resolverActor)
	if resolverBalance.Sign() <= 0 {
		t.Fatalf("expected resolver balance to be restored after refund")
	}

	// A second refund must fail.
	if err := o.RefundExpired(ctx, res.SwapID); err == nil {
		t.Fatalf("expected error refunding an already-terminal swap")
	}
}

func TestCompleteRejectsUnauthorizedCaller(t *testing.T) {
	o, evm, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	userActor := identity.OpaquePrincipalFromSeed([]byte("user3"))
	userEvm := identity.MustParseEvmAddress("0x0000000000000000000000000000000000000003")
	amount := big.NewInt(5)

	res, err := o.InitiateEvmToActor(ctx, InitiateParams{
		UserEvmAddress:     userEvm,
		UserActorPrincipal: userActor,
		SourceTokenSymbol:  "ETH",
		DestTokenSymbol:    "ACT",
		Amount:             amount,
		TimelockDuration:   2 * time.Hour,
	})
	if err != nil {
		t.Fatalf("InitiateEvmToActor: %v", err)
	}
	o.mu.RLock()
	srcAddr := o.refs[res.SwapID][0].evmAddr
	o.mu.RUnlock()
	evm.creditBalance(srcAddr, amount)
	if _, err := o.CheckEscrowFunding(ctx, res.SwapID); err != nil {
		t.Fatalf("CheckEscrowFunding: %v", err)
	}

	if err := o.Complete(ctx, res.SwapID, "some-stranger"); err == nil {
		t.Fatalf("expected unauthorized caller to be rejected")
	}
}

// S6: concurrent check_escrow_funding and refund_expired messages leave
// the swap in one consistent state with no double refund.
func TestConcurrentFundingCheckAndRefund(t *testing.T) {
	o, evm, _, ledger := newTestOrchestrator(t)
	ctx := context.Background()

	userActor := identity.OpaquePrincipalFromSeed([]byte("user6"))
	userEvm := identity.MustParseEvmAddress("0x0000000000000000000000000000000000000006")
	amount := big.NewInt(50)

	res, err := o.InitiateEvmToActor(ctx, InitiateParams{
		UserEvmAddress:     userEvm,
		UserActorPrincipal: userActor,
		SourceTokenSymbol:  "ETH",
		DestTokenSymbol:    "ACT",
		Amount:             amount,
		TimelockDuration:   config.MinDuration + time.Minute,
	})
	if err != nil {
		t.Fatalf("InitiateEvmToActor: %v", err)
	}

	o.mu.RLock()
	srcAddr := o.refs[res.SwapID][0].evmAddr
	dstRef := o.refs[res.SwapID][1].actorRef
	o.mu.RUnlock()
	evm.creditBalance(srcAddr, amount)

	future := time.Now().Add(config.MinDuration * 3)
	o.SetClock(func() time.Time { return future })
	if e, ok := o.actors.Get(dstRef); ok {
		e.SetClock(func() time.Time { return future })
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = o.CheckEscrowFunding(ctx, res.SwapID)
		}()
		go func() {
			defer wg.Done()
			_ = o.RefundExpired(ctx, res.SwapID)
		}()
	}
	wg.Wait()

	s, err := o.GetSwap(res.SwapID)
	if err != nil {
		t.Fatalf("GetSwap: %v", err)
	}
	if s.GetStatus() != "Refunded" {
		t.Fatalf("status = %s, want Refunded", s.GetStatus())
	}
	if s.Secret() != nil {
		t.Error("secret not erased from terminal swap")
	}

	// No double refund: the resolver's actor-chain balance is exactly
	// back to its pre-swap total.
	resolverBalance := ledger.Balance("act-ledger", o.resolverActor)
	if resolverBalance.Cmp(big.NewInt(1_000_000_000_000)) != 0 {
		t.Fatalf("resolver balance = %s, want 1000000000000", resolverBalance)
	}
}

// A resolver crash between the two claim actions leaves the dest escrow
// already Released; a retried Complete must treat that as done and still
// drive the source-side claim.
func TestCompleteRetriesAfterPartialRelease(t *testing.T) {
	o, evm, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	userActor := identity.OpaquePrincipalFromSeed([]byte("user7"))
	userEvm := identity.MustParseEvmAddress("0x0000000000000000000000000000000000000007")
	amount := big.NewInt(25)

	res, err := o.InitiateEvmToActor(ctx, InitiateParams{
		UserEvmAddress:     userEvm,
		UserActorPrincipal: userActor,
		SourceTokenSymbol:  "ETH",
		DestTokenSymbol:    "ACT",
		Amount:             amount,
		TimelockDuration:   2 * time.Hour,
	})
	if err != nil {
		t.Fatalf("InitiateEvmToActor: %v", err)
	}

	o.mu.RLock()
	srcAddr := o.refs[res.SwapID][0].evmAddr
	dstRef := o.refs[res.SwapID][1].actorRef
	o.mu.RUnlock()
	evm.creditBalance(srcAddr, amount)
	if _, err := o.CheckEscrowFunding(ctx, res.SwapID); err != nil {
		t.Fatalf("CheckEscrowFunding: %v", err)
	}

	// Simulate a first attempt that died after the dest release
	// committed but before the source claim.
	s, err := o.GetSwap(res.SwapID)
	if err != nil {
		t.Fatalf("GetSwap: %v", err)
	}
	secret := s.Secret()
	if secret == nil {
		t.Fatal("swap has no live secret")
	}
	dstEscrow, ok := o.actors.Get(dstRef)
	if !ok {
		t.Fatal("dest escrow not found")
	}
	if err := dstEscrow.Release(ctx, *secret); err != nil {
		t.Fatalf("manual dest release: %v", err)
	}

	if err := o.Complete(ctx, res.SwapID, userEvm.String()); err != nil {
		t.Fatalf("Complete after partial release: %v", err)
	}
	if !evm.withdrawn[srcAddr.String()] {
		t.Error("source-side claim was not driven on retry")
	}
	if s.GetStatus() != "Completed" {
		t.Errorf("status = %s, want Completed", s.GetStatus())
	}
}
