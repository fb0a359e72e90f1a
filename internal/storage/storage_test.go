package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "resolverd-storage-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	cfg := &Config{DataDir: tmpDir}
	store, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "resolverd-storage-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	store, err := New(&Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	dbPath := filepath.Join(tmpDir, "resolverd.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	if store.DB() == nil {
		t.Error("DB() returned nil")
	}
}

func TestNewWithTildeExpansion(t *testing.T) {
	home, _ := os.UserHomeDir()
	expanded := expandPath("~/.test")
	expected := filepath.Join(home, ".test")
	if expanded != expected {
		t.Errorf("expandPath(~/.test) = %s, want %s", expanded, expected)
	}
}

func TestStorageSchema(t *testing.T) {
	store := newTestStorage(t)

	for _, table := range []string{"swaps", "secret_vault", "escrow_handles", "settings", "peers"} {
		var name string
		err := store.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestSwapSaveLoadRoundTrip(t *testing.T) {
	store := newTestStorage(t)
	now := time.Now().Unix()

	r := SwapRecord{
		SwapID:             "swap-1",
		Direction:          "EvmToActor",
		UserEvmAddress:     "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		UserActorPrincipal: "aaaaa-aa",
		SourceToken:        "ETH",
		DestToken:          "ICP",
		Amount:             "1000000000",
		SecretHash:         "deadbeef",
		Timelock:           now + 3600,
		Status:             "Created",
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := store.SaveSwap(r); err != nil {
		t.Fatalf("SaveSwap() error = %v", err)
	}

	got, err := store.LoadSwap("swap-1")
	if err != nil {
		t.Fatalf("LoadSwap() error = %v", err)
	}
	if got == nil {
		t.Fatal("LoadSwap() returned nil for a saved swap")
	}
	if got.Amount != r.Amount || got.Status != r.Status || got.SwapID != r.SwapID {
		t.Errorf("LoadSwap() = %+v, want %+v", got, r)
	}

	r.Status = "Ready"
	r.UpdatedAt = now + 1
	if err := store.SaveSwap(r); err != nil {
		t.Fatalf("SaveSwap() (update) error = %v", err)
	}
	got, err = store.LoadSwap("swap-1")
	if err != nil {
		t.Fatalf("LoadSwap() error = %v", err)
	}
	if got.Status != "Ready" {
		t.Errorf("LoadSwap() after update status = %s, want Ready", got.Status)
	}
}

func TestListNonTerminalSwaps(t *testing.T) {
	store := newTestStorage(t)
	now := time.Now().Unix()

	base := SwapRecord{
		UserEvmAddress:     "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		UserActorPrincipal: "aaaaa-aa",
		SourceToken:        "ETH",
		DestToken:          "ICP",
		Amount:             "1",
		SecretHash:         "ab",
		Timelock:           now + 3600,
		CreatedAt:          now,
		UpdatedAt:          now,
		Direction:          "EvmToActor",
	}

	active := base
	active.SwapID = "active"
	active.Status = "Ready"

	done := base
	done.SwapID = "done"
	done.Status = "Completed"

	if err := store.SaveSwap(active); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveSwap(done); err != nil {
		t.Fatal(err)
	}

	records, err := store.ListNonTerminalSwaps()
	if err != nil {
		t.Fatalf("ListNonTerminalSwaps() error = %v", err)
	}
	if len(records) != 1 || records[0].SwapID != "active" {
		t.Errorf("ListNonTerminalSwaps() = %+v, want only %q", records, "active")
	}
}

func TestEscrowHandleCRUD(t *testing.T) {
	store := newTestStorage(t)

	if err := store.SaveEscrowHandle(EscrowHandleRecord{SwapID: "s1", Side: "source", OnEvm: true, EvmAddr: "0xabc"}); err != nil {
		t.Fatalf("SaveEscrowHandle(source) error = %v", err)
	}
	if err := store.SaveEscrowHandle(EscrowHandleRecord{SwapID: "s1", Side: "dest", OnEvm: false, ActorRef: "escrow-1"}); err != nil {
		t.Fatalf("SaveEscrowHandle(dest) error = %v", err)
	}

	handles, err := store.LoadEscrowHandles("s1")
	if err != nil {
		t.Fatalf("LoadEscrowHandles() error = %v", err)
	}
	if len(handles) != 2 {
		t.Fatalf("LoadEscrowHandles() returned %d rows, want 2", len(handles))
	}
}

func TestSealedVaultRoundTrip(t *testing.T) {
	store := newTestStorage(t)

	v := SealedVault{Ciphertext: []byte("ct"), Salt: []byte("salt"), Nonce: []byte("nonce")}
	if err := store.SaveSealedVault(v, time.Now()); err != nil {
		t.Fatalf("SaveSealedVault() error = %v", err)
	}

	got, err := store.LoadSealedVault()
	if err != nil {
		t.Fatalf("LoadSealedVault() error = %v", err)
	}
	if got == nil || string(got.Ciphertext) != "ct" {
		t.Errorf("LoadSealedVault() = %+v, want ciphertext %q", got, "ct")
	}
}

func TestSettingsCRUD(t *testing.T) {
	store := newTestStorage(t)

	if _, ok, err := store.GetSetting("missing"); err != nil || ok {
		t.Fatalf("GetSetting(missing) = (_, %v, %v), want (_, false, nil)", ok, err)
	}

	if err := store.SetSetting("min_profit_wei", "1000", time.Now()); err != nil {
		t.Fatalf("SetSetting() error = %v", err)
	}
	value, ok, err := store.GetSetting("min_profit_wei")
	if err != nil || !ok || value != "1000" {
		t.Errorf("GetSetting() = (%q, %v, %v), want (1000, true, nil)", value, ok, err)
	}
}

func TestPeerCRUD(t *testing.T) {
	store := newTestStorage(t)

	if err := store.SavePeer("peer-1", "/ip4/127.0.0.1/tcp/4501", time.Now(), true); err != nil {
		t.Fatalf("SavePeer() error = %v", err)
	}
	peers, err := store.ListPeers()
	if err != nil {
		t.Fatalf("ListPeers() error = %v", err)
	}
	if peers["peer-1"] != "/ip4/127.0.0.1/tcp/4501" {
		t.Errorf("ListPeers() = %+v, missing expected peer", peers)
	}
}
