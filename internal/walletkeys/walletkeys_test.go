package walletkeys

import (
	"path/filepath"
	"strings"
	"testing"
)

// testMnemonic is the standard BIP39 test vector (entropy 0x00...00).
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestGenerateMnemonic(t *testing.T) {
	mnemonic, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic: %v", err)
	}
	if words := strings.Fields(mnemonic); len(words) != 24 {
		t.Errorf("expected 24 words, got %d", len(words))
	}
	if !ValidateMnemonic(mnemonic) {
		t.Error("generated mnemonic failed validation")
	}

	second, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic: %v", err)
	}
	if mnemonic == second {
		t.Error("two generated mnemonics are identical")
	}
}

func TestValidateMnemonic(t *testing.T) {
	tests := []struct {
		name     string
		mnemonic string
		want     bool
	}{
		{"standard vector", testMnemonic, true},
		{"bad checksum", "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon", false},
		{"garbage", "not a mnemonic at all", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateMnemonic(tt.mnemonic); got != tt.want {
				t.Errorf("ValidateMnemonic(%q) = %v, want %v", tt.mnemonic, got, tt.want)
			}
		})
	}
}

func TestDeriveKeySet(t *testing.T) {
	ks, err := DeriveKeySet(testMnemonic, "")
	if err != nil {
		t.Fatalf("DeriveKeySet: %v", err)
	}

	// m/44'/60'/0'/0/0 of the standard vector is a well-known address.
	want := "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"
	if !strings.EqualFold(ks.EvmAddress.String(), want) {
		t.Errorf("EVM address = %s, want %s", ks.EvmAddress.String(), want)
	}

	if ks.ActorPrincipal.IsZero() {
		t.Error("actor principal is zero")
	}
	if len(ks.ActorPrivateKey) == 0 {
		t.Error("actor private key is empty")
	}
}

func TestDeriveKeySetDeterministic(t *testing.T) {
	a, err := DeriveKeySet(testMnemonic, "")
	if err != nil {
		t.Fatalf("DeriveKeySet: %v", err)
	}
	b, err := DeriveKeySet(testMnemonic, "")
	if err != nil {
		t.Fatalf("DeriveKeySet: %v", err)
	}
	if a.EvmAddress != b.EvmAddress {
		t.Errorf("same mnemonic derived different EVM addresses: %s vs %s", a.EvmAddress.String(), b.EvmAddress.String())
	}
	if !a.ActorPrincipal.Equal(b.ActorPrincipal) {
		t.Errorf("same mnemonic derived different principals: %s vs %s", a.ActorPrincipal.String(), b.ActorPrincipal.String())
	}

	// A different passphrase must yield a different key set.
	c, err := DeriveKeySet(testMnemonic, "trezor")
	if err != nil {
		t.Fatalf("DeriveKeySet with passphrase: %v", err)
	}
	if a.EvmAddress == c.EvmAddress {
		t.Error("passphrase did not change the derived EVM address")
	}
	if a.ActorPrincipal.Equal(c.ActorPrincipal) {
		t.Error("passphrase did not change the derived principal")
	}
}

func TestDeriveKeySetInvalidMnemonic(t *testing.T) {
	if _, err := DeriveKeySet("definitely not valid words here", ""); err == nil {
		t.Error("expected error for invalid mnemonic")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	enc, err := Seal(testMnemonic, "correct horse battery staple")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	got, err := Open(enc, "correct horse battery staple")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got != testMnemonic {
		t.Errorf("Open returned %q, want %q", got, testMnemonic)
	}

	if _, err := Open(enc, "wrong password"); err == nil {
		t.Error("expected error opening with wrong password")
	}
}

func TestSaveLoadEncrypted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.json")

	enc, err := Seal(testMnemonic, "save-load-password")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if err := SaveEncrypted(enc, path); err != nil {
		t.Fatalf("SaveEncrypted: %v", err)
	}

	loaded, err := LoadEncrypted(path)
	if err != nil {
		t.Fatalf("LoadEncrypted: %v", err)
	}
	mnemonic, err := Open(loaded, "save-load-password")
	if err != nil {
		t.Fatalf("Open after load: %v", err)
	}
	if mnemonic != testMnemonic {
		t.Errorf("loaded mnemonic %q, want %q", mnemonic, testMnemonic)
	}
}
