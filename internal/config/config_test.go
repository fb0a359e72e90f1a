package config

import (
	"path/filepath"
	"testing"
)

func TestChainConfigResolve(t *testing.T) {
	cases := []struct {
		name    string
		cfg     ChainConfig
		wantID  uint64
		wantErr bool
	}{
		{"sepolia", ChainConfig{Selector: EthSepolia}, 11155111, false},
		{"mainnet", ChainConfig{Selector: EthMainnet}, 1, false},
		{"polygon", ChainConfig{Selector: Polygon}, 137, false},
		{"custom ok", ChainConfig{Selector: Custom, ChainID: 31337, URL: "http://localhost:8545"}, 31337, false},
		{"custom missing url", ChainConfig{Selector: Custom, ChainID: 31337}, 0, true},
		{"unknown selector", ChainConfig{Selector: "Bogus"}, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, _, err := tc.cfg.Resolve()
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id != tc.wantID {
				t.Fatalf("chain id = %d, want %d", id, tc.wantID)
			}
		})
	}
}

func TestMinProfit(t *testing.T) {
	cfg := &Config{MinProfitWei: "1000000000000000000"}
	v, err := cfg.MinProfit()
	if err != nil {
		t.Fatalf("MinProfit: %v", err)
	}
	if v.String() != "1000000000000000000" {
		t.Fatalf("got %s", v.String())
	}

	empty := &Config{}
	v, err = empty.MinProfit()
	if err != nil || v.Sign() != 0 {
		t.Fatalf("empty MinProfitWei should default to zero, got %v err %v", v, err)
	}

	bad := &Config{MinProfitWei: "not-a-number"}
	if _, err := bad.MinProfit(); err == nil {
		t.Fatalf("expected error for malformed min_profit_wei")
	}
}

func TestTokenBySymbol(t *testing.T) {
	cfg := &Config{SupportedTokens: []Token{
		{Symbol: "USDC", EvmAddress: "0x0000000000000000000000000000000000000001", Decimals: 6},
	}}
	tok, ok := cfg.TokenBySymbol("USDC")
	if !ok || tok.Decimals != 6 {
		t.Fatalf("expected USDC token, got %+v ok=%v", tok, ok)
	}
	if _, ok := cfg.TokenBySymbol("NOPE"); ok {
		t.Fatalf("expected lookup miss for unknown symbol")
	}
}

func TestLoadConfigCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Chain.Selector != EthSepolia {
		t.Fatalf("expected default chain selector EthSepolia, got %s", cfg.Chain.Selector)
	}

	path := ConfigPath(dir)
	if path != filepath.Join(dir, ConfigFileName) {
		t.Fatalf("unexpected config path: %s", path)
	}

	reloaded, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.EcdsaKeyName != cfg.EcdsaKeyName {
		t.Fatalf("reloaded config mismatch")
	}
}
