// Package config provides centralized configuration for the resolver
// orchestrator. ALL resolver-wide parameters (chain selector, signing key
// name, gateway principal, supported tokens, profit threshold) MUST be
// defined here. No hardcoded values should exist elsewhere in the codebase.
package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ChainSelector identifies the EVM chain the orchestrator bridges
// against.
type ChainSelector string

const (
	EthMainnet ChainSelector = "EthMainnet"
	EthSepolia ChainSelector = "EthSepolia"
	Polygon    ChainSelector = "Polygon"
	Base       ChainSelector = "Base"
	Custom     ChainSelector = "Custom"
)

// ChainConfig pairs a selector with the concrete chain id and RPC URL a
// Custom selector needs; built-in selectors fill these in from defaults.
type ChainConfig struct {
	Selector ChainSelector `yaml:"selector"`
	ChainID  uint64        `yaml:"chain_id,omitempty"`
	URL      string        `yaml:"url,omitempty"`
}

// defaultChainIDs maps the enumerated (non-Custom) selectors to their
// well-known chain ids.
var defaultChainIDs = map[ChainSelector]uint64{
	EthMainnet: 1,
	EthSepolia: 11155111,
	Polygon:    137,
	Base:       8453,
}

// Resolve returns the effective (chainID, url) pair, substituting the
// built-in default chain id for enumerated selectors.
func (c ChainConfig) Resolve() (chainID uint64, url string, err error) {
	if c.Selector == Custom {
		if c.ChainID == 0 || c.URL == "" {
			return 0, "", fmt.Errorf("custom chain selector requires chain_id and url")
		}
		return c.ChainID, c.URL, nil
	}
	id, ok := defaultChainIDs[c.Selector]
	if !ok {
		return 0, "", fmt.Errorf("unknown chain selector %q", c.Selector)
	}
	return id, c.URL, nil
}

// Token describes one supported asset on one side of the bridge: either
// an EVM contract address (20-byte hex, empty string for native asset) or
// an actor-chain ledger id (principal text).
type Token struct {
	Symbol        string `yaml:"symbol"`
	EvmAddress    string `yaml:"evm_address,omitempty"`
	ActorLedgerID string `yaml:"actor_ledger_id,omitempty"`
	Decimals      uint8  `yaml:"decimals"`
}

// MinDuration is the minimum timelock duration accepted at swap
// creation; a new swap must expire strictly later than now + MinDuration.
const MinDuration = 30 * time.Minute

// Config is the resolver orchestrator's process-wide, operator-mutable
// configuration.
type Config struct {
	// Chain selects the EVM chain this orchestrator bridges against.
	Chain ChainConfig `yaml:"chain"`

	// EcdsaKeyName names the threshold-ECDSA key this resolver signs
	// EVM transactions with.
	EcdsaKeyName string `yaml:"ecdsa_key_name"`

	// RpcGatewayPrincipal identifies the external JSON-RPC gateway actor
	// (or, off actor-chain, is simply a logical label for the configured
	// RPC endpoint).
	RpcGatewayPrincipal string `yaml:"rpc_gateway_principal"`

	// WrapperContractAddress is the EVM escrow-factory address (the
	// external collaborator exposing deploySrc/deployDst/withdraw/cancel).
	WrapperContractAddress string `yaml:"wrapper_contract_address"`

	// SupportedTokens lists the assets this resolver will bridge.
	SupportedTokens []Token `yaml:"supported_tokens"`

	// MinProfitWei is the minimum profit (wei, u128) an order must clear
	// the single-threshold profitability filter.
	MinProfitWei string `yaml:"min_profit_wei"`

	// OperatorPrincipal is the only principal authorized to mutate this
	// configuration and perform operator-only orchestrator operations.
	OperatorPrincipal string `yaml:"operator_principal"`

	// OneInch configures the Fusion+ order source the profitability
	// filter draws from. An empty base URL disables order watching.
	OneInch OneInchConfig `yaml:"oneinch"`

	// Storage and logging mirror the daemon's ambient concerns.
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	P2P     P2PConfig     `yaml:"p2p"`
}

// OneInchConfig holds the Fusion+ order-book endpoint settings.
type OneInchConfig struct {
	BaseURL      string `yaml:"base_url"`
	APIKey       string `yaml:"api_key"`
	PollInterval string `yaml:"poll_interval"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// P2PConfig holds resolver-federation gossip settings: standby resolvers
// discovering each other and announcing swap transitions.
type P2PConfig struct {
	ListenAddrs    []string `yaml:"listen_addrs"`
	BootstrapPeers []string `yaml:"bootstrap_peers"`
	EnableMDNS     bool     `yaml:"enable_mdns"`
	EnableDHT      bool     `yaml:"enable_dht"`
	Topic          string   `yaml:"topic"`
}

// MinProfit parses MinProfitWei into a *big.Int.
func (c *Config) MinProfit() (*big.Int, error) {
	if c.MinProfitWei == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(c.MinProfitWei, 10)
	if !ok {
		return nil, fmt.Errorf("invalid min_profit_wei %q", c.MinProfitWei)
	}
	return v, nil
}

// TokenBySymbol looks up a configured token by its symbol.
func (c *Config) TokenBySymbol(symbol string) (Token, bool) {
	for _, t := range c.SupportedTokens {
		if t.Symbol == symbol {
			return t, true
		}
	}
	return Token{}, false
}

// DefaultConfig returns a Config with sensible defaults for local
// development against a Sepolia testnet.
func DefaultConfig() *Config {
	return &Config{
		Chain: ChainConfig{
			Selector: EthSepolia,
			URL:      "https://rpc.sepolia.org",
		},
		EcdsaKeyName:        "dfx_test_key",
		RpcGatewayPrincipal: "evm-rpc-gateway",
		MinProfitWei:        "0",
		Storage: StorageConfig{
			DataDir: "~/.resolverd",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		P2P: P2PConfig{
			ListenAddrs: []string{
				"/ip4/0.0.0.0/tcp/4501",
				"/ip4/0.0.0.0/udp/4501/quic-v1",
			},
			EnableMDNS: true,
			EnableDHT:  true,
			Topic:      "resolver-federation/v1",
		},
	}
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// LoadConfig loads configuration from a YAML file, creating one with
// default values the first time it is asked for a nonexistent path.
func LoadConfig(dataDir string) (*Config, error) {
	expandedDir := expandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir
		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	header := []byte("# Resolver orchestrator configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// ConfigPath returns the full path to the config file for the given data
// directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
