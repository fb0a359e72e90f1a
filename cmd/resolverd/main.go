// Package main provides the resolverd daemon - the cross-chain atomic-swap
// resolver orchestrator.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/klingon-exchange/fusion-resolver/internal/config"
	"github.com/klingon-exchange/fusion-resolver/internal/escrow"
	"github.com/klingon-exchange/fusion-resolver/internal/evmadapter"
	"github.com/klingon-exchange/fusion-resolver/internal/factory"
	"github.com/klingon-exchange/fusion-resolver/internal/oneinch"
	"github.com/klingon-exchange/fusion-resolver/internal/p2p"
	"github.com/klingon-exchange/fusion-resolver/internal/resolver"
	"github.com/klingon-exchange/fusion-resolver/internal/rpc"
	"github.com/klingon-exchange/fusion-resolver/internal/storage"
	"github.com/klingon-exchange/fusion-resolver/internal/thresholdsig"
	"github.com/klingon-exchange/fusion-resolver/internal/walletkeys"
	"github.com/klingon-exchange/fusion-resolver/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

const walletFileName = "wallet.json"

// devSignerSeedKey is the settings-table key under which the dev-mode
// local threshold signer persists its seed, so the derived resolver EVM
// address is stable across restarts.
const devSignerSeedKey = "dev_signer_seed"

func main() {
	var (
		dataDir        = flag.String("data-dir", "~/.resolverd", "Data directory")
		configFile     = flag.String("config", "", "Config file path; only its directory is used, and config.yaml is read from there (default: <data-dir>/config.yaml)")
		apiAddr        = flag.String("api", "127.0.0.1:8545", "JSON-RPC API address")
		listenAddr     = flag.String("listen", "", "Federation listen address (multiaddr), overrides config")
		enableMDNS     = flag.Bool("mdns", true, "Enable mDNS discovery")
		enableDHT      = flag.Bool("dht", true, "Enable DHT discovery")
		bootstrapPeers = flag.String("bootstrap", "", "Bootstrap peers (comma-separated multiaddrs)")
		devLocalSigner = flag.Bool("dev-local-signer", false, "Sign EVM transactions with a locally held key instead of the threshold-ECDSA service (development only)")
		logLevel       = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion    = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{
		Level:      *logLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("resolverd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	// Load or create config file
	var cfg *config.Config
	var err error
	configDir := *dataDir
	if *configFile != "" {
		configDir = filepath.Dir(*configFile)
	}
	cfg, err = config.LoadConfig(configDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// Apply CLI overrides (CLI flags take precedence over config file)
	if *listenAddr != "" {
		cfg.P2P.ListenAddrs = []string{*listenAddr}
	}
	cfg.P2P.EnableMDNS = *enableMDNS
	cfg.P2P.EnableDHT = *enableDHT
	cfg.Logging.Level = *logLevel
	cfg.Storage.DataDir = *dataDir
	if *bootstrapPeers != "" {
		cfg.P2P.BootstrapPeers = parseBootstrapPeers(*bootstrapPeers)
	}

	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)
	log.Info("Config loaded", "path", config.ConfigPath(configDir))

	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()

	// Initialize storage
	store, err := storage.New(&storage.Config{DataDir: cfg.Storage.DataDir})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage initialized", "dir", cfg.Storage.DataDir)

	// Open (or create on first run) the operator wallet. The same
	// passphrase protects the mnemonic at rest and the sealed secret
	// vault.
	password := os.Getenv("RESOLVERD_WALLET_PASSWORD")
	if password == "" {
		log.Fatal("RESOLVERD_WALLET_PASSWORD must be set")
	}
	keys, err := openOrCreateWallet(log, expandPath(cfg.Storage.DataDir), password)
	if err != nil {
		log.Fatal("Failed to open wallet", "error", err)
	}
	log.Info("Wallet ready", "evm_address", keys.EvmAddress.String(), "actor_principal", keys.ActorPrincipal.String())

	// Threshold-ECDSA signer. The external signing service is a
	// deployment concern; -dev-local-signer substitutes a locally held
	// secp256k1 key with its own persisted seed.
	var signer thresholdsig.Signer
	if *devLocalSigner {
		seed, err := loadOrCreateDevSignerSeed(store)
		if err != nil {
			log.Fatal("Failed to initialize dev signer seed", "error", err)
		}
		signer = thresholdsig.NewLocalSigner(seed)
		log.Warn("Using dev local signer - NOT for production use")
	} else {
		log.Fatal("No threshold-ECDSA service configured; run with -dev-local-signer for development")
	}

	chainID, rpcURL, err := cfg.Chain.Resolve()
	if err != nil {
		log.Fatal("Invalid chain configuration", "error", err)
	}
	if rpcURL == "" {
		log.Fatal("Chain configuration has no RPC URL", "selector", cfg.Chain.Selector)
	}

	var factoryAddr common.Address
	if cfg.WrapperContractAddress != "" {
		if !common.IsHexAddress(cfg.WrapperContractAddress) {
			log.Fatal("Invalid wrapper contract address", "address", cfg.WrapperContractAddress)
		}
		factoryAddr = common.HexToAddress(cfg.WrapperContractAddress)
	}

	// EVM adapter (C3)
	adapter, err := evmadapter.New(ctx, evmadapter.Config{
		RPCURL:      rpcURL,
		ChainID:     new(big.Int).SetUint64(chainID),
		FactoryAddr: factoryAddr,
		Signer:      signer,
		SignerKey:   thresholdsig.KeyID{Name: cfg.EcdsaKeyName},
	})
	if err != nil {
		log.Fatal("Failed to connect to EVM RPC gateway", "url", rpcURL, "error", err)
	}
	resolverEvmAddr, err := adapter.DeriveResolverAddress(ctx)
	if err != nil {
		log.Fatal("Failed to derive resolver EVM address", "error", err)
	}
	log.Info("EVM adapter initialized", "chain", cfg.Chain.Selector, "chain_id", chainID, "resolver_address", resolverEvmAddr.String())

	// Actor-chain escrow factory (C2) over the in-process ledger
	ledger := escrow.NewMemoryLedger()
	actors := factory.New(ledger)

	// Resolver orchestrator (C5)
	orch := resolver.New(cfg, adapter, actors, ledger, resolverEvmAddr, keys.ActorPrincipal)
	orch.AttachStore(store)

	// Recover in-flight swaps and their sealed secrets from a prior run
	restored, err := orch.Restore(ctx)
	if err != nil {
		log.Warn("Failed to restore swaps", "error", err)
	} else if restored > 0 {
		log.Info("Restored in-flight swaps", "count", restored)
		if vault, err := store.LoadSealedVault(); err != nil {
			log.Warn("Failed to load secret vault", "error", err)
		} else if vault != nil {
			secrets, err := resolver.OpenSecrets(&resolver.SealedSecrets{
				Ciphertext: vault.Ciphertext,
				Salt:       vault.Salt,
				Nonce:      vault.Nonce,
			}, password)
			if err != nil {
				log.Warn("Failed to open secret vault; affected swaps will refund on expiry", "error", err)
			} else {
				attached := orch.RestoreSecrets(secrets)
				log.Info("Reattached swap secrets", "count", attached)
			}
		}
	}

	// Resolver-federation gossip
	log.Info("Starting federation node...")
	node, err := p2p.New(ctx, cfg.P2P, store, log)
	if err != nil {
		log.Fatal("Failed to create federation node", "error", err)
	}
	orch.AttachGossip(node)
	node.Start()

	// JSON-RPC + WebSocket server
	rpcServer := rpc.NewServer(orch)
	if err := rpcServer.Start(*apiAddr); err != nil {
		log.Fatal("Failed to start RPC server", "error", err)
	}
	rpcServer.WireGossip(node)

	// Order watching (profitability filter input)
	if cfg.OneInch.BaseURL != "" {
		go watchOrders(ctx, log, cfg, chainID)
	}

	printBanner(log, node, cfg, *apiAddr, resolverEvmAddr.String(), keys.ActorPrincipal.String())

	// Periodically re-seal live secrets so a crash only loses the swaps
	// initiated since the last snapshot
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sealSecrets(log, orch, store, password)
				log.Debug("Status", "peers", node.PeerCount())
			}
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutting down...")

	// Final secret snapshot before anything stops
	sealSecrets(log, orch, store, password)

	cancelCtx()

	if err := rpcServer.Stop(); err != nil {
		log.Error("Error stopping RPC server", "error", err)
	}
	if err := node.Stop(); err != nil {
		log.Error("Error stopping federation node", "error", err)
	}

	log.Info("Goodbye!")
}

// openOrCreateWallet loads the encrypted operator mnemonic from dataDir,
// generating and sealing a fresh one on first run, and derives the
// operational key set from it.
func openOrCreateWallet(log *logging.Logger, dataDir, password string) (*walletkeys.KeySet, error) {
	walletPath := filepath.Join(dataDir, walletFileName)

	var mnemonic string
	if _, err := os.Stat(walletPath); os.IsNotExist(err) {
		mnemonic, err = walletkeys.GenerateMnemonic()
		if err != nil {
			return nil, err
		}
		enc, err := walletkeys.Seal(mnemonic, password)
		if err != nil {
			return nil, err
		}
		if err := walletkeys.SaveEncrypted(enc, walletPath); err != nil {
			return nil, err
		}
		log.Info("Generated new operator wallet", "path", walletPath)
		log.Warn("Back up the mnemonic; it cannot be recovered without the wallet file and password")
	} else {
		enc, err := walletkeys.LoadEncrypted(walletPath)
		if err != nil {
			return nil, err
		}
		mnemonic, err = walletkeys.Open(enc, password)
		if err != nil {
			return nil, err
		}
	}

	return walletkeys.DeriveKeySet(mnemonic, "")
}

// loadOrCreateDevSignerSeed persists the dev signer's seed in the
// settings table so the derived address survives restarts.
func loadOrCreateDevSignerSeed(store *storage.Storage) ([32]byte, error) {
	var seed [32]byte
	if value, ok, err := store.GetSetting(devSignerSeedKey); err != nil {
		return seed, err
	} else if ok {
		decoded, err := hex.DecodeString(value)
		if err == nil && len(decoded) == 32 {
			copy(seed[:], decoded)
			return seed, nil
		}
		// fall through and regenerate on a corrupt entry
	}
	if _, err := rand.Read(seed[:]); err != nil {
		return seed, err
	}
	if err := store.SetSetting(devSignerSeedKey, hex.EncodeToString(seed[:]), time.Now()); err != nil {
		return seed, err
	}
	return seed, nil
}

// sealSecrets snapshots the orchestrator's live secrets into the store.
func sealSecrets(log *logging.Logger, orch *resolver.Orchestrator, store *storage.Storage, password string) {
	sealed, err := orch.SealSecrets(password)
	if err != nil {
		log.Error("Failed to seal secret vault", "error", err)
		return
	}
	if err := store.SaveSealedVault(storage.SealedVault{
		Ciphertext: sealed.Ciphertext,
		Salt:       sealed.Salt,
		Nonce:      sealed.Nonce,
	}, time.Now()); err != nil {
		log.Error("Failed to persist secret vault", "error", err)
	}
}

// watchOrders polls the Fusion+ order book and logs orders clearing the
// profitability threshold. Order selection beyond the single-threshold
// filter is up to the operator.
func watchOrders(ctx context.Context, log *logging.Logger, cfg *config.Config, chainID uint64) {
	minProfit, err := cfg.MinProfit()
	if err != nil {
		log.Error("Invalid min_profit_wei; order watching disabled", "error", err)
		return
	}
	client := oneinch.New(oneinch.Config{
		BaseURL: cfg.OneInch.BaseURL,
		APIKey:  cfg.OneInch.APIKey,
	})
	filter := oneinch.ProfitabilityFilter{MinProfitWei: minProfit}

	interval := 30 * time.Second
	if cfg.OneInch.PollInterval != "" {
		if d, err := time.ParseDuration(cfg.OneInch.PollInterval); err == nil && d > 0 {
			interval = d
		}
	}

	orderLog := log.Component("orders")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			orders, err := client.FetchOrders(ctx, chainID, chainID)
			if err != nil {
				orderLog.Debug("Order fetch failed", "error", err)
				continue
			}
			profitable := filter.FilterProfitable(orders)
			if len(profitable) > 0 {
				orderLog.Info("Profitable orders", "count", len(profitable), "of", len(orders))
			}
		}
	}
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

func printBanner(log *logging.Logger, n *p2p.Node, cfg *config.Config, apiAddr, evmAddr, actorPrincipal string) {
	log.Info("")
	log.Info("=================================================")
	log.Infof("  Fusion Resolver (%s)", cfg.Chain.Selector)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  Resolver EVM address: %s", evmAddr)
	log.Infof("  Resolver principal:   %s", actorPrincipal)
	log.Infof("  Federation peer ID:   %s", n.ID().String())
	log.Info("")
	log.Infof("  API: http://%s", apiAddr)
	log.Infof("  WS:  ws://%s/ws", apiAddr)
	log.Info("")
	log.Infof("  mDNS: %v | DHT: %v", cfg.P2P.EnableMDNS, cfg.P2P.EnableDHT)
	log.Infof("  Data dir: %s", expandPath(cfg.Storage.DataDir))
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}

func parseBootstrapPeers(s string) []string {
	if s == "" {
		return nil
	}
	var peers []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			peers = append(peers, p)
		}
	}
	return peers
}
