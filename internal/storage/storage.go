// Package storage provides SQLite-backed persistence for the resolver
// orchestrator: swap records, the factory's escrow-handle bookkeeping, and
// the sealed secret vault, so that a restart can recover in-flight swaps
// instead of forcing every one of them to expire and refund.
// It also tracks resolver-federation peers for internal/p2p.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage wraps a SQLite database.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New opens (creating if necessary) the resolver's SQLite database under
// cfg.DataDir and ensures its schema exists.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "resolverd.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying connection, for callers that need raw access
// (migrations, ad-hoc diagnostics).
func (s *Storage) DB() *sql.DB {
	return s.db
}

func (s *Storage) initSchema() error {
	const schema = `
	-- One row per swap, keyed by swap_id. Amount and
	-- timelock are stored as decimal text / unix seconds respectively so
	-- round-tripping never loses u128/time precision to SQLite's native
	-- numeric types.
	CREATE TABLE IF NOT EXISTS swaps (
		swap_id              TEXT PRIMARY KEY,
		direction            TEXT NOT NULL,
		user_evm_address     TEXT NOT NULL,
		user_actor_principal TEXT NOT NULL,
		source_token         TEXT NOT NULL,
		dest_token           TEXT NOT NULL,
		amount               TEXT NOT NULL,
		secret_hash          TEXT NOT NULL,
		timelock             INTEGER NOT NULL,
		source_escrow_ref    TEXT,
		dest_escrow_ref      TEXT,
		status               TEXT NOT NULL,
		created_at           INTEGER NOT NULL,
		updated_at           INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_swaps_status ON swaps(status);
	CREATE INDEX IF NOT EXISTS idx_swaps_timelock ON swaps(timelock);

	-- The live secret store, sealed at rest (internal/resolver.SealSecrets).
	-- Single row, overwritten on every seal; terminal swaps never appear
	-- inside the sealed blob, so there is nothing
	-- to garbage-collect here.
	CREATE TABLE IF NOT EXISTS secret_vault (
		id         INTEGER PRIMARY KEY CHECK (id = 1),
		ciphertext BLOB NOT NULL,
		salt       BLOB NOT NULL,
		nonce      BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);

	-- Escrow handles deployed by internal/factory, recorded so a restart
	-- can resolve a swap_id back to its live escrow instances.
	CREATE TABLE IF NOT EXISTS escrow_handles (
		swap_id   TEXT NOT NULL,
		side      TEXT NOT NULL CHECK (side IN ('source', 'dest')),
		on_evm    INTEGER NOT NULL,
		evm_addr  TEXT,
		actor_ref TEXT,
		PRIMARY KEY (swap_id, side)
	);

	-- Generic operator settings (profit threshold overrides, last-seen
	-- chain tip, etc.).
	CREATE TABLE IF NOT EXISTS settings (
		key        TEXT PRIMARY KEY,
		value      TEXT,
		updated_at INTEGER
	);

	-- Resolver-federation peers discovered via internal/p2p's DHT/mDNS
	-- discovery, so bootstrap addresses survive a restart.
	CREATE TABLE IF NOT EXISTS peers (
		peer_id           TEXT PRIMARY KEY,
		addresses         TEXT,
		first_seen        INTEGER,
		last_seen         INTEGER,
		last_connected    INTEGER,
		connection_count  INTEGER DEFAULT 0,
		is_bootstrap      INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_peers_last_seen ON peers(last_seen);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SwapRecord is the persisted row shape for a swap, independent of the
// live *swap.Swap type so internal/storage has no import-cycle dependency
// on internal/swap; internal/resolver converts between the two.
type SwapRecord struct {
	SwapID             string
	Direction          string
	UserEvmAddress     string
	UserActorPrincipal string
	SourceToken        string
	DestToken          string
	Amount             string
	SecretHash         string
	Timelock           int64
	SourceEscrowRef    string
	DestEscrowRef      string
	Status             string
	CreatedAt          int64
	UpdatedAt          int64
}

// SaveSwap upserts a swap record, called after every status-changing
// orchestrator operation so a crash loses at most the in-flight step.
func (s *Storage) SaveSwap(r SwapRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO swaps (swap_id, direction, user_evm_address, user_actor_principal,
			source_token, dest_token, amount, secret_hash, timelock,
			source_escrow_ref, dest_escrow_ref, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(swap_id) DO UPDATE SET
			source_escrow_ref = excluded.source_escrow_ref,
			dest_escrow_ref   = excluded.dest_escrow_ref,
			status            = excluded.status,
			updated_at        = excluded.updated_at
	`, r.SwapID, r.Direction, r.UserEvmAddress, r.UserActorPrincipal,
		r.SourceToken, r.DestToken, r.Amount, r.SecretHash, r.Timelock,
		r.SourceEscrowRef, r.DestEscrowRef, r.Status, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save swap %s: %w", r.SwapID, err)
	}
	return nil
}

// LoadSwap reads back a single swap record.
func (s *Storage) LoadSwap(swapID string) (*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(`
		SELECT swap_id, direction, user_evm_address, user_actor_principal,
			source_token, dest_token, amount, secret_hash, timelock,
			source_escrow_ref, dest_escrow_ref, status, created_at, updated_at
		FROM swaps WHERE swap_id = ?
	`, swapID)
	var r SwapRecord
	if err := row.Scan(&r.SwapID, &r.Direction, &r.UserEvmAddress, &r.UserActorPrincipal,
		&r.SourceToken, &r.DestToken, &r.Amount, &r.SecretHash, &r.Timelock,
		&r.SourceEscrowRef, &r.DestEscrowRef, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load swap %s: %w", swapID, err)
	}
	return &r, nil
}

// ListNonTerminalSwaps returns every swap not yet Completed/Refunded, for
// recovery on startup.
func (s *Storage) ListNonTerminalSwaps() ([]SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`
		SELECT swap_id, direction, user_evm_address, user_actor_principal,
			source_token, dest_token, amount, secret_hash, timelock,
			source_escrow_ref, dest_escrow_ref, status, created_at, updated_at
		FROM swaps WHERE status NOT IN ('Completed', 'Refunded')
	`)
	if err != nil {
		return nil, fmt.Errorf("list non-terminal swaps: %w", err)
	}
	defer rows.Close()

	var out []SwapRecord
	for rows.Next() {
		var r SwapRecord
		if err := rows.Scan(&r.SwapID, &r.Direction, &r.UserEvmAddress, &r.UserActorPrincipal,
			&r.SourceToken, &r.DestToken, &r.Amount, &r.SecretHash, &r.Timelock,
			&r.SourceEscrowRef, &r.DestEscrowRef, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan swap row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// EscrowHandleRecord records which chain one side of a swap's escrow
// lives on, and how to reach it.
type EscrowHandleRecord struct {
	SwapID   string
	Side     string // "source" or "dest"
	OnEvm    bool
	EvmAddr  string
	ActorRef string
}

// SaveEscrowHandle upserts one side of a swap's escrow bookkeeping.
func (s *Storage) SaveEscrowHandle(r EscrowHandleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	onEvm := 0
	if r.OnEvm {
		onEvm = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO escrow_handles (swap_id, side, on_evm, evm_addr, actor_ref)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(swap_id, side) DO UPDATE SET
			on_evm = excluded.on_evm, evm_addr = excluded.evm_addr, actor_ref = excluded.actor_ref
	`, r.SwapID, r.Side, onEvm, r.EvmAddr, r.ActorRef)
	if err != nil {
		return fmt.Errorf("save escrow handle %s/%s: %w", r.SwapID, r.Side, err)
	}
	return nil
}

// LoadEscrowHandles returns both recorded sides (source, dest) for a swap,
// in that order; a side with no recorded row is omitted.
func (s *Storage) LoadEscrowHandles(swapID string) ([]EscrowHandleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT swap_id, side, on_evm, evm_addr, actor_ref FROM escrow_handles WHERE swap_id = ?
		ORDER BY CASE side WHEN 'source' THEN 0 ELSE 1 END`, swapID)
	if err != nil {
		return nil, fmt.Errorf("load escrow handles for %s: %w", swapID, err)
	}
	defer rows.Close()

	var out []EscrowHandleRecord
	for rows.Next() {
		var r EscrowHandleRecord
		var onEvm int
		var evmAddr, actorRef sql.NullString
		if err := rows.Scan(&r.SwapID, &r.Side, &onEvm, &evmAddr, &actorRef); err != nil {
			return nil, fmt.Errorf("scan escrow handle row: %w", err)
		}
		r.OnEvm = onEvm != 0
		r.EvmAddr = evmAddr.String
		r.ActorRef = actorRef.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// SealedVault mirrors resolver.SealedSecrets without importing internal/
// resolver, to keep storage a leaf package.
type SealedVault struct {
	Ciphertext []byte
	Salt       []byte
	Nonce      []byte
}

// SaveSealedVault overwrites the single persisted secret-vault snapshot.
func (s *Storage) SaveSealedVault(v SealedVault, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO secret_vault (id, ciphertext, salt, nonce, updated_at) VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET ciphertext = excluded.ciphertext, salt = excluded.salt,
			nonce = excluded.nonce, updated_at = excluded.updated_at
	`, v.Ciphertext, v.Salt, v.Nonce, now.Unix())
	if err != nil {
		return fmt.Errorf("save sealed vault: %w", err)
	}
	return nil
}

// LoadSealedVault returns the persisted snapshot, or nil if none has been
// saved yet.
func (s *Storage) LoadSealedVault() (*SealedVault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(`SELECT ciphertext, salt, nonce FROM secret_vault WHERE id = 1`)
	var v SealedVault
	if err := row.Scan(&v.Ciphertext, &v.Salt, &v.Nonce); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load sealed vault: %w", err)
	}
	return &v, nil
}

// SetSetting upserts a single operator setting (key/value, arbitrary
// text).
func (s *Storage) SetSetting(key, value string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, now.Unix())
	return err
}

// GetSetting returns a setting's value, and whether it was present.
func (s *Storage) GetSetting(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

// SavePeer upserts a resolver-federation peer record (internal/p2p
// discovery).
func (s *Storage) SavePeer(peerID string, addresses string, now time.Time, bootstrap bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	isBootstrap := 0
	if bootstrap {
		isBootstrap = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO peers (peer_id, addresses, first_seen, last_seen, last_connected, connection_count, is_bootstrap)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			addresses = excluded.addresses,
			last_seen = excluded.last_seen,
			last_connected = excluded.last_connected,
			connection_count = peers.connection_count + 1
	`, peerID, addresses, now.Unix(), now.Unix(), now.Unix(), isBootstrap)
	return err
}

// ListPeers returns every known resolver-federation peer id and address
// list, keyed by peer id. The result is a map, so it carries no ordering
// by last-seen time.
func (s *Storage) ListPeers() (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT peer_id, addresses FROM peers ORDER BY last_seen DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, addrs string
		if err := rows.Scan(&id, &addrs); err != nil {
			return nil, err
		}
		out[id] = addrs
	}
	return out, rows.Err()
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
