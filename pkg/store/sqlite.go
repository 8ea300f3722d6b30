package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store manages the SQLite connection and schema. The database is shared
// between the daemon, the TUI and the MCP server, and may be written by
// several processes; WAL mode keeps concurrent access safe.
type Store struct {
	db *sql.DB
}

// Open initializes the SQLite database at dbPath and migrates the schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	// WAL mode for concurrent readers alongside the writer.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the tables if they don't exist.
func (s *Store) migrate() error {
	query := `
	-- Append-only audit log of API attempts, plans and alerts.
	CREATE TABLE IF NOT EXISTS actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		action_type TEXT NOT NULL,
		payload JSON,
		result_json JSON
	);
	CREATE INDEX IF NOT EXISTS idx_actions_timestamp ON actions(timestamp);

	-- Latest-state captures of each decision pass.
	CREATE TABLE IF NOT EXISTS snapshots (
		ts DATETIME PRIMARY KEY,
		json JSON NOT NULL
	);

	-- Credential disable latch. Presence of disabled_at means the key must
	-- no longer be used.
	CREATE TABLE IF NOT EXISTS keys (
		id TEXT PRIMARY KEY,
		key TEXT,
		disabled_at DATETIME
	);

	-- Items watched for buy/sell price thresholds.
	CREATE TABLE IF NOT EXISTS market_watch (
		item_id INTEGER PRIMARY KEY,
		buy_threshold REAL,
		sell_threshold REAL,
		last_seen_price REAL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
