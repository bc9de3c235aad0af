package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"crypto-trading-bot/internal/interfaces"
)

// Store implements the ledger contract over an embedded SQLite database.
type Store struct {
	db    *sql.DB
	botID string
}

var _ interfaces.Ledger = (*Store)(nil)

// Open opens (and creates if needed) the SQLite ledger at path and runs the
// schema bootstrap. ":memory:" is accepted for tests.
func Open(path, botID string) (*Store, error) {
	if path == "" {
		return nil, errors.New("ledger path is empty")
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite prefers a single writer.
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, botID: botID}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying DB handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bot_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			qty REAL NOT NULL,
			entry_price REAL NOT NULL,
			status TEXT NOT NULL,
			opened_at TIMESTAMP NOT NULL,
			closed_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_open ON positions(bot_id, status, symbol)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			qty REAL NOT NULL,
			price REAL NOT NULL,
			fee REAL NOT NULL,
			order_id TEXT NOT NULL,
			ts TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(ts)`,
		`CREATE TABLE IF NOT EXISTS signals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			ema_short REAL NOT NULL,
			ema_long REAL NOT NULL,
			rsi REAL NOT NULL,
			score REAL NOT NULL,
			cadence_hours INTEGER NOT NULL,
			generated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol, generated_at)`,
		`CREATE TABLE IF NOT EXISTS metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT NOT NULL,
			value REAL NOT NULL,
			ts TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_key ON metrics(key, ts)`,
	}

	for _, stmt := range schema {
		if _, err := s.db.ExecContext(context.Background(), stmt); err != nil {
			return fmt.Errorf("ledger migration: %w", err)
		}
	}
	return nil
}
