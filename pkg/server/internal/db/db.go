package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/vctt94/andarbahar/pkg/cards"
	"github.com/vctt94/andarbahar/pkg/engine"
)

// DB represents the database connection
type DB struct {
	*sql.DB
}

var (
	_ engine.Store            = (*DB)(nil)
	_ engine.WageringReporter = (*DB)(nil)
	_ engine.StatsRecorder    = (*DB)(nil)
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewDB opens (creating if needed) the SQLite database at dbPath.
func NewDB(dbPath string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite has a single writer; one connection keeps transactions from
	// tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create tables if they don't exist
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db}, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS balances (
		player_id TEXT PRIMARY KEY,
		main INTEGER NOT NULL DEFAULT 0 CHECK (main >= 0),
		bonus INTEGER NOT NULL DEFAULT 0 CHECK (bonus >= 0),
		version INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS balance_journal (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		player_id TEXT NOT NULL,
		pool TEXT NOT NULL,
		delta INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		reason TEXT NOT NULL,
		reference TEXT UNIQUE,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS balance_journal_player ON balance_journal (player_id, id)`,
	`CREATE TABLE IF NOT EXISTS rounds (
		id TEXT PRIMARY KEY,
		game_id TEXT NOT NULL,
		round_number INTEGER NOT NULL,
		status TEXT NOT NULL,
		epoch INTEGER NOT NULL DEFAULT 1,
		opening_card TEXT NOT NULL,
		winning_side TEXT NOT NULL DEFAULT '',
		winning_card TEXT NOT NULL DEFAULT '',
		total_andar INTEGER NOT NULL DEFAULT 0,
		total_bahar INTEGER NOT NULL DEFAULT 0,
		total_amount INTEGER NOT NULL DEFAULT 0,
		total_payout INTEGER NOT NULL DEFAULT 0,
		cards_dealt INTEGER NOT NULL DEFAULT 0,
		betting_start INTEGER NOT NULL DEFAULT 0,
		betting_end INTEGER NOT NULL DEFAULT 0,
		closed_at INTEGER NOT NULL DEFAULT 0,
		start_at INTEGER NOT NULL,
		end_at INTEGER NOT NULL DEFAULT 0,
		cancel_reason TEXT NOT NULL DEFAULT '',
		UNIQUE (game_id, round_number)
	)`,
	`CREATE INDEX IF NOT EXISTS rounds_status ON rounds (status)`,
	`CREATE TABLE IF NOT EXISTS round_epoch_totals (
		round_id TEXT NOT NULL REFERENCES rounds(id),
		epoch INTEGER NOT NULL,
		side TEXT NOT NULL,
		amount INTEGER NOT NULL,
		PRIMARY KEY (round_id, epoch, side)
	)`,
	`CREATE TABLE IF NOT EXISTS round_cards (
		round_id TEXT NOT NULL REFERENCES rounds(id),
		position INTEGER NOT NULL,
		card TEXT NOT NULL,
		side TEXT NOT NULL,
		is_winning_card INTEGER NOT NULL DEFAULT 0,
		dealt_at INTEGER NOT NULL,
		PRIMARY KEY (round_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS bets (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		round_id TEXT NOT NULL REFERENCES rounds(id),
		game_id TEXT NOT NULL,
		side TEXT NOT NULL,
		bet_epoch INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		amount INTEGER NOT NULL,
		bonus_amount INTEGER NOT NULL,
		main_amount INTEGER NOT NULL,
		status TEXT NOT NULL,
		payout_amount INTEGER NOT NULL DEFAULT 0,
		credited INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		resolved_at INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS bets_round ON bets (round_id, seq)`,
	`CREATE INDEX IF NOT EXISTS bets_user ON bets (user_id, round_id)`,
	`CREATE TABLE IF NOT EXISTS bonus_wagers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		player_id TEXT NOT NULL,
		bet_id TEXT NOT NULL UNIQUE,
		amount INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS player_stats (
		player_id TEXT PRIMARY KEY,
		rounds_played INTEGER NOT NULL DEFAULT 0,
		total_staked INTEGER NOT NULL DEFAULT 0,
		total_winnings INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS player_stat_rounds (
		player_id TEXT NOT NULL,
		round_id TEXT NOT NULL,
		PRIMARY KEY (player_id, round_id)
	)`,
}

// createTables creates the necessary database tables
func createTables(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// withTx runs fn in a transaction, committing when it returns nil.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == code
}

// Times are stored as unix nanoseconds; 0 is the zero time.
func ts(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromTS(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func parseCard(tok string) (cards.Card, error) {
	if tok == "" {
		return cards.Card{}, nil
	}
	return cards.ParseCard(tok)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
