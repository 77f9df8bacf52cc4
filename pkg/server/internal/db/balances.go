package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/vctt94/andarbahar/pkg/ledger"
)

// GetBalance returns the balance of playerID. Unknown players have a zero
// balance at version 0.
func (db *DB) GetBalance(ctx context.Context, playerID string) (ledger.Balance, error) {
	b := ledger.Balance{PlayerID: playerID}
	err := db.QueryRowContext(ctx,
		`SELECT main, bonus, version FROM balances WHERE player_id = ?`, playerID,
	).Scan(&b.Main, &b.Bonus, &b.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return b, nil
	}
	if err != nil {
		return ledger.Balance{}, fmt.Errorf("failed to get balance: %w", err)
	}
	return b, nil
}

// CompareAndSwapBalance writes next only if the stored version still equals
// expected.Version, and records the journal entry in the same transaction.
func (db *DB) CompareAndSwapBalance(ctx context.Context, expected, next ledger.Balance, e ledger.Entry) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		now := ts(time.Now())
		var (
			res sql.Result
			err error
		)
		if expected.Version == 0 {
			res, err = tx.ExecContext(ctx, `
				INSERT INTO balances (player_id, main, bonus, version, updated_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(player_id) DO NOTHING
			`, next.PlayerID, next.Main, next.Bonus, next.Version, now)
		} else {
			res, err = tx.ExecContext(ctx, `
				UPDATE balances SET main = ?, bonus = ?, version = ?, updated_at = ?
				WHERE player_id = ? AND version = ?
			`, next.Main, next.Bonus, next.Version, now, next.PlayerID, expected.Version)
		}
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ledger.ErrVersionConflict
		}

		var ref sql.NullString
		if e.Reference != "" {
			ref = sql.NullString{String: e.Reference, Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO balance_journal (player_id, pool, delta, balance_after, reason, reference, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, e.PlayerID, string(e.Pool), e.Delta, e.BalanceAfter, e.Reason, ref, ts(e.CreatedAt))
		if isConstraint(err, sqlite3.ErrConstraintUnique) {
			return ledger.ErrDuplicateReference
		}
		return err
	})
}

// ReferenceApplied reports whether a journal entry carries ref.
func (db *DB) ReferenceApplied(ctx context.Context, ref string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM balance_journal WHERE reference = ?`, ref).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Journal returns the journal entries of playerID, oldest first.
func (db *DB) Journal(ctx context.Context, playerID string) ([]ledger.Entry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT player_id, pool, delta, balance_after, reason, COALESCE(reference, ''), created_at
		FROM balance_journal WHERE player_id = ? ORDER BY id
	`, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var (
			e       ledger.Entry
			pool    string
			created int64
		)
		if err := rows.Scan(&e.PlayerID, &pool, &e.Delta, &e.BalanceAfter, &e.Reason, &e.Reference, &created); err != nil {
			return nil, err
		}
		e.Pool = ledger.Pool(pool)
		e.CreatedAt = fromTS(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
