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

const betColumns = `id, user_id, round_id, game_id, side, bet_epoch, seq, amount,
	bonus_amount, main_amount, status, payout_amount, credited, created_at,
	resolved_at`

func scanBet(row scanner) (*engine.Bet, error) {
	var (
		b                 engine.Bet
		side, status      string
		credited          int
		created, resolved int64
	)
	err := row.Scan(&b.ID, &b.PlayerID, &b.RoundID, &b.GameID, &side, &b.Epoch,
		&b.Seq, &b.Amount, &b.BonusAmount, &b.MainAmount, &status, &b.Payout,
		&credited, &created, &resolved)
	if err != nil {
		return nil, err
	}
	b.Side = cards.Side(side)
	b.Status = engine.BetStatus(status)
	b.Credited = credited != 0
	b.CreatedAt = fromTS(created)
	b.ResolvedAt = fromTS(resolved)
	return &b, nil
}

func (db *DB) queryBets(ctx context.Context, query string, args ...any) ([]*engine.Bet, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*engine.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// InsertBet writes b and adds its stake to the round aggregates in one
// transaction.
func (db *DB) InsertBet(ctx context.Context, b *engine.Bet) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO bets (`+betColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.PlayerID, b.RoundID, b.GameID, string(b.Side), b.Epoch, b.Seq,
			b.Amount, b.BonusAmount, b.MainAmount, string(b.Status), b.Payout,
			boolInt(b.Credited), ts(b.CreatedAt), ts(b.ResolvedAt))
		if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
			return fmt.Errorf("%w: round %s", engine.ErrNotFound, b.RoundID)
		}
		if err != nil {
			return fmt.Errorf("failed to insert bet: %w", err)
		}
		return addRoundTotals(ctx, tx, b.RoundID, b.Side, b.Epoch, b.Amount)
	})
}

func (db *DB) GetBet(ctx context.Context, betID string) (*engine.Bet, error) {
	b, err := scanBet(db.QueryRowContext(ctx,
		`SELECT `+betColumns+` FROM bets WHERE id = ?`, betID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: bet %s", engine.ErrNotFound, betID)
	}
	return b, err
}

// CancelBet is conditional on the bet still being pending. The stake leaves
// the round aggregates in the same transaction.
func (db *DB) CancelBet(ctx context.Context, betID string, at time.Time) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := resolveBet(ctx, tx, betID, engine.BetCancelled, 0, at); err != nil {
			return err
		}
		b, err := scanBet(tx.QueryRowContext(ctx,
			`SELECT `+betColumns+` FROM bets WHERE id = ?`, betID))
		if err != nil {
			return err
		}
		return addRoundTotals(ctx, tx, b.RoundID, b.Side, b.Epoch, -b.Amount)
	})
}

func resolveBet(ctx context.Context, q querier, betID string, status engine.BetStatus, payout int64, at time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE bets SET status = ?, payout_amount = ?, resolved_at = ?
		WHERE id = ? AND status = ?
	`, string(status), payout, ts(at), betID, string(engine.BetPending))
	if err != nil {
		return fmt.Errorf("failed to resolve bet: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var cur string
	err = q.QueryRowContext(ctx, `SELECT status FROM bets WHERE id = ?`, betID).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: bet %s", engine.ErrNotFound, betID)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: bet %s is %s", engine.ErrBetNotPending, betID, cur)
}

func (db *DB) MarkCredited(ctx context.Context, betID string) error {
	res, err := db.ExecContext(ctx, `UPDATE bets SET credited = 1 WHERE id = ?`, betID)
	if err != nil {
		return err
	}
	return requireRow(res, "bet", betID)
}

func (db *DB) ListRoundBets(ctx context.Context, roundID string) ([]*engine.Bet, error) {
	return db.queryBets(ctx, `SELECT `+betColumns+` FROM bets
		WHERE round_id = ? ORDER BY seq`, roundID)
}

func (db *DB) ListPlayerBets(ctx context.Context, roundID, playerID string) ([]*engine.Bet, error) {
	return db.queryBets(ctx, `SELECT `+betColumns+` FROM bets
		WHERE round_id = ? AND user_id = ? ORDER BY seq`, roundID, playerID)
}

func (db *DB) LastCompletedRoundWithBets(ctx context.Context, gameID, playerID, excludeRoundID string) (string, error) {
	var id string
	err := db.QueryRowContext(ctx, `
		SELECT r.id FROM rounds r
		WHERE r.game_id = ? AND r.status = ? AND r.id <> ?
			AND EXISTS (SELECT 1 FROM bets b
				WHERE b.round_id = r.id AND b.user_id = ? AND b.status <> ?)
		ORDER BY r.round_number DESC LIMIT 1
	`, gameID, string(engine.PhaseCompleted), excludeRoundID, playerID,
		string(engine.BetCancelled)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: no completed round with bets for %s in game %s",
			engine.ErrNotFound, playerID, gameID)
	}
	return id, err
}

func (db *DB) ListUncredited(ctx context.Context) ([]*engine.Bet, error) {
	return db.queryBets(ctx, `SELECT `+betColumns+` FROM bets
		WHERE credited = 0 AND status IN (?, ?, ?) ORDER BY id`,
		string(engine.BetWon), string(engine.BetRefunded), string(engine.BetCancelled))
}
