package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vctt94/andarbahar/pkg/cards"
	"github.com/vctt94/andarbahar/pkg/engine"
)

const roundColumns = `id, game_id, round_number, status, epoch, opening_card,
	winning_side, winning_card, total_andar, total_bahar, total_amount,
	total_payout, betting_start, betting_end, closed_at, start_at, end_at,
	cancel_reason`

type scanner interface {
	Scan(dest ...any) error
}

func scanRound(row scanner) (*engine.Round, error) {
	var (
		r                       engine.Round
		phase, opening, winSide string
		winCard                 string
		bStart, bEnd, closed    int64
		started, ended          int64
	)
	err := row.Scan(&r.ID, &r.GameID, &r.Number, &phase, &r.Epoch, &opening,
		&winSide, &winCard, &r.TotalAndar, &r.TotalBahar, &r.TotalAmount,
		&r.TotalPayout, &bStart, &bEnd, &closed, &started, &ended, &r.CancelReason)
	if err != nil {
		return nil, err
	}
	r.Phase = engine.Phase(phase)
	r.WinningSide = cards.Side(winSide)
	if r.OpeningCard, err = parseCard(opening); err != nil {
		return nil, fmt.Errorf("round %s opening card: %w", r.ID, err)
	}
	if r.WinningCard, err = parseCard(winCard); err != nil {
		return nil, fmt.Errorf("round %s winning card: %w", r.ID, err)
	}
	r.BettingStart = fromTS(bStart)
	r.BettingEnd = fromTS(bEnd)
	r.ClosedAt = fromTS(closed)
	r.StartedAt = fromTS(started)
	r.EndedAt = fromTS(ended)
	return &r, nil
}

// CreateRound inserts r as the next round number of its game.
func (db *DB) CreateRound(ctx context.Context, r *engine.Round) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var number int64
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(round_number), 0) + 1 FROM rounds WHERE game_id = ?`,
			r.GameID).Scan(&number)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO rounds (id, game_id, round_number, status, epoch, opening_card,
				betting_start, betting_end, start_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ID, r.GameID, number, string(r.Phase), r.Epoch, r.OpeningCard.Token(),
			ts(r.BettingStart), ts(r.BettingEnd), ts(r.StartedAt))
		if err != nil {
			return fmt.Errorf("failed to insert round: %w", err)
		}
		r.Number = number
		return nil
	})
}

func (db *DB) UpdateRound(ctx context.Context, r *engine.Round) error {
	return updateRound(ctx, db, r)
}

func updateRound(ctx context.Context, q querier, r *engine.Round) error {
	res, err := q.ExecContext(ctx, `
		UPDATE rounds SET status = ?, epoch = ?, betting_start = ?, betting_end = ?,
			closed_at = ?, end_at = ?, winning_side = ?, winning_card = ?,
			cancel_reason = ?, total_payout = ?
		WHERE id = ?
	`, string(r.Phase), r.Epoch, ts(r.BettingStart), ts(r.BettingEnd),
		ts(r.ClosedAt), ts(r.EndedAt), string(r.WinningSide), r.WinningCard.Token(),
		r.CancelReason, r.TotalPayout, r.ID)
	if err != nil {
		return fmt.Errorf("failed to update round: %w", err)
	}
	return requireRow(res, "round", r.ID)
}

func requireRow(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", engine.ErrNotFound, what, id)
	}
	return nil
}

// GetRound returns the round with its cards and epoch totals.
func (db *DB) GetRound(ctx context.Context, roundID string) (*engine.Round, error) {
	r, err := scanRound(db.QueryRowContext(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE id = ?`, roundID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: round %s", engine.ErrNotFound, roundID)
	}
	if err != nil {
		return nil, err
	}
	if err := db.loadRoundDetail(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// ListOpenRounds returns rounds in betting or playing, oldest first.
func (db *DB) ListOpenRounds(ctx context.Context) ([]*engine.Round, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+roundColumns+` FROM rounds
		WHERE status IN (?, ?) ORDER BY start_at`,
		string(engine.PhaseBetting), string(engine.PhasePlaying))
	if err != nil {
		return nil, err
	}
	var out []*engine.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Details are loaded after the cursor is closed; the pool has a single
	// connection.
	for _, r := range out {
		if err := db.loadRoundDetail(ctx, r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (db *DB) loadRoundDetail(ctx context.Context, r *engine.Round) error {
	crows, err := db.QueryContext(ctx, `
		SELECT position, card, side, is_winning_card, dealt_at
		FROM round_cards WHERE round_id = ? ORDER BY position
	`, r.ID)
	if err != nil {
		return err
	}
	r.Cards = nil
	for crows.Next() {
		var (
			e        engine.CardEntry
			tok      string
			side     string
			winning  int
			dealtAtN int64
		)
		if err := crows.Scan(&e.Position, &tok, &side, &winning, &dealtAtN); err != nil {
			crows.Close()
			return err
		}
		if e.Card, err = cards.ParseCard(tok); err != nil {
			crows.Close()
			return fmt.Errorf("round %s card %d: %w", r.ID, e.Position, err)
		}
		e.Side = cards.Side(side)
		e.IsWinning = winning != 0
		e.DealtAt = fromTS(dealtAtN)
		r.Cards = append(r.Cards, e)
	}
	crows.Close()
	if err := crows.Err(); err != nil {
		return err
	}

	trows, err := db.QueryContext(ctx, `
		SELECT epoch, side, amount FROM round_epoch_totals
		WHERE round_id = ? ORDER BY epoch, side
	`, r.ID)
	if err != nil {
		return err
	}
	defer trows.Close()
	r.EpochTotals = nil
	for trows.Next() {
		var (
			t    engine.EpochTotal
			side string
		)
		if err := trows.Scan(&t.Epoch, &side, &t.Amount); err != nil {
			return err
		}
		t.Side = cards.Side(side)
		r.EpochTotals = append(r.EpochTotals, t)
	}
	return trows.Err()
}

// addRoundTotals adjusts the side, total and epoch aggregates in place.
func addRoundTotals(ctx context.Context, q querier, roundID string, side cards.Side, epoch int, delta int64) error {
	col := "total_andar"
	if side == cards.Bahar {
		col = "total_bahar"
	} else if side != cards.Andar {
		return fmt.Errorf("%w: side %q", engine.ErrInvalidInput, side)
	}
	res, err := q.ExecContext(ctx, `UPDATE rounds SET `+col+` = `+col+` + ?,
		total_amount = total_amount + ? WHERE id = ?`, delta, delta, roundID)
	if err != nil {
		return err
	}
	if err := requireRow(res, "round", roundID); err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO round_epoch_totals (round_id, epoch, side, amount) VALUES (?, ?, ?, ?)
		ON CONFLICT(round_id, epoch, side) DO UPDATE SET amount = amount + excluded.amount
	`, roundID, epoch, string(side), delta)
	return err
}

func (db *DB) AppendCard(ctx context.Context, roundID string, e engine.CardEntry) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return appendCard(ctx, tx, roundID, e)
	})
}

// appendCard requires e.Position to be the next free position.
func appendCard(ctx context.Context, q querier, roundID string, e engine.CardEntry) error {
	var dealt int
	err := q.QueryRowContext(ctx, `SELECT cards_dealt FROM rounds WHERE id = ?`, roundID).Scan(&dealt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: round %s", engine.ErrNotFound, roundID)
	}
	if err != nil {
		return err
	}
	if want := dealt + 1; e.Position != want {
		return fmt.Errorf("card position %d already taken or skipped (next %d)", e.Position, want)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO round_cards (round_id, position, card, side, is_winning_card, dealt_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, roundID, e.Position, e.Card.Token(), string(e.Side), boolInt(e.IsWinning), ts(e.DealtAt))
	if err != nil {
		return fmt.Errorf("failed to insert card: %w", err)
	}
	_, err = q.ExecContext(ctx, `UPDATE rounds SET cards_dealt = ? WHERE id = ?`, e.Position, roundID)
	return err
}

// CompleteRound records the winning card, the final round fields and every
// settlement atomically.
func (db *DB) CompleteRound(ctx context.Context, r *engine.Round, winning engine.CardEntry, settlements []engine.Settlement) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := appendCard(ctx, tx, r.ID, winning); err != nil {
			return err
		}
		if err := updateRound(ctx, tx, r); err != nil {
			return err
		}
		return applySettlements(ctx, tx, settlements, r)
	})
}

// CancelRound records the cancelled round and its refunds atomically.
func (db *DB) CancelRound(ctx context.Context, r *engine.Round, settlements []engine.Settlement) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := updateRound(ctx, tx, r); err != nil {
			return err
		}
		return applySettlements(ctx, tx, settlements, r)
	})
}

func applySettlements(ctx context.Context, tx *sql.Tx, settlements []engine.Settlement, r *engine.Round) error {
	for _, st := range settlements {
		if err := resolveBet(ctx, tx, st.BetID, st.Status, st.Payout, r.EndedAt); err != nil {
			return err
		}
	}
	return nil
}
