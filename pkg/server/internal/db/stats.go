package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vctt94/andarbahar/pkg/engine"
)

// PlayerStats are the accumulated results of a player.
type PlayerStats = engine.PlayerStats

// RecordBonusWager stores the bonus funded part of a stake. A bet is
// recorded at most once.
func (db *DB) RecordBonusWager(ctx context.Context, playerID, betID string, amount int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO bonus_wagers (player_id, bet_id, amount, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(bet_id) DO NOTHING
	`, playerID, betID, amount, ts(time.Now()))
	return err
}

// BonusWagered returns the sum of bonus wagers of playerID.
func (db *DB) BonusWagered(ctx context.Context, playerID string) (int64, error) {
	var total int64
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM bonus_wagers WHERE player_id = ?`,
		playerID).Scan(&total)
	return total, err
}

// RecordResult accumulates one settled bet. A round counts once per player
// however many bets they held in it.
func (db *DB) RecordResult(ctx context.Context, playerID, roundID string, stake, winnings int64) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO player_stat_rounds (player_id, round_id) VALUES (?, ?)
			ON CONFLICT DO NOTHING
		`, playerID, roundID)
		if err != nil {
			return err
		}
		newRound, err := res.RowsAffected()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO player_stats (player_id, rounds_played, total_staked, total_winnings, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(player_id) DO UPDATE SET
				rounds_played = rounds_played + excluded.rounds_played,
				total_staked = total_staked + excluded.total_staked,
				total_winnings = total_winnings + excluded.total_winnings,
				updated_at = excluded.updated_at
		`, playerID, newRound, stake, winnings, ts(time.Now()))
		return err
	})
}

// Stats returns the accumulated stats of playerID; unknown players have
// zero stats.
func (db *DB) Stats(ctx context.Context, playerID string) (PlayerStats, error) {
	st := PlayerStats{PlayerID: playerID}
	err := db.QueryRowContext(ctx, `
		SELECT rounds_played, total_staked, total_winnings FROM player_stats WHERE player_id = ?
	`, playerID).Scan(&st.RoundsPlayed, &st.TotalStaked, &st.TotalWinnings)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	return st, err
}
