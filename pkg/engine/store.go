package engine

import (
	"context"
	"time"

	"github.com/vctt94/andarbahar/pkg/ledger"
)

// Store persists rounds, bets and the card log. Stores return ErrNotFound
// for unknown ids and ErrBetNotPending when a conditional bet update loses.
type Store interface {
	ledger.Store

	// CreateRound inserts r and assigns r.Number as the game's next round
	// number.
	CreateRound(ctx context.Context, r *Round) error
	// UpdateRound writes the phase, epoch, window and timestamp fields of r.
	// Aggregates and cards are written by their own methods.
	UpdateRound(ctx context.Context, r *Round) error
	GetRound(ctx context.Context, roundID string) (*Round, error)
	// ListOpenRounds returns rounds in betting or playing, with cards and
	// epoch totals.
	ListOpenRounds(ctx context.Context) ([]*Round, error)

	AppendCard(ctx context.Context, roundID string, e CardEntry) error

	// CompleteRound appends the winning card, writes r and applies every
	// settlement in one transaction.
	CompleteRound(ctx context.Context, r *Round, winning CardEntry, settlements []Settlement) error
	// CancelRound writes r and applies the refund settlements in one
	// transaction.
	CancelRound(ctx context.Context, r *Round, settlements []Settlement) error

	// InsertBet records b and adds its stake to the side and epoch
	// aggregates of the round in one atomic write.
	InsertBet(ctx context.Context, b *Bet) error
	GetBet(ctx context.Context, betID string) (*Bet, error)
	// CancelBet moves a pending bet to cancelled and takes its stake out of
	// the round aggregates in one atomic write. It returns ErrBetNotPending
	// if the bet was already resolved.
	CancelBet(ctx context.Context, betID string, at time.Time) error
	MarkCredited(ctx context.Context, betID string) error
	// ListRoundBets returns the round's bets ordered by placement sequence.
	ListRoundBets(ctx context.Context, roundID string) ([]*Bet, error)
	// ListPlayerBets returns the player's bets in the round ordered by
	// placement sequence.
	ListPlayerBets(ctx context.Context, roundID, playerID string) ([]*Bet, error)
	// LastCompletedRoundWithBets returns the id of the player's most recent
	// completed round in game, excluding excludeRoundID, in which they held
	// a bet that was not cancelled.
	LastCompletedRoundWithBets(ctx context.Context, gameID, playerID, excludeRoundID string) (string, error)
	// ListUncredited returns won, refunded and cancelled bets whose credit
	// has not been confirmed.
	ListUncredited(ctx context.Context) ([]*Bet, error)
}

// WageringReporter receives the bonus funded portion of each stake.
type WageringReporter interface {
	RecordBonusWager(ctx context.Context, playerID, betID string, amount int64) error
}

// StatsRecorder receives the result of each settled bet. Winnings are
// payout minus stake and can be negative.
type StatsRecorder interface {
	RecordResult(ctx context.Context, playerID, roundID string, stake, winnings int64) error
	// Stats returns what was recorded for playerID; unknown players have
	// zero stats.
	Stats(ctx context.Context, playerID string) (PlayerStats, error)
}

// Publisher receives every envelope the engine emits.
type Publisher interface {
	Publish(env Envelope)
}

type noopWagering struct{}

func (noopWagering) RecordBonusWager(context.Context, string, string, int64) error { return nil }

type noopStats struct{}

func (noopStats) RecordResult(context.Context, string, string, int64, int64) error { return nil }

func (noopStats) Stats(_ context.Context, playerID string) (PlayerStats, error) {
	return PlayerStats{PlayerID: playerID}, nil
}

type noopPublisher struct{}

func (noopPublisher) Publish(Envelope) {}
