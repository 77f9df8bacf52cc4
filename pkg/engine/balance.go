package engine

import (
	"context"
	"fmt"

	"github.com/vctt94/andarbahar/pkg/broadcast"
	"github.com/vctt94/andarbahar/pkg/ledger"
)

// Balance returns the player's balance.
func (e *Engine) Balance(ctx context.Context, playerID string) (ledger.Balance, error) {
	if playerID == "" {
		return ledger.Balance{}, fmt.Errorf("%w: empty player id", ErrInvalidInput)
	}
	return e.ledger.Balance(ctx, playerID)
}

// PlayerStats returns the accumulated results of playerID.
func (e *Engine) PlayerStats(ctx context.Context, playerID string) (PlayerStats, error) {
	if playerID == "" {
		return PlayerStats{}, fmt.Errorf("%w: empty player id", ErrInvalidInput)
	}
	st, err := e.stats.Stats(ctx, playerID)
	if err != nil {
		return PlayerStats{}, fmt.Errorf("failed to load stats: %w", err)
	}
	return st, nil
}

// AdjustBalance applies an operator credit (delta > 0) or debit (delta < 0)
// to one pool. A non-empty reference makes the adjustment idempotent.
func (e *Engine) AdjustBalance(ctx context.Context, playerID string, pool ledger.Pool, delta int64, reason, reference string) (ledger.Result, error) {
	if delta == 0 {
		return ledger.Result{}, fmt.Errorf("%w: zero adjustment", ErrInvalidInput)
	}
	m := ledger.Mutation{
		PlayerID:  playerID,
		Pool:      pool,
		Delta:     delta,
		Direction: ledger.Add,
		Reason:    reason,
		Reference: reference,
	}
	if delta < 0 {
		m.Delta, m.Direction = -delta, ledger.Subtract
	}
	if m.Reason == "" {
		m.Reason = "adjustment"
	}
	res, err := e.ledger.Mutate(ctx, m)
	if err != nil {
		return res, err
	}
	if res.Applied {
		e.log.Infof("Balance of %s adjusted by %+d in %s (%s)", playerID, res.Delta, pool, m.Reason)
		e.pub.Publish(Envelope{
			PlayerID: playerID,
			At:       e.cfg.Now(),
			Event: broadcast.BalanceUpdated{
				Main:   res.Balance.Main,
				Bonus:  res.Balance.Bonus,
				Delta:  res.Delta,
				Reason: m.Reason,
			},
		})
	}
	return res, nil
}
