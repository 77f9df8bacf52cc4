package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/vctt94/andarbahar/pkg/broadcast"
	"github.com/vctt94/andarbahar/pkg/cards"
	"github.com/vctt94/andarbahar/pkg/ledger"
)

// PlaceBet places a bet of amount on side for playerID. The stake is drawn
// from the bonus pool first and the rest from the main pool.
func (e *Engine) PlaceBet(ctx context.Context, playerID, roundID, sideToken string, amount int64) (*Bet, error) {
	if playerID == "" {
		return nil, fmt.Errorf("%w: empty player id", ErrInvalidInput)
	}
	side, err := cards.ParseSide(sideToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if amount < e.cfg.MinBet || (e.cfg.MaxBet > 0 && amount > e.cfg.MaxBet) {
		return nil, fmt.Errorf("%w: amount %d out of range [%d, %d]",
			ErrInvalidInput, amount, e.cfg.MinBet, e.cfg.MaxBet)
	}
	rs, err := e.round(roundID)
	if err != nil {
		return nil, err
	}

	rs.mu.RLock()
	defer rs.mu.RUnlock()

	if err := e.bettingOpen(rs); err != nil {
		return nil, err
	}

	bet := &Bet{
		PlayerID:  playerID,
		RoundID:   rs.id,
		GameID:    rs.gameID,
		Side:      side,
		Amount:    amount,
		Epoch:     rs.epoch,
		Status:    BetPending,
		CreatedAt: e.cfg.Now(),
	}
	after, err := e.takeStake(ctx, bet)
	if err != nil {
		return nil, err
	}
	bonusPart, mainPart := bet.BonusAmount, bet.MainAmount

	bet.Seq = rs.betSeq.Add(1)
	if err := e.store.InsertBet(ctx, bet); err != nil {
		e.revertStake(ctx, bet, bet.BonusAmount, bet.MainAmount)
		return nil, fmt.Errorf("failed to record bet: %w", err)
	}

	rs.addTotals(side, bet.Epoch, amount)
	if bonusPart > 0 {
		if err := e.wager.RecordBonusWager(ctx, playerID, bet.ID, bonusPart); err != nil {
			e.log.Warnf("Failed to report bonus wager of bet %s: %v", bet.ID, err)
		}
	}
	e.log.Debugf("Bet %s: %s %d on %s in round %s (bonus %d, main %d, epoch %d)",
		bet.ID, playerID, amount, side.Name(), rs.id, bonusPart, mainPart, bet.Epoch)

	e.emit(rs,
		to(playerID, broadcast.BetPlaced{Bet: bet.info(), Balance: balanceInfo(after)}),
		to(playerID, broadcast.BalanceUpdated{Main: after.Main, Bonus: after.Bonus, Delta: -amount, Reason: "bet"}),
		stats(rs),
	)
	return bet, nil
}

// bettingOpen checks that rs accepts bets. Callers hold rs.mu.
func (e *Engine) bettingOpen(rs *roundState) error {
	if phase := rs.phase.Current(); phase != PhaseBetting {
		return fmt.Errorf("%w: round %s is %s", ErrInvalidPhase, rs.id, phase)
	}
	if !e.cfg.Now().Before(rs.bettingEnd) {
		return fmt.Errorf("%w: betting window of round %s has closed", ErrInvalidPhase, rs.id)
	}
	return nil
}

// stakeAttempts bounds how often a stake split is recomputed after a
// concurrent debit by the same player drained one of the planned pools.
const stakeAttempts = 5

// takeStake splits b.Amount over the pools of a fresh balance read and
// debits both portions. Every attempt gets a new bet id, as ledger
// references of a reverted attempt stay applied.
func (e *Engine) takeStake(ctx context.Context, b *Bet) (ledger.Balance, error) {
	var lastErr error
	for attempt := 0; attempt < stakeAttempts; attempt++ {
		bal, err := e.ledger.Balance(ctx, b.PlayerID)
		if err != nil {
			return ledger.Balance{}, err
		}
		if bal.Total() < b.Amount {
			return ledger.Balance{}, fmt.Errorf("%w: balance %d, bet %d", ErrInsufficientFunds, bal.Total(), b.Amount)
		}
		b.ID = uuid.NewString()
		b.BonusAmount = min(bal.Bonus, b.Amount)
		b.MainAmount = b.Amount - b.BonusAmount

		after, err := e.debitStake(ctx, b)
		if err == nil {
			return after, nil
		}
		if !errors.Is(err, ErrInsufficientFunds) {
			return ledger.Balance{}, err
		}
		e.log.Debugf("Stake split of %s for %d went stale on attempt %d: %v", b.PlayerID, b.Amount, attempt, err)
		lastErr = err
	}
	return ledger.Balance{}, lastErr
}

// debitStake takes the bet's bonus and main portions. If the main debit
// fails the bonus debit is reverted, so the player is never partially
// debited.
func (e *Engine) debitStake(ctx context.Context, b *Bet) (ledger.Balance, error) {
	var after ledger.Balance
	debit := func(pool ledger.Pool, amount int64) error {
		res, err := e.ledger.Mutate(ctx, ledger.Mutation{
			PlayerID:  b.PlayerID,
			Pool:      pool,
			Delta:     amount,
			Direction: ledger.Subtract,
			Reason:    "bet",
			Reference: "bet:" + b.ID + ":" + string(pool),
		})
		if err != nil {
			return err
		}
		after = res.Balance
		return nil
	}

	if b.BonusAmount > 0 {
		if err := debit(ledger.PoolBonus, b.BonusAmount); err != nil {
			return ledger.Balance{}, err
		}
	}
	if b.MainAmount > 0 {
		if err := debit(ledger.PoolMain, b.MainAmount); err != nil {
			e.revertStake(ctx, b, b.BonusAmount, 0)
			return ledger.Balance{}, err
		}
	}
	return after, nil
}

// revertStake returns debited stake portions of a bet that was never
// recorded.
func (e *Engine) revertStake(ctx context.Context, b *Bet, bonus, main int64) {
	revert := func(pool ledger.Pool, amount int64) {
		if amount <= 0 {
			return
		}
		_, err := e.ledger.Mutate(ctx, ledger.Mutation{
			PlayerID:  b.PlayerID,
			Pool:      pool,
			Delta:     amount,
			Direction: ledger.Add,
			Reason:    "bet_revert",
			Reference: "revert:" + b.ID + ":" + string(pool),
		})
		if err != nil {
			e.log.Errorf("Failed to revert %s stake %d of bet %s for %s: %v",
				pool, amount, b.ID, b.PlayerID, err)
		}
	}
	revert(ledger.PoolBonus, bonus)
	revert(ledger.PoolMain, main)
}

// CancelBet cancels a pending bet of playerID and returns the stake.
func (e *Engine) CancelBet(ctx context.Context, betID, playerID string) (*Bet, error) {
	return e.cancelBet(ctx, betID, playerID, false)
}

// UndoLastBet cancels the most recently placed pending bet of playerID in
// the round.
func (e *Engine) UndoLastBet(ctx context.Context, playerID, roundID string) (*Bet, error) {
	if playerID == "" {
		return nil, fmt.Errorf("%w: empty player id", ErrInvalidInput)
	}
	if _, err := e.round(roundID); err != nil {
		return nil, err
	}
	bets, err := e.store.ListPlayerBets(ctx, roundID, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bets: %w", err)
	}
	var last *Bet
	for _, b := range bets {
		if b.Status == BetPending && (last == nil || b.Seq > last.Seq) {
			last = b
		}
	}
	if last == nil {
		return nil, fmt.Errorf("%w: no pending bet for %s in round %s", ErrNotFound, playerID, roundID)
	}
	return e.cancelBet(ctx, last.ID, playerID, true)
}

func (e *Engine) cancelBet(ctx context.Context, betID, playerID string, undo bool) (*Bet, error) {
	if betID == "" || playerID == "" {
		return nil, fmt.Errorf("%w: bet and player ids are required", ErrInvalidInput)
	}
	b, err := e.store.GetBet(ctx, betID)
	if err != nil {
		return nil, err
	}
	if b.PlayerID != playerID || b.Status != BetPending {
		return nil, fmt.Errorf("%w: no pending bet %s for %s", ErrNotFound, betID, playerID)
	}

	rs, err := e.round(b.RoundID)
	if errors.Is(err, ErrNotFound) {
		// Rounds leave memory only after they finish.
		return nil, fmt.Errorf("%w: round %s is closed", ErrInvalidPhase, b.RoundID)
	}
	if err != nil {
		return nil, err
	}

	rs.mu.RLock()
	defer rs.mu.RUnlock()
	if err := e.bettingOpen(rs); err != nil {
		return nil, err
	}

	now := e.cfg.Now()
	if err := e.store.CancelBet(ctx, b.ID, now); err != nil {
		if errors.Is(err, ErrBetNotPending) {
			return nil, fmt.Errorf("%w: bet %s is no longer pending", ErrNotFound, b.ID)
		}
		return nil, fmt.Errorf("failed to cancel bet: %w", err)
	}
	b.Status = BetCancelled
	b.ResolvedAt = now

	rs.addTotals(b.Side, b.Epoch, -b.Amount)

	c, err := e.creditBet(ctx, b)
	if err != nil {
		e.log.Errorf("Stake of cancelled bet %s not returned yet: %v", b.ID, err)
		return b, fmt.Errorf("bet %s cancelled, stake return pending: %w", b.ID, err)
	}
	e.log.Debugf("Bet %s of %s cancelled in round %s", b.ID, playerID, rs.id)

	var ev broadcast.Event = broadcast.BetCancelled{Bet: b.info(), Balance: balanceInfo(c.balance)}
	if undo {
		ev = broadcast.BetUndone{Bet: b.info(), Balance: balanceInfo(c.balance)}
	}
	e.emit(rs,
		to(playerID, ev),
		to(playerID, broadcast.BalanceUpdated{Main: c.balance.Main, Bonus: c.balance.Bonus, Delta: c.delta, Reason: "bet_cancelled"}),
		stats(rs),
	)
	return b, nil
}

// RebetFromPreviousRound replays, in placement order, the bets playerID held
// in their most recent completed round of the same game. It stops at the
// first failure and keeps what was placed.
func (e *Engine) RebetFromPreviousRound(ctx context.Context, playerID, currentRoundID string) (BatchResult, error) {
	if playerID == "" {
		return BatchResult{}, fmt.Errorf("%w: empty player id", ErrInvalidInput)
	}
	rs, err := e.round(currentRoundID)
	if err != nil {
		return BatchResult{}, err
	}
	prevID, err := e.store.LastCompletedRoundWithBets(ctx, rs.gameID, playerID, rs.id)
	if err != nil {
		return BatchResult{}, err
	}
	prev, err := e.store.ListPlayerBets(ctx, prevID, playerID)
	if err != nil {
		return BatchResult{}, fmt.Errorf("failed to list previous bets: %w", err)
	}
	var templates []*Bet
	for _, b := range prev {
		if b.Status != BetCancelled {
			templates = append(templates, b)
		}
	}
	if len(templates) == 0 {
		return BatchResult{}, fmt.Errorf("%w: no bets in previous round %s", ErrNotFound, prevID)
	}

	res := e.placeBatch(ctx, playerID, rs, templates)
	if len(res.Placed) > 0 {
		e.emit(rs, to(playerID, broadcast.RebetSuccess{Bets: infos(res.Placed), Failed: errString(res.Err)}))
	}
	return res, res.Err
}

// DoubleCurrentBets places a copy of every pending bet playerID holds in the
// round at the time of the call. It stops at the first failure and keeps what
// was placed.
func (e *Engine) DoubleCurrentBets(ctx context.Context, playerID, roundID string) (BatchResult, error) {
	if playerID == "" {
		return BatchResult{}, fmt.Errorf("%w: empty player id", ErrInvalidInput)
	}
	rs, err := e.round(roundID)
	if err != nil {
		return BatchResult{}, err
	}
	current, err := e.store.ListPlayerBets(ctx, rs.id, playerID)
	if err != nil {
		return BatchResult{}, fmt.Errorf("failed to list bets: %w", err)
	}
	var templates []*Bet
	for _, b := range current {
		if b.Status == BetPending {
			templates = append(templates, b)
		}
	}
	if len(templates) == 0 {
		return BatchResult{}, fmt.Errorf("%w: no pending bets for %s in round %s", ErrNotFound, playerID, roundID)
	}

	res := e.placeBatch(ctx, playerID, rs, templates)
	if len(res.Placed) > 0 {
		e.emit(rs, to(playerID, broadcast.DoubleBetsSuccess{Bets: infos(res.Placed), Failed: errString(res.Err)}))
	}
	return res, res.Err
}

func (e *Engine) placeBatch(ctx context.Context, playerID string, rs *roundState, templates []*Bet) BatchResult {
	var res BatchResult
	for _, t := range templates {
		b, err := e.PlaceBet(ctx, playerID, rs.id, string(t.Side), t.Amount)
		if err != nil {
			res.Err = err
			break
		}
		res.Placed = append(res.Placed, b)
	}
	return res
}

func balanceInfo(b ledger.Balance) broadcast.BalanceInfo {
	return broadcast.BalanceInfo{Main: b.Main, Bonus: b.Bonus}
}

func infos(bets []*Bet) []broadcast.BetInfo {
	out := make([]broadcast.BetInfo, len(bets))
	for i, b := range bets {
		out[i] = b.info()
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
