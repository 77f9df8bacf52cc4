package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/vctt94/andarbahar/pkg/broadcast"
	"github.com/vctt94/andarbahar/pkg/cards"
)

// CreateRound opens a new round for gameID with the given opening card. A
// game has at most one open round at a time.
func (e *Engine) CreateRound(ctx context.Context, gameID, openingCard string) (*Round, error) {
	if gameID == "" {
		return nil, fmt.Errorf("%w: empty game id", ErrInvalidInput)
	}
	card, err := cards.ParseCard(openingCard)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	e.createMu.Lock()
	defer e.createMu.Unlock()

	e.mu.RLock()
	if id, ok := e.latest[gameID]; ok {
		if prev, ok := e.rounds[id]; ok && prev.phase.Current().Open() {
			e.mu.RUnlock()
			return nil, fmt.Errorf("%w: game %s already has open round %s", ErrInvalidPhase, gameID, id)
		}
	}
	e.mu.RUnlock()

	now := e.cfg.Now()
	r := &Round{
		ID:           uuid.NewString(),
		GameID:       gameID,
		Phase:        PhaseBetting,
		Epoch:        1,
		OpeningCard:  card,
		BettingStart: now,
		BettingEnd:   now.Add(e.cfg.BettingDuration),
		StartedAt:    now,
	}
	if err := e.store.CreateRound(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to create round: %w", err)
	}

	rs := newRoundState(r)
	e.register(rs)
	e.log.Infof("Round %s created for game %s (#%d), opening card %s", r.ID, gameID, r.Number, card)

	e.emit(rs, public(broadcast.RoundCreated{
		RoundNumber: r.Number,
		OpeningCard: card.Token(),
		BettingEnd:  r.BettingEnd,
	}))
	return e.snapshot(rs), nil
}

// StartBettingTimer resets the betting window to duration from now and
// starts the countdown. A running countdown is replaced.
func (e *Engine) StartBettingTimer(ctx context.Context, roundID string, duration time.Duration) (*Round, error) {
	rs, err := e.round(roundID)
	if err != nil {
		return nil, err
	}
	if duration <= 0 {
		duration = e.cfg.BettingDuration
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !rs.phase.Is(PhaseBetting) {
		return nil, fmt.Errorf("%w: round %s is %s", ErrInvalidPhase, roundID, rs.phase.Current())
	}

	prevStart, prevEnd := rs.bettingStart, rs.bettingEnd
	now := e.cfg.Now()
	rs.bettingStart, rs.bettingEnd = now, now.Add(duration)
	if err := e.store.UpdateRound(ctx, rs.record(PhaseBetting)); err != nil {
		rs.bettingStart, rs.bettingEnd = prevStart, prevEnd
		return nil, fmt.Errorf("failed to persist betting window: %w", err)
	}
	e.startTimer(rs)
	e.log.Debugf("Betting timer started on round %s for %s", roundID, duration)

	e.emit(rs, public(broadcast.RoundStarted{
		Epoch:           rs.epoch,
		BettingStart:    rs.bettingStart,
		BettingEnd:      rs.bettingEnd,
		DurationSeconds: int(duration / time.Second),
	}))
	return e.snapshotLocked(rs), nil
}

// CloseBetting ends the betting window and moves the round to playing. If
// the timer or the sweeper closed the current epoch first, the dealer's close
// is a no-op and the current snapshot is returned.
func (e *Engine) CloseBetting(ctx context.Context, roundID string) (*Round, error) {
	rs, err := e.round(roundID)
	if err != nil {
		return nil, err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if err := e.closeBettingLocked(ctx, rs, closedByDealer); err != nil {
		if rs.phase.Is(PhasePlaying) && (rs.closedBy == closedByTimer || rs.closedBy == closedBySweeper) {
			e.log.Debugf("Dealer close of round %s lost to the %s", rs.id, rs.closedBy)
			return e.snapshotLocked(rs), nil
		}
		return nil, err
	}
	return e.snapshotLocked(rs), nil
}

// closeBetting closes betting under the round's write lock. When t is set
// the close only applies if t is still the round's timer.
func (e *Engine) closeBetting(ctx context.Context, rs *roundState, by string, t *bettingTimer) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if t != nil && rs.timer != t {
		return fmt.Errorf("%w: timer of round %s was superseded", ErrInvalidPhase, rs.id)
	}
	return e.closeBettingLocked(ctx, rs, by)
}

func (e *Engine) closeBettingLocked(ctx context.Context, rs *roundState, by string) error {
	if !rs.phase.Is(PhaseBetting) {
		return fmt.Errorf("%w: round %s is %s", ErrInvalidPhase, rs.id, rs.phase.Current())
	}

	prev := rs.closedAt
	rs.closedAt = e.cfg.Now()
	if err := e.store.UpdateRound(ctx, rs.record(PhasePlaying)); err != nil {
		rs.closedAt = prev
		return fmt.Errorf("failed to persist betting close: %w", err)
	}
	if err := rs.phase.TransitionFrom(PhaseBetting, PhasePlaying); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPhase, err)
	}
	rs.closedBy = by
	rs.stopTimer()
	e.log.Infof("Betting closed on round %s (epoch %d) by %s", rs.id, rs.epoch, by)

	e.emit(rs, public(broadcast.BettingClosed{
		Epoch:    rs.epoch,
		ClosedAt: rs.closedAt,
		By:       by,
	}))
	return nil
}

// ReopenBetting starts a new betting epoch on a round that is playing and
// has had at least one complete pair of cards without a match.
func (e *Engine) ReopenBetting(ctx context.Context, roundID string, duration time.Duration) (*Round, error) {
	rs, err := e.round(roundID)
	if err != nil {
		return nil, err
	}
	if duration <= 0 {
		duration = e.cfg.BettingDuration
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !rs.phase.Is(PhasePlaying) {
		return nil, fmt.Errorf("%w: round %s is %s", ErrInvalidPhase, roundID, rs.phase.Current())
	}
	if n := len(rs.cards); n < 2 || n%2 != 0 {
		return nil, fmt.Errorf("%w: reopening needs a complete pair of cards, %d dealt", ErrInvalidPhase, n)
	}

	prevEpoch, prevStart, prevEnd := rs.epoch, rs.bettingStart, rs.bettingEnd
	now := e.cfg.Now()
	rs.epoch++
	rs.bettingStart, rs.bettingEnd = now, now.Add(duration)
	if err := e.store.UpdateRound(ctx, rs.record(PhaseBetting)); err != nil {
		rs.epoch, rs.bettingStart, rs.bettingEnd = prevEpoch, prevStart, prevEnd
		return nil, fmt.Errorf("failed to persist reopen: %w", err)
	}
	if err := rs.phase.TransitionFrom(PhasePlaying, PhaseBetting); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPhase, err)
	}
	rs.closedBy = ""
	e.startTimer(rs)
	e.log.Infof("Betting reopened on round %s, epoch %d", roundID, rs.epoch)

	e.emit(rs, public(broadcast.BettingReopened{
		Epoch:      rs.epoch,
		BettingEnd: rs.bettingEnd,
	}))
	return e.snapshotLocked(rs), nil
}

// DealCard appends a card to the tally. position is the 1-based position of
// the card, or 0 to take the next one. Dealing while betting is open closes
// betting first. A card matching the opening card's rank completes the round
// and settles every bet.
//
// When the round completes but some credits could not be applied, the result
// is returned together with the error; the credits are retried by
// RetryCredits.
func (e *Engine) DealCard(ctx context.Context, roundID, token, sideToken string, position int) (*DealResult, error) {
	card, err := cards.ParseCard(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	side, err := cards.ParseSide(sideToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if position < 0 {
		return nil, fmt.Errorf("%w: negative position %d", ErrInvalidInput, position)
	}
	rs, err := e.round(roundID)
	if err != nil {
		return nil, err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	phase := rs.phase.Current()
	if !phase.Open() {
		return nil, fmt.Errorf("%w: round %s is %s", ErrInvalidPhase, roundID, phase)
	}
	n := len(rs.cards)
	if want := cards.ExpectedSide(n); side != want {
		return nil, fmt.Errorf("%w: card %d goes to %s, not %s",
			ErrSequenceViolation, n+1, want.Name(), side.Name())
	}
	if position != 0 && position != n+1 {
		return nil, fmt.Errorf("%w: expected position %d, got %d", ErrSequenceViolation, n+1, position)
	}

	if phase == PhaseBetting {
		if err := e.closeBettingLocked(ctx, rs, closedByDeal); err != nil {
			return nil, err
		}
	}

	entry := CardEntry{
		Card:      card,
		Side:      side,
		Position:  n + 1,
		IsWinning: cards.Match(card, rs.opening),
		DealtAt:   e.cfg.Now(),
	}
	if entry.IsWinning {
		return e.completeLocked(ctx, rs, entry)
	}

	if err := e.store.AppendCard(ctx, rs.id, entry); err != nil {
		return nil, fmt.Errorf("failed to record card: %w", err)
	}
	rs.cards = append(rs.cards, entry)
	next := cards.ExpectedSide(n + 1)
	e.log.Debugf("Round %s card %d: %s to %s", roundID, entry.Position, card, side.Name())

	e.emit(rs, public(broadcast.CardDealt{
		Card:             card.Token(),
		Side:             string(side),
		Position:         entry.Position,
		NextExpectedSide: string(next),
	}))
	return &DealResult{Entry: entry, NextSide: next}, nil
}

// CancelRound cancels an open round and refunds every pending bet.
func (e *Engine) CancelRound(ctx context.Context, roundID, reason string) (*Round, error) {
	rs, err := e.round(roundID)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "cancelled by dealer"
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !rs.phase.Current().Open() {
		return nil, fmt.Errorf("%w: round %s is %s", ErrInvalidPhase, roundID, rs.phase.Current())
	}

	if err := e.cancelLocked(ctx, rs, reason); err != nil {
		// Refund failures leave the round cancelled; anything earlier
		// leaves it untouched.
		if rs.phase.Current() != PhaseCancelled {
			return nil, err
		}
		return e.snapshotLocked(rs), err
	}
	return e.snapshotLocked(rs), nil
}

// Round returns a snapshot of roundID, from memory when the round is live
// and from the store otherwise.
func (e *Engine) Round(ctx context.Context, roundID string) (*Round, error) {
	rs, err := e.round(roundID)
	if err == nil {
		return e.snapshot(rs), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	r, err := e.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ActiveRound returns the snapshot of gameID's latest round. It is the open
// round when there is one.
func (e *Engine) ActiveRound(ctx context.Context, gameID string) (*Round, error) {
	e.mu.RLock()
	id, ok := e.latest[gameID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no round for game %s", ErrNotFound, gameID)
	}
	return e.Round(ctx, id)
}

// CloseExpired closes betting on rounds whose window has passed without a
// running countdown, as happens after a restart. It returns how many rounds
// it closed.
func (e *Engine) CloseExpired(ctx context.Context) (int, error) {
	e.mu.RLock()
	states := make([]*roundState, 0, len(e.rounds))
	for _, rs := range e.rounds {
		states = append(states, rs)
	}
	e.mu.RUnlock()

	now := e.cfg.Now()
	var closed int
	var firstErr error
	for _, rs := range states {
		rs.mu.RLock()
		expired := rs.phase.Is(PhaseBetting) && rs.timer == nil && !now.Before(rs.bettingEnd)
		rs.mu.RUnlock()
		if !expired {
			continue
		}
		err := e.closeBetting(ctx, rs, closedBySweeper, nil)
		switch {
		case err == nil:
			closed++
		case errors.Is(err, ErrInvalidPhase):
			e.log.Debugf("Sweeper close of round %s skipped: %v", rs.id, err)
		default:
			e.log.Errorf("Sweeper failed to close round %s: %v", rs.id, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return closed, firstErr
}

func (e *Engine) snapshot(rs *roundState) *Round {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return e.snapshotLocked(rs)
}

// snapshotLocked requires rs.mu held in either mode.
func (e *Engine) snapshotLocked(rs *roundState) *Round {
	phase := rs.phase.Current()
	r := rs.record(phase)
	if phase.Open() {
		r.NextSide = cards.ExpectedSide(len(rs.cards))
	}
	if phase == PhaseBetting {
		if left := rs.bettingEnd.Sub(e.cfg.Now()); left > 0 {
			r.RemainingSeconds = int(math.Ceil(left.Seconds()))
		}
	}
	return r
}
