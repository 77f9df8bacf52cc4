package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/vctt94/andarbahar/pkg/broadcast"
	"github.com/vctt94/andarbahar/pkg/ledger"
	"github.com/vctt94/andarbahar/pkg/payout"
	"golang.org/x/sync/errgroup"
)

// credit is the outcome of crediting one bet.
type credit struct {
	bet     *Bet
	balance ledger.Balance
	delta   int64
}

// completeLocked settles the round on the winning card. The card, the round
// record and every bet resolution are stored in one transaction before any
// balance moves. Callers hold rs.mu for writing.
func (e *Engine) completeLocked(ctx context.Context, rs *roundState, entry CardEntry) (*DealResult, error) {
	bets, err := e.store.ListRoundBets(ctx, rs.id)
	if err != nil {
		return nil, fmt.Errorf("failed to load bets: %w", err)
	}

	winning := entry.Side
	var (
		settlements []Settlement
		settled     []*Bet
		totalStake  int64
		totalPayout int64
		summary     broadcast.PayoutsProcessed
	)
	for _, b := range bets {
		if b.Status != BetPending {
			continue
		}
		amount, status := payout.Resolve(b.Amount, b.Side, winning, rs.epoch, b.Epoch)
		sb := *b
		sb.Status = BetStatus(status)
		sb.Payout = amount
		sb.ResolvedAt = entry.DealtAt
		settled = append(settled, &sb)
		settlements = append(settlements, Settlement{BetID: b.ID, Status: sb.Status, Payout: amount})

		totalStake += b.Amount
		totalPayout += amount
		switch sb.Status {
		case BetWon:
			summary.Won++
		case BetRefunded:
			summary.Refunded++
		default:
			summary.Lost++
		}
	}
	summary.TotalStake = totalStake
	summary.TotalPayout = totalPayout

	prevCards, prevSide, prevCard, prevEnded := rs.cards, rs.winningSide, rs.winningCard, rs.endedAt
	prevPayout := rs.totalPayout.Load()
	rs.cards = append(rs.cards, entry)
	rs.winningSide, rs.winningCard = winning, entry.Card
	rs.endedAt = entry.DealtAt
	rs.totalPayout.Store(totalPayout)

	if err := e.store.CompleteRound(ctx, rs.record(PhaseCompleted), entry, settlements); err != nil {
		rs.cards, rs.winningSide, rs.winningCard, rs.endedAt = prevCards, prevSide, prevCard, prevEnded
		rs.totalPayout.Store(prevPayout)
		return nil, fmt.Errorf("failed to complete round: %w", err)
	}
	if _, err := rs.phase.Transition(PhaseCompleted); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPhase, err)
	}
	rs.stopTimer()
	e.log.Infof("Round %s won by %s with %s at position %d: stake %d, payout %d (%d won, %d refunded, %d lost)",
		rs.id, winning.Name(), entry.Card, entry.Position, totalStake, totalPayout,
		summary.Won, summary.Refunded, summary.Lost)

	credits, creditErr := e.creditAll(ctx, settled)
	for _, b := range settled {
		if err := e.stats.RecordResult(ctx, b.PlayerID, rs.id, b.Amount, payout.Winnings(b.Amount, b.Payout)); err != nil {
			e.log.Warnf("Failed to record result of bet %s: %v", b.ID, err)
		}
	}

	notes := []note{
		public(broadcast.CardDealt{
			Card:          entry.Card.Token(),
			Side:          string(entry.Side),
			Position:      entry.Position,
			IsWinningCard: true,
		}),
		public(broadcast.WinnerDetermined{
			WinningSide: string(winning),
			WinningCard: entry.Card.Token(),
			Epoch:       rs.epoch,
			DisplayText: fmt.Sprintf("%s wins with %s", winning.Name(), entry.Card),
		}),
		public(summary),
	}
	notes = append(notes, balanceNotes(credits, "payout")...)
	e.emit(rs, notes...)

	res := &DealResult{
		Entry:       entry,
		Completed:   true,
		WinningSide: winning,
		TotalPayout: totalPayout,
		Settled:     settled,
	}
	if creditErr != nil {
		return res, fmt.Errorf("round %s completed with pending credits: %w", rs.id, creditErr)
	}
	return res, nil
}

// cancelLocked moves the round to cancelled and refunds its pending bets.
// Callers hold rs.mu for writing.
func (e *Engine) cancelLocked(ctx context.Context, rs *roundState, reason string) error {
	bets, err := e.store.ListRoundBets(ctx, rs.id)
	if err != nil {
		return fmt.Errorf("failed to load bets: %w", err)
	}

	now := e.cfg.Now()
	var (
		settlements []Settlement
		refunded    []*Bet
		amount      int64
	)
	for _, b := range bets {
		if b.Status != BetPending {
			continue
		}
		rb := *b
		rb.Status = BetRefunded
		rb.Payout = b.Amount
		rb.ResolvedAt = now
		refunded = append(refunded, &rb)
		settlements = append(settlements, Settlement{BetID: b.ID, Status: BetRefunded, Payout: b.Amount})
		amount += b.Amount
	}

	prevReason, prevEnded := rs.cancelReason, rs.endedAt
	rs.cancelReason, rs.endedAt = reason, now
	if err := e.store.CancelRound(ctx, rs.record(PhaseCancelled), settlements); err != nil {
		rs.cancelReason, rs.endedAt = prevReason, prevEnded
		return fmt.Errorf("failed to cancel round: %w", err)
	}
	if _, err := rs.phase.Transition(PhaseCancelled); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPhase, err)
	}
	rs.stopTimer()
	e.log.Infof("Round %s cancelled (%s): %d bets refunded, %d total", rs.id, reason, len(refunded), amount)

	credits, creditErr := e.creditAll(ctx, refunded)

	notes := []note{public(broadcast.RoundCancelled{
		Reason:         reason,
		RefundedBets:   len(refunded),
		RefundedAmount: amount,
	})}
	notes = append(notes, balanceNotes(credits, "refund")...)
	e.emit(rs, notes...)

	if creditErr != nil {
		return fmt.Errorf("round %s cancelled with pending refunds: %w", rs.id, creditErr)
	}
	return nil
}

// creditAll credits bets in parallel. Every bet is attempted; the first
// error is returned and the failed bets stay uncredited for RetryCredits.
func (e *Engine) creditAll(ctx context.Context, bets []*Bet) ([]credit, error) {
	var (
		mu  sync.Mutex
		out []credit
		g   errgroup.Group
	)
	g.SetLimit(e.cfg.PayoutWorkers)
	for _, b := range bets {
		g.Go(func() error {
			c, err := e.creditBet(ctx, b)
			if err != nil {
				e.log.Errorf("Failed to credit bet %s of %s: %v", b.ID, b.PlayerID, err)
				return err
			}
			if c.delta != 0 {
				mu.Lock()
				out = append(out, c)
				mu.Unlock()
			}
			return nil
		})
	}
	return out, g.Wait()
}

// creditBet moves the money a resolved bet is owed and marks it credited.
// Winning payouts go to the main pool; refunds and cancellations return each
// pool's share. Every movement carries a reference derived from the bet id,
// so repeating a credit never pays twice.
func (e *Engine) creditBet(ctx context.Context, b *Bet) (credit, error) {
	c := credit{bet: b}
	add := func(pool ledger.Pool, amount int64, ref, reason string) error {
		if amount <= 0 {
			return nil
		}
		res, err := e.ledger.Mutate(ctx, ledger.Mutation{
			PlayerID:  b.PlayerID,
			Pool:      pool,
			Delta:     amount,
			Direction: ledger.Add,
			Reason:    reason,
			Reference: ref,
		})
		if err != nil {
			return err
		}
		c.balance = res.Balance
		c.delta += res.Delta
		return nil
	}

	switch b.Status {
	case BetWon:
		if err := add(ledger.PoolMain, b.Payout, "payout:"+b.ID, "payout"); err != nil {
			return c, err
		}
	case BetRefunded, BetCancelled:
		reason := "refund"
		if b.Status == BetCancelled {
			reason = "bet_cancelled"
		}
		if err := add(ledger.PoolBonus, b.BonusAmount, "refund:"+b.ID+":bonus", reason); err != nil {
			return c, err
		}
		if err := add(ledger.PoolMain, b.MainAmount, "refund:"+b.ID+":main", reason); err != nil {
			return c, err
		}
	default:
		return c, nil
	}

	if err := e.store.MarkCredited(ctx, b.ID); err != nil {
		return c, fmt.Errorf("failed to mark bet %s credited: %w", b.ID, err)
	}
	b.Credited = true
	return c, nil
}

func balanceNotes(credits []credit, reason string) []note {
	notes := make([]note, 0, len(credits))
	for _, c := range credits {
		notes = append(notes, to(c.bet.PlayerID, broadcast.BalanceUpdated{
			Main:   c.balance.Main,
			Bonus:  c.balance.Bonus,
			Delta:  c.delta,
			Reason: reason,
		}))
	}
	return notes
}

// RetryCredits re-applies credits of settled bets that were not confirmed.
// It returns how many bets it credited.
func (e *Engine) RetryCredits(ctx context.Context) (int, error) {
	bets, err := e.store.ListUncredited(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list uncredited bets: %w", err)
	}
	if len(bets) == 0 {
		return 0, nil
	}
	credits, err := e.creditAll(ctx, bets)
	for _, c := range credits {
		e.log.Infof("Re-credited bet %s of %s (%s): %+d", c.bet.ID, c.bet.PlayerID, c.bet.Status, c.delta)
		e.pub.Publish(Envelope{
			RoundID:  c.bet.RoundID,
			GameID:   c.bet.GameID,
			PlayerID: c.bet.PlayerID,
			At:       e.cfg.Now(),
			Event: broadcast.BalanceUpdated{
				Main:   c.balance.Main,
				Bonus:  c.balance.Bonus,
				Delta:  c.delta,
				Reason: "recredit",
			},
		})
	}
	return len(credits), err
}
