package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vctt94/andarbahar/pkg/broadcast"
	"github.com/vctt94/andarbahar/pkg/engine"
	"github.com/vctt94/andarbahar/pkg/ledger"
)

func TestPlaceBetValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.SetBalance("p", 1000, 0)
	r := h.newRound("KH")

	_, err := h.eng.PlaceBet(ctx, "p", r.ID, "C", 100)
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
	_, err = h.eng.PlaceBet(ctx, "p", r.ID, "A", 5)
	assert.ErrorIs(t, err, engine.ErrInvalidInput, "below min")
	_, err = h.eng.PlaceBet(ctx, "p", r.ID, "A", 200000)
	assert.ErrorIs(t, err, engine.ErrInvalidInput, "above max")
	_, err = h.eng.PlaceBet(ctx, "", r.ID, "A", 100)
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
	_, err = h.eng.PlaceBet(ctx, "p", "nope", "A", 100)
	assert.ErrorIs(t, err, engine.ErrNotFound)
	_, err = h.eng.PlaceBet(ctx, "p", r.ID, "A", 1001)
	assert.ErrorIs(t, err, engine.ErrInsufficientFunds)

	assert.Equal(t, int64(1000), h.balance("p").Main)
	assert.Empty(t, h.store.Journal("p"))
}

func TestBetAfterWindowExpiresIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.SetBalance("p", 1000, 0)
	r := h.newRound("KH")

	h.clock.Advance(30 * time.Second)
	_, err := h.eng.PlaceBet(ctx, "p", r.ID, "A", 100)
	assert.ErrorIs(t, err, engine.ErrInvalidPhase)
}

// Scenario D: bonus is drawn first, the rest from main, and nothing moves
// when the total is short.
func TestBetDrawsBonusFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.newRound("KH")

	h.store.SetBalance("p", 0, 800)
	_, err := h.eng.PlaceBet(ctx, "p", r.ID, "A", 1000)
	require.ErrorIs(t, err, engine.ErrInsufficientFunds)
	b := h.balance("p")
	assert.Equal(t, int64(0), b.Main)
	assert.Equal(t, int64(800), b.Bonus)
	assert.Empty(t, h.store.Journal("p"))

	h.store.SetBalance("p", 200, 800)
	bet, err := h.eng.PlaceBet(ctx, "p", r.ID, "A", 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(800), bet.BonusAmount)
	assert.Equal(t, int64(200), bet.MainAmount)
	b = h.balance("p")
	assert.Equal(t, int64(0), b.Main)
	assert.Equal(t, int64(0), b.Bonus)

	wagers := h.store.Wagers()
	require.Len(t, wagers, 1)
	assert.Equal(t, int64(800), wagers[0].Amount)
	assert.Equal(t, bet.ID, wagers[0].BetID)

	placed := h.rec.ofKind(broadcast.KindBetPlaced)
	require.Len(t, placed, 1)
	assert.Equal(t, "p", placed[0].PlayerID)
	assert.True(t, placed[0].Event.Private())
}

func TestStakeSplitSurvivesConcurrentBonusDraw(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.newRound("KH")
	h.store.SetBalance("p", 500, 500)

	// Another stake takes 300 bonus between the split and the debits.
	h.store.onNextRead(func(string) {
		_, err := h.eng.AdjustBalance(ctx, "p", ledger.PoolBonus, -300, "bet", "other-table")
		require.NoError(t, err)
	})
	bet, err := h.eng.PlaceBet(ctx, "p", r.ID, "A", 600)
	require.NoError(t, err)
	assert.Equal(t, int64(200), bet.BonusAmount)
	assert.Equal(t, int64(400), bet.MainAmount)

	b := h.balance("p")
	assert.Equal(t, int64(100), b.Main)
	assert.Equal(t, int64(0), b.Bonus)

	var net int64
	for _, e := range h.store.Journal("p") {
		net += e.Delta
	}
	assert.Equal(t, int64(-900), net, "reverted attempts leave no trace in the balance")

	snap, err := h.eng.Round(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(600), snap.TotalAndar)
}

func TestStakeFailsWhenConcurrentDrawLeavesTooLittle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.newRound("KH")
	h.store.SetBalance("p", 500, 500)

	h.store.onNextRead(func(string) {
		_, err := h.eng.AdjustBalance(ctx, "p", ledger.PoolMain, -450, "withdrawal", "w-1")
		require.NoError(t, err)
	})
	_, err := h.eng.PlaceBet(ctx, "p", r.ID, "B", 600)
	require.ErrorIs(t, err, engine.ErrInsufficientFunds)

	b := h.balance("p")
	assert.Equal(t, int64(50), b.Main)
	assert.Equal(t, int64(500), b.Bonus)
	assert.Empty(t, h.rec.ofKind(broadcast.KindBetPlaced))
}

func TestFailedStoreWritesLeaveTotalsAlone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.newRound("KH")
	h.store.SetBalance("p", 500, 0)

	h.store.FailNext = errors.New("disk full")
	_, err := h.eng.PlaceBet(ctx, "p", r.ID, "A", 200)
	require.Error(t, err)
	assert.Equal(t, int64(500), h.balance("p").Main)
	stored, err := h.store.GetRound(ctx, r.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.TotalAmount)

	bet, err := h.eng.PlaceBet(ctx, "p", r.ID, "A", 200)
	require.NoError(t, err)

	h.store.FailNext = errors.New("disk full")
	_, err = h.eng.CancelBet(ctx, bet.ID, "p")
	require.Error(t, err)
	got, err := h.store.GetBet(ctx, bet.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.BetPending, got.Status)

	snap, err := h.eng.Round(ctx, r.ID)
	require.NoError(t, err)
	stored, err = h.store.GetRound(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), snap.TotalAndar)
	assert.Equal(t, snap.TotalAndar, stored.TotalAndar, "memory and store agree")
	assert.Equal(t, int64(300), h.balance("p").Main)
}

func TestFailedMainDebitRevertsBonus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.newRound("KH")
	h.store.SetBalance("p", 500, 300)

	h.store.setFail(func(e ledger.Entry) error {
		if e.Pool == ledger.PoolMain && e.Delta < 0 {
			return errors.New("disk full")
		}
		return nil
	})
	_, err := h.eng.PlaceBet(ctx, "p", r.ID, "B", 600)
	require.Error(t, err)

	b := h.balance("p")
	assert.Equal(t, int64(500), b.Main)
	assert.Equal(t, int64(300), b.Bonus)

	journal := h.store.Journal("p")
	require.Len(t, journal, 2)
	assert.Equal(t, int64(-300), journal[0].Delta)
	assert.Equal(t, "bet_revert", journal[1].Reason)
	assert.Equal(t, int64(300), journal[1].Delta)

	snap, err := h.eng.Round(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.TotalAmount)
}

func TestPlaceThenCancelRestoresEverything(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.SetBalance("p", 700, 250)
	r := h.newRound("KH")

	bet, err := h.eng.PlaceBet(ctx, "p", r.ID, "A", 400)
	require.NoError(t, err)
	snap, err := h.eng.Round(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(400), snap.TotalAndar)

	cancelled, err := h.eng.CancelBet(ctx, bet.ID, "p")
	require.NoError(t, err)
	assert.Equal(t, engine.BetCancelled, cancelled.Status)

	b := h.balance("p")
	assert.Equal(t, int64(700), b.Main)
	assert.Equal(t, int64(250), b.Bonus)

	snap, err = h.eng.Round(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.TotalAndar)
	assert.Equal(t, int64(0), snap.TotalAmount)

	_, err = h.eng.CancelBet(ctx, bet.ID, "p")
	assert.ErrorIs(t, err, engine.ErrNotFound, "second cancel")
	assert.Equal(t, int64(950), h.balance("p").Total())

	require.Len(t, h.rec.ofKind(broadcast.KindBetCancelled), 1)
}

func TestCancelBetOwnership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.SetBalance("p", 100, 0)
	r := h.newRound("KH")
	bet, err := h.eng.PlaceBet(ctx, "p", r.ID, "A", 100)
	require.NoError(t, err)

	_, err = h.eng.CancelBet(ctx, bet.ID, "mallory")
	assert.ErrorIs(t, err, engine.ErrNotFound)
	_, err = h.eng.CancelBet(ctx, "missing", "p")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

// Scenario C: once betting closed a bet cannot be cancelled and stays
// pending until the round resolves.
func TestCancelAfterCloseIsInvalidPhase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.SetBalance("p", 100, 0)
	r := h.newRound("KH")
	bet, err := h.eng.PlaceBet(ctx, "p", r.ID, "A", 100)
	require.NoError(t, err)

	_, err = h.eng.CloseBetting(ctx, r.ID)
	require.NoError(t, err)
	_, err = h.eng.CancelBet(ctx, bet.ID, "p")
	assert.ErrorIs(t, err, engine.ErrInvalidPhase)

	stored, err := h.store.GetBet(ctx, bet.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.BetPending, stored.Status)
	assert.Equal(t, int64(0), h.balance("p").Main)
}

func TestConcurrentBetsAggregateExactly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const players, stake = 50, 100
	for i := 0; i < players; i++ {
		h.store.SetBalance(fmt.Sprintf("p%d", i), stake, 0)
	}
	r := h.newRound("KH")

	var wg sync.WaitGroup
	for i := 0; i < players; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.eng.PlaceBet(ctx, fmt.Sprintf("p%d", i), r.ID, "A", stake)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	snap, err := h.eng.Round(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(players*stake), snap.TotalAndar)

	bets, err := h.store.ListRoundBets(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, bets, players)

	stored, err := h.store.GetRound(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(players*stake), stored.TotalAndar)
}

func TestConcurrentBetsNeverOverdraw(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.SetBalance("p", 1000, 0)
	r := h.newRound("KH")

	var wg sync.WaitGroup
	var placed atomic.Int64
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.eng.PlaceBet(ctx, "p", r.ID, "B", 100); err == nil {
				placed.Add(1)
			}
		}()
	}
	wg.Wait()

	b := h.balance("p")
	assert.GreaterOrEqual(t, b.Main, int64(0))
	assert.LessOrEqual(t, placed.Load(), int64(10))
	assert.Equal(t, 1000-100*placed.Load(), b.Main)

	snap, err := h.eng.Round(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 100*placed.Load(), snap.TotalBahar)
}

func TestBetsRacingCompletion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const players = 20
	for i := 0; i < players; i++ {
		h.store.SetBalance(fmt.Sprintf("p%d", i), 100, 0)
	}
	r := h.newRound("KH")
	h.deal(r.ID, "2C", "B")
	h.deal(r.ID, "3C", "A")
	_, err := h.eng.ReopenBetting(ctx, r.ID, 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < players; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.eng.PlaceBet(ctx, fmt.Sprintf("p%d", i), r.ID, "A", 100)
			if err != nil {
				assert.ErrorIs(t, err, engine.ErrInvalidPhase)
			}
		}()
	}
	res, err := h.eng.DealCard(ctx, r.ID, "KS", "B", 0)
	require.NoError(t, err)
	wg.Wait()

	// Every bet that got in was settled; every other player kept the stake.
	bets, err := h.store.ListRoundBets(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, res.Settled, len(bets))
	for _, b := range bets {
		assert.Equal(t, engine.BetLost, b.Status)
	}
	var total int64
	for i := 0; i < players; i++ {
		total += h.balance(fmt.Sprintf("p%d", i)).Main
	}
	assert.Equal(t, int64(players*100)-int64(len(bets))*100, total)
}

func TestUndoLastBet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.SetBalance("p", 1000, 0)
	r := h.newRound("KH")

	first, err := h.eng.PlaceBet(ctx, "p", r.ID, "A", 100)
	require.NoError(t, err)
	second, err := h.eng.PlaceBet(ctx, "p", r.ID, "B", 200)
	require.NoError(t, err)

	undone, err := h.eng.UndoLastBet(ctx, "p", r.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, undone.ID)
	assert.Equal(t, int64(900), h.balance("p").Main)

	undone, err = h.eng.UndoLastBet(ctx, "p", r.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, undone.ID)

	_, err = h.eng.UndoLastBet(ctx, "p", r.ID)
	assert.ErrorIs(t, err, engine.ErrNotFound)
	assert.Len(t, h.rec.ofKind(broadcast.KindBetUndone), 2)
	assert.Empty(t, h.rec.ofKind(broadcast.KindBetCancelled))
}

func TestRebetReplaysPreviousRound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.SetBalance("p", 1000, 0)

	r1 := h.newRound("KH")
	_, err := h.eng.PlaceBet(ctx, "p", r1.ID, "A", 100)
	require.NoError(t, err)
	_, err = h.eng.PlaceBet(ctx, "p", r1.ID, "B", 50)
	require.NoError(t, err)
	cancelled, err := h.eng.PlaceBet(ctx, "p", r1.ID, "B", 70)
	require.NoError(t, err)
	_, err = h.eng.CancelBet(ctx, cancelled.ID, "p")
	require.NoError(t, err)
	h.deal(r1.ID, "KC", "B")

	r2 := h.newRound("5H")
	_, err = h.eng.RebetFromPreviousRound(ctx, "nobody", r2.ID)
	assert.ErrorIs(t, err, engine.ErrNotFound)

	res, err := h.eng.RebetFromPreviousRound(ctx, "p", r2.ID)
	require.NoError(t, err)
	require.Len(t, res.Placed, 2)
	assert.Equal(t, "A", string(res.Placed[0].Side))
	assert.Equal(t, int64(100), res.Placed[0].Amount)
	assert.Equal(t, "B", string(res.Placed[1].Side))
	assert.Equal(t, int64(50), res.Placed[1].Amount)
	assert.Less(t, res.Placed[0].Seq, res.Placed[1].Seq)

	success := h.rec.ofKind(broadcast.KindRebetSuccess)
	require.Len(t, success, 1)
	assert.Len(t, success[0].Event.(broadcast.RebetSuccess).Bets, 2)
}

func TestRebetStopsAtFirstFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.SetBalance("p", 300, 0)

	r1 := h.newRound("KH")
	_, err := h.eng.PlaceBet(ctx, "p", r1.ID, "B", 100)
	require.NoError(t, err)
	_, err = h.eng.PlaceBet(ctx, "p", r1.ID, "A", 200)
	require.NoError(t, err)
	h.deal(r1.ID, "KC", "B") // Bahar refunds 100, Andar loses 200

	require.Equal(t, int64(100), h.balance("p").Main)
	r2 := h.newRound("5H")
	res, err := h.eng.RebetFromPreviousRound(ctx, "p", r2.ID)
	require.ErrorIs(t, err, engine.ErrInsufficientFunds)
	require.Len(t, res.Placed, 1)
	assert.Equal(t, int64(100), res.Placed[0].Amount)
	assert.ErrorIs(t, res.Err, engine.ErrInsufficientFunds)

	success := h.rec.ofKind(broadcast.KindRebetSuccess)
	require.Len(t, success, 1)
	assert.NotEmpty(t, success[0].Event.(broadcast.RebetSuccess).Failed)
}

func TestDoubleCurrentBets(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.SetBalance("p", 1000, 0)
	r := h.newRound("KH")

	_, err := h.eng.DoubleCurrentBets(ctx, "p", r.ID)
	assert.ErrorIs(t, err, engine.ErrNotFound)

	_, err = h.eng.PlaceBet(ctx, "p", r.ID, "A", 100)
	require.NoError(t, err)
	_, err = h.eng.PlaceBet(ctx, "p", r.ID, "B", 200)
	require.NoError(t, err)

	res, err := h.eng.DoubleCurrentBets(ctx, "p", r.ID)
	require.NoError(t, err)
	assert.Len(t, res.Placed, 2)
	assert.Equal(t, int64(400), h.balance("p").Main)

	snap, err := h.eng.Round(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), snap.TotalAndar)
	assert.Equal(t, int64(400), snap.TotalBahar)

	res, err = h.eng.DoubleCurrentBets(ctx, "p", r.ID)
	require.ErrorIs(t, err, engine.ErrInsufficientFunds)
	assert.Len(t, res.Placed, 3, "100+200+100 fit in the remaining 400")
	assert.Len(t, h.rec.ofKind(broadcast.KindDoubleBetsSuccess), 2)
}

func TestAdjustBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.eng.AdjustBalance(ctx, "p", ledger.PoolMain, 500, "deposit", "dep-1")
	require.NoError(t, err)
	assert.True(t, res.Applied)
	res, err = h.eng.AdjustBalance(ctx, "p", ledger.PoolMain, 500, "deposit", "dep-1")
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, int64(500), h.balance("p").Main)

	_, err = h.eng.AdjustBalance(ctx, "p", ledger.PoolBonus, -1, "", "")
	assert.ErrorIs(t, err, engine.ErrInsufficientFunds)
	_, err = h.eng.AdjustBalance(ctx, "p", ledger.PoolMain, 0, "", "")
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
	_, err = h.eng.AdjustBalance(ctx, "p", "gold", 1, "", "")
	assert.ErrorIs(t, err, ledger.ErrInvalidMutation)

	assert.Len(t, h.rec.ofKind(broadcast.KindBalanceUpdated), 1)
}

func TestReportBetError(t *testing.T) {
	h := newHarness(t)
	r := h.newRound("KH")

	h.eng.ReportBetError("p", r.ID, "place_bet", "c-1", fmt.Errorf("%w: nope", engine.ErrInvalidPhase))
	h.eng.ReportBetError("p", "unknown", "place_bet", "c-2", engine.ErrNotFound)

	errs := h.rec.ofKind(broadcast.KindBetError)
	require.Len(t, errs, 2)
	first := errs[0].Event.(broadcast.BetError)
	assert.Equal(t, "invalid_phase", first.Code)
	assert.Equal(t, "c-1", first.Correlation)
	assert.Equal(t, "p", errs[0].PlayerID)
	assert.NotZero(t, errs[0].Seq)
	assert.Zero(t, errs[1].Seq)
}
