package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vctt94/andarbahar/pkg/broadcast"
	"github.com/vctt94/andarbahar/pkg/cards"
	"github.com/vctt94/andarbahar/pkg/engine"
	"github.com/vctt94/andarbahar/pkg/ledger"
	"github.com/vctt94/andarbahar/pkg/memdb"
)

// recorder captures published envelopes in order.
type recorder struct {
	mu   sync.Mutex
	envs []engine.Envelope
}

func (r *recorder) Publish(env engine.Envelope) {
	r.mu.Lock()
	r.envs = append(r.envs, env)
	r.mu.Unlock()
}

func (r *recorder) all() []engine.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]engine.Envelope(nil), r.envs...)
}

func (r *recorder) ofKind(k broadcast.Kind) []engine.Envelope {
	var out []engine.Envelope
	for _, env := range r.all() {
		if env.Kind() == k {
			out = append(out, env)
		}
	}
	return out
}

// publicKinds lists the kinds of public events of roundID in order.
func (r *recorder) publicKinds(roundID string) []broadcast.Kind {
	var out []broadcast.Kind
	for _, env := range r.all() {
		if env.RoundID == roundID && !env.Event.Private() {
			out = append(out, env.Kind())
		}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// faultyStore lets tests fail selected balance writes and run code right
// after a balance read.
type faultyStore struct {
	*memdb.Store
	mu        sync.Mutex
	fail      func(e ledger.Entry) error
	afterRead func(playerID string)
}

func (f *faultyStore) GetBalance(ctx context.Context, playerID string) (ledger.Balance, error) {
	b, err := f.Store.GetBalance(ctx, playerID)
	f.mu.Lock()
	hook := f.afterRead
	f.afterRead = nil
	f.mu.Unlock()
	if hook != nil {
		hook(playerID)
	}
	return b, err
}

// onNextRead runs fn once, after the next balance read returns its value.
func (f *faultyStore) onNextRead(fn func(playerID string)) {
	f.mu.Lock()
	f.afterRead = fn
	f.mu.Unlock()
}

func (f *faultyStore) CompareAndSwapBalance(ctx context.Context, expected, next ledger.Balance, e ledger.Entry) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail != nil {
		if err := fail(e); err != nil {
			return err
		}
	}
	return f.Store.CompareAndSwapBalance(ctx, expected, next, e)
}

func (f *faultyStore) setFail(fn func(e ledger.Entry) error) {
	f.mu.Lock()
	f.fail = fn
	f.mu.Unlock()
}

type harness struct {
	t     *testing.T
	eng   *engine.Engine
	store *faultyStore
	rec   *recorder
	clock *fakeClock
}

func newHarness(t *testing.T, mods ...func(*engine.Config)) *harness {
	t.Helper()
	st := &faultyStore{Store: memdb.New()}
	clock := newFakeClock()
	cfg := engine.Config{
		BettingDuration: 30 * time.Second,
		MinBet:          10,
		MaxBet:          100000,
		Now:             clock.Now,
	}
	for _, m := range mods {
		m(&cfg)
	}
	rec := &recorder{}
	l := ledger.New(st, ledger.Config{BaseBackoff: time.Microsecond, MaxRetries: 30})
	eng, err := engine.New(cfg, engine.Deps{
		Store:     st,
		Ledger:    l,
		Publisher: rec,
		Wagering:  st.Store,
		Stats:     st.Store,
	})
	require.NoError(t, err)
	t.Cleanup(eng.Shutdown)
	return &harness{t: t, eng: eng, store: st, rec: rec, clock: clock}
}

func (h *harness) newRound(opening string) *engine.Round {
	h.t.Helper()
	r, err := h.eng.CreateRound(context.Background(), "table-1", opening)
	require.NoError(h.t, err)
	return r
}

func (h *harness) balance(player string) ledger.Balance {
	h.t.Helper()
	b, err := h.eng.Balance(context.Background(), player)
	require.NoError(h.t, err)
	return b
}

func (h *harness) deal(roundID, card, side string) *engine.DealResult {
	h.t.Helper()
	res, err := h.eng.DealCard(context.Background(), roundID, card, side, 0)
	require.NoError(h.t, err)
	return res
}

func TestCreateRound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r := h.newRound("KH")
	assert.Equal(t, engine.PhaseBetting, r.Phase)
	assert.Equal(t, 1, r.Epoch)
	assert.Equal(t, int64(1), r.Number)
	assert.Equal(t, "KH", r.OpeningCard.Token())
	assert.Equal(t, h.clock.Now().Add(30*time.Second), r.BettingEnd)
	assert.Equal(t, cards.Bahar, r.NextSide)
	assert.Equal(t, 30, r.RemainingSeconds)

	created := h.rec.ofKind(broadcast.KindRoundCreated)
	require.Len(t, created, 1)
	assert.Equal(t, "KH", created[0].Event.(broadcast.RoundCreated).OpeningCard)

	_, err := h.eng.CreateRound(ctx, "table-1", "2C")
	assert.ErrorIs(t, err, engine.ErrInvalidPhase, "one open round per game")

	_, err = h.eng.CreateRound(ctx, "table-2", "ZZ")
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
	assert.ErrorIs(t, err, cards.ErrInvalidCard)

	_, err = h.eng.CreateRound(ctx, "", "KH")
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestRoundNumbersIncreasePerGame(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r1 := h.newRound("KH")
	_, err := h.eng.CancelRound(ctx, r1.ID, "test")
	require.NoError(t, err)
	r2 := h.newRound("5D")
	assert.Equal(t, r1.Number+1, r2.Number)

	active, err := h.eng.ActiveRound(ctx, "table-1")
	require.NoError(t, err)
	assert.Equal(t, r2.ID, active.ID)

	old, err := h.eng.Round(ctx, r1.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.PhaseCancelled, old.Phase)

	_, err = h.eng.ActiveRound(ctx, "nope")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

// Scenario A: Andar matches on the second card and pays 2x.
func TestAndarWinPaysDouble(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.SetBalance("alice", 2500, 0)

	r := h.newRound("KH")
	bet, err := h.eng.PlaceBet(ctx, "alice", r.ID, "A", 2500)
	require.NoError(t, err)
	assert.Equal(t, int64(0), h.balance("alice").Main)

	res := h.deal(r.ID, "QS", "B")
	assert.False(t, res.Completed)
	assert.Equal(t, cards.Andar, res.NextSide)

	res, err = h.eng.DealCard(ctx, r.ID, "KD", "A", 2)
	require.NoError(t, err)
	require.True(t, res.Completed)
	assert.Equal(t, cards.Andar, res.WinningSide)
	assert.Equal(t, int64(5000), res.TotalPayout)
	require.Len(t, res.Settled, 1)
	assert.Equal(t, bet.ID, res.Settled[0].ID)
	assert.Equal(t, engine.BetWon, res.Settled[0].Status)
	assert.Equal(t, int64(5000), res.Settled[0].Payout)

	stored, err := h.store.GetBet(ctx, bet.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.BetWon, stored.Status)
	assert.True(t, stored.Credited)
	assert.Equal(t, int64(5000), h.balance("alice").Main)

	snap, err := h.eng.Round(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.PhaseCompleted, snap.Phase)
	assert.Equal(t, cards.Andar, snap.WinningSide)
	assert.Equal(t, "KD", snap.WinningCard.Token())
	require.Len(t, snap.Cards, 2)
	assert.True(t, snap.Cards[1].IsWinning)

	assert.Equal(t, []broadcast.Kind{
		broadcast.KindRoundCreated,
		broadcast.KindRoundStatsUpdated,
		broadcast.KindBettingClosed,
		broadcast.KindCardDealt,
		broadcast.KindCardDealt,
		broadcast.KindWinnerDetermined,
		broadcast.KindPayoutsProcessed,
	}, h.rec.publicKinds(r.ID))

	winner := h.rec.ofKind(broadcast.KindWinnerDetermined)[0].Event.(broadcast.WinnerDetermined)
	assert.Equal(t, "A", winner.WinningSide)
	assert.Equal(t, "Andar wins with K♦", winner.DisplayText)

	st, err := h.eng.PlayerStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2500), st.TotalWinnings)
}

// Scenario B: Bahar wins in epoch 2; epoch 1 bets pay 2x, epoch 2 bets are
// refunded.
func TestBaharWinSecondEpoch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.SetBalance("bob", 1500, 0)

	r := h.newRound("KH")
	first, err := h.eng.PlaceBet(ctx, "bob", r.ID, "B", 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Epoch)

	h.deal(r.ID, "QS", "B")
	h.deal(r.ID, "2S", "A")

	reopened, err := h.eng.ReopenBetting(ctx, r.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Epoch)
	assert.Equal(t, engine.PhaseBetting, reopened.Phase)

	second, err := h.eng.PlaceBet(ctx, "bob", r.ID, "bahar", 500)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Epoch)

	res := h.deal(r.ID, "KD", "B")
	require.True(t, res.Completed)
	assert.Equal(t, cards.Bahar, res.WinningSide)

	byID := map[string]*engine.Bet{}
	for _, b := range res.Settled {
		byID[b.ID] = b
	}
	assert.Equal(t, int64(2000), byID[first.ID].Payout)
	assert.Equal(t, engine.BetWon, byID[first.ID].Status)
	assert.Equal(t, int64(500), byID[second.ID].Payout)
	assert.Equal(t, engine.BetRefunded, byID[second.ID].Status)
	assert.Equal(t, int64(2500), h.balance("bob").Total())

	snap, err := h.eng.Round(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []engine.EpochTotal{
		{Epoch: 1, Side: cards.Bahar, Amount: 1000},
		{Epoch: 2, Side: cards.Bahar, Amount: 500},
	}, snap.EpochTotals)
}

func TestReopenRequiresCompletePair(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.newRound("KH")

	_, err := h.eng.ReopenBetting(ctx, r.ID, 0)
	assert.ErrorIs(t, err, engine.ErrInvalidPhase, "still betting")

	h.deal(r.ID, "QS", "B")
	_, err = h.eng.ReopenBetting(ctx, r.ID, 0)
	assert.ErrorIs(t, err, engine.ErrInvalidPhase, "odd number of cards")

	h.deal(r.ID, "2S", "A")
	_, err = h.eng.ReopenBetting(ctx, r.ID, 10*time.Second)
	require.NoError(t, err)
	assert.Len(t, h.rec.ofKind(broadcast.KindBettingReopened), 1)

	// The next card still follows the overall alternation.
	_, err = h.eng.DealCard(ctx, r.ID, "3C", "A", 0)
	assert.ErrorIs(t, err, engine.ErrSequenceViolation)
	h.deal(r.ID, "3C", "B")
}

func TestDealRejectsSequenceViolationsWithoutSideEffects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.newRound("KH")
	before := len(h.rec.all())

	_, err := h.eng.DealCard(ctx, r.ID, "QS", "A", 0)
	assert.ErrorIs(t, err, engine.ErrSequenceViolation)
	_, err = h.eng.DealCard(ctx, r.ID, "QS", "B", 2)
	assert.ErrorIs(t, err, engine.ErrSequenceViolation)

	_, err = h.eng.DealCard(ctx, r.ID, "1Z", "B", 0)
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
	_, err = h.eng.DealCard(ctx, r.ID, "QS", "middle", 0)
	assert.ErrorIs(t, err, engine.ErrInvalidInput)

	snap, err := h.eng.Round(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, snap.Cards)
	assert.Equal(t, engine.PhaseBetting, snap.Phase)
	assert.Len(t, h.rec.all(), before)

	for i, tc := range []struct{ card, side string }{
		{"2S", "B"}, {"3S", "A"}, {"4S", "B"}, {"5S", "A"},
	} {
		res, err := h.eng.DealCard(ctx, r.ID, tc.card, tc.side, i+1)
		require.NoError(t, err, tc.card)
		assert.Equal(t, i+1, res.Entry.Position)
	}
}

func TestDealOnFinishedRoundIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.newRound("7C")
	h.deal(r.ID, "7H", "B")

	before := len(h.rec.all())
	_, err := h.eng.DealCard(ctx, r.ID, "2H", "A", 0)
	assert.ErrorIs(t, err, engine.ErrInvalidPhase)
	_, err = h.eng.CancelRound(ctx, r.ID, "late")
	assert.ErrorIs(t, err, engine.ErrInvalidPhase)
	_, err = h.eng.CloseBetting(ctx, r.ID)
	assert.ErrorIs(t, err, engine.ErrInvalidPhase)
	assert.Len(t, h.rec.all(), before)

	snap, err := h.eng.Round(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, snap.Cards, 1)
	assert.Equal(t, cards.Bahar, snap.WinningSide)
}

func TestDealDuringBettingClosesFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.SetBalance("p", 100, 0)
	r := h.newRound("KH")

	h.deal(r.ID, "2H", "B")
	closed := h.rec.ofKind(broadcast.KindBettingClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, "deal", closed[0].Event.(broadcast.BettingClosed).By)

	_, err := h.eng.PlaceBet(ctx, "p", r.ID, "A", 50)
	assert.ErrorIs(t, err, engine.ErrInvalidPhase)
	assert.Equal(t, int64(100), h.balance("p").Main)
}

func TestCancelRoundRefundsEachPool(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.SetBalance("carol", 300, 200)
	h.store.SetBalance("dave", 100, 0)

	r := h.newRound("9S")
	_, err := h.eng.PlaceBet(ctx, "carol", r.ID, "A", 500)
	require.NoError(t, err)
	_, err = h.eng.PlaceBet(ctx, "dave", r.ID, "B", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(0), h.balance("carol").Total())

	snap, err := h.eng.CancelRound(ctx, r.ID, "camera failure")
	require.NoError(t, err)
	assert.Equal(t, engine.PhaseCancelled, snap.Phase)
	assert.Equal(t, "camera failure", snap.CancelReason)

	carol := h.balance("carol")
	assert.Equal(t, int64(300), carol.Main)
	assert.Equal(t, int64(200), carol.Bonus)
	assert.Equal(t, int64(100), h.balance("dave").Main)

	bets, err := h.store.ListRoundBets(ctx, r.ID)
	require.NoError(t, err)
	for _, b := range bets {
		assert.Equal(t, engine.BetRefunded, b.Status)
		assert.Equal(t, b.Amount, b.Payout)
		assert.True(t, b.Credited)
	}

	cancelled := h.rec.ofKind(broadcast.KindRoundCancelled)
	require.Len(t, cancelled, 1)
	ev := cancelled[0].Event.(broadcast.RoundCancelled)
	assert.Equal(t, 2, ev.RefundedBets)
	assert.Equal(t, int64(600), ev.RefundedAmount)
}

func TestEventsAreSequencedPerRound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, p := range []string{"a", "b", "c"} {
		h.store.SetBalance(p, 1000, 0)
	}
	r := h.newRound("JH")

	var wg sync.WaitGroup
	for _, p := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				_, err := h.eng.PlaceBet(ctx, p, r.ID, "A", 10)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	h.deal(r.ID, "2C", "B")
	h.deal(r.ID, "JS", "A")

	var last uint64
	for _, env := range h.rec.all() {
		if env.RoundID != r.ID {
			continue
		}
		assert.Equal(t, last+1, env.Seq)
		last = env.Seq
	}

	stats := h.rec.ofKind(broadcast.KindRoundStatsUpdated)
	final := stats[len(stats)-1].Event.(broadcast.RoundStatsUpdated)
	assert.Equal(t, int64(150), final.TotalAndar)
}

func TestPayoutsNeverExceedTwiceStake(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	players := []string{"p1", "p2", "p3", "p4"}
	for _, p := range players {
		h.store.SetBalance(p, 10000, 500)
	}
	r := h.newRound("4D")

	var stake int64
	for i, p := range players {
		side := "A"
		if i%2 == 1 {
			side = "B"
		}
		amt := int64(100 * (i + 1))
		_, err := h.eng.PlaceBet(ctx, p, r.ID, side, amt)
		require.NoError(t, err)
		stake += amt
	}
	h.deal(r.ID, "9C", "B")
	h.deal(r.ID, "TC", "A")
	_, err := h.eng.ReopenBetting(ctx, r.ID, 0)
	require.NoError(t, err)
	for _, p := range players {
		_, err := h.eng.PlaceBet(ctx, p, r.ID, "A", 50)
		require.NoError(t, err)
		stake += 50
	}
	h.deal(r.ID, "8C", "B")
	res := h.deal(r.ID, "4S", "A")
	require.True(t, res.Completed)

	var paid int64
	for _, b := range res.Settled {
		paid += b.Payout
		if b.Side != res.WinningSide {
			assert.Equal(t, int64(0), b.Payout)
			assert.Equal(t, engine.BetLost, b.Status)
		}
		assert.LessOrEqual(t, b.Payout, 2*b.Amount)
	}
	assert.Equal(t, paid, res.TotalPayout)
	assert.LessOrEqual(t, paid, 2*stake)
}

func TestRetryCreditsAfterFailedPayout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.SetBalance("erin", 100, 0)
	r := h.newRound("AS")
	bet, err := h.eng.PlaceBet(ctx, "erin", r.ID, "A", 100)
	require.NoError(t, err)

	h.store.setFail(func(e ledger.Entry) error {
		if e.Reason == "payout" {
			return assert.AnError
		}
		return nil
	})
	h.deal(r.ID, "2D", "B")
	res, err := h.eng.DealCard(ctx, r.ID, "AH", "A", 0)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Completed)
	assert.Equal(t, int64(0), h.balance("erin").Main)

	h.store.setFail(nil)
	n, err := h.eng.RetryCredits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(200), h.balance("erin").Main)

	n, err = h.eng.RetryCredits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(200), h.balance("erin").Main)

	stored, err := h.store.GetBet(ctx, bet.ID)
	require.NoError(t, err)
	assert.True(t, stored.Credited)
}

func TestCloseExpiredAndRecover(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.newRound("QD")

	n, err := h.eng.CloseExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	h.clock.Advance(31 * time.Second)
	n, err = h.eng.CloseExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	snap, err := h.eng.Round(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.PhasePlaying, snap.Phase)
	h.deal(r.ID, "2C", "B")

	// A fresh engine over the same store picks the round up where it was.
	eng2, err := engine.New(engine.Config{Now: h.clock.Now}, engine.Deps{
		Store:  h.store,
		Ledger: ledger.New(h.store, ledger.Config{}),
	})
	require.NoError(t, err)
	loaded, err := eng2.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)

	got, err := eng2.Round(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.PhasePlaying, got.Phase)
	require.Len(t, got.Cards, 1)
	assert.Equal(t, cards.Andar, got.NextSide)

	res, err := eng2.DealCard(ctx, r.ID, "QH", "A", 2)
	require.NoError(t, err)
	assert.True(t, res.Completed)
}

func TestBettingTimerClosesRound(t *testing.T) {
	h := newHarness(t, func(c *engine.Config) {
		c.Now = nil
		c.TickInterval = 5 * time.Millisecond
	})
	ctx := context.Background()
	r := h.newRound("3H")

	_, err := h.eng.StartBettingTimer(ctx, r.ID, 40*time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := h.eng.Round(ctx, r.ID)
		return err == nil && snap.Phase == engine.PhasePlaying
	}, 2*time.Second, 5*time.Millisecond)

	closed := h.rec.ofKind(broadcast.KindBettingClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, "timer", closed[0].Event.(broadcast.BettingClosed).By)
	assert.NotEmpty(t, h.rec.ofKind(broadcast.KindTimerTick))
	require.Len(t, h.rec.ofKind(broadcast.KindRoundStarted), 1)

	// No ticks after the close.
	time.Sleep(30 * time.Millisecond)
	var sawClose bool
	for _, env := range h.rec.all() {
		if env.Kind() == broadcast.KindBettingClosed {
			sawClose = true
		}
		if sawClose {
			assert.NotEqual(t, broadcast.KindTimerTick, env.Kind())
		}
	}
}

func TestManualCloseRacingTimer(t *testing.T) {
	for i := 0; i < 10; i++ {
		h := newHarness(t, func(c *engine.Config) {
			c.Now = nil
			c.TickInterval = time.Millisecond
		})
		ctx := context.Background()
		r := h.newRound("3H")
		_, err := h.eng.StartBettingTimer(ctx, r.ID, 5*time.Millisecond)
		require.NoError(t, err)

		time.Sleep(5 * time.Millisecond)
		snap, err := h.eng.CloseBetting(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, engine.PhasePlaying, snap.Phase)

		require.Eventually(t, func() bool {
			snap, err := h.eng.Round(ctx, r.ID)
			return err == nil && snap.Phase == engine.PhasePlaying
		}, time.Second, time.Millisecond)
		time.Sleep(10 * time.Millisecond)
		assert.Len(t, h.rec.ofKind(broadcast.KindBettingClosed), 1)
	}
}

func TestDealerCloseAfterTimerIsNoop(t *testing.T) {
	h := newHarness(t, func(c *engine.Config) {
		c.Now = nil
		c.TickInterval = time.Millisecond
	})
	ctx := context.Background()
	r := h.newRound("3H")
	_, err := h.eng.StartBettingTimer(ctx, r.ID, 2*time.Millisecond)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snap, err := h.eng.Round(ctx, r.ID)
		return err == nil && snap.Phase == engine.PhasePlaying
	}, time.Second, time.Millisecond)

	snap, err := h.eng.CloseBetting(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.PhasePlaying, snap.Phase)
	closed := h.rec.ofKind(broadcast.KindBettingClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, "timer", closed[0].Event.(broadcast.BettingClosed).By)
}

func TestDealerCloseAfterSweeperIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.newRound("QD")
	h.clock.Advance(31 * time.Second)
	n, err := h.eng.CloseExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = h.eng.CloseBetting(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, h.rec.ofKind(broadcast.KindBettingClosed), 1)
}

func TestSecondDealerCloseIsInvalidPhase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.newRound("QD")
	_, err := h.eng.CloseBetting(ctx, r.ID)
	require.NoError(t, err)
	_, err = h.eng.CloseBetting(ctx, r.ID)
	assert.ErrorIs(t, err, engine.ErrInvalidPhase)

	// A round closed by its first card also rejects a later close.
	r2, err := h.eng.CreateRound(ctx, "table-2", "5C")
	require.NoError(t, err)
	h.deal(r2.ID, "9S", "B")
	_, err = h.eng.CloseBetting(ctx, r2.ID)
	assert.ErrorIs(t, err, engine.ErrInvalidPhase)
}

func TestStartBettingTimerRequiresBetting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.newRound("3H")
	_, err := h.eng.CloseBetting(ctx, r.ID)
	require.NoError(t, err)
	_, err = h.eng.StartBettingTimer(ctx, r.ID, time.Second)
	assert.ErrorIs(t, err, engine.ErrInvalidPhase)
	_, err = h.eng.StartBettingTimer(ctx, "missing", time.Second)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}
