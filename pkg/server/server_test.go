package server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vctt94/andarbahar/pkg/broadcast"
	"github.com/vctt94/andarbahar/pkg/engine"
	"github.com/vctt94/andarbahar/pkg/ledger"
	"github.com/vctt94/andarbahar/pkg/memdb"
	"github.com/vctt94/andarbahar/pkg/rpc/abrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const testDealerToken = "s3cret"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	t      *testing.T
	store  *memdb.Store
	eng    *engine.Engine
	hub    *broadcast.Hub
	srv    *Server
	clock  *testClock
	conn   *grpc.ClientConn
	dealer abrpc.DealerServiceClient
	player abrpc.PlayerServiceClient
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memdb.New()
	clock := &testClock{now: time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)}
	hub := broadcast.NewHub(nil, 256)
	disp := broadcast.NewDispatcher(hub, nil, 256, 2)
	disp.Start()

	l := ledger.New(store, ledger.Config{BaseBackoff: time.Microsecond, MaxRetries: 20})
	eng, err := engine.New(engine.Config{
		BettingDuration: time.Minute,
		MinBet:          10,
		Now:             clock.Now,
	}, engine.Deps{
		Store:     store,
		Ledger:    l,
		Publisher: disp,
		Wagering:  store,
		Stats:     store,
	})
	require.NoError(t, err)

	srv, err := NewServer(Config{
		Engine: eng,
		Hub:    hub,
		Auth:   StaticAuthenticator{Token: testDealerToken},
	})
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	g := srv.NewGRPCServer()
	go g.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		g.Stop()
		eng.Shutdown()
		disp.Stop()
	})
	return &testEnv{
		t:      t,
		store:  store,
		eng:    eng,
		hub:    hub,
		srv:    srv,
		clock:  clock,
		conn:   conn,
		dealer: abrpc.NewDealerServiceClient(conn),
		player: abrpc.NewPlayerServiceClient(conn),
	}
}

func (e *testEnv) dealerCtx() context.Context {
	return abrpc.WithDealerToken(context.Background(), testDealerToken)
}

func (e *testEnv) playerCtx(id string) context.Context {
	return abrpc.WithPlayer(context.Background(), id)
}

func (e *testEnv) createRound(game, opening string) *abrpc.Round {
	e.t.Helper()
	resp, err := e.dealer.CreateRound(e.dealerCtx(), &abrpc.CreateRoundRequest{GameID: game, OpeningCard: opening})
	require.NoError(e.t, err)
	require.NotNil(e.t, resp.Round)
	return resp.Round
}

func requireCode(t *testing.T, want codes.Code, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want, status.Code(err), "error: %v", err)
}

func TestDealerAndPlayerRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.dealerCtx()

	adj, err := env.dealer.AdjustBalance(ctx, &abrpc.AdjustBalanceRequest{
		PlayerID: "alice", Delta: 1000, Reason: "deposit", Reference: "dep-1",
	})
	require.NoError(t, err)
	assert.True(t, adj.Applied)
	assert.Equal(t, int64(1000), adj.Balance.Main)

	// Same reference is a no-op.
	adj, err = env.dealer.AdjustBalance(ctx, &abrpc.AdjustBalanceRequest{
		PlayerID: "alice", Delta: 1000, Reason: "deposit", Reference: "dep-1",
	})
	require.NoError(t, err)
	assert.False(t, adj.Applied)
	assert.Equal(t, int64(1000), adj.Balance.Main)

	r := env.createRound("table-1", "7H")
	assert.Equal(t, "betting", r.Phase)
	assert.Equal(t, "7H", r.OpeningCard)
	assert.Equal(t, int64(1), r.Number)

	pctx := env.playerCtx("alice")
	bet, err := env.player.PlaceBet(pctx, &abrpc.PlaceBetRequest{RoundID: r.ID, Side: "A", Amount: 400})
	require.NoError(t, err)
	assert.Equal(t, "A", bet.Bet.Side)
	assert.Equal(t, int64(600), bet.Balance.Main)

	active, err := env.player.GetActiveRound(pctx, &abrpc.GetActiveRoundRequest{GameID: "table-1"})
	require.NoError(t, err)
	assert.Equal(t, r.ID, active.Round.ID)
	assert.Equal(t, int64(400), active.Round.TotalAndar)

	closed, err := env.dealer.CloseBetting(ctx, &abrpc.CloseBettingRequest{RoundID: r.ID})
	require.NoError(t, err)
	assert.Equal(t, "playing", closed.Round.Phase)

	deal, err := env.dealer.DealCard(ctx, &abrpc.DealCardRequest{RoundID: r.ID, Card: "2S", Side: "B"})
	require.NoError(t, err)
	assert.False(t, deal.Completed)
	assert.Equal(t, "A", deal.NextSide)
	assert.Equal(t, 1, deal.Entry.Position)

	deal, err = env.dealer.DealCard(ctx, &abrpc.DealCardRequest{RoundID: r.ID, Card: "7C", Side: "A", Position: 2})
	require.NoError(t, err)
	assert.True(t, deal.Completed)
	assert.Equal(t, "A", deal.WinningSide)
	assert.Equal(t, int64(800), deal.TotalPayout)
	assert.Empty(t, deal.CreditError)
	require.Len(t, deal.Settled, 1)
	assert.Equal(t, "won", deal.Settled[0].Status)

	bal, err := env.player.GetBalance(pctx, &abrpc.GetBalanceRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(1400), bal.Main)
	assert.Equal(t, int64(1400), bal.Total)

	got, err := env.player.GetRound(pctx, &abrpc.GetRoundRequest{RoundID: r.ID})
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Round.Phase)
	assert.Equal(t, "7C", got.Round.WinningCard)
	require.Len(t, got.Round.Cards, 2)
	assert.True(t, got.Round.Cards[1].IsWinning)

	st, err := env.player.GetStats(pctx, &abrpc.GetStatsRequest{})
	require.NoError(t, err)
	assert.Equal(t, abrpc.PlayerStats{PlayerID: "alice", RoundsPlayed: 1, TotalStaked: 400, TotalWinnings: 400}, *st)
}

func TestAuthorization(t *testing.T) {
	env := newTestEnv(t)
	bg := context.Background()

	_, err := env.dealer.CreateRound(bg, &abrpc.CreateRoundRequest{GameID: "g", OpeningCard: "AS"})
	requireCode(t, codes.PermissionDenied, err)

	_, err = env.dealer.CreateRound(env.playerCtx("mallory"), &abrpc.CreateRoundRequest{GameID: "g", OpeningCard: "AS"})
	requireCode(t, codes.PermissionDenied, err)

	bad := abrpc.WithDealerToken(bg, "guess")
	_, err = env.dealer.CreateRound(bad, &abrpc.CreateRoundRequest{GameID: "g", OpeningCard: "AS"})
	requireCode(t, codes.Unauthenticated, err)

	_, err = env.player.GetBalance(bg, &abrpc.GetBalanceRequest{})
	requireCode(t, codes.Unauthenticated, err)

	r := env.createRound("g", "AS")
	_, err = env.player.PlaceBet(bg, &abrpc.PlaceBetRequest{RoundID: r.ID, Side: "A", Amount: 10})
	requireCode(t, codes.Unauthenticated, err)

	// Reads need no identity.
	_, err = env.player.GetRound(bg, &abrpc.GetRoundRequest{RoundID: r.ID})
	require.NoError(t, err)
}

func TestErrorCodeMapping(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.dealerCtx()
	pctx := env.playerCtx("bob")
	env.store.SetBalance("bob", 50, 0)

	_, err := env.dealer.CreateRound(ctx, &abrpc.CreateRoundRequest{GameID: "g", OpeningCard: "1X"})
	requireCode(t, codes.InvalidArgument, err)

	r := env.createRound("g", "QD")

	_, err = env.dealer.CreateRound(ctx, &abrpc.CreateRoundRequest{GameID: "g", OpeningCard: "2D"})
	requireCode(t, codes.FailedPrecondition, err)

	_, err = env.player.PlaceBet(pctx, &abrpc.PlaceBetRequest{RoundID: r.ID, Side: "A", Amount: 500})
	requireCode(t, codes.FailedPrecondition, err)

	_, err = env.player.PlaceBet(pctx, &abrpc.PlaceBetRequest{RoundID: r.ID, Side: "X", Amount: 20})
	requireCode(t, codes.InvalidArgument, err)

	_, err = env.player.GetRound(pctx, &abrpc.GetRoundRequest{RoundID: "nope"})
	requireCode(t, codes.NotFound, err)

	_, err = env.dealer.DealCard(ctx, &abrpc.DealCardRequest{RoundID: r.ID, Card: "3C", Side: "A"})
	requireCode(t, codes.FailedPrecondition, err)

	_, err = env.dealer.StartBetting(ctx, &abrpc.StartBettingRequest{RoundID: r.ID, DurationSeconds: -1})
	requireCode(t, codes.InvalidArgument, err)

	stream, err := env.player.SubscribeRound(pctx, &abrpc.SubscribeRoundRequest{})
	require.NoError(t, err)
	_, err = stream.Recv()
	requireCode(t, codes.InvalidArgument, err)
}

func TestFailedBetIsReportedPrivately(t *testing.T) {
	env := newTestEnv(t)
	r := env.createRound("g", "5S")
	pctx, cancel := context.WithCancel(env.playerCtx("carol"))
	defer cancel()

	stream, err := env.player.SubscribePlayer(pctx, &abrpc.SubscribePlayerRequest{})
	require.NoError(t, err)
	_, err = stream.Header()
	require.NoError(t, err)

	_, err = env.player.PlaceBet(pctx, &abrpc.PlaceBetRequest{
		RoundID: r.ID, Side: "B", Amount: 100, Correlation: "tap-7",
	})
	requireCode(t, codes.FailedPrecondition, err)

	env2, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, broadcast.KindBetError, env2.Kind())
	be := env2.Event.(broadcast.BetError)
	assert.Equal(t, "tap-7", be.Correlation)
	assert.Equal(t, "insufficient_funds", be.Code)
	assert.Equal(t, "place_bet", be.Op)
}

func TestSubscribeRoundDeliversInOrder(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetBalance("dave", 1000, 0)
	r := env.createRound("g", "9D")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stream, err := env.player.SubscribeRound(ctx, &abrpc.SubscribeRoundRequest{RoundID: r.ID})
	require.NoError(t, err)
	_, err = stream.Header()
	require.NoError(t, err)

	pctx := env.playerCtx("dave")
	_, err = env.player.PlaceBet(pctx, &abrpc.PlaceBetRequest{RoundID: r.ID, Side: "B", Amount: 100})
	require.NoError(t, err)

	dctx := env.dealerCtx()
	_, err = env.dealer.DealCard(dctx, &abrpc.DealCardRequest{RoundID: r.ID, Card: "9S", Side: "B"})
	require.NoError(t, err)

	var kinds []broadcast.Kind
	var last uint64
	for {
		env, err := stream.Recv()
		require.NoError(t, err)
		assert.False(t, env.Event.Private(), "private %s leaked to round stream", env.Kind())
		assert.Greater(t, env.Seq, last)
		last = env.Seq
		kinds = append(kinds, env.Kind())
		if env.Kind() == broadcast.KindPayoutsProcessed {
			break
		}
	}
	assert.Equal(t, []broadcast.Kind{
		broadcast.KindRoundStatsUpdated,
		broadcast.KindBettingClosed,
		broadcast.KindCardDealt,
		broadcast.KindWinnerDetermined,
		broadcast.KindPayoutsProcessed,
	}, kinds)
}

func TestBatchOperations(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetBalance("erin", 300, 0)
	dctx := env.dealerCtx()
	pctx := env.playerCtx("erin")

	r1 := env.createRound("g", "KC")
	_, err := env.player.PlaceBet(pctx, &abrpc.PlaceBetRequest{RoundID: r1.ID, Side: "A", Amount: 50})
	require.NoError(t, err)
	_, err = env.player.PlaceBet(pctx, &abrpc.PlaceBetRequest{RoundID: r1.ID, Side: "B", Amount: 50})
	require.NoError(t, err)
	_, err = env.dealer.DealCard(dctx, &abrpc.DealCardRequest{RoundID: r1.ID, Card: "2H", Side: "B"})
	require.NoError(t, err)
	_, err = env.dealer.DealCard(dctx, &abrpc.DealCardRequest{RoundID: r1.ID, Card: "KS", Side: "A"})
	require.NoError(t, err)

	// 300 - 100 + 100 (andar 2x) = 300
	r2 := env.createRound("g", "4C")
	rebet, err := env.player.Rebet(pctx, &abrpc.RebetRequest{RoundID: r2.ID})
	require.NoError(t, err)
	assert.Len(t, rebet.Placed, 2)
	assert.Empty(t, rebet.Failed)
	assert.Equal(t, int64(200), rebet.Balance.Main)

	// The first double fits. The second needs 200 with 100 left and stops
	// after two of its four bets.
	dbl, err := env.player.DoubleBets(pctx, &abrpc.DoubleBetsRequest{RoundID: r2.ID})
	require.NoError(t, err)
	assert.Len(t, dbl.Placed, 2)
	assert.Equal(t, int64(100), dbl.Balance.Main)

	dbl, err = env.player.DoubleBets(pctx, &abrpc.DoubleBetsRequest{RoundID: r2.ID})
	require.NoError(t, err)
	assert.Len(t, dbl.Placed, 2)
	assert.NotEmpty(t, dbl.Failed)
	assert.Equal(t, "insufficient_funds", dbl.Code)
	assert.Equal(t, int64(0), dbl.Balance.Main)

	_, err = env.player.DoubleBets(pctx, &abrpc.DoubleBetsRequest{RoundID: r2.ID})
	requireCode(t, codes.FailedPrecondition, err)

	undo, err := env.player.UndoLastBet(pctx, &abrpc.UndoLastBetRequest{RoundID: r2.ID})
	require.NoError(t, err)
	assert.Equal(t, "cancelled", undo.Bet.Status)
	assert.Equal(t, int64(50), undo.Balance.Main)
}

func TestCancelRoundRefunds(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetBalance("finn", 100, 40)
	r := env.createRound("g", "3H")
	pctx := env.playerCtx("finn")

	_, err := env.player.PlaceBet(pctx, &abrpc.PlaceBetRequest{RoundID: r.ID, Side: "A", Amount: 100})
	require.NoError(t, err)

	resp, err := env.dealer.CancelRound(env.dealerCtx(), &abrpc.CancelRoundRequest{RoundID: r.ID, Reason: "shoe jam"})
	require.NoError(t, err)
	assert.Equal(t, "cancelled", resp.Round.Phase)
	assert.Equal(t, "shoe jam", resp.Round.CancelReason)

	bal, err := env.player.GetBalance(pctx, &abrpc.GetBalanceRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal.Main)
	assert.Equal(t, int64(40), bal.Bonus)

	_, err = env.dealer.CancelRound(env.dealerCtx(), &abrpc.CancelRoundRequest{RoundID: r.ID})
	requireCode(t, codes.FailedPrecondition, err)
}

func TestSweeperClosesExpiredRounds(t *testing.T) {
	env := newTestEnv(t)
	r := env.createRound("g", "JH")

	sw, err := NewSweeper(env.eng, "@every 1h", nil)
	require.NoError(t, err)

	closed, credited := sw.Sweep(context.Background())
	assert.Zero(t, closed)
	assert.Zero(t, credited)

	env.clock.Advance(2 * time.Minute)
	closed, _ = sw.Sweep(context.Background())
	assert.Equal(t, 1, closed)

	got, err := env.eng.Round(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.PhasePlaying, got.Phase)
}

func TestNewSweeperRejectsBadSchedule(t *testing.T) {
	env := newTestEnv(t)
	_, err := NewSweeper(env.eng, "every now and then", nil)
	assert.Error(t, err)
}
