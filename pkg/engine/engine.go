// Package engine runs Andar Bahar rounds: the phase state machine, the
// betting timer, card intake, bets and their settlement.
//
// Every round carries a RWMutex. Bet operations hold the read lock and run
// concurrently; phase transitions hold the write lock, so a transition waits
// for in-flight bets and every later bet sees the new phase.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/slog"
	"github.com/vctt94/andarbahar/pkg/broadcast"
	"github.com/vctt94/andarbahar/pkg/cards"
	"github.com/vctt94/andarbahar/pkg/ledger"
	"github.com/vctt94/andarbahar/pkg/statemachine"
)

// Envelope is the broadcast unit the engine publishes.
type Envelope = broadcast.Envelope

// Config tunes the engine. Zero values get defaults.
type Config struct {
	BettingDuration time.Duration // default 30s
	TickInterval    time.Duration // default 1s
	MinBet          int64         // default 1
	MaxBet          int64         // 0 means no upper limit
	// PayoutWorkers bounds parallel balance credits at settlement.
	PayoutWorkers int // default 8
	Now           func() time.Time
	Log           slog.Logger
}

func (c *Config) setDefaults() {
	if c.BettingDuration <= 0 {
		c.BettingDuration = 30 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.MinBet <= 0 {
		c.MinBet = 1
	}
	if c.PayoutWorkers <= 0 {
		c.PayoutWorkers = 8
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Log == nil {
		c.Log = slog.Disabled
	}
}

// Deps are the collaborators of an engine. Only Store and Ledger are
// required.
type Deps struct {
	Store     Store
	Ledger    *ledger.Ledger
	Publisher Publisher
	Wagering  WageringReporter
	Stats     StatsRecorder
}

// Engine coordinates all rounds.
type Engine struct {
	cfg    Config
	log    slog.Logger
	store  Store
	ledger *ledger.Ledger
	pub    Publisher
	wager  WageringReporter
	stats  StatsRecorder

	// createMu serializes round creation so a game gets one open round.
	createMu sync.Mutex

	mu     sync.RWMutex
	rounds map[string]*roundState
	// latest round per game, open or most recently finished.
	latest map[string]string
}

// New creates an engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Store == nil || deps.Ledger == nil {
		return nil, fmt.Errorf("engine requires a store and a ledger")
	}
	cfg.setDefaults()
	e := &Engine{
		cfg:    cfg,
		log:    cfg.Log,
		store:  deps.Store,
		ledger: deps.Ledger,
		pub:    deps.Publisher,
		wager:  deps.Wagering,
		stats:  deps.Stats,
		rounds: make(map[string]*roundState),
		latest: make(map[string]string),
	}
	if e.pub == nil {
		e.pub = noopPublisher{}
	}
	if e.wager == nil {
		e.wager = noopWagering{}
	}
	if e.stats == nil {
		e.stats = noopStats{}
	}
	return e, nil
}

type epochSide struct {
	epoch int
	side  cards.Side
}

// roundState is the live, in-memory side of a round.
type roundState struct {
	mu    sync.RWMutex
	phase *statemachine.Machine[Phase]

	id      string
	gameID  string
	number  int64
	opening cards.Card

	// Guarded by mu (written under the write lock).
	epoch        int
	cards        []CardEntry
	bettingStart time.Time
	bettingEnd   time.Time
	closedAt     time.Time
	closedBy     string // who closed the current epoch
	startedAt    time.Time
	endedAt      time.Time
	winningSide  cards.Side
	winningCard  cards.Card
	cancelReason string
	timer        *bettingTimer

	totalAndar  atomic.Int64
	totalBahar  atomic.Int64
	totalPayout atomic.Int64
	betSeq      atomic.Int64

	epochMu     sync.Mutex
	epochTotals map[epochSide]int64

	emitMu sync.Mutex
	seq    uint64
}

func newRoundState(r *Round) *roundState {
	rs := &roundState{
		phase:        statemachine.New(r.Phase, phaseEdges),
		id:           r.ID,
		gameID:       r.GameID,
		number:       r.Number,
		opening:      r.OpeningCard,
		epoch:        r.Epoch,
		cards:        append([]CardEntry(nil), r.Cards...),
		bettingStart: r.BettingStart,
		bettingEnd:   r.BettingEnd,
		closedAt:     r.ClosedAt,
		startedAt:    r.StartedAt,
		endedAt:      r.EndedAt,
		winningSide:  r.WinningSide,
		winningCard:  r.WinningCard,
		cancelReason: r.CancelReason,
		epochTotals:  make(map[epochSide]int64),
	}
	rs.totalAndar.Store(r.TotalAndar)
	rs.totalBahar.Store(r.TotalBahar)
	rs.totalPayout.Store(r.TotalPayout)
	for _, et := range r.EpochTotals {
		rs.epochTotals[epochSide{et.Epoch, et.Side}] = et.Amount
	}
	return rs
}

// addTotals adjusts the in-memory aggregates.
func (rs *roundState) addTotals(side cards.Side, epoch int, delta int64) {
	if side == cards.Andar {
		rs.totalAndar.Add(delta)
	} else {
		rs.totalBahar.Add(delta)
	}
	rs.epochMu.Lock()
	rs.epochTotals[epochSide{epoch, side}] += delta
	rs.epochMu.Unlock()
}

func (rs *roundState) epochStats() []broadcast.EpochStats {
	rs.epochMu.Lock()
	byEpoch := make(map[int]*broadcast.EpochStats)
	for k, v := range rs.epochTotals {
		st, ok := byEpoch[k.epoch]
		if !ok {
			st = &broadcast.EpochStats{Epoch: k.epoch}
			byEpoch[k.epoch] = st
		}
		if k.side == cards.Andar {
			st.Andar = v
		} else {
			st.Bahar = v
		}
	}
	rs.epochMu.Unlock()

	out := make([]broadcast.EpochStats, 0, len(byEpoch))
	for _, st := range byEpoch {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Epoch < out[j].Epoch })
	return out
}

func (rs *roundState) statsEvent() broadcast.RoundStatsUpdated {
	a, b := rs.totalAndar.Load(), rs.totalBahar.Load()
	return broadcast.RoundStatsUpdated{
		TotalAndar:  a,
		TotalBahar:  b,
		TotalAmount: a + b,
		Epochs:      rs.epochStats(),
	}
}

// record builds the persisted view of the round. Callers hold mu.
func (rs *roundState) record(phase Phase) *Round {
	a, b := rs.totalAndar.Load(), rs.totalBahar.Load()
	r := &Round{
		ID:           rs.id,
		GameID:       rs.gameID,
		Number:       rs.number,
		Phase:        phase,
		Epoch:        rs.epoch,
		OpeningCard:  rs.opening,
		Cards:        append([]CardEntry(nil), rs.cards...),
		TotalAndar:   a,
		TotalBahar:   b,
		TotalAmount:  a + b,
		TotalPayout:  rs.totalPayout.Load(),
		BettingStart: rs.bettingStart,
		BettingEnd:   rs.bettingEnd,
		ClosedAt:     rs.closedAt,
		StartedAt:    rs.startedAt,
		EndedAt:      rs.endedAt,
		WinningSide:  rs.winningSide,
		WinningCard:  rs.winningCard,
		CancelReason: rs.cancelReason,
	}
	for _, st := range rs.epochStats() {
		if st.Andar != 0 {
			r.EpochTotals = append(r.EpochTotals, EpochTotal{Epoch: st.Epoch, Side: cards.Andar, Amount: st.Andar})
		}
		if st.Bahar != 0 {
			r.EpochTotals = append(r.EpochTotals, EpochTotal{Epoch: st.Epoch, Side: cards.Bahar, Amount: st.Bahar})
		}
	}
	return r
}

// round returns the live state of roundID.
func (e *Engine) round(roundID string) (*roundState, error) {
	if roundID == "" {
		return nil, fmt.Errorf("%w: empty round id", ErrInvalidInput)
	}
	e.mu.RLock()
	rs, ok := e.rounds[roundID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: round %s", ErrNotFound, roundID)
	}
	return rs, nil
}

// register adds rs as the latest round of its game, evicting the previous
// finished round of that game from memory.
func (e *Engine) register(rs *roundState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prevID, ok := e.latest[rs.gameID]; ok && prevID != rs.id {
		if prev, ok := e.rounds[prevID]; ok && !prev.phase.Current().Open() {
			delete(e.rounds, prevID)
		}
	}
	e.rounds[rs.id] = rs
	e.latest[rs.gameID] = rs.id
}

// Recover loads open rounds from the store after a restart. Betting timers
// are not restarted; rounds whose window has expired are closed by
// CloseExpired.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	open, err := e.store.ListOpenRounds(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load open rounds: %w", err)
	}
	for _, r := range open {
		rs := newRoundState(r)
		bets, err := e.store.ListRoundBets(ctx, r.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to load bets of round %s: %w", r.ID, err)
		}
		for _, b := range bets {
			if b.Seq > rs.betSeq.Load() {
				rs.betSeq.Store(b.Seq)
			}
		}
		e.register(rs)
		e.log.Infof("Recovered round %s (game %s #%d) in %s, epoch %d, %d cards",
			r.ID, r.GameID, r.Number, r.Phase, r.Epoch, len(r.Cards))
	}
	return len(open), nil
}

// Shutdown stops every betting timer. Rounds stay in their current phase.
func (e *Engine) Shutdown() {
	e.mu.RLock()
	states := make([]*roundState, 0, len(e.rounds))
	for _, rs := range e.rounds {
		states = append(states, rs)
	}
	e.mu.RUnlock()
	for _, rs := range states {
		rs.mu.Lock()
		rs.stopTimer()
		rs.mu.Unlock()
	}
}
