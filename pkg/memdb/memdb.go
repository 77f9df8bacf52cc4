// Package memdb is an in-memory implementation of the engine storage ports.
// It backs tests and ephemeral servers started without a database file.
package memdb

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vctt94/andarbahar/pkg/cards"
	"github.com/vctt94/andarbahar/pkg/engine"
	"github.com/vctt94/andarbahar/pkg/ledger"
)

type totalKey struct {
	epoch int
	side  cards.Side
}

// Wager is a recorded bonus wager.
type Wager struct {
	PlayerID string
	BetID    string
	Amount   int64
}

// Store keeps everything in maps behind a single mutex.
type Store struct {
	mu sync.Mutex

	balances map[string]ledger.Balance
	refs     map[string]struct{}
	journal  []ledger.Entry

	rounds    map[string]*engine.Round
	nextRound map[string]int64
	cards     map[string][]engine.CardEntry
	totals    map[string]map[totalKey]int64
	bets      map[string]*engine.Bet
	roundBets map[string][]string

	wagers []Wager
	stats  map[string]*engine.PlayerStats
	seen   map[string]struct{} // player/round pairs counted in stats

	// FailNext, when set, is returned once by the next mutating round or
	// bet call.
	FailNext error
}

var (
	_ engine.Store            = (*Store)(nil)
	_ engine.WageringReporter = (*Store)(nil)
	_ engine.StatsRecorder    = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		balances:  make(map[string]ledger.Balance),
		refs:      make(map[string]struct{}),
		rounds:    make(map[string]*engine.Round),
		nextRound: make(map[string]int64),
		cards:     make(map[string][]engine.CardEntry),
		totals:    make(map[string]map[totalKey]int64),
		bets:      make(map[string]*engine.Bet),
		roundBets: make(map[string][]string),
		stats:     make(map[string]*engine.PlayerStats),
		seen:      make(map[string]struct{}),
	}
}

func (s *Store) takeFailure() error {
	err := s.FailNext
	s.FailNext = nil
	return err
}

// Ledger store.

func (s *Store) GetBalance(_ context.Context, playerID string) (ledger.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.balances[playerID]
	b.PlayerID = playerID
	return b, nil
}

func (s *Store) CompareAndSwapBalance(_ context.Context, expected, next ledger.Balance, e ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balances[expected.PlayerID].Version != expected.Version {
		return ledger.ErrVersionConflict
	}
	if e.Reference != "" {
		if _, ok := s.refs[e.Reference]; ok {
			return ledger.ErrDuplicateReference
		}
		s.refs[e.Reference] = struct{}{}
	}
	s.balances[next.PlayerID] = next
	s.journal = append(s.journal, e)
	return nil
}

func (s *Store) ReferenceApplied(_ context.Context, ref string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.refs[ref]
	return ok, nil
}

// SetBalance overwrites a balance, bumping its version. Used to seed tests.
func (s *Store) SetBalance(playerID string, main, bonus int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.balances[playerID]
	s.balances[playerID] = ledger.Balance{PlayerID: playerID, Main: main, Bonus: bonus, Version: b.Version + 1}
}

// Journal returns the journal entries of playerID in commit order.
func (s *Store) Journal(playerID string) []ledger.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Entry
	for _, e := range s.journal {
		if e.PlayerID == playerID {
			out = append(out, e)
		}
	}
	return out
}

// Rounds.

func (s *Store) CreateRound(_ context.Context, r *engine.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	if _, ok := s.rounds[r.ID]; ok {
		return fmt.Errorf("round %s already exists", r.ID)
	}
	s.nextRound[r.GameID]++
	r.Number = s.nextRound[r.GameID]
	cp := *r
	cp.Cards = nil
	cp.EpochTotals = nil
	s.rounds[r.ID] = &cp
	s.totals[r.ID] = make(map[totalKey]int64)
	return nil
}

func (s *Store) UpdateRound(_ context.Context, r *engine.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	return s.updateRoundLocked(r)
}

func (s *Store) updateRoundLocked(r *engine.Round) error {
	cur, ok := s.rounds[r.ID]
	if !ok {
		return fmt.Errorf("%w: round %s", engine.ErrNotFound, r.ID)
	}
	cur.Phase = r.Phase
	cur.Epoch = r.Epoch
	cur.BettingStart = r.BettingStart
	cur.BettingEnd = r.BettingEnd
	cur.ClosedAt = r.ClosedAt
	cur.EndedAt = r.EndedAt
	cur.WinningSide = r.WinningSide
	cur.WinningCard = r.WinningCard
	cur.CancelReason = r.CancelReason
	cur.TotalPayout = r.TotalPayout
	return nil
}

func (s *Store) GetRound(_ context.Context, roundID string) (*engine.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roundLocked(roundID)
}

func (s *Store) roundLocked(roundID string) (*engine.Round, error) {
	cur, ok := s.rounds[roundID]
	if !ok {
		return nil, fmt.Errorf("%w: round %s", engine.ErrNotFound, roundID)
	}
	r := *cur
	r.Cards = append([]engine.CardEntry(nil), s.cards[roundID]...)
	r.TotalAndar, r.TotalBahar = 0, 0
	r.EpochTotals = nil
	for k, v := range s.totals[roundID] {
		if k.side == cards.Andar {
			r.TotalAndar += v
		} else {
			r.TotalBahar += v
		}
		r.EpochTotals = append(r.EpochTotals, engine.EpochTotal{Epoch: k.epoch, Side: k.side, Amount: v})
	}
	sort.Slice(r.EpochTotals, func(i, j int) bool {
		a, b := r.EpochTotals[i], r.EpochTotals[j]
		if a.Epoch != b.Epoch {
			return a.Epoch < b.Epoch
		}
		return a.Side < b.Side
	})
	r.TotalAmount = r.TotalAndar + r.TotalBahar
	return &r, nil
}

func (s *Store) ListOpenRounds(_ context.Context) ([]*engine.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*engine.Round
	for id, r := range s.rounds {
		if !r.Phase.Open() {
			continue
		}
		rr, err := s.roundLocked(id)
		if err != nil {
			return nil, err
		}
		out = append(out, rr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *Store) AppendCard(_ context.Context, roundID string, e engine.CardEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	return s.appendCardLocked(roundID, e)
}

func (s *Store) appendCardLocked(roundID string, e engine.CardEntry) error {
	if _, ok := s.rounds[roundID]; !ok {
		return fmt.Errorf("%w: round %s", engine.ErrNotFound, roundID)
	}
	if want := len(s.cards[roundID]) + 1; e.Position != want {
		return fmt.Errorf("card position %d already taken or skipped (next %d)", e.Position, want)
	}
	s.cards[roundID] = append(s.cards[roundID], e)
	return nil
}

func (s *Store) CompleteRound(_ context.Context, r *engine.Round, winning engine.CardEntry, settlements []engine.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	if err := s.checkSettlementsLocked(settlements); err != nil {
		return err
	}
	if err := s.appendCardLocked(r.ID, winning); err != nil {
		return err
	}
	if err := s.updateRoundLocked(r); err != nil {
		return err
	}
	s.applySettlementsLocked(settlements, r.EndedAt)
	return nil
}

func (s *Store) CancelRound(_ context.Context, r *engine.Round, settlements []engine.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	if err := s.checkSettlementsLocked(settlements); err != nil {
		return err
	}
	if err := s.updateRoundLocked(r); err != nil {
		return err
	}
	s.applySettlementsLocked(settlements, r.EndedAt)
	return nil
}

func (s *Store) checkSettlementsLocked(settlements []engine.Settlement) error {
	for _, st := range settlements {
		b, ok := s.bets[st.BetID]
		if !ok {
			return fmt.Errorf("%w: bet %s", engine.ErrNotFound, st.BetID)
		}
		if b.Status != engine.BetPending {
			return fmt.Errorf("%w: bet %s is %s", engine.ErrBetNotPending, st.BetID, b.Status)
		}
	}
	return nil
}

func (s *Store) applySettlementsLocked(settlements []engine.Settlement, at time.Time) {
	for _, st := range settlements {
		b := s.bets[st.BetID]
		b.Status = st.Status
		b.Payout = st.Payout
		b.ResolvedAt = at
	}
}

// Bets.

func (s *Store) InsertBet(_ context.Context, b *engine.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	if _, ok := s.rounds[b.RoundID]; !ok {
		return fmt.Errorf("%w: round %s", engine.ErrNotFound, b.RoundID)
	}
	if _, ok := s.bets[b.ID]; ok {
		return fmt.Errorf("bet %s already exists", b.ID)
	}
	cp := *b
	s.bets[b.ID] = &cp
	s.roundBets[b.RoundID] = append(s.roundBets[b.RoundID], b.ID)
	s.totals[b.RoundID][totalKey{b.Epoch, b.Side}] += b.Amount
	return nil
}

func (s *Store) GetBet(_ context.Context, betID string) (*engine.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bets[betID]
	if !ok {
		return nil, fmt.Errorf("%w: bet %s", engine.ErrNotFound, betID)
	}
	cp := *b
	return &cp, nil
}

func (s *Store) CancelBet(_ context.Context, betID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	b, ok := s.bets[betID]
	if !ok {
		return fmt.Errorf("%w: bet %s", engine.ErrNotFound, betID)
	}
	if b.Status != engine.BetPending {
		return fmt.Errorf("%w: bet %s is %s", engine.ErrBetNotPending, betID, b.Status)
	}
	b.Status = engine.BetCancelled
	b.ResolvedAt = at
	s.totals[b.RoundID][totalKey{b.Epoch, b.Side}] -= b.Amount
	return nil
}

func (s *Store) MarkCredited(_ context.Context, betID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bets[betID]
	if !ok {
		return fmt.Errorf("%w: bet %s", engine.ErrNotFound, betID)
	}
	b.Credited = true
	return nil
}

func (s *Store) ListRoundBets(_ context.Context, roundID string) ([]*engine.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(roundID, ""), nil
}

func (s *Store) ListPlayerBets(_ context.Context, roundID, playerID string) ([]*engine.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(roundID, playerID), nil
}

func (s *Store) listLocked(roundID, playerID string) []*engine.Bet {
	var out []*engine.Bet
	for _, id := range s.roundBets[roundID] {
		b := s.bets[id]
		if playerID != "" && b.PlayerID != playerID {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (s *Store) LastCompletedRoundWithBets(_ context.Context, gameID, playerID, excludeRoundID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *engine.Round
	for id, r := range s.rounds {
		if id == excludeRoundID || r.GameID != gameID || r.Phase != engine.PhaseCompleted {
			continue
		}
		if best != nil && r.Number <= best.Number {
			continue
		}
		for _, bid := range s.roundBets[id] {
			b := s.bets[bid]
			if b.PlayerID == playerID && b.Status != engine.BetCancelled {
				best = r
				break
			}
		}
	}
	if best == nil {
		return "", fmt.Errorf("%w: no completed round with bets for %s in game %s",
			engine.ErrNotFound, playerID, gameID)
	}
	return best.ID, nil
}

func (s *Store) ListUncredited(_ context.Context) ([]*engine.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*engine.Bet
	for _, b := range s.bets {
		switch b.Status {
		case engine.BetWon, engine.BetRefunded, engine.BetCancelled:
			if !b.Credited {
				cp := *b
				out = append(out, &cp)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Wagering and stats.

func (s *Store) RecordBonusWager(_ context.Context, playerID, betID string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wagers = append(s.wagers, Wager{PlayerID: playerID, BetID: betID, Amount: amount})
	return nil
}

// Wagers returns every recorded bonus wager.
func (s *Store) Wagers() []Wager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Wager(nil), s.wagers...)
}

func (s *Store) RecordResult(_ context.Context, playerID, roundID string, stake, winnings int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[playerID]
	if !ok {
		st = &engine.PlayerStats{PlayerID: playerID}
		s.stats[playerID] = st
	}
	key := playerID + "/" + roundID
	if _, ok := s.seen[key]; !ok {
		s.seen[key] = struct{}{}
		st.RoundsPlayed++
	}
	st.TotalStaked += stake
	st.TotalWinnings += winnings
	return nil
}

func (s *Store) Stats(_ context.Context, playerID string) (engine.PlayerStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stats[playerID]; ok {
		return *st, nil
	}
	return engine.PlayerStats{PlayerID: playerID}, nil
}
