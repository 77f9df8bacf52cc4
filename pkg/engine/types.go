package engine

import (
	"time"

	"github.com/vctt94/andarbahar/pkg/broadcast"
	"github.com/vctt94/andarbahar/pkg/cards"
	"github.com/vctt94/andarbahar/pkg/payout"
)

// Phase of a round.
type Phase string

const (
	PhaseBetting   Phase = "betting"
	PhasePlaying   Phase = "playing"
	PhaseCompleted Phase = "completed"
	PhaseCancelled Phase = "cancelled"
)

// Open reports whether the round can still take cards or bets.
func (p Phase) Open() bool {
	return p == PhaseBetting || p == PhasePlaying
}

var phaseEdges = map[Phase][]Phase{
	PhaseBetting: {PhasePlaying, PhaseCancelled},
	PhasePlaying: {PhaseBetting, PhaseCompleted, PhaseCancelled},
}

// BetStatus of a bet. Only pending bets change status.
type BetStatus string

const (
	BetPending   BetStatus = "pending"
	BetWon       BetStatus = BetStatus(payout.StatusWon)
	BetLost      BetStatus = BetStatus(payout.StatusLost)
	BetRefunded  BetStatus = BetStatus(payout.StatusRefunded)
	BetCancelled BetStatus = "cancelled"
)

// CardEntry is one dealt card in the tally. Position is 1-based.
type CardEntry struct {
	Card      cards.Card `json:"card"`
	Side      cards.Side `json:"side"`
	Position  int        `json:"position"`
	IsWinning bool       `json:"is_winning"`
	DealtAt   time.Time  `json:"dealt_at"`
}

// EpochTotal is the stake placed on one side during one betting epoch.
type EpochTotal struct {
	Epoch  int        `json:"epoch"`
	Side   cards.Side `json:"side"`
	Amount int64      `json:"amount"`
}

// Round is the persisted record of a round and the snapshot returned to
// readers.
type Round struct {
	ID           string       `json:"id"`
	GameID       string       `json:"game_id"`
	Number       int64        `json:"round_number"`
	Phase        Phase        `json:"phase"`
	Epoch        int          `json:"epoch"`
	OpeningCard  cards.Card   `json:"opening_card"`
	Cards        []CardEntry  `json:"cards"`
	TotalAndar   int64        `json:"total_andar"`
	TotalBahar   int64        `json:"total_bahar"`
	TotalAmount  int64        `json:"total_amount"`
	TotalPayout  int64        `json:"total_payout"`
	EpochTotals  []EpochTotal `json:"epoch_totals,omitempty"`
	BettingStart time.Time    `json:"betting_start"`
	BettingEnd   time.Time    `json:"betting_end"`
	ClosedAt     time.Time    `json:"closed_at,omitzero"`
	StartedAt    time.Time    `json:"started_at"`
	EndedAt      time.Time    `json:"ended_at,omitzero"`
	WinningSide  cards.Side   `json:"winning_side,omitempty"`
	WinningCard  cards.Card   `json:"winning_card,omitzero"`
	CancelReason string       `json:"cancel_reason,omitempty"`

	// Derived fields filled in snapshots only.
	NextSide         cards.Side `json:"next_side,omitempty"`
	RemainingSeconds int        `json:"remaining_seconds"`
}

// Bet is a single wager.
type Bet struct {
	ID          string     `json:"id"`
	PlayerID    string     `json:"player_id"`
	RoundID     string     `json:"round_id"`
	GameID      string     `json:"game_id"`
	Side        cards.Side `json:"side"`
	Amount      int64      `json:"amount"`
	BonusAmount int64      `json:"bonus_amount"`
	MainAmount  int64      `json:"main_amount"`
	Epoch       int        `json:"epoch"`
	Seq         int64      `json:"seq"`
	Status      BetStatus  `json:"status"`
	Payout      int64      `json:"payout"`
	Credited    bool       `json:"credited"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  time.Time  `json:"resolved_at,omitzero"`
}

// info converts b to its wire view.
func (b *Bet) info() broadcast.BetInfo {
	return broadcast.BetInfo{
		ID:          b.ID,
		RoundID:     b.RoundID,
		Side:        string(b.Side),
		Amount:      b.Amount,
		BonusAmount: b.BonusAmount,
		Epoch:       b.Epoch,
		Status:      string(b.Status),
		Payout:      b.Payout,
	}
}

// PlayerStats are the accumulated results of a player.
type PlayerStats struct {
	PlayerID      string `json:"player_id"`
	RoundsPlayed  int64  `json:"rounds_played"`
	TotalStaked   int64  `json:"total_staked"`
	TotalWinnings int64  `json:"total_winnings"`
}

// Settlement is the resolution of one bet at round completion or
// cancellation.
type Settlement struct {
	BetID  string
	Status BetStatus
	Payout int64
}

// DealResult is returned by DealCard.
type DealResult struct {
	Entry       CardEntry  `json:"entry"`
	Completed   bool       `json:"completed"`
	NextSide    cards.Side `json:"next_side,omitempty"`
	WinningSide cards.Side `json:"winning_side,omitempty"`
	TotalPayout int64      `json:"total_payout"`
	Settled     []*Bet     `json:"settled,omitempty"`
}

// BatchResult is returned by batch bet operations. On partial failure Placed
// holds the bets placed before the failing one and Err the failure.
type BatchResult struct {
	Placed []*Bet
	Err    error
}
