package abrpc

import (
	"context"
	"time"

	"google.golang.org/grpc/metadata"
)

// Metadata keys read by the server's authenticator.
const (
	MDPlayerID    = "player-id"
	MDDealerToken = "dealer-token"
)

// WithPlayer attaches the player identity to outgoing calls.
func WithPlayer(ctx context.Context, playerID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, MDPlayerID, playerID)
}

// WithDealerToken attaches the dealer credential to outgoing calls.
func WithDealerToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, MDDealerToken, token)
}

type CardEntry struct {
	Card      string    `json:"card"`
	Display   string    `json:"display"`
	Side      string    `json:"side"`
	Position  int       `json:"position"`
	IsWinning bool      `json:"is_winning"`
	DealtAt   time.Time `json:"dealt_at"`
}

type EpochTotal struct {
	Epoch  int    `json:"epoch"`
	Side   string `json:"side"`
	Amount int64  `json:"amount"`
}

type Round struct {
	ID               string       `json:"id"`
	GameID           string       `json:"game_id"`
	Number           int64        `json:"round_number"`
	Phase            string       `json:"phase"`
	Epoch            int          `json:"epoch"`
	OpeningCard      string       `json:"opening_card"`
	Cards            []CardEntry  `json:"cards"`
	TotalAndar       int64        `json:"total_andar"`
	TotalBahar       int64        `json:"total_bahar"`
	TotalAmount      int64        `json:"total_amount"`
	TotalPayout      int64        `json:"total_payout"`
	EpochTotals      []EpochTotal `json:"epoch_totals,omitempty"`
	BettingStart     time.Time    `json:"betting_start"`
	BettingEnd       time.Time    `json:"betting_end"`
	ClosedAt         time.Time    `json:"closed_at,omitzero"`
	StartedAt        time.Time    `json:"started_at"`
	EndedAt          time.Time    `json:"ended_at,omitzero"`
	WinningSide      string       `json:"winning_side,omitempty"`
	WinningCard      string       `json:"winning_card,omitempty"`
	CancelReason     string       `json:"cancel_reason,omitempty"`
	NextSide         string       `json:"next_side,omitempty"`
	RemainingSeconds int          `json:"remaining_seconds"`
}

type Bet struct {
	ID          string    `json:"id"`
	PlayerID    string    `json:"player_id"`
	RoundID     string    `json:"round_id"`
	Side        string    `json:"side"`
	Amount      int64     `json:"amount"`
	BonusAmount int64     `json:"bonus_amount"`
	MainAmount  int64     `json:"main_amount"`
	Epoch       int       `json:"epoch"`
	Status      string    `json:"status"`
	Payout      int64     `json:"payout"`
	CreatedAt   time.Time `json:"created_at"`
}

type Balance struct {
	PlayerID string `json:"player_id"`
	Main     int64  `json:"main"`
	Bonus    int64  `json:"bonus"`
	Total    int64  `json:"total"`
	Version  int64  `json:"version"`
}

// Dealer messages.

type CreateRoundRequest struct {
	GameID      string `json:"game_id"`
	OpeningCard string `json:"opening_card"`
}

type StartBettingRequest struct {
	RoundID         string `json:"round_id"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

type CloseBettingRequest struct {
	RoundID string `json:"round_id"`
}

type ReopenBettingRequest struct {
	RoundID         string `json:"round_id"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

type DealCardRequest struct {
	RoundID string `json:"round_id"`
	Card    string `json:"card"`
	Side    string `json:"side"`
	// Position is the 1-based tally position; 0 takes the next one.
	Position int `json:"position,omitempty"`
}

type DealCardResponse struct {
	Entry       CardEntry `json:"entry"`
	Completed   bool      `json:"completed"`
	NextSide    string    `json:"next_side,omitempty"`
	WinningSide string    `json:"winning_side,omitempty"`
	TotalPayout int64     `json:"total_payout"`
	Settled     []Bet     `json:"settled,omitempty"`
	// CreditError is set when the round completed but some payouts were not
	// credited yet. The sweeper retries them.
	CreditError string `json:"credit_error,omitempty"`
}

type CancelRoundRequest struct {
	RoundID string `json:"round_id"`
	Reason  string `json:"reason,omitempty"`
}

type AdjustBalanceRequest struct {
	PlayerID  string `json:"player_id"`
	Pool      string `json:"pool"`
	Delta     int64  `json:"delta"`
	Reason    string `json:"reason,omitempty"`
	Reference string `json:"reference,omitempty"`
}

type AdjustBalanceResponse struct {
	Balance Balance `json:"balance"`
	Applied bool    `json:"applied"`
}

type RoundResponse struct {
	Round *Round `json:"round"`
}

// Player messages.

type PlaceBetRequest struct {
	RoundID     string `json:"round_id"`
	Side        string `json:"side"`
	Amount      int64  `json:"amount"`
	Correlation string `json:"correlation,omitempty"`
}

type CancelBetRequest struct {
	BetID       string `json:"bet_id"`
	Correlation string `json:"correlation,omitempty"`
}

type UndoLastBetRequest struct {
	RoundID     string `json:"round_id"`
	Correlation string `json:"correlation,omitempty"`
}

type RebetRequest struct {
	RoundID     string `json:"round_id"`
	Correlation string `json:"correlation,omitempty"`
}

type DoubleBetsRequest struct {
	RoundID     string `json:"round_id"`
	Correlation string `json:"correlation,omitempty"`
}

type BetResponse struct {
	Bet     *Bet    `json:"bet"`
	Balance Balance `json:"balance"`
}

// BatchResponse reports a rebet or double. On partial failure Placed holds
// what went through and Failed/Code describe the bet that did not.
type BatchResponse struct {
	Placed  []Bet   `json:"placed"`
	Failed  string  `json:"failed,omitempty"`
	Code    string  `json:"code,omitempty"`
	Balance Balance `json:"balance"`
}

type GetBalanceRequest struct{}

type GetStatsRequest struct{}

type PlayerStats struct {
	PlayerID      string `json:"player_id"`
	RoundsPlayed  int64  `json:"rounds_played"`
	TotalStaked   int64  `json:"total_staked"`
	TotalWinnings int64  `json:"total_winnings"`
}

type GetRoundRequest struct {
	RoundID string `json:"round_id"`
}

type GetActiveRoundRequest struct {
	GameID string `json:"game_id"`
}

type SubscribeRoundRequest struct {
	RoundID string `json:"round_id,omitempty"`
	GameID  string `json:"game_id,omitempty"`
}

type SubscribePlayerRequest struct{}
