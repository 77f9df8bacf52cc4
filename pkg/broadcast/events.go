package broadcast

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies an event type on the wire.
type Kind string

// Public (round/game channel) events.
const (
	KindRoundCreated      Kind = "round_created"
	KindRoundStarted      Kind = "round_started"
	KindTimerTick         Kind = "timer_tick"
	KindBettingClosed     Kind = "betting_closed"
	KindBettingReopened   Kind = "betting_reopened"
	KindCardDealt         Kind = "card_dealt"
	KindWinnerDetermined  Kind = "winner_determined"
	KindPayoutsProcessed  Kind = "payouts_processed"
	KindRoundCancelled    Kind = "round_cancelled"
	KindRoundStatsUpdated Kind = "round_stats_updated"
)

// Private (player channel) events.
const (
	KindBetPlaced         Kind = "bet_placed"
	KindBetCancelled      Kind = "bet_cancelled"
	KindBetUndone         Kind = "bet_undone"
	KindRebetSuccess      Kind = "rebet_success"
	KindDoubleBetsSuccess Kind = "double_bets_success"
	KindBetError          Kind = "bet_error"
	KindBalanceUpdated    Kind = "balance_updated"
)

// Event is the closed set of payloads the engine emits. The unexported
// method keeps implementations inside this package.
type Event interface {
	Kind() Kind
	// Private events are delivered only to the player named in the
	// envelope; all others go to the round and game channels.
	Private() bool
	sealed()
}

type public struct{}

func (public) Private() bool { return false }
func (public) sealed()       {}

type private struct{}

func (private) Private() bool { return true }
func (private) sealed()       {}

// BetInfo is the wire view of a bet.
type BetInfo struct {
	ID          string `json:"id"`
	RoundID     string `json:"round_id"`
	Side        string `json:"side"`
	Amount      int64  `json:"amount"`
	BonusAmount int64  `json:"bonus_amount"`
	Epoch       int    `json:"epoch"`
	Status      string `json:"status"`
	Payout      int64  `json:"payout"`
}

// BalanceInfo is the wire view of a balance.
type BalanceInfo struct {
	Main  int64 `json:"main"`
	Bonus int64 `json:"bonus"`
}

// EpochStats are the per-side stake totals placed during one betting epoch.
type EpochStats struct {
	Epoch int   `json:"epoch"`
	Andar int64 `json:"andar"`
	Bahar int64 `json:"bahar"`
}

type RoundCreated struct {
	public
	RoundNumber int64     `json:"round_number"`
	OpeningCard string    `json:"opening_card"`
	BettingEnd  time.Time `json:"betting_end"`
}

func (RoundCreated) Kind() Kind { return KindRoundCreated }

type RoundStarted struct {
	public
	Epoch           int       `json:"epoch"`
	BettingStart    time.Time `json:"betting_start"`
	BettingEnd      time.Time `json:"betting_end"`
	DurationSeconds int       `json:"duration_seconds"`
}

func (RoundStarted) Kind() Kind { return KindRoundStarted }

type TimerTick struct {
	public
	Epoch            int `json:"epoch"`
	RemainingSeconds int `json:"remaining_seconds"`
}

func (TimerTick) Kind() Kind { return KindTimerTick }

type BettingClosed struct {
	public
	Epoch    int       `json:"epoch"`
	ClosedAt time.Time `json:"closed_at"`
	// By is who closed betting: dealer, timer, deal or sweeper.
	By string `json:"by"`
}

func (BettingClosed) Kind() Kind { return KindBettingClosed }

type BettingReopened struct {
	public
	Epoch      int       `json:"epoch"`
	BettingEnd time.Time `json:"betting_end"`
}

func (BettingReopened) Kind() Kind { return KindBettingReopened }

type CardDealt struct {
	public
	Card             string `json:"card"`
	Side             string `json:"side"`
	Position         int    `json:"position"`
	IsWinningCard    bool   `json:"is_winning_card"`
	NextExpectedSide string `json:"next_expected_side,omitempty"`
}

func (CardDealt) Kind() Kind { return KindCardDealt }

type WinnerDetermined struct {
	public
	WinningSide string `json:"winning_side"`
	WinningCard string `json:"winning_card"`
	Epoch       int    `json:"epoch"`
	DisplayText string `json:"display_text"`
}

func (WinnerDetermined) Kind() Kind { return KindWinnerDetermined }

type PayoutsProcessed struct {
	public
	TotalStake  int64 `json:"total_stake"`
	TotalPayout int64 `json:"total_payout"`
	Won         int   `json:"won"`
	Lost        int   `json:"lost"`
	Refunded    int   `json:"refunded"`
}

func (PayoutsProcessed) Kind() Kind { return KindPayoutsProcessed }

type RoundCancelled struct {
	public
	Reason         string `json:"reason"`
	RefundedBets   int    `json:"refunded_bets"`
	RefundedAmount int64  `json:"refunded_amount"`
}

func (RoundCancelled) Kind() Kind { return KindRoundCancelled }

type RoundStatsUpdated struct {
	public
	TotalAndar  int64        `json:"total_andar"`
	TotalBahar  int64        `json:"total_bahar"`
	TotalAmount int64        `json:"total_amount"`
	Epochs      []EpochStats `json:"epochs"`
}

func (RoundStatsUpdated) Kind() Kind { return KindRoundStatsUpdated }

type BetPlaced struct {
	private
	Bet     BetInfo     `json:"bet"`
	Balance BalanceInfo `json:"balance"`
}

func (BetPlaced) Kind() Kind { return KindBetPlaced }

type BetCancelled struct {
	private
	Bet     BetInfo     `json:"bet"`
	Balance BalanceInfo `json:"balance"`
}

func (BetCancelled) Kind() Kind { return KindBetCancelled }

type BetUndone struct {
	private
	Bet     BetInfo     `json:"bet"`
	Balance BalanceInfo `json:"balance"`
}

func (BetUndone) Kind() Kind { return KindBetUndone }

type RebetSuccess struct {
	private
	Bets   []BetInfo `json:"bets"`
	Failed string    `json:"failed,omitempty"`
}

func (RebetSuccess) Kind() Kind { return KindRebetSuccess }

type DoubleBetsSuccess struct {
	private
	Bets   []BetInfo `json:"bets"`
	Failed string    `json:"failed,omitempty"`
}

func (DoubleBetsSuccess) Kind() Kind { return KindDoubleBetsSuccess }

type BetError struct {
	private
	Op          string `json:"op"`
	Code        string `json:"code"`
	Reason      string `json:"reason"`
	Correlation string `json:"correlation,omitempty"`
}

func (BetError) Kind() Kind { return KindBetError }

type BalanceUpdated struct {
	private
	Main   int64  `json:"main"`
	Bonus  int64  `json:"bonus"`
	Delta  int64  `json:"delta"`
	Reason string `json:"reason"`
}

func (BalanceUpdated) Kind() Kind { return KindBalanceUpdated }

// Envelope wraps an event with its routing and ordering data. Seq increases
// by one for every event of the same round.
type Envelope struct {
	Seq      uint64    `json:"seq"`
	RoundID  string    `json:"round_id,omitempty"`
	GameID   string    `json:"game_id,omitempty"`
	PlayerID string    `json:"player_id,omitempty"`
	At       time.Time `json:"at"`
	Event    Event     `json:"-"`
}

// Kind returns the kind of the wrapped event.
func (e Envelope) Kind() Kind {
	if e.Event == nil {
		return ""
	}
	return e.Event.Kind()
}

type envelopeJSON struct {
	Kind     Kind            `json:"kind"`
	Seq      uint64          `json:"seq"`
	RoundID  string          `json:"round_id,omitempty"`
	GameID   string          `json:"game_id,omitempty"`
	PlayerID string          `json:"player_id,omitempty"`
	At       time.Time       `json:"at"`
	Payload  json.RawMessage `json:"payload"`
}

// MarshalJSON writes the envelope with the event under "payload".
func (e Envelope) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(e.Event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelopeJSON{
		Kind:     e.Kind(),
		Seq:      e.Seq,
		RoundID:  e.RoundID,
		GameID:   e.GameID,
		PlayerID: e.PlayerID,
		At:       e.At,
		Payload:  payload,
	})
}

// UnmarshalJSON decodes the payload into the concrete type named by kind.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw envelopeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ev, err := DecodeEvent(raw.Kind, raw.Payload)
	if err != nil {
		return err
	}
	*e = Envelope{
		Seq:      raw.Seq,
		RoundID:  raw.RoundID,
		GameID:   raw.GameID,
		PlayerID: raw.PlayerID,
		At:       raw.At,
		Event:    ev,
	}
	return nil
}

// DecodeEvent decodes payload as the event type of kind.
func DecodeEvent(kind Kind, payload []byte) (Event, error) {
	var ev Event
	switch kind {
	case KindRoundCreated:
		ev = decodeInto[RoundCreated](payload)
	case KindRoundStarted:
		ev = decodeInto[RoundStarted](payload)
	case KindTimerTick:
		ev = decodeInto[TimerTick](payload)
	case KindBettingClosed:
		ev = decodeInto[BettingClosed](payload)
	case KindBettingReopened:
		ev = decodeInto[BettingReopened](payload)
	case KindCardDealt:
		ev = decodeInto[CardDealt](payload)
	case KindWinnerDetermined:
		ev = decodeInto[WinnerDetermined](payload)
	case KindPayoutsProcessed:
		ev = decodeInto[PayoutsProcessed](payload)
	case KindRoundCancelled:
		ev = decodeInto[RoundCancelled](payload)
	case KindRoundStatsUpdated:
		ev = decodeInto[RoundStatsUpdated](payload)
	case KindBetPlaced:
		ev = decodeInto[BetPlaced](payload)
	case KindBetCancelled:
		ev = decodeInto[BetCancelled](payload)
	case KindBetUndone:
		ev = decodeInto[BetUndone](payload)
	case KindRebetSuccess:
		ev = decodeInto[RebetSuccess](payload)
	case KindDoubleBetsSuccess:
		ev = decodeInto[DoubleBetsSuccess](payload)
	case KindBetError:
		ev = decodeInto[BetError](payload)
	case KindBalanceUpdated:
		ev = decodeInto[BalanceUpdated](payload)
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	if de, ok := ev.(decodeError); ok {
		return nil, fmt.Errorf("decode %s payload: %w", kind, de.err)
	}
	return ev, nil
}

// decodeError carries a payload decoding failure through the Event-typed
// switch above.
type decodeError struct {
	public
	err error
}

func (decodeError) Kind() Kind { return "" }

func decodeInto[T Event](payload []byte) Event {
	var v T
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, &v); err != nil {
			return decodeError{err: err}
		}
	}
	return v
}
