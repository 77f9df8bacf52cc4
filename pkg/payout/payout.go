// Package payout holds the Andar Bahar settlement rules. Everything here is
// a pure function of the bet and the round outcome.
package payout

import "github.com/vctt94/andarbahar/pkg/cards"

// Status is the resolved state of a winning or losing bet.
type Status string

const (
	StatusWon      Status = "won"
	StatusLost     Status = "lost"
	StatusRefunded Status = "refunded"
)

// MaxMultiplier is the largest multiple of the stake any bet can return.
const MaxMultiplier = 2

// Payout returns the amount credited back for a bet of stake on betSide when
// the round ends with winningSide during betting epoch roundEpoch. betEpoch
// is the epoch the bet was placed in. The amount includes the returned stake.
//
// Epoch 1: Andar pays 2x, Bahar only refunds the stake.
// Epoch 2: Andar pays 2x to every bet. Bahar pays 2x to bets carried over
// from epoch 1 and only refunds bets placed in epoch 2.
// Epoch 3 and later: the winning side pays 2x to every bet.
func Payout(stake int64, betSide, winningSide cards.Side, roundEpoch, betEpoch int) int64 {
	if stake <= 0 || betSide != winningSide {
		return 0
	}
	return stake * multiplier(winningSide, roundEpoch, betEpoch)
}

func multiplier(winningSide cards.Side, roundEpoch, betEpoch int) int64 {
	if winningSide == cards.Andar {
		return 2
	}
	switch {
	case roundEpoch <= 1:
		return 1
	case roundEpoch == 2:
		if betEpoch <= 1 {
			return 2
		}
		return 1
	default:
		return 2
	}
}

// Resolve returns the payout together with the status the bet ends in.
// Losing bets pay nothing; winners that only get the stake back are refunds.
func Resolve(stake int64, betSide, winningSide cards.Side, roundEpoch, betEpoch int) (int64, Status) {
	amount := Payout(stake, betSide, winningSide, roundEpoch, betEpoch)
	switch {
	case amount == 0:
		return 0, StatusLost
	case amount > stake:
		return amount, StatusWon
	default:
		return amount, StatusRefunded
	}
}

// Winnings is the profit part of a payout. Losses are reported as the
// negative stake.
func Winnings(stake, payout int64) int64 {
	return payout - stake
}
