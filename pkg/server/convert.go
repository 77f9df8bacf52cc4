package server

import (
	"github.com/vctt94/andarbahar/pkg/engine"
	"github.com/vctt94/andarbahar/pkg/ledger"
	"github.com/vctt94/andarbahar/pkg/rpc/abrpc"
)

func cardEntryToRPC(e engine.CardEntry) abrpc.CardEntry {
	return abrpc.CardEntry{
		Card:      e.Card.Token(),
		Display:   e.Card.String(),
		Side:      string(e.Side),
		Position:  e.Position,
		IsWinning: e.IsWinning,
		DealtAt:   e.DealtAt,
	}
}

func roundToRPC(r *engine.Round) *abrpc.Round {
	if r == nil {
		return nil
	}
	out := &abrpc.Round{
		ID:               r.ID,
		GameID:           r.GameID,
		Number:           r.Number,
		Phase:            string(r.Phase),
		Epoch:            r.Epoch,
		OpeningCard:      r.OpeningCard.Token(),
		Cards:            make([]abrpc.CardEntry, 0, len(r.Cards)),
		TotalAndar:       r.TotalAndar,
		TotalBahar:       r.TotalBahar,
		TotalAmount:      r.TotalAmount,
		TotalPayout:      r.TotalPayout,
		BettingStart:     r.BettingStart,
		BettingEnd:       r.BettingEnd,
		ClosedAt:         r.ClosedAt,
		StartedAt:        r.StartedAt,
		EndedAt:          r.EndedAt,
		WinningSide:      string(r.WinningSide),
		WinningCard:      r.WinningCard.Token(),
		CancelReason:     r.CancelReason,
		NextSide:         string(r.NextSide),
		RemainingSeconds: r.RemainingSeconds,
	}
	for _, c := range r.Cards {
		out.Cards = append(out.Cards, cardEntryToRPC(c))
	}
	for _, t := range r.EpochTotals {
		out.EpochTotals = append(out.EpochTotals, abrpc.EpochTotal{
			Epoch: t.Epoch, Side: string(t.Side), Amount: t.Amount,
		})
	}
	return out
}

func betToRPC(b *engine.Bet) abrpc.Bet {
	return abrpc.Bet{
		ID:          b.ID,
		PlayerID:    b.PlayerID,
		RoundID:     b.RoundID,
		Side:        string(b.Side),
		Amount:      b.Amount,
		BonusAmount: b.BonusAmount,
		MainAmount:  b.MainAmount,
		Epoch:       b.Epoch,
		Status:      string(b.Status),
		Payout:      b.Payout,
		CreatedAt:   b.CreatedAt,
	}
}

func betsToRPC(bets []*engine.Bet) []abrpc.Bet {
	out := make([]abrpc.Bet, 0, len(bets))
	for _, b := range bets {
		out = append(out, betToRPC(b))
	}
	return out
}

func balanceToRPC(b ledger.Balance) abrpc.Balance {
	return abrpc.Balance{
		PlayerID: b.PlayerID,
		Main:     b.Main,
		Bonus:    b.Bonus,
		Total:    b.Total(),
		Version:  b.Version,
	}
}
