package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/vctt94/andarbahar/pkg/broadcast"
	"github.com/vctt94/andarbahar/pkg/cards"
	"github.com/vctt94/andarbahar/pkg/rpc/abrpc"
)

var (
	cardStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("255")).
			Foreground(lipgloss.Color("0")).
			Padding(0, 1)

	redCardStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("255")).
			Foreground(lipgloss.Color("196")).
			Padding(0, 1)

	andarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	baharStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)

	winnerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("22")).
			Foreground(lipgloss.Color("46")).
			Border(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color("46")).
			Padding(0, 2).
			Bold(true)

	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("250")).Width(10)
)

func renderCard(token string) string {
	c, err := cards.ParseCard(token)
	if err != nil {
		return cardStyle.Render(token)
	}
	if c.Suit() == cards.Hearts || c.Suit() == cards.Diamonds {
		return redCardStyle.Render(c.String())
	}
	return cardStyle.Render(c.String())
}

func renderSide(side string) string {
	s := cards.Side(side)
	switch s {
	case cards.Andar:
		return andarStyle.Render(s.Name())
	case cards.Bahar:
		return baharStyle.Render(s.Name())
	}
	return dimStyle.Render(side)
}

func field(label, value string) string {
	return labelStyle.Render(label) + value
}

func renderRound(r *abrpc.Round) string {
	if r == nil {
		return dimStyle.Render("no round")
	}
	lines := []string{
		fmt.Sprintf("Round #%d  %s", r.Number, dimStyle.Render(r.ID)),
		field("game", r.GameID),
		field("phase", fmt.Sprintf("%s (epoch %d)", r.Phase, r.Epoch)),
		field("opening", renderCard(r.OpeningCard)),
		field("totals", fmt.Sprintf("%s %d  %s %d", renderSide("A"), r.TotalAndar, renderSide("B"), r.TotalBahar)),
	}
	if r.Phase == "betting" {
		lines = append(lines, field("closes", fmt.Sprintf("%ds", r.RemainingSeconds)))
	}
	if len(r.Cards) > 0 {
		var andar, bahar []string
		for _, c := range r.Cards {
			if c.Side == "A" {
				andar = append(andar, renderCard(c.Card))
			} else {
				bahar = append(bahar, renderCard(c.Card))
			}
		}
		lines = append(lines,
			field("andar", strings.Join(andar, " ")),
			field("bahar", strings.Join(bahar, " ")),
		)
	}
	if r.NextSide != "" {
		lines = append(lines, field("next", renderSide(r.NextSide)))
	}
	switch r.Phase {
	case "completed":
		lines = append(lines, winnerStyle.Render(fmt.Sprintf("%s wins with %s, paid %d",
			cards.Side(r.WinningSide).Name(), r.WinningCard, r.TotalPayout)))
	case "cancelled":
		lines = append(lines, errorStyle.Render("cancelled: "+r.CancelReason))
	}
	return headerStyle.Render(strings.Join(lines, "\n"))
}

func renderDeal(resp *abrpc.DealCardResponse) string {
	s := fmt.Sprintf("#%-2d %s %s", resp.Entry.Position, renderSide(resp.Entry.Side), renderCard(resp.Entry.Card))
	if !resp.Completed {
		return s + dimStyle.Render("  next "+resp.NextSide)
	}
	s += "\n" + winnerStyle.Render(fmt.Sprintf("%s wins, %d bets settled, paid %d",
		cards.Side(resp.WinningSide).Name(), len(resp.Settled), resp.TotalPayout))
	if resp.CreditError != "" {
		s += "\n" + errorStyle.Render("credit pending: "+resp.CreditError)
	}
	return s
}

func renderBalance(b abrpc.Balance) string {
	return strings.Join([]string{
		field("player", b.PlayerID),
		field("main", fmt.Sprint(b.Main)),
		field("bonus", fmt.Sprint(b.Bonus)),
		field("total", fmt.Sprint(b.Total)),
	}, "\n")
}

func renderStats(st abrpc.PlayerStats) string {
	return strings.Join([]string{
		field("player", st.PlayerID),
		field("rounds", fmt.Sprint(st.RoundsPlayed)),
		field("staked", fmt.Sprint(st.TotalStaked)),
		field("winnings", fmt.Sprint(st.TotalWinnings)),
	}, "\n")
}

func renderBetLine(b abrpc.Bet) string {
	return fmt.Sprintf("%s %s %d %s", dimStyle.Render(b.ID), renderSide(b.Side), b.Amount, dimStyle.Render(b.Status))
}

func renderBet(resp *abrpc.BetResponse) string {
	if resp.Bet == nil {
		return renderBalance(resp.Balance)
	}
	return renderBetLine(*resp.Bet) + "\n" + renderBalance(resp.Balance)
}

func renderBatch(resp *abrpc.BatchResponse) string {
	lines := make([]string, 0, len(resp.Placed)+2)
	for _, b := range resp.Placed {
		lines = append(lines, renderBetLine(b))
	}
	if resp.Failed != "" {
		lines = append(lines, errorStyle.Render(fmt.Sprintf("stopped (%s): %s", resp.Code, resp.Failed)))
	}
	lines = append(lines, renderBalance(resp.Balance))
	return strings.Join(lines, "\n")
}

func renderEnvelope(env *broadcast.Envelope) string {
	prefix := dimStyle.Render(fmt.Sprintf("%4d %s", env.Seq, env.At.Format("15:04:05")))
	switch ev := env.Event.(type) {
	case broadcast.RoundCreated:
		return prefix + " " + headerStyle.Render(fmt.Sprintf("Round #%d opening %s", ev.RoundNumber, renderCard(ev.OpeningCard)))
	case broadcast.TimerTick:
		return prefix + dimStyle.Render(fmt.Sprintf(" %ds left", ev.RemainingSeconds))
	case broadcast.RoundStatsUpdated:
		return fmt.Sprintf("%s %s %d  %s %d", prefix, renderSide("A"), ev.TotalAndar, renderSide("B"), ev.TotalBahar)
	case broadcast.CardDealt:
		return fmt.Sprintf("%s #%-2d %s %s", prefix, ev.Position, renderSide(ev.Side), renderCard(ev.Card))
	case broadcast.WinnerDetermined:
		return prefix + " " + winnerStyle.Render(ev.DisplayText)
	case broadcast.PayoutsProcessed:
		return fmt.Sprintf("%s paid %d on %d staked (won %d, lost %d, refunded %d)",
			prefix, ev.TotalPayout, ev.TotalStake, ev.Won, ev.Lost, ev.Refunded)
	case broadcast.RoundCancelled:
		return prefix + " " + errorStyle.Render(fmt.Sprintf("cancelled: %s (%d bets refunded)", ev.Reason, ev.RefundedBets))
	case broadcast.BetError:
		return prefix + " " + errorStyle.Render(fmt.Sprintf("%s failed [%s]: %s", ev.Op, ev.Code, ev.Reason))
	}
	payload, _ := json.Marshal(env.Event)
	return fmt.Sprintf("%s %s %s", prefix, env.Kind(), dimStyle.Render(string(payload)))
}
