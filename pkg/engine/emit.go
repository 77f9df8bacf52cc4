package engine

import (
	"github.com/vctt94/andarbahar/pkg/broadcast"
)

// note is an event with its optional private recipient. When build is set
// the event is built at emit time, under the emit lock.
type note struct {
	player string
	ev     broadcast.Event
	build  func() broadcast.Event
}

func public(ev broadcast.Event) note { return note{ev: ev} }

func to(player string, ev broadcast.Event) note { return note{player: player, ev: ev} }

// stats emits the round aggregates as of emit time, so the highest sequenced
// stats event always carries the latest totals.
func stats(rs *roundState) note {
	return note{build: func() broadcast.Event { return rs.statsEvent() }}
}

// emit numbers notes with the round's sequence and publishes them. Holding
// emitMu across numbering and publishing keeps the published order equal to
// the sequence order.
func (e *Engine) emit(rs *roundState, notes ...note) {
	rs.emitMu.Lock()
	defer rs.emitMu.Unlock()
	now := e.cfg.Now()
	for _, n := range notes {
		if n.build != nil {
			n.ev = n.build()
		}
		rs.seq++
		env := Envelope{
			Seq:      rs.seq,
			RoundID:  rs.id,
			GameID:   rs.gameID,
			PlayerID: n.player,
			At:       now,
			Event:    n.ev,
		}
		e.log.Tracef("Emit %s seq=%d round=%s player=%q", env.Kind(), env.Seq, rs.id, n.player)
		e.pub.Publish(env)
	}
}

// ReportBetError sends a BetError to playerID only. roundID may be empty or
// unknown, in which case the event carries no round sequence.
func (e *Engine) ReportBetError(playerID, roundID, op, correlation string, err error) {
	if playerID == "" || err == nil {
		return
	}
	ev := broadcast.BetError{
		Op:          op,
		Code:        ErrorCode(err),
		Reason:      err.Error(),
		Correlation: correlation,
	}
	if rs, rerr := e.round(roundID); rerr == nil {
		e.emit(rs, to(playerID, ev))
		return
	}
	e.pub.Publish(Envelope{
		RoundID:  roundID,
		PlayerID: playerID,
		At:       e.cfg.Now(),
		Event:    ev,
	})
}
