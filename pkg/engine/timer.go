package engine

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/vctt94/andarbahar/pkg/broadcast"
)

// Who closed a betting window.
const (
	closedByDealer  = "dealer"
	closedByTimer   = "timer"
	closedByDeal    = "deal"
	closedBySweeper = "sweeper"
)

// bettingTimer is the countdown of one betting window.
type bettingTimer struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// startTimer replaces any running timer with one ending at rs.bettingEnd.
// Callers hold rs.mu for writing.
func (e *Engine) startTimer(rs *roundState) {
	rs.stopTimer()
	ctx, cancel := context.WithCancel(context.Background())
	t := &bettingTimer{cancel: cancel, done: make(chan struct{})}
	rs.timer = t
	go e.runTimer(ctx, rs, t, rs.epoch, rs.bettingEnd)
}

// stopTimer cancels the running timer without waiting for it; the timer may
// be blocked on rs.mu. Callers hold rs.mu for writing.
func (rs *roundState) stopTimer() {
	if rs.timer != nil {
		rs.timer.cancel()
		rs.timer = nil
	}
}

func (e *Engine) runTimer(ctx context.Context, rs *roundState, t *bettingTimer, epoch int, end time.Time) {
	defer close(t.done)
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		remaining := end.Sub(e.cfg.Now())
		if remaining <= 0 {
			err := e.closeBetting(context.Background(), rs, closedByTimer, t)
			switch {
			case err == nil:
				e.log.Debugf("Betting timer expired for round %s", rs.id)
			case errors.Is(err, ErrInvalidPhase):
				e.log.Debugf("Timer close of round %s lost the race: %v", rs.id, err)
			default:
				e.log.Errorf("Timer failed to close betting on round %s: %v", rs.id, err)
			}
			return
		}

		rs.mu.RLock()
		current := rs.timer == t && rs.phase.Is(PhaseBetting)
		if current {
			e.emit(rs, public(broadcast.TimerTick{
				Epoch:            epoch,
				RemainingSeconds: int(math.Ceil(remaining.Seconds())),
			}))
		}
		rs.mu.RUnlock()
		if !current {
			return
		}
	}
}
