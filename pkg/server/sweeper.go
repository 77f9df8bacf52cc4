package server

import (
	"context"
	"fmt"
	"time"

	"github.com/decred/slog"
	"github.com/robfig/cron/v3"
	"github.com/vctt94/andarbahar/pkg/engine"
)

// Sweeper periodically closes betting windows that expired without a live
// timer and re-applies credits that did not go through.
type Sweeper struct {
	cron    *cron.Cron
	eng     *engine.Engine
	log     slog.Logger
	timeout time.Duration
}

// cronLogger adapts slog to the cron logger interface.
type cronLogger struct {
	log slog.Logger
}

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Tracef("cron: %s %v", msg, kv)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Errorf("cron: %s: %v %v", msg, err, kv)
}

// NewSweeper schedules a sweep on schedule, a cron expression with a seconds
// field.
func NewSweeper(eng *engine.Engine, schedule string, log slog.Logger) (*Sweeper, error) {
	if log == nil {
		log = slog.Disabled
	}
	s := &Sweeper{eng: eng, log: log, timeout: 30 * time.Second}
	cl := cronLogger{log}
	s.cron = cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := s.cron.AddFunc(schedule, func() { s.Sweep(context.Background()) }); err != nil {
		return nil, fmt.Errorf("register sweep %q: %w", schedule, err)
	}
	return s, nil
}

// Start starts the cron scheduler.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.log.Infof("Sweeper started")
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.log.Infof("Sweeper stopped")
}

// Sweep runs one pass and returns how many rounds it closed and how many
// bets it re-credited.
func (s *Sweeper) Sweep(ctx context.Context) (closed, credited int) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	closed, err := s.eng.CloseExpired(ctx)
	if err != nil {
		s.log.Errorf("Sweep: closing expired rounds: %v", err)
	}
	credited, err = s.eng.RetryCredits(ctx)
	if err != nil {
		s.log.Errorf("Sweep: retrying credits: %v", err)
	}
	if closed > 0 || credited > 0 {
		s.log.Infof("Sweep closed %d expired rounds, re-credited %d bets", closed, credited)
	}
	return closed, credited
}
