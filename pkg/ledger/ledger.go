// Package ledger is the single place where player balances change. Every
// mutation is a read, a funds check and a compare-and-swap on the balance
// version, retried with exponential backoff when another writer wins.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/decred/slog"
)

var (
	// ErrInsufficientFunds is returned when a subtraction exceeds the pool.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrConcurrencyExhausted is returned when every CAS attempt lost the
	// race. It signals sustained contention and must reach an operator.
	ErrConcurrencyExhausted = errors.New("balance update retries exhausted")
	// ErrInvalidMutation is returned for malformed mutation requests.
	ErrInvalidMutation = errors.New("invalid balance mutation")

	// ErrVersionConflict is returned by a Store when the expected version no
	// longer matches.
	ErrVersionConflict = errors.New("balance version conflict")
	// ErrDuplicateReference is returned by a Store when the mutation's
	// reference was already journaled.
	ErrDuplicateReference = errors.New("duplicate balance reference")
)

// Pool names one of the two balances a player holds.
type Pool string

const (
	PoolMain  Pool = "main"
	PoolBonus Pool = "bonus"
)

// Valid reports whether p is a known pool.
func (p Pool) Valid() bool {
	return p == PoolMain || p == PoolBonus
}

// Direction of a mutation.
type Direction string

const (
	Add      Direction = "add"
	Subtract Direction = "subtract"
)

// Balance is a point in time view of a player's pools. Version increases by
// one on every committed mutation.
type Balance struct {
	PlayerID string `json:"player_id"`
	Main     int64  `json:"main"`
	Bonus    int64  `json:"bonus"`
	Version  int64  `json:"version"`
}

// Total returns main plus bonus.
func (b Balance) Total() int64 {
	return b.Main + b.Bonus
}

// Get returns the value of pool.
func (b Balance) Get(pool Pool) int64 {
	if pool == PoolBonus {
		return b.Bonus
	}
	return b.Main
}

func (b Balance) with(pool Pool, v int64) Balance {
	if pool == PoolBonus {
		b.Bonus = v
	} else {
		b.Main = v
	}
	b.Version++
	return b
}

// Entry is the journal row written together with a balance change.
type Entry struct {
	PlayerID     string
	Pool         Pool
	Delta        int64 // signed
	BalanceAfter int64
	Reason       string
	Reference    string // unique when non-empty
	CreatedAt    time.Time
}

// Store persists balances. Implementations must apply next and entry in one
// atomic step, and only if the stored version still equals expected.Version
// (a missing row counts as version 0).
type Store interface {
	GetBalance(ctx context.Context, playerID string) (Balance, error)
	CompareAndSwapBalance(ctx context.Context, expected, next Balance, entry Entry) error
	ReferenceApplied(ctx context.Context, reference string) (bool, error)
}

// Mutation describes one balance change request.
type Mutation struct {
	PlayerID  string
	Pool      Pool
	Delta     int64 // always positive; Direction gives the sign
	Direction Direction
	Reason    string
	// Reference makes the mutation idempotent: a reference that was already
	// applied is not applied again.
	Reference string
}

// Signed returns the signed delta of the mutation.
func (m Mutation) Signed() int64 {
	if m.Direction == Subtract {
		return -m.Delta
	}
	return m.Delta
}

// Result of a Mutate call.
type Result struct {
	Balance Balance
	Delta   int64 // signed; zero when not applied
	// Applied is false when the reference had already been applied.
	Applied bool
}

// Config tunes the retry discipline.
type Config struct {
	MaxRetries  int
	BaseBackoff time.Duration
	Log         slog.Logger
}

// Ledger applies balance mutations.
type Ledger struct {
	store       Store
	log         slog.Logger
	maxRetries  int
	baseBackoff time.Duration
}

// New creates a ledger over store. Zero config values use 5 retries and a
// 50ms base backoff.
func New(store Store, cfg Config) *Ledger {
	l := &Ledger{
		store:       store,
		log:         cfg.Log,
		maxRetries:  cfg.MaxRetries,
		baseBackoff: cfg.BaseBackoff,
	}
	if l.log == nil {
		l.log = slog.Disabled
	}
	if l.maxRetries <= 0 {
		l.maxRetries = 5
	}
	if l.baseBackoff <= 0 {
		l.baseBackoff = 50 * time.Millisecond
	}
	return l
}

// Balance returns the player's current balance.
func (l *Ledger) Balance(ctx context.Context, playerID string) (Balance, error) {
	if playerID == "" {
		return Balance{}, fmt.Errorf("%w: empty player id", ErrInvalidMutation)
	}
	b, err := l.store.GetBalance(ctx, playerID)
	if err != nil {
		return Balance{}, fmt.Errorf("failed to read balance: %w", err)
	}
	b.PlayerID = playerID
	return b, nil
}

// Mutate applies m. Funds are checked against the value read at the start of
// each attempt and the write is conditioned on that same version, so a
// balance can never be driven negative by concurrent writers.
func (l *Ledger) Mutate(ctx context.Context, m Mutation) (Result, error) {
	if err := validate(m); err != nil {
		return Result{}, err
	}

	if m.Reference != "" {
		applied, err := l.store.ReferenceApplied(ctx, m.Reference)
		if err != nil {
			return Result{}, fmt.Errorf("failed to check reference: %w", err)
		}
		if applied {
			return l.alreadyApplied(ctx, m)
		}
	}

	for attempt := 0; ; attempt++ {
		cur, err := l.Balance(ctx, m.PlayerID)
		if err != nil {
			return Result{}, err
		}

		have := cur.Get(m.Pool)
		if m.Direction == Subtract && m.Delta > have {
			return Result{Balance: cur}, fmt.Errorf("%w: %s pool has %d, need %d",
				ErrInsufficientFunds, m.Pool, have, m.Delta)
		}

		next := cur.with(m.Pool, have+m.Signed())
		entry := Entry{
			PlayerID:     m.PlayerID,
			Pool:         m.Pool,
			Delta:        m.Signed(),
			BalanceAfter: next.Get(m.Pool),
			Reason:       m.Reason,
			Reference:    m.Reference,
			CreatedAt:    time.Now(),
		}

		err = l.store.CompareAndSwapBalance(ctx, cur, next, entry)
		switch {
		case err == nil:
			l.log.Debugf("Balance %s %s %+d (%s) -> main=%d bonus=%d v%d",
				m.PlayerID, m.Pool, m.Signed(), m.Reason, next.Main, next.Bonus, next.Version)
			return Result{Balance: next, Delta: m.Signed(), Applied: true}, nil

		case errors.Is(err, ErrDuplicateReference):
			return l.alreadyApplied(ctx, m)

		case errors.Is(err, ErrVersionConflict):
			if attempt >= l.maxRetries {
				l.log.Errorf("Balance update for %s (%s %s %d, ref=%q) lost %d CAS races",
					m.PlayerID, m.Direction, m.Pool, m.Delta, m.Reference, attempt+1)
				return Result{}, fmt.Errorf("%w: player %s after %d attempts",
					ErrConcurrencyExhausted, m.PlayerID, attempt+1)
			}
			l.log.Tracef("CAS conflict for %s on attempt %d, backing off", m.PlayerID, attempt)
			if err := sleepCtx(ctx, l.backoff(attempt)); err != nil {
				return Result{}, err
			}

		default:
			return Result{}, fmt.Errorf("failed to write balance: %w", err)
		}
	}
}

func (l *Ledger) alreadyApplied(ctx context.Context, m Mutation) (Result, error) {
	cur, err := l.Balance(ctx, m.PlayerID)
	if err != nil {
		return Result{}, err
	}
	l.log.Debugf("Reference %s already applied for %s, skipping", m.Reference, m.PlayerID)
	return Result{Balance: cur, Applied: false}, nil
}

// maxBackoff caps a single wait when MaxRetries is raised far above the
// default.
const maxBackoff = 2 * time.Second

// backoff returns base*2^attempt plus up to half of that again as jitter.
func (l *Ledger) backoff(attempt int) time.Duration {
	d := maxBackoff
	if attempt < 32 {
		d = min(l.baseBackoff<<uint(attempt), maxBackoff)
	}
	if half := int64(d / 2); half > 0 {
		d += time.Duration(rand.Int64N(half))
	}
	return d
}

func validate(m Mutation) error {
	switch {
	case m.PlayerID == "":
		return fmt.Errorf("%w: empty player id", ErrInvalidMutation)
	case !m.Pool.Valid():
		return fmt.Errorf("%w: unknown pool %q", ErrInvalidMutation, m.Pool)
	case m.Direction != Add && m.Direction != Subtract:
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidMutation, m.Direction)
	case m.Delta <= 0:
		return fmt.Errorf("%w: delta must be positive, got %d", ErrInvalidMutation, m.Delta)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
