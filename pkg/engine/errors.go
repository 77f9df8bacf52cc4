package engine

import (
	"errors"

	"github.com/vctt94/andarbahar/pkg/ledger"
)

var (
	// ErrInvalidInput covers malformed cards, sides, ids and amounts outside
	// the configured bet range.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidPhase is returned when an operation is not allowed in the
	// round's current phase or after the betting window closed.
	ErrInvalidPhase = errors.New("invalid phase")
	// ErrSequenceViolation is returned when a dealt card does not follow the
	// alternation rule or the expected position.
	ErrSequenceViolation = errors.New("card sequence violation")
	// ErrNotFound is returned for unknown rounds and bets, and by stores.
	ErrNotFound = errors.New("not found")
	// ErrBetNotPending is returned by stores when a conditional bet status
	// update finds the bet already resolved.
	ErrBetNotPending = errors.New("bet is not pending")

	ErrInsufficientFunds    = ledger.ErrInsufficientFunds
	ErrConcurrencyExhausted = ledger.ErrConcurrencyExhausted
)

// ErrorCode returns a short stable code for err, used in BetError events and
// by the transport layers.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ledger.ErrInvalidMutation):
		return "invalid_input"
	case errors.Is(err, ErrInvalidPhase):
		return "invalid_phase"
	case errors.Is(err, ErrSequenceViolation):
		return "sequence_violation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrConcurrencyExhausted):
		return "concurrency_exhausted"
	default:
		return "internal"
	}
}
