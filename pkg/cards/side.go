package cards

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSide is returned for side tokens other than Andar or Bahar.
var ErrInvalidSide = errors.New("invalid side")

// Side is one of the two betting positions on the table.
type Side string

const (
	Andar Side = "A"
	Bahar Side = "B"
)

// ParseSide accepts "A", "B", "andar" and "bahar" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a", "andar":
		return Andar, nil
	case "b", "bahar":
		return Bahar, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
}

// Valid reports whether s is Andar or Bahar.
func (s Side) Valid() bool {
	return s == Andar || s == Bahar
}

// Name returns the human readable side name.
func (s Side) Name() string {
	switch s {
	case Andar:
		return "Andar"
	case Bahar:
		return "Bahar"
	}
	return "unknown"
}

// ExpectedSide returns the side that must receive the next card given how
// many cards have already been dealt. Bahar always receives the first card,
// then the sides alternate.
func ExpectedSide(cardsDealt int) Side {
	if cardsDealt%2 == 0 {
		return Bahar
	}
	return Andar
}
