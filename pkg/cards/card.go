package cards

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCard is returned for tokens that do not name one of the 52
// standard cards.
var ErrInvalidCard = errors.New("invalid card")

// Suit represents a card suit
type Suit string

const (
	Spades   Suit = "♠"
	Hearts   Suit = "♥"
	Diamonds Suit = "♦"
	Clubs    Suit = "♣"
)

// Value represents a card rank
type Value string

const (
	Ace   Value = "A"
	Two   Value = "2"
	Three Value = "3"
	Four  Value = "4"
	Five  Value = "5"
	Six   Value = "6"
	Seven Value = "7"
	Eight Value = "8"
	Nine  Value = "9"
	Ten   Value = "10"
	Jack  Value = "J"
	Queen Value = "Q"
	King  Value = "K"
)

var (
	allSuits  = []Suit{Spades, Hearts, Diamonds, Clubs}
	allValues = []Value{Ace, Two, Three, Four, Five, Six, Seven, Eight, Nine, Ten, Jack, Queen, King}
)

// suitLetters maps a suit to the single letter used in card tokens.
var suitLetters = map[Suit]string{
	Spades:   "S",
	Hearts:   "H",
	Diamonds: "D",
	Clubs:    "C",
}

// Card is a single playing card. The zero value is not a valid card.
type Card struct {
	suit  Suit
	value Value
}

// ParseCard parses a dealer token such as "KH", "10d", "TS" or "Q♠".
// The rank comes first, the suit is the trailing letter or symbol.
func ParseCard(token string) (Card, error) {
	tok := strings.ToUpper(strings.TrimSpace(token))
	if tok == "" {
		return Card{}, fmt.Errorf("%w: empty token", ErrInvalidCard)
	}

	// Suit symbols are multi-byte, so split on the last rune.
	runes := []rune(tok)
	if len(runes) < 2 {
		return Card{}, fmt.Errorf("%w: %q", ErrInvalidCard, token)
	}
	suit, err := parseSuit(string(runes[len(runes)-1]))
	if err != nil {
		return Card{}, fmt.Errorf("%w: %q", ErrInvalidCard, token)
	}
	value, err := parseValue(string(runes[:len(runes)-1]))
	if err != nil {
		return Card{}, fmt.Errorf("%w: %q", ErrInvalidCard, token)
	}
	return Card{suit: suit, value: value}, nil
}

// MustParseCard is like ParseCard but panics on error. Intended for tests
// and constant tables.
func MustParseCard(token string) Card {
	c, err := ParseCard(token)
	if err != nil {
		panic(err)
	}
	return c
}

func parseSuit(s string) (Suit, error) {
	switch s {
	case "♠", "S":
		return Spades, nil
	case "♥", "H":
		return Hearts, nil
	case "♦", "D":
		return Diamonds, nil
	case "♣", "C":
		return Clubs, nil
	}
	return "", fmt.Errorf("invalid suit: %s", s)
}

func parseValue(s string) (Value, error) {
	switch s {
	case "A":
		return Ace, nil
	case "K":
		return King, nil
	case "Q":
		return Queen, nil
	case "J":
		return Jack, nil
	case "10", "T":
		return Ten, nil
	case "9", "8", "7", "6", "5", "4", "3", "2":
		return Value(s), nil
	}
	return "", fmt.Errorf("invalid value: %s", s)
}

// Valid reports whether c is one of the 52 standard cards.
func (c Card) Valid() bool {
	_, ok := suitLetters[c.suit]
	if !ok {
		return false
	}
	for _, v := range allValues {
		if v == c.value {
			return true
		}
	}
	return false
}

// Suit returns the card's suit.
func (c Card) Suit() Suit {
	return c.suit
}

// Value returns the card's rank.
func (c Card) Value() Value {
	return c.value
}

// Token returns the canonical dealer token, e.g. "KH" or "10D".
func (c Card) Token() string {
	if !c.Valid() {
		return ""
	}
	return string(c.value) + suitLetters[c.suit]
}

// String returns the display form, e.g. "K♥".
func (c Card) String() string {
	return string(c.value) + string(c.suit)
}

// Match reports whether two cards share a rank. Suit is irrelevant; this is
// the only win condition of the game.
func Match(a, b Card) bool {
	return a.Valid() && b.Valid() && a.value == b.value
}

// MarshalJSON encodes the card as its canonical token.
func (c Card) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Token())
}

// UnmarshalJSON decodes a card token.
func (c *Card) UnmarshalJSON(data []byte) error {
	var tok string
	if err := json.Unmarshal(data, &tok); err != nil {
		return err
	}
	if tok == "" {
		*c = Card{}
		return nil
	}
	parsed, err := ParseCard(tok)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
