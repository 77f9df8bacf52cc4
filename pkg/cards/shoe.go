package cards

import (
	"math/rand"
)

// Shoe is a shuffled single deck the scripted dealer draws from.
type Shoe struct {
	cards []Card
	rng   *rand.Rand
}

// NewShoe creates a full 52 card shoe shuffled with the given rng.
func NewShoe(rng *rand.Rand) *Shoe {
	shoe := &Shoe{
		cards: make([]Card, 0, len(allSuits)*len(allValues)),
		rng:   rng,
	}
	for _, suit := range allSuits {
		for _, value := range allValues {
			shoe.cards = append(shoe.cards, Card{suit: suit, value: value})
		}
	}
	shoe.Shuffle()
	return shoe
}

// Shuffle randomizes the order of the remaining cards.
func (s *Shoe) Shuffle() {
	s.rng.Shuffle(len(s.cards), func(i, j int) {
		s.cards[i], s.cards[j] = s.cards[j], s.cards[i]
	})
}

// Draw removes and returns the top card.
func (s *Shoe) Draw() (Card, bool) {
	if len(s.cards) == 0 {
		return Card{}, false
	}
	card := s.cards[0]
	s.cards = s.cards[1:]
	return card, true
}

// Remove takes a specific card out of the shoe, e.g. the opening card
// turned face up before dealing starts. It reports whether the card was
// present.
func (s *Shoe) Remove(c Card) bool {
	for i, have := range s.cards {
		if have == c {
			s.cards = append(s.cards[:i], s.cards[i+1:]...)
			return true
		}
	}
	return false
}

// Size returns the number of cards left.
func (s *Shoe) Size() int {
	return len(s.cards)
}
