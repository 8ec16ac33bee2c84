package pidro

import (
	"encoding/json"
	"fmt"
)

// Suit represents a card suit
type Suit string

const (
	Spades   Suit = "♠"
	Hearts   Suit = "♥"
	Diamonds Suit = "♦"
	Clubs    Suit = "♣"
)

// Value represents a card value
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

// ValidSuit reports whether s is one of the four suits.
func ValidSuit(s Suit) bool {
	switch s {
	case Spades, Hearts, Diamonds, Clubs:
		return true
	}
	return false
}

// SameColorSuit returns the other suit of the same color. The five of this
// suit (the "wrong five") counts as a trump just below the trump five.
func SameColorSuit(s Suit) Suit {
	switch s {
	case Spades:
		return Clubs
	case Clubs:
		return Spades
	case Hearts:
		return Diamonds
	default:
		return Hearts
	}
}

// Card represents a playing card
type Card struct {
	suit  Suit
	value Value
}

// NewCard creates a Card with the given suit and value.
func NewCard(suit Suit, value Value) Card {
	return Card{suit: suit, value: value}
}

// CardJSON represents a card for JSON serialization
type CardJSON struct {
	Suit  string `json:"suit"`
	Value string `json:"value"`
}

// MarshalJSON implements json.Marshaler interface for Card
func (c Card) MarshalJSON() ([]byte, error) {
	return json.Marshal(CardJSON{
		Suit:  string(c.suit),
		Value: string(c.value),
	})
}

// UnmarshalJSON implements json.Unmarshaler interface for Card
func (c *Card) UnmarshalJSON(data []byte) error {
	var cardJSON CardJSON
	if err := json.Unmarshal(data, &cardJSON); err != nil {
		return err
	}

	// Validate and convert suit
	switch cardJSON.Suit {
	case "♠", "s", "S", "spades", "Spades":
		c.suit = Spades
	case "♥", "h", "H", "hearts", "Hearts":
		c.suit = Hearts
	case "♦", "d", "D", "diamonds", "Diamonds":
		c.suit = Diamonds
	case "♣", "c", "C", "clubs", "Clubs":
		c.suit = Clubs
	default:
		return fmt.Errorf("invalid suit: %s", cardJSON.Suit)
	}

	// Validate and convert value
	switch cardJSON.Value {
	case "A", "a", "ace", "Ace":
		c.value = Ace
	case "K", "k", "king", "King":
		c.value = King
	case "Q", "q", "queen", "Queen":
		c.value = Queen
	case "J", "j", "jack", "Jack":
		c.value = Jack
	case "10", "T", "t", "ten", "Ten":
		c.value = Ten
	case "9", "nine", "Nine":
		c.value = Nine
	case "8", "eight", "Eight":
		c.value = Eight
	case "7", "seven", "Seven":
		c.value = Seven
	case "6", "six", "Six":
		c.value = Six
	case "5", "five", "Five":
		c.value = Five
	case "4", "four", "Four":
		c.value = Four
	case "3", "three", "Three":
		c.value = Three
	case "2", "two", "Two":
		c.value = Two
	default:
		return fmt.Errorf("invalid value: %s", cardJSON.Value)
	}

	return nil
}

// String returns a string representation of the card
func (c Card) String() string {
	return string(c.value) + string(c.suit)
}

// Suit returns the card's suit.
func (c Card) Suit() Suit {
	return c.suit
}

// Value returns the card's value.
func (c Card) Value() Value {
	return c.value
}

// IsTrump reports whether the card belongs to the trump set for the given
// trump suit: the thirteen trump-suit cards plus the wrong five.
func (c Card) IsTrump(trump Suit) bool {
	if c.suit == trump {
		return true
	}
	return c.value == Five && c.suit == SameColorSuit(trump)
}

// PointValue returns the card's score value within the trump set: ace,
// jack, ten, and deuce are worth one; the right and wrong fives are worth
// five; everything else is worth nothing. Fourteen points per hand.
func (c Card) PointValue(trump Suit) int {
	if !c.IsTrump(trump) {
		return 0
	}
	switch c.value {
	case Ace, Jack, Ten, Two:
		return 1
	case Five:
		return 5
	}
	return 0
}

// trumpStrength orders the trump set for trick resolution: A K Q J 10 9 8
// 7 6 5 wrong-5 4 3 2. Returns 0 for non-trumps.
func (c Card) trumpStrength(trump Suit) int {
	if !c.IsTrump(trump) {
		return 0
	}
	if c.value == Five {
		if c.suit == trump {
			return 50
		}
		return 45 // wrong five slots between the five and the four
	}
	switch c.value {
	case Ace:
		return 140
	case King:
		return 130
	case Queen:
		return 120
	case Jack:
		return 110
	case Ten:
		return 100
	case Nine:
		return 90
	case Eight:
		return 80
	case Seven:
		return 70
	case Six:
		return 60
	case Four:
		return 40
	case Three:
		return 30
	default: // Two
		return 20
	}
}
