package pidro

import (
	"fmt"
	"strings"
)

// ActionType tags the kinds of moves the rules accept.
type ActionType string

const (
	ActionBid          ActionType = "bid"
	ActionPass         ActionType = "pass"
	ActionDeclareTrump ActionType = "declare_trump"
	ActionPlayCard     ActionType = "play_card"
	// ActionSelectHand is the dealer's pack-robbing move: choosing the six
	// cards to keep out of hand plus the remaining pack.
	ActionSelectHand ActionType = "select_hand"
)

// Action is a tagged move value. Only the fields relevant to Type are set;
// the coordination layer passes actions through opaquely.
type Action struct {
	Type  ActionType `json:"type"`
	Bid   int        `json:"bid,omitempty"`
	Suit  Suit       `json:"suit,omitempty"`
	Card  *Card      `json:"card,omitempty"`
	Cards []Card     `json:"cards,omitempty"`
}

// BidAction returns a bid of n points.
func BidAction(n int) Action {
	return Action{Type: ActionBid, Bid: n}
}

// PassAction returns a pass.
func PassAction() Action {
	return Action{Type: ActionPass}
}

// DeclareTrumpAction returns a trump declaration.
func DeclareTrumpAction(s Suit) Action {
	return Action{Type: ActionDeclareTrump, Suit: s}
}

// PlayCardAction returns a card play.
func PlayCardAction(c Card) Action {
	return Action{Type: ActionPlayCard, Card: &c}
}

// SelectHandAction returns the dealer's robbing selection.
func SelectHandAction(cards []Card) Action {
	kept := make([]Card, len(cards))
	copy(kept, cards)
	return Action{Type: ActionSelectHand, Cards: kept}
}

// String returns a short human-readable form for logs.
func (a Action) String() string {
	switch a.Type {
	case ActionBid:
		return fmt.Sprintf("bid %d", a.Bid)
	case ActionPass:
		return "pass"
	case ActionDeclareTrump:
		return fmt.Sprintf("declare trump %s", a.Suit)
	case ActionPlayCard:
		if a.Card != nil {
			return fmt.Sprintf("play %s", a.Card)
		}
		return "play ?"
	case ActionSelectHand:
		parts := make([]string, len(a.Cards))
		for i, c := range a.Cards {
			parts[i] = c.String()
		}
		return fmt.Sprintf("keep [%s]", strings.Join(parts, " "))
	}
	return string(a.Type)
}
