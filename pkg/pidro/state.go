package pidro

import "math/rand"

// Phase tags the stages a hand moves through. PhaseComplete is the single
// terminal tag; every consumer checks this constant and nothing else.
type Phase string

const (
	PhaseBidding        Phase = "bidding"
	PhaseTrumpSelection Phase = "trump_selection"
	PhaseRobbing        Phase = "robbing"
	PhasePlaying        Phase = "playing"
	PhaseComplete       Phase = "complete"
)

// WinningScore is the cumulative team score that ends the game.
const WinningScore = 62

// Bid limits. A bid names the points the partnership commits to capture
// out of the fourteen available per hand.
const (
	MinBid = 6
	MaxBid = 14
)

// BidEntry records one auction turn.
type BidEntry struct {
	Seat   Seat `json:"seat"`
	Amount int  `json:"amount"` // 0 when passed
	Pass   bool `json:"pass"`
}

// TrickPlay records one card played to the current trick.
type TrickPlay struct {
	Seat Seat `json:"seat"`
	Card Card `json:"card"`
}

// State is the complete game value. It is owned by a single writer (the
// game coordinator); ApplyAction never mutates its input, it returns a
// fresh State.
type State struct {
	Players map[Seat]string `json:"players"` // seating at game start
	HandNum int             `json:"hand_num"`
	Dealer  Seat            `json:"dealer"`
	Phase   Phase           `json:"phase"`
	Turn    Seat            `json:"turn"` // empty when no seat is to move

	Hands map[Seat][]Card `json:"hands"`

	// Auction, reset each hand.
	Bids     []BidEntry `json:"bids"`
	HighBid  int        `json:"high_bid"`
	Declarer Seat       `json:"declarer"`

	Trump Suit `json:"trump"`

	// Pool holds the dealer's robbing choices: own trumps plus the rest of
	// the pack. Only populated during PhaseRobbing.
	Pool []Card `json:"pool,omitempty"`

	// Trick play, reset each hand.
	Eliminated map[Seat]bool `json:"eliminated"`
	Trick      []TrickPlay   `json:"trick"`
	TrickLead  Seat          `json:"trick_lead"`
	TricksDone int           `json:"tricks_done"`
	Captured   map[Team]int  `json:"captured"`

	Scores map[Team]int `json:"scores"`
	Winner Team         `json:"winner,omitempty"` // set once Phase == PhaseComplete

	deck *Deck
	rng  *rand.Rand
}

// Clone returns a deep copy of the state. The random source is shared: the
// old value is discarded by the single writer after a successful apply.
func (st *State) Clone() *State {
	out := &State{
		HandNum:    st.HandNum,
		Dealer:     st.Dealer,
		Phase:      st.Phase,
		Turn:       st.Turn,
		HighBid:    st.HighBid,
		Declarer:   st.Declarer,
		Trump:      st.Trump,
		TrickLead:  st.TrickLead,
		TricksDone: st.TricksDone,
		Winner:     st.Winner,
		rng:        st.rng,
	}

	out.Players = make(map[Seat]string, len(st.Players))
	for s, pid := range st.Players {
		out.Players[s] = pid
	}
	out.Hands = make(map[Seat][]Card, len(st.Hands))
	for s, hand := range st.Hands {
		cards := make([]Card, len(hand))
		copy(cards, hand)
		out.Hands[s] = cards
	}
	out.Bids = make([]BidEntry, len(st.Bids))
	copy(out.Bids, st.Bids)
	if st.Pool != nil {
		out.Pool = make([]Card, len(st.Pool))
		copy(out.Pool, st.Pool)
	}
	out.Eliminated = make(map[Seat]bool, len(st.Eliminated))
	for s, v := range st.Eliminated {
		out.Eliminated[s] = v
	}
	out.Trick = make([]TrickPlay, len(st.Trick))
	copy(out.Trick, st.Trick)
	out.Captured = make(map[Team]int, len(st.Captured))
	for t, v := range st.Captured {
		out.Captured[t] = v
	}
	out.Scores = make(map[Team]int, len(st.Scores))
	for t, v := range st.Scores {
		out.Scores[t] = v
	}
	if st.deck != nil {
		out.deck = &Deck{cards: make([]Card, len(st.deck.cards)), rng: st.rng}
		copy(out.deck.cards, st.deck.cards)
	}

	return out
}

// DeckSize returns the number of undealt cards.
func (st *State) DeckSize() int {
	if st.deck == nil {
		return 0
	}
	return st.deck.Size()
}

// HandOf returns a copy of a seat's hand.
func (st *State) HandOf(seat Seat) []Card {
	hand := st.Hands[seat]
	out := make([]Card, len(hand))
	copy(out, hand)
	return out
}

// Trumps returns the trump cards in a seat's hand.
func (st *State) Trumps(seat Seat) []Card {
	if st.Trump == "" {
		return nil
	}
	var out []Card
	for _, c := range st.Hands[seat] {
		if c.IsTrump(st.Trump) {
			out = append(out, c)
		}
	}
	return out
}
