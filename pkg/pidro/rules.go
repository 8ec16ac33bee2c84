package pidro

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"
)

// Rejection errors returned by ApplyAction. All of them mean the action was
// refused and the prior state stands.
var (
	ErrWrongPlayerCount = errors.New("pidro: four seated players required")
	ErrWrongPhase       = errors.New("pidro: action not valid in this phase")
	ErrNotYourTurn      = errors.New("pidro: not this seat's turn")
	ErrInvalidSeat      = errors.New("pidro: invalid seat")
	ErrBidOutOfRange    = errors.New("pidro: bid out of range")
	ErrBidTooLow        = errors.New("pidro: bid does not beat the high bid")
	ErrPassForbidden    = errors.New("pidro: dealer must bid when all have passed")
	ErrInvalidSuit      = errors.New("pidro: invalid trump suit")
	ErrCardNotHeld      = errors.New("pidro: card not in hand")
	ErrNotTrump         = errors.New("pidro: only trump cards may be played")
	ErrBadSelection     = errors.New("pidro: invalid robbing selection")
	ErrUnknownAction    = errors.New("pidro: unknown action type")
)

// HandSize is the number of cards each seat plays a hand with after the
// discard and draw.
const HandSize = 6

const dealSize = 9

// Rules implements Finnish Pidro as a set of pure transitions over State.
// A single Rules value serves any number of concurrent games; every game
// carries its own random source.
type Rules struct {
	seedFn func() int64
}

var seedCounter int64

// NewRules returns the production rule set with time-seeded decks.
func NewRules() *Rules {
	return &Rules{
		seedFn: func() int64 {
			return time.Now().UnixNano() + atomic.AddInt64(&seedCounter, 1)
		},
	}
}

// NewRulesSeeded returns a rule set whose games deal deterministically,
// for tests. Successive games draw successive seeds.
func NewRulesSeeded(seed int64) *Rules {
	var n int64
	return &Rules{
		seedFn: func() int64 {
			n++
			return seed + n
		},
	}
}

// InitialState deals the first hand for four seated players. The players
// map must cover every seat with a non-empty id.
func (r *Rules) InitialState(players map[Seat]string) (*State, error) {
	if len(players) != 4 {
		return nil, ErrWrongPlayerCount
	}
	for _, s := range Seats() {
		if players[s] == "" {
			return nil, fmt.Errorf("%w: seat %s is empty", ErrWrongPlayerCount, s)
		}
	}

	st := &State{
		Players: make(map[Seat]string, 4),
		HandNum: 1,
		Dealer:  North,
		Scores:  map[Team]int{TeamNS: 0, TeamEW: 0},
		rng:     rand.New(rand.NewSource(r.seedFn())),
	}
	for s, pid := range players {
		st.Players[s] = pid
	}

	r.dealHand(st)
	return st, nil
}

// Phase returns the state's phase tag.
func (r *Rules) Phase(st *State) Phase {
	return st.Phase
}

// Winner returns the winning team once the game is complete.
func (r *Rules) Winner(st *State) (Team, bool) {
	return st.Winner, st.Winner != ""
}

// CurrentTurn returns the seat to move, if any seat is to move.
func (r *Rules) CurrentTurn(st *State) (Seat, bool) {
	if st.Phase == PhaseComplete || st.Turn == "" {
		return "", false
	}
	return st.Turn, true
}

// LegalActions enumerates the moves open to a seat. The list is empty for
// seats not on turn and for eliminated seats. During robbing the single
// canonical selection is returned; ApplyAction accepts any valid six.
func (r *Rules) LegalActions(st *State, seat Seat) []Action {
	if !ValidSeat(seat) || seat != st.Turn {
		return nil
	}

	switch st.Phase {
	case PhaseBidding:
		return r.legalBids(st, seat)
	case PhaseTrumpSelection:
		return []Action{
			DeclareTrumpAction(Spades),
			DeclareTrumpAction(Hearts),
			DeclareTrumpAction(Diamonds),
			DeclareTrumpAction(Clubs),
		}
	case PhaseRobbing:
		return []Action{SelectHandAction(canonicalSelection(st.Pool, st.Trump))}
	case PhasePlaying:
		var acts []Action
		for _, c := range st.Hands[seat] {
			if c.IsTrump(st.Trump) {
				acts = append(acts, PlayCardAction(c))
			}
		}
		return acts
	}
	return nil
}

func (r *Rules) legalBids(st *State, seat Seat) []Action {
	var acts []Action
	if seat == st.Dealer {
		if st.HighBid == 0 {
			// All three passed: the dealer takes the hand at the minimum.
			return []Action{BidAction(MinBid)}
		}
		// Dealer privilege: matching the high bid takes it.
		acts = append(acts, PassAction())
		for n := st.HighBid; n <= MaxBid; n++ {
			acts = append(acts, BidAction(n))
		}
		return acts
	}

	acts = append(acts, PassAction())
	lo := MinBid
	if st.HighBid >= lo {
		lo = st.HighBid + 1
	}
	for n := lo; n <= MaxBid; n++ {
		acts = append(acts, BidAction(n))
	}
	return acts
}

// ApplyAction validates and applies one move, returning the successor
// state. The input state is never mutated; on error it stands unchanged.
func (r *Rules) ApplyAction(st *State, seat Seat, act Action) (*State, error) {
	if !ValidSeat(seat) {
		return nil, ErrInvalidSeat
	}
	if st.Phase == PhaseComplete {
		return nil, ErrWrongPhase
	}
	if seat != st.Turn {
		return nil, ErrNotYourTurn
	}

	next := st.Clone()

	var err error
	switch act.Type {
	case ActionBid:
		err = r.applyBid(next, seat, act.Bid)
	case ActionPass:
		err = r.applyPass(next, seat)
	case ActionDeclareTrump:
		err = r.applyDeclareTrump(next, seat, act.Suit)
	case ActionSelectHand:
		err = r.applySelectHand(next, seat, act.Cards)
	case ActionPlayCard:
		err = r.applyPlayCard(next, seat, act.Card)
	default:
		err = ErrUnknownAction
	}
	if err != nil {
		return nil, err
	}
	return next, nil
}

func (r *Rules) applyBid(st *State, seat Seat, amount int) error {
	if st.Phase != PhaseBidding {
		return ErrWrongPhase
	}
	if amount < MinBid || amount > MaxBid {
		return ErrBidOutOfRange
	}
	if seat == st.Dealer {
		if st.HighBid == 0 && amount != MinBid {
			// The forced dealer has no amount to choose.
			return ErrBidOutOfRange
		}
		if st.HighBid > 0 && amount < st.HighBid {
			return ErrBidTooLow
		}
	} else if amount <= st.HighBid {
		return ErrBidTooLow
	}

	st.Bids = append(st.Bids, BidEntry{Seat: seat, Amount: amount})
	// A dealer match steals the bid, so >= takes the declaration.
	if amount >= st.HighBid {
		st.HighBid = amount
		st.Declarer = seat
	}
	r.advanceAuction(st)
	return nil
}

func (r *Rules) applyPass(st *State, seat Seat) error {
	if st.Phase != PhaseBidding {
		return ErrWrongPhase
	}
	if seat == st.Dealer && st.HighBid == 0 {
		return ErrPassForbidden
	}
	st.Bids = append(st.Bids, BidEntry{Seat: seat, Pass: true})
	r.advanceAuction(st)
	return nil
}

func (r *Rules) advanceAuction(st *State) {
	if len(st.Bids) < 4 {
		st.Turn = NextSeat(st.Turn)
		return
	}
	// Auction closed; dealer bid last. Declarer was tracked as bids came in
	// and is always set because the dealer may not pass an empty auction.
	st.Phase = PhaseTrumpSelection
	st.Turn = st.Declarer
}

func (r *Rules) applyDeclareTrump(st *State, seat Seat, suit Suit) error {
	if st.Phase != PhaseTrumpSelection {
		return ErrWrongPhase
	}
	if !ValidSuit(suit) {
		return ErrInvalidSuit
	}
	st.Trump = suit
	r.discardAndDraw(st)
	return nil
}

// discardAndDraw throws away every non-trump, refills the three non-dealer
// hands to six in seating order, and hands the dealer the rest of the pack
// as the robbing pool.
func (r *Rules) discardAndDraw(st *State) {
	for s := NextSeat(st.Dealer); s != st.Dealer; s = NextSeat(s) {
		kept := keptTrumps(st.Hands[s], st.Trump)
		if len(kept) > HandSize {
			kept = keepSix(kept, st.Trump)
		}
		for len(kept) < HandSize {
			c, ok := st.deck.Draw()
			if !ok {
				break // short pack, short hand
			}
			kept = append(kept, c)
		}
		st.Hands[s] = kept
	}

	pool := keptTrumps(st.Hands[st.Dealer], st.Trump)
	pool = append(pool, st.deck.DrawN(st.deck.Size())...)
	st.Pool = pool
	st.Hands[st.Dealer] = nil
	st.Phase = PhaseRobbing
	st.Turn = st.Dealer
}

func (r *Rules) applySelectHand(st *State, seat Seat, cards []Card) error {
	if st.Phase != PhaseRobbing {
		return ErrWrongPhase
	}
	want := HandSize
	if len(st.Pool) < want {
		want = len(st.Pool)
	}
	if len(cards) != want {
		return fmt.Errorf("%w: need %d cards, got %d", ErrBadSelection, want, len(cards))
	}

	seen := make(map[Card]bool, len(cards))
	for _, c := range cards {
		if seen[c] {
			return fmt.Errorf("%w: duplicate card %s", ErrBadSelection, c)
		}
		seen[c] = true
		if !containsCard(st.Pool, c) {
			return fmt.Errorf("%w: %s is not in the pool", ErrBadSelection, c)
		}
	}
	// Point trumps may not be buried.
	for _, c := range st.Pool {
		if c.PointValue(st.Trump) > 0 && !seen[c] {
			return fmt.Errorf("%w: %s must be kept", ErrBadSelection, c)
		}
	}

	hand := make([]Card, len(cards))
	copy(hand, cards)
	st.Hands[seat] = hand
	st.Pool = nil
	r.startPlay(st)
	return nil
}

func (r *Rules) startPlay(st *State) {
	st.Phase = PhasePlaying
	st.Eliminated = make(map[Seat]bool, 4)
	for _, s := range Seats() {
		st.Eliminated[s] = len(st.Trumps(s)) == 0
	}

	lead, ok := r.firstPlayable(st, st.Declarer)
	if !ok {
		// Nobody holds a trump; nothing to play out.
		r.scoreHand(st)
		return
	}
	st.TrickLead = lead
	st.Turn = lead
	st.Trick = nil
	st.TricksDone = 0
}

// firstPlayable walks clockwise from the given seat to the first seat
// still holding trumps.
func (r *Rules) firstPlayable(st *State, from Seat) (Seat, bool) {
	s := from
	for i := 0; i < 4; i++ {
		if !st.Eliminated[s] {
			return s, true
		}
		s = NextSeat(s)
	}
	return "", false
}

func (r *Rules) applyPlayCard(st *State, seat Seat, card *Card) error {
	if st.Phase != PhasePlaying {
		return ErrWrongPhase
	}
	if card == nil {
		return ErrCardNotHeld
	}
	if !containsCard(st.Hands[seat], *card) {
		return ErrCardNotHeld
	}
	if !card.IsTrump(st.Trump) {
		return ErrNotTrump
	}

	st.Hands[seat] = removeCard(st.Hands[seat], *card)
	st.Trick = append(st.Trick, TrickPlay{Seat: seat, Card: *card})

	if len(st.Trick) >= r.activeSeats(st) {
		r.settleTrick(st)
		return nil
	}

	// Next non-eliminated seat that has not yet played to this trick.
	s := NextSeat(seat)
	for st.Eliminated[s] {
		s = NextSeat(s)
	}
	st.Turn = s
	return nil
}

func (r *Rules) activeSeats(st *State) int {
	n := 0
	for _, s := range Seats() {
		if !st.Eliminated[s] {
			n++
		}
	}
	return n
}

// settleTrick awards the trick to the strongest trump, banks the points
// (the deuce always scores for the side that played it), and either leads
// the next trick or scores the hand.
func (r *Rules) settleTrick(st *State) {
	winner := st.Trick[0].Seat
	best := st.Trick[0].Card.trumpStrength(st.Trump)
	for _, play := range st.Trick[1:] {
		if s := play.Card.trumpStrength(st.Trump); s > best {
			best = s
			winner = play.Seat
		}
	}

	winTeam := TeamOf(winner)
	for _, play := range st.Trick {
		pv := play.Card.PointValue(st.Trump)
		if pv == 0 {
			continue
		}
		if play.Card.Value() == Two {
			st.Captured[TeamOf(play.Seat)] += pv
		} else {
			st.Captured[winTeam] += pv
		}
	}

	st.TricksDone++
	st.Trick = nil

	for _, s := range Seats() {
		if !st.Eliminated[s] && len(st.Trumps(s)) == 0 {
			st.Eliminated[s] = true
		}
	}

	if st.TricksDone >= HandSize || r.activeSeats(st) == 0 {
		r.scoreHand(st)
		return
	}

	lead, ok := r.firstPlayable(st, winner)
	if !ok {
		r.scoreHand(st)
		return
	}
	st.TrickLead = lead
	st.Turn = lead
}

// scoreHand settles the auction contract, checks the winning score, and
// either completes the game or deals the next hand.
func (r *Rules) scoreHand(st *State) {
	bidTeam := TeamOf(st.Declarer)
	defTeam := OtherTeam(bidTeam)

	if st.Captured[bidTeam] >= st.HighBid {
		st.Scores[bidTeam] += st.Captured[bidTeam]
	} else {
		st.Scores[bidTeam] -= st.HighBid // set
	}
	st.Scores[defTeam] += st.Captured[defTeam]

	// The bidding team goes out first on a simultaneous crossing.
	switch {
	case st.Scores[bidTeam] >= WinningScore:
		st.Winner = bidTeam
	case st.Scores[defTeam] >= WinningScore:
		st.Winner = defTeam
	}
	if st.Winner != "" {
		st.Phase = PhaseComplete
		st.Turn = ""
		st.Pool = nil
		return
	}

	st.HandNum++
	st.Dealer = NextSeat(st.Dealer)
	r.dealHand(st)
}

// dealHand shuffles a fresh pack and deals nine cards to each seat,
// resetting all per-hand fields.
func (r *Rules) dealHand(st *State) {
	st.deck = NewDeck(st.rng)
	st.Hands = make(map[Seat][]Card, 4)
	for s := NextSeat(st.Dealer); ; s = NextSeat(s) {
		st.Hands[s] = st.deck.DrawN(dealSize)
		if s == st.Dealer {
			break
		}
	}

	st.Bids = nil
	st.HighBid = 0
	st.Declarer = ""
	st.Trump = ""
	st.Pool = nil
	st.Eliminated = make(map[Seat]bool, 4)
	st.Trick = nil
	st.TrickLead = ""
	st.TricksDone = 0
	st.Captured = map[Team]int{TeamNS: 0, TeamEW: 0}
	st.Phase = PhaseBidding
	st.Turn = NextSeat(st.Dealer)
}

// keptTrumps filters a hand down to its trump cards.
func keptTrumps(hand []Card, trump Suit) []Card {
	var out []Card
	for _, c := range hand {
		if c.IsTrump(trump) {
			out = append(out, c)
		}
	}
	return out
}

// keepSix trims an over-full trump holding to six cards, keeping every
// point trump and then the strongest of the rest. The six point cards fit
// exactly, so points are never forced out.
func keepSix(trumps []Card, trump Suit) []Card {
	sorted := make([]Card, len(trumps))
	copy(sorted, trumps)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := sorted[i].PointValue(trump), sorted[j].PointValue(trump)
		if (pi > 0) != (pj > 0) {
			return pi > 0
		}
		return sorted[i].trumpStrength(trump) > sorted[j].trumpStrength(trump)
	})
	return sorted[:HandSize]
}

// canonicalSelection is the robbing keep offered through LegalActions:
// every point trump, then trumps by strength, padded with the highest
// discards up to the hand size.
func canonicalSelection(pool []Card, trump Suit) []Card {
	sorted := make([]Card, len(pool))
	copy(sorted, pool)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, tj := sorted[i].IsTrump(trump), sorted[j].IsTrump(trump)
		if ti != tj {
			return ti
		}
		if ti {
			pi, pj := sorted[i].PointValue(trump), sorted[j].PointValue(trump)
			if (pi > 0) != (pj > 0) {
				return pi > 0
			}
			return sorted[i].trumpStrength(trump) > sorted[j].trumpStrength(trump)
		}
		return faceOrder(sorted[i].Value()) > faceOrder(sorted[j].Value())
	})
	if len(sorted) > HandSize {
		sorted = sorted[:HandSize]
	}
	return sorted
}

// faceOrder ranks plain card values ace-high for discard sorting.
func faceOrder(v Value) int {
	switch v {
	case Ace:
		return 14
	case King:
		return 13
	case Queen:
		return 12
	case Jack:
		return 11
	case Ten:
		return 10
	case Nine:
		return 9
	case Eight:
		return 8
	case Seven:
		return 7
	case Six:
		return 6
	case Five:
		return 5
	case Four:
		return 4
	case Three:
		return 3
	default:
		return 2
	}
}

func containsCard(cards []Card, c Card) bool {
	for _, x := range cards {
		if x == c {
			return true
		}
	}
	return false
}

func removeCard(cards []Card, c Card) []Card {
	for i, x := range cards {
		if x == c {
			out := make([]Card, 0, len(cards)-1)
			out = append(out, cards[:i]...)
			out = append(out, cards[i+1:]...)
			return out
		}
	}
	return cards
}
