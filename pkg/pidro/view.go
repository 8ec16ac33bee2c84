package pidro

// View is a state projection safe to hand to one viewer. Hidden zones are
// reduced to counts; public zones (auction, trump, trick, scores) pass
// through unchanged.
type View struct {
	Players    map[Seat]string `json:"players"`
	HandNum    int             `json:"hand_num"`
	Dealer     Seat            `json:"dealer"`
	Phase      Phase           `json:"phase"`
	Turn       Seat            `json:"turn"`
	ViewerSeat Seat            `json:"viewer_seat,omitempty"`

	Hand       []Card       `json:"hand,omitempty"`
	HandCounts map[Seat]int `json:"hand_counts"`

	Bids     []BidEntry `json:"bids"`
	HighBid  int        `json:"high_bid"`
	Declarer Seat       `json:"declarer,omitempty"`
	Trump    Suit       `json:"trump,omitempty"`

	// Pool is only present for the dealer while robbing; everyone else
	// gets PoolCount.
	Pool      []Card `json:"pool,omitempty"`
	PoolCount int    `json:"pool_count,omitempty"`

	Eliminated []Seat       `json:"eliminated,omitempty"`
	Trick      []TrickPlay  `json:"trick"`
	TrickLead  Seat         `json:"trick_lead,omitempty"`
	TricksDone int          `json:"tricks_done"`
	Captured   map[Team]int `json:"captured"`

	Scores    map[Team]int `json:"scores"`
	Winner    Team         `json:"winner,omitempty"`
	DeckCount int          `json:"deck_count"`
}

// MaskStateFor projects the state for one viewer. A seated viewer sees its
// own hand and, when it is the robbing dealer, the pool it must choose
// from. Spectators see counts only.
func (r *Rules) MaskStateFor(st *State, viewer Viewer) *View {
	v := &View{
		HandNum:    st.HandNum,
		Dealer:     st.Dealer,
		Phase:      st.Phase,
		Turn:       st.Turn,
		HighBid:    st.HighBid,
		Declarer:   st.Declarer,
		Trump:      st.Trump,
		TrickLead:  st.TrickLead,
		TricksDone: st.TricksDone,
		DeckCount:  st.DeckSize(),
	}

	v.Players = make(map[Seat]string, len(st.Players))
	for s, pid := range st.Players {
		v.Players[s] = pid
	}
	v.HandCounts = make(map[Seat]int, 4)
	for _, s := range Seats() {
		v.HandCounts[s] = len(st.Hands[s])
	}
	v.Bids = make([]BidEntry, len(st.Bids))
	copy(v.Bids, st.Bids)
	v.Trick = make([]TrickPlay, len(st.Trick))
	copy(v.Trick, st.Trick)
	v.Captured = make(map[Team]int, len(st.Captured))
	for t, n := range st.Captured {
		v.Captured[t] = n
	}
	v.Scores = make(map[Team]int, len(st.Scores))
	for t, n := range st.Scores {
		v.Scores[t] = n
	}
	for _, s := range Seats() {
		if st.Eliminated[s] {
			v.Eliminated = append(v.Eliminated, s)
		}
	}
	v.Winner = st.Winner

	if st.Phase == PhaseRobbing {
		v.PoolCount = len(st.Pool)
	}

	if viewer.Spectator || !ValidSeat(viewer.Seat) {
		return v
	}

	v.ViewerSeat = viewer.Seat
	v.Hand = st.HandOf(viewer.Seat)

	// The robbing dealer must be able to see what it is choosing from.
	if st.Phase == PhaseRobbing && viewer.Seat == st.Dealer {
		v.Pool = make([]Card, len(st.Pool))
		copy(v.Pool, st.Pool)
	}

	return v
}
