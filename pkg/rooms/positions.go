package rooms

import (
	"strings"

	"github.com/marcelfahle/pidro-backend-sub005/pkg/pidro"
)

// Positions maps each seat to the id of its occupant. An absent key means
// the seat is open. It is the single source of truth for seating; every
// derived view (player list, open seats, team capacity) is computed from it.
type Positions map[pidro.Seat]string

// EmptyPositions returns a seating with all four seats open.
func EmptyPositions() Positions {
	return make(Positions, 4)
}

// Clone returns an independent copy.
func (p Positions) Clone() Positions {
	out := make(Positions, len(p))
	for s, id := range p {
		out[s] = id
	}
	return out
}

// Count returns the number of occupied seats.
func (p Positions) Count() int {
	return len(p)
}

// Available returns the open seats in canonical order N, E, S, W.
func (p Positions) Available() []pidro.Seat {
	var open []pidro.Seat
	for _, s := range pidro.Seats() {
		if _, ok := p[s]; !ok {
			open = append(open, s)
		}
	}
	return open
}

// TeamAvailable returns the open seats of one partnership in canonical order.
func (p Positions) TeamAvailable(team pidro.Team) []pidro.Seat {
	var open []pidro.Seat
	for _, s := range pidro.TeamSeats(team) {
		if _, ok := p[s]; !ok {
			open = append(open, s)
		}
	}
	return open
}

// PlayerIDs returns the occupant ids in canonical seat order.
func (p Positions) PlayerIDs() []string {
	var ids []string
	for _, s := range pidro.Seats() {
		if id, ok := p[s]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// HasPlayer reports whether the id occupies any seat.
func (p Positions) HasPlayer(id string) bool {
	_, ok := p.GetSeat(id)
	return ok
}

// GetSeat returns the seat occupied by the id.
func (p Positions) GetSeat(id string) (pidro.Seat, bool) {
	for _, s := range pidro.Seats() {
		if p[s] == id {
			return s, true
		}
	}
	return "", false
}

// Remove clears the seat held by the id. Removing an absent id is a no-op.
func (p Positions) Remove(id string) {
	if s, ok := p.GetSeat(id); ok {
		delete(p, s)
	}
}

// SeatChoice is a join-time seating preference: a specific seat, a
// partnership, or automatic assignment.
type SeatChoice struct {
	Seat pidro.Seat
	Team pidro.Team
	Auto bool
}

// AutoChoice picks the first open seat in canonical order.
func AutoChoice() SeatChoice { return SeatChoice{Auto: true} }

// ChooseSeat requests one specific seat.
func ChooseSeat(s pidro.Seat) SeatChoice { return SeatChoice{Seat: s} }

// ChooseTeam requests the first open seat of a partnership.
func ChooseTeam(t pidro.Team) SeatChoice { return SeatChoice{Team: t} }

// ParseSeatChoice reads a client-supplied choice string. Accepted forms,
// case-insensitively: "auto" or empty, a seat ("N", "E", "S", "W"), or a
// team ("NS", "EW").
func ParseSeatChoice(s string) (SeatChoice, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "AUTO":
		return AutoChoice(), nil
	case "N":
		return ChooseSeat(pidro.North), nil
	case "E":
		return ChooseSeat(pidro.East), nil
	case "S":
		return ChooseSeat(pidro.South), nil
	case "W":
		return ChooseSeat(pidro.West), nil
	case "NS":
		return ChooseTeam(pidro.TeamNS), nil
	case "EW":
		return ChooseTeam(pidro.TeamEW), nil
	}
	return SeatChoice{}, ErrInvalidChoice
}

// String renders the choice in the same form ParseSeatChoice reads.
func (c SeatChoice) String() string {
	switch {
	case c.Auto:
		return "auto"
	case c.Seat != "":
		return string(c.Seat)
	case c.Team != "":
		return string(c.Team)
	}
	return "auto"
}

// Assign seats the id according to the choice and returns the seat taken.
// Team choices take the first open seat of that team in canonical order;
// auto takes the first open seat overall.
func (p Positions) Assign(id string, choice SeatChoice) (pidro.Seat, error) {
	if p.HasPlayer(id) {
		return "", ErrAlreadySeated
	}
	if p.Count() >= 4 {
		return "", ErrRoomFull
	}

	switch {
	case choice.Auto:
		open := p.Available()
		p[open[0]] = id
		return open[0], nil

	case choice.Seat != "":
		if !pidro.ValidSeat(choice.Seat) {
			return "", ErrInvalidChoice
		}
		if _, taken := p[choice.Seat]; taken {
			return "", ErrSeatTaken
		}
		p[choice.Seat] = id
		return choice.Seat, nil

	case choice.Team != "":
		if choice.Team != pidro.TeamNS && choice.Team != pidro.TeamEW {
			return "", ErrInvalidChoice
		}
		open := p.TeamAvailable(choice.Team)
		if len(open) == 0 {
			return "", ErrTeamFull
		}
		p[open[0]] = id
		return open[0], nil
	}
	return "", ErrInvalidChoice
}
