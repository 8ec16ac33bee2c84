package pidro

// Seat identifies one of the four table positions. Seats are the stable
// coordinate system for turn order, partnerships, and bot replacement.
type Seat string

const (
	North Seat = "N"
	East  Seat = "E"
	South Seat = "S"
	West  Seat = "W"
)

// Team identifies a partnership. North/South play against East/West.
type Team string

const (
	TeamNS Team = "NS"
	TeamEW Team = "EW"
)

// Seats returns the four seats in canonical order.
func Seats() [4]Seat {
	return [4]Seat{North, East, South, West}
}

// ValidSeat reports whether s is one of the four table positions.
func ValidSeat(s Seat) bool {
	switch s {
	case North, East, South, West:
		return true
	}
	return false
}

// TeamOf returns the partnership a seat belongs to.
func TeamOf(s Seat) Team {
	if s == North || s == South {
		return TeamNS
	}
	return TeamEW
}

// Teams returns both partnerships in canonical order.
func Teams() [2]Team {
	return [2]Team{TeamNS, TeamEW}
}

// OtherTeam returns the opposing partnership.
func OtherTeam(t Team) Team {
	if t == TeamNS {
		return TeamEW
	}
	return TeamNS
}

// TeamSeats returns the two seats of a partnership in canonical order.
func TeamSeats(t Team) [2]Seat {
	if t == TeamNS {
		return [2]Seat{North, South}
	}
	return [2]Seat{East, West}
}

// Partner returns the seat across the table.
func Partner(s Seat) Seat {
	switch s {
	case North:
		return South
	case South:
		return North
	case East:
		return West
	default:
		return East
	}
}

// NextSeat returns the seat to the left, the direction of deal and play.
func NextSeat(s Seat) Seat {
	switch s {
	case North:
		return East
	case East:
		return South
	case South:
		return West
	default:
		return North
	}
}

// Viewer identifies who a masked state projection is produced for: a seat
// or a spectator with no seat.
type Viewer struct {
	Seat      Seat
	Spectator bool
}

// SeatViewer returns a Viewer for an occupied seat.
func SeatViewer(s Seat) Viewer {
	return Viewer{Seat: s}
}

// SpectatorViewer returns the seatless Viewer.
func SpectatorViewer() Viewer {
	return Viewer{Spectator: true}
}
