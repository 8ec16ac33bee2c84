package rooms

import (
	"time"

	"github.com/marcelfahle/pidro-backend-sub005/pkg/pidro"
)

// Status is the room lifecycle state.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusReady    Status = "ready"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
	StatusClosed   Status = "closed"
)

// validNext lists the allowed status transitions. Closing is allowed from
// anywhere and handled separately.
var validNext = map[Status][]Status{
	StatusWaiting: {StatusReady},
	StatusReady:   {StatusWaiting, StatusPlaying},
	StatusPlaying: {StatusFinished},
}

func canTransition(from, to Status) bool {
	if to == StatusClosed {
		return true
	}
	for _, s := range validNext[from] {
		if s == to {
			return true
		}
	}
	return false
}

// RoomType separates publicly listed rooms from solo practice rooms.
type RoomType string

const (
	TypePublic   RoomType = "public"
	TypePractice RoomType = "practice"
)

// disconnectInfo tracks one player's grace window. The timer handle is kept
// so reconnects can cancel it; the pointer identity also lets a fired timer
// detect that it has been superseded.
type disconnectInfo struct {
	Since    time.Time
	Deadline time.Time
	timer    *time.Timer
}

// Room is the manager-owned record for one table. All fields are guarded by
// the Manager's lock; nothing outside the package touches a Room directly.
type Room struct {
	Code         string
	HostID       string
	CreatedAt    time.Time
	LastActivity time.Time
	Status       Status
	Type         RoomType
	Metadata     map[string]string

	Positions Positions

	// OriginalOccupants records the first human to hold each seat. Bot
	// replacement never overwrites it; it is the reclaim identity.
	OriginalOccupants map[pidro.Seat]string

	// BotSeats marks seats currently held by bots.
	BotSeats map[pidro.Seat]bool

	// Disconnected tracks seated players inside a grace window.
	Disconnected map[string]*disconnectInfo

	// PendingBots lists practice-room seats whose bots have not been
	// spawned yet. Cleared once claimed.
	PendingBots []pidro.Seat
	botsClaimed bool
}

func (r *Room) touch(now time.Time) {
	r.LastActivity = now
}

// humanCount returns the number of seated non-bot occupants.
func (r *Room) humanCount() int {
	n := 0
	for _, id := range r.Positions {
		if !IsBotID(id) {
			n++
		}
	}
	return n
}

// Snapshot is a deep copy of a room handed to callers and published on
// topics. Mutating a snapshot has no effect on the live room.
type Snapshot struct {
	Code         string            `json:"code"`
	HostID       string            `json:"host_id"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
	Status       Status            `json:"status"`
	Type         RoomType          `json:"room_type"`
	Metadata     map[string]string `json:"metadata,omitempty"`

	Positions      Positions    `json:"positions"`
	PlayerIDs      []string     `json:"player_ids"`
	AvailableSeats []pidro.Seat `json:"available_seats"`
	Count          int          `json:"count"`

	OriginalOccupants map[pidro.Seat]string `json:"original_occupants,omitempty"`
	BotSeats          []pidro.Seat          `json:"bot_seats,omitempty"`
	Disconnected      map[string]time.Time  `json:"disconnected,omitempty"`
	PendingBots       []pidro.Seat          `json:"pending_bots,omitempty"`
}

func (r *Room) snapshot() Snapshot {
	snap := Snapshot{
		Code:           r.Code,
		HostID:         r.HostID,
		CreatedAt:      r.CreatedAt,
		LastActivity:   r.LastActivity,
		Status:         r.Status,
		Type:           r.Type,
		Positions:      r.Positions.Clone(),
		PlayerIDs:      r.Positions.PlayerIDs(),
		AvailableSeats: r.Positions.Available(),
		Count:          r.Positions.Count(),
	}
	if len(r.Metadata) > 0 {
		snap.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			snap.Metadata[k] = v
		}
	}
	if len(r.OriginalOccupants) > 0 {
		snap.OriginalOccupants = make(map[pidro.Seat]string, len(r.OriginalOccupants))
		for s, id := range r.OriginalOccupants {
			snap.OriginalOccupants[s] = id
		}
	}
	for _, s := range pidro.Seats() {
		if r.BotSeats[s] {
			snap.BotSeats = append(snap.BotSeats, s)
		}
	}
	if len(r.Disconnected) > 0 {
		snap.Disconnected = make(map[string]time.Time, len(r.Disconnected))
		for id, info := range r.Disconnected {
			snap.Disconnected[id] = info.Deadline
		}
	}
	if len(r.PendingBots) > 0 {
		snap.PendingBots = append([]pidro.Seat(nil), r.PendingBots...)
	}
	return snap
}

// Events published on room and lobby topics.

// LobbyUpdate announces a change to a publicly listed room.
type LobbyUpdate struct {
	Room Snapshot `json:"room"`
}

// RoomUpdate carries the full room snapshot after any seating or status
// change.
type RoomUpdate struct {
	Room Snapshot `json:"room"`
}

// RoomClosed is the final event on a room topic.
type RoomClosed struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// BotReplacedPlayer is published when a grace window expires and a bot
// takes over the seat.
type BotReplacedPlayer struct {
	Code     string     `json:"code"`
	Seat     pidro.Seat `json:"seat"`
	PlayerID string     `json:"player_id"`
	BotID    string     `json:"bot_id"`
}

// PlayerReclaimedSeat is published when the original occupant takes a seat
// back from a bot.
type PlayerReclaimedSeat struct {
	Code     string     `json:"code"`
	Seat     pidro.Seat `json:"seat"`
	PlayerID string     `json:"player_id"`
	BotID    string     `json:"bot_id"`
}
