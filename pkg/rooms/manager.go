// Package rooms implements the room registry: seating, lifecycle, the
// player-to-room index, and the disconnect grace protocol. A single Manager
// serialises every mutation of every room behind one lock, so each
// operation is atomic with respect to all others and events are published
// in commit order.
//
// Lock order across the server is Manager, then game supervisor or bot
// manager, then individual bots. Components below the Manager must never
// call back into it synchronously; callbacks ride on fresh goroutines.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/decred/slog"

	"github.com/marcelfahle/pidro-backend-sub005/pkg/pidro"
	"github.com/marcelfahle/pidro-backend-sub005/pkg/pubsub"
)

// GameStarter starts and stops game coordinators. StartGame must return
// only after the coordinator is registered and its initial state is
// published; it must not call back into the Manager. StopGame only signals
// shutdown and never blocks on the coordinator goroutine.
type GameStarter interface {
	StartGame(ctx context.Context, code string, players map[pidro.Seat]string) error
	StopGame(code string)
}

// BotService starts and stops bot players. StopBot blocks until the bot
// goroutine is gone and its registry entry removed; a context error means
// the wait gave up with the bot possibly still live, any other failure
// means no such bot was running.
type BotService interface {
	StartBot(ctx context.Context, code string, seat pidro.Seat, strategy string, delay time.Duration) error
	StopBot(ctx context.Context, code string, seat pidro.Seat) error
	StopAllBots(code string)
}

// Grace and housekeeping defaults.
const (
	DefaultReplaceGrace = 10 * time.Second
	DefaultRemovalGrace = 120 * time.Second
	DefaultBotStrategy  = "random"
	DefaultBotDelay     = time.Second

	// Bound on the synchronous child calls the Manager issues while
	// holding its lock.
	childCallTimeout = 5 * time.Second
)

// Config carries the Manager's tunables. Zero grace durations fall back to
// the defaults; a zero JanitorInterval disables the janitor.
type Config struct {
	Log slog.Logger
	Bus *pubsub.Bus

	ReplaceGrace    time.Duration
	RemovalGrace    time.Duration
	IdleTimeout     time.Duration
	JanitorInterval time.Duration

	BotStrategy string
	BotDelay    time.Duration
}

// Manager owns every live room.
type Manager struct {
	log slog.Logger
	bus *pubsub.Bus
	cfg Config

	mu    sync.Mutex
	rooms map[string]*Room
	// playerRooms indexes humans only; bot ids are room-scoped and never
	// indexed.
	playerRooms map[string]string

	games GameStarter
	bots  BotService

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewManager creates a Manager and starts its janitor if configured.
func NewManager(cfg Config) *Manager {
	if cfg.Log == nil {
		cfg.Log = slog.Disabled
	}
	if cfg.ReplaceGrace <= 0 {
		cfg.ReplaceGrace = DefaultReplaceGrace
	}
	if cfg.RemovalGrace <= 0 {
		cfg.RemovalGrace = DefaultRemovalGrace
	}
	if cfg.BotStrategy == "" {
		cfg.BotStrategy = DefaultBotStrategy
	}
	if cfg.BotDelay <= 0 {
		cfg.BotDelay = DefaultBotDelay
	}
	m := &Manager{
		log:         cfg.Log,
		bus:         cfg.Bus,
		cfg:         cfg,
		rooms:       make(map[string]*Room),
		playerRooms: make(map[string]string),
		quit:        make(chan struct{}),
	}
	if cfg.JanitorInterval > 0 && cfg.IdleTimeout > 0 {
		m.wg.Add(1)
		go m.janitor()
	}
	return m
}

// SetGameStarter wires the game supervisor. Must be called before rooms
// can reach four players.
func (m *Manager) SetGameStarter(gs GameStarter) {
	m.mu.Lock()
	m.games = gs
	m.mu.Unlock()
}

// SetBotService wires the bot manager.
func (m *Manager) SetBotService(bs BotService) {
	m.mu.Lock()
	m.bots = bs
	m.mu.Unlock()
}

// Close stops the janitor and cancels all pending grace timers. Rooms are
// left in place; Close is for server shutdown, not room teardown.
func (m *Manager) Close() {
	close(m.quit)
	m.wg.Wait()
	m.mu.Lock()
	for _, r := range m.rooms {
		for _, info := range r.Disconnected {
			info.timer.Stop()
		}
	}
	m.mu.Unlock()
}

// CreateRoomOptions controls room creation beyond the required host.
type CreateRoomOptions struct {
	Metadata map[string]string
	Type     RoomType
	// BotSeats requests practice-room seats to be filled by bots. Empty on
	// a practice room means every seat except the host's. Invalid on
	// public rooms.
	BotSeats []pidro.Seat
}

// CreateRoom makes a new room with the host auto-seated. The host must not
// be in any room.
func (m *Manager) CreateRoom(hostID string, opts CreateRoomOptions) (Snapshot, error) {
	if opts.Type == "" {
		opts.Type = TypePublic
	}
	if opts.Type != TypePublic && opts.Type != TypePractice {
		return Snapshot{}, ErrInvalidChoice
	}
	if opts.Type == TypePublic && len(opts.BotSeats) > 0 {
		return Snapshot{}, ErrInvalidChoice
	}
	botSeats := make(map[pidro.Seat]bool, len(opts.BotSeats))
	for _, s := range opts.BotSeats {
		if !pidro.ValidSeat(s) || botSeats[s] {
			return Snapshot{}, ErrInvalidChoice
		}
		botSeats[s] = true
	}
	if len(botSeats) >= 4 {
		return Snapshot{}, ErrInvalidChoice
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.playerRooms[hostID]; ok {
		return Snapshot{}, ErrAlreadyInRoom
	}

	code, err := m.uniqueCodeLocked()
	if err != nil {
		return Snapshot{}, err
	}

	now := time.Now()
	room := &Room{
		Code:              code,
		HostID:            hostID,
		CreatedAt:         now,
		LastActivity:      now,
		Status:            StatusWaiting,
		Type:              opts.Type,
		Positions:         EmptyPositions(),
		OriginalOccupants: make(map[pidro.Seat]string),
		BotSeats:          make(map[pidro.Seat]bool),
		Disconnected:      make(map[string]*disconnectInfo),
	}
	if len(opts.Metadata) > 0 {
		room.Metadata = make(map[string]string, len(opts.Metadata))
		for k, v := range opts.Metadata {
			room.Metadata[k] = v
		}
	}

	// The host takes the first seat not reserved for a bot.
	hostSeat := pidro.Seat("")
	for _, s := range pidro.Seats() {
		if !botSeats[s] {
			hostSeat = s
			break
		}
	}
	room.Positions[hostSeat] = hostID
	room.OriginalOccupants[hostSeat] = hostID

	if opts.Type == TypePractice {
		if len(botSeats) == 0 {
			room.PendingBots = room.Positions.Available()
		} else {
			for _, s := range pidro.Seats() {
				if botSeats[s] {
					room.PendingBots = append(room.PendingBots, s)
				}
			}
		}
	}

	m.rooms[code] = room
	m.playerRooms[hostID] = code

	m.log.Infof("Room %s created by %s (%s)", code, hostID, room.Type)
	m.publishRoomLocked(room)
	return room.snapshot(), nil
}

func (m *Manager) uniqueCodeLocked() (string, error) {
	for i := 0; i < 10; i++ {
		code := generateCode()
		if _, exists := m.rooms[code]; !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique room code")
}

// JoinRoom seats a player. When the fourth seat fills the room turns ready
// and the game coordinator is started before JoinRoom returns; a failed
// start rolls the join back.
func (m *Manager) JoinRoom(code, playerID string, choice SeatChoice) (Snapshot, pidro.Seat, error) {
	code = NormalizeCode(code)

	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[code]
	if !ok {
		return Snapshot{}, "", ErrRoomNotFound
	}

	isBot := IsBotID(playerID)
	if !isBot {
		if cur, ok := m.playerRooms[playerID]; ok {
			if cur == code {
				return Snapshot{}, "", ErrAlreadyInThisRoom
			}
			return Snapshot{}, "", ErrAlreadyInOtherRoom
		}
	}
	if room.Status != StatusWaiting {
		return Snapshot{}, "", ErrRoomNotJoinable
	}

	seat, err := room.Positions.Assign(playerID, choice)
	if err != nil {
		return Snapshot{}, "", err
	}

	hadOriginal := false
	if !isBot {
		m.playerRooms[playerID] = code
		if _, hadOriginal = room.OriginalOccupants[seat]; !hadOriginal {
			room.OriginalOccupants[seat] = playerID
		}
	} else {
		room.BotSeats[seat] = true
	}

	if room.Positions.Count() == 4 {
		room.Status = StatusReady
		m.publishRoomLocked(room)
		started, err := m.startGameLocked(room)
		if err != nil {
			room.Positions.Remove(playerID)
			room.Status = StatusWaiting
			if !isBot {
				delete(m.playerRooms, playerID)
				if !hadOriginal {
					delete(room.OriginalOccupants, seat)
				}
			} else {
				delete(room.BotSeats, seat)
			}
			m.publishRoomLocked(room)
			return Snapshot{}, "", fmt.Errorf("starting game for room %s: %w", code, err)
		}
		if started {
			// The coordinator is registered and its opening state is on the
			// game topic, so the room is playing before the joiner's reply.
			room.Status = StatusPlaying
		}
	}

	room.touch(time.Now())
	m.log.Debugf("Player %s joined room %s at seat %s", playerID, code, seat)
	m.publishRoomLocked(room)
	return room.snapshot(), seat, nil
}

func (m *Manager) startGameLocked(room *Room) (bool, error) {
	if m.games == nil {
		m.log.Debugf("No game starter wired; room %s stays ready", room.Code)
		return false, nil
	}
	players := make(map[pidro.Seat]string, 4)
	for s, id := range room.Positions {
		players[s] = id
	}
	ctx, cancel := context.WithTimeout(context.Background(), childCallTimeout)
	defer cancel()
	if err := m.games.StartGame(ctx, room.Code, players); err != nil {
		return false, err
	}
	return true, nil
}

// LeaveRoom removes a player from their room. A host leaving a non-playing
// room closes it; a room left empty is destroyed. Leaving a playing room
// replaces the seat with a bot immediately, host included.
func (m *Manager) LeaveRoom(playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	code, ok := m.playerRooms[playerID]
	if !ok {
		return ErrNotInRoom
	}
	room := m.rooms[code]

	if playerID == room.HostID && room.Status != StatusPlaying {
		m.log.Infof("Host %s left room %s, closing it", playerID, code)
		m.closeRoomLocked(room, "host left")
		return nil
	}

	// Leaving mid-game hands the seat to a bot so the other three can play
	// on. The leaver keeps the reclaim right of any replaced player.
	if room.Status == StatusPlaying {
		return m.replaceSeatLocked(room, playerID)
	}

	m.removePlayerLocked(room, playerID)
	if room.Positions.Count() == 0 {
		m.closeRoomLocked(room, "room empty")
		return nil
	}
	room.touch(time.Now())
	m.publishRoomLocked(room)
	return nil
}

// removePlayerLocked clears the seat, index entry, and any grace timer for
// one player. A ready room that drops below four players reverts to
// waiting and its coordinator is stopped.
func (m *Manager) removePlayerLocked(room *Room, playerID string) {
	if info, ok := room.Disconnected[playerID]; ok {
		info.timer.Stop()
		delete(room.Disconnected, playerID)
	}
	room.Positions.Remove(playerID)
	delete(m.playerRooms, playerID)

	if room.Status == StatusReady && room.Positions.Count() < 4 {
		room.Status = StatusWaiting
		if m.games != nil {
			m.games.StopGame(room.Code)
		}
	}
}

// Filter selects rooms for listing.
type Filter string

const (
	FilterAll     Filter = "all"
	FilterWaiting Filter = "waiting"
	FilterReady   Filter = "ready"
	FilterPlaying Filter = "playing"
	// FilterAvailable is the public lobby view: joinable or in-progress
	// public rooms.
	FilterAvailable Filter = "available"
	FilterFinished  Filter = "finished"
)

// ParseFilter reads a client-supplied filter, defaulting to available.
func ParseFilter(s string) (Filter, error) {
	switch Filter(s) {
	case "":
		return FilterAvailable, nil
	case FilterAll, FilterWaiting, FilterReady, FilterPlaying, FilterAvailable, FilterFinished:
		return Filter(s), nil
	}
	return "", fmt.Errorf("unknown room filter %q", s)
}

// ListRooms returns snapshots of the rooms matching the filter, sorted by
// code. Practice rooms never appear in the available listing.
func (m *Manager) ListRooms(filter Filter) []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Snapshot
	for _, room := range m.rooms {
		if m.matchesFilter(room, filter) {
			out = append(out, room.snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (m *Manager) matchesFilter(room *Room, filter Filter) bool {
	switch filter {
	case FilterAll:
		return true
	case FilterWaiting, FilterReady, FilterPlaying, FilterFinished:
		return room.Status == Status(filter)
	case FilterAvailable:
		if room.Type == TypePractice {
			return false
		}
		return room.Status != StatusFinished && room.Status != StatusClosed
	}
	return false
}

// GetRoom returns a snapshot of one room.
func (m *Manager) GetRoom(code string) (Snapshot, error) {
	code = NormalizeCode(code)
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[code]
	if !ok {
		return Snapshot{}, ErrRoomNotFound
	}
	return room.snapshot(), nil
}

// UpdateStatus moves a room through its lifecycle. Game coordinators use
// it to signal playing and finished.
func (m *Manager) UpdateStatus(code string, status Status) error {
	code = NormalizeCode(code)
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[code]
	if !ok {
		return ErrRoomNotFound
	}
	if !canTransition(room.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, room.Status, status)
	}
	room.Status = status
	room.touch(time.Now())
	m.log.Infof("Room %s is now %s", code, status)
	m.publishRoomLocked(room)
	return nil
}

// CloseRoom destroys a room: occupants are evicted, the coordinator is
// signalled to stop, and every bot in the room is stopped.
func (m *Manager) CloseRoom(code string) error {
	code = NormalizeCode(code)
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[code]
	if !ok {
		return ErrRoomNotFound
	}
	m.closeRoomLocked(room, "closed")
	return nil
}

func (m *Manager) closeRoomLocked(room *Room, reason string) {
	for _, info := range room.Disconnected {
		info.timer.Stop()
	}
	room.Disconnected = make(map[string]*disconnectInfo)

	if m.games != nil && (room.Status == StatusReady || room.Status == StatusPlaying) {
		m.games.StopGame(room.Code)
	}
	if m.bots != nil {
		m.bots.StopAllBots(room.Code)
	}

	for _, id := range room.Positions.PlayerIDs() {
		if !IsBotID(id) && m.playerRooms[id] == room.Code {
			delete(m.playerRooms, id)
		}
	}

	room.Status = StatusClosed
	room.touch(time.Now())
	delete(m.rooms, room.Code)

	m.log.Infof("Room %s closed (%s)", room.Code, reason)
	if m.bus != nil {
		m.bus.Publish(pubsub.RoomTopic(room.Code), RoomClosed{Code: room.Code, Reason: reason})
		if room.Type == TypePublic {
			m.bus.Publish(pubsub.LobbyTopic(), LobbyUpdate{Room: room.snapshot()})
		}
	}
}

// HandleDisconnect records a seated player's connection loss and schedules
// the grace timer: bot replacement for playing rooms, removal otherwise.
func (m *Manager) HandleDisconnect(code, playerID string) error {
	code = NormalizeCode(code)
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[code]
	if !ok {
		return ErrRoomNotFound
	}
	if IsBotID(playerID) || !room.Positions.HasPlayer(playerID) {
		return ErrNotInRoom
	}

	if prev, ok := room.Disconnected[playerID]; ok {
		prev.timer.Stop()
	}

	now := time.Now()
	info := &disconnectInfo{Since: now}
	if room.Status == StatusPlaying {
		info.Deadline = now.Add(m.cfg.ReplaceGrace)
		info.timer = time.AfterFunc(m.cfg.ReplaceGrace, func() {
			m.replaceExpired(code, playerID, info)
		})
	} else {
		info.Deadline = now.Add(m.cfg.RemovalGrace)
		info.timer = time.AfterFunc(m.cfg.RemovalGrace, func() {
			m.removalExpired(code, playerID, info)
		})
	}
	room.Disconnected[playerID] = info
	room.touch(now)

	m.log.Infof("Player %s disconnected from room %s (grace until %s)",
		playerID, code, info.Deadline.Format(time.RFC3339))
	m.publishRoomLocked(room)
	return nil
}

// replaceExpired runs when a playing-room grace timer fires. Every
// precondition is re-checked: the player may have reconnected, the timer
// may have been superseded, the room may have closed or finished.
func (m *Manager) replaceExpired(code, playerID string, fired *disconnectInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[code]
	if !ok {
		return
	}
	if cur, ok := room.Disconnected[playerID]; !ok || cur != fired {
		return
	}
	if room.Status != StatusPlaying {
		return
	}
	if err := m.replaceSeatLocked(room, playerID); err != nil {
		m.log.Errorf("Could not replace %s in room %s: %v", playerID, code, err)
		delete(room.Disconnected, playerID)
	}
}

// replaceSeatLocked installs a bot in playerID's seat of a playing room.
// The seat changes hands only once the bot is running; on failure the
// player stays seated and the error surfaces to the caller.
func (m *Manager) replaceSeatLocked(room *Room, playerID string) error {
	seat, ok := room.Positions.GetSeat(playerID)
	if !ok {
		return ErrNotInRoom
	}

	botID := BotID(room.Code, seat)
	if m.bots != nil {
		ctx, cancel := context.WithTimeout(context.Background(), childCallTimeout)
		err := m.bots.StartBot(ctx, room.Code, seat, m.cfg.BotStrategy, m.cfg.BotDelay)
		cancel()
		if err != nil {
			return fmt.Errorf("starting replacement bot for seat %s: %w", seat, err)
		}
	}

	if info, ok := room.Disconnected[playerID]; ok {
		info.timer.Stop()
		delete(room.Disconnected, playerID)
	}
	room.Positions[seat] = botID
	room.BotSeats[seat] = true
	delete(m.playerRooms, playerID)
	room.touch(time.Now())

	m.log.Infof("Bot %s replaced %s in room %s", botID, playerID, room.Code)
	m.publishRoomLocked(room, BotReplacedPlayer{
		Code: room.Code, Seat: seat, PlayerID: playerID, BotID: botID,
	})
	return nil
}

// removalExpired runs when a non-playing grace timer fires; the player is
// removed as if they had left.
func (m *Manager) removalExpired(code, playerID string, fired *disconnectInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[code]
	if !ok {
		return
	}
	if cur, ok := room.Disconnected[playerID]; !ok || cur != fired {
		return
	}
	if room.Status == StatusPlaying {
		// The game started during the grace window; the replace path owns
		// playing rooms.
		return
	}

	m.log.Infof("Removing %s from room %s after disconnect grace", playerID, code)
	if playerID == room.HostID {
		m.closeRoomLocked(room, "host disconnected")
		return
	}
	m.removePlayerLocked(room, playerID)
	if room.Positions.Count() == 0 {
		m.closeRoomLocked(room, "room empty")
		return
	}
	room.touch(time.Now())
	m.publishRoomLocked(room)
}

// HandleReconnect restores a returning player. Within the grace window the
// seat was never lost; after a bot replacement the original occupant
// reclaims the seat, which stops the bot synchronously first. A bot that
// cannot be stopped in time fails the reclaim with ErrBotStillStopping.
func (m *Manager) HandleReconnect(code, playerID string) (Snapshot, error) {
	code = NormalizeCode(code)
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[code]
	if !ok {
		return Snapshot{}, ErrRoomNotFound
	}

	if info, ok := room.Disconnected[playerID]; ok {
		if time.Now().After(info.Deadline) {
			// The timer is about to fire; let it run its course.
			return Snapshot{}, ErrGracePeriodExpired
		}
		info.timer.Stop()
		delete(room.Disconnected, playerID)
		room.touch(time.Now())
		m.log.Infof("Player %s reconnected to room %s within grace", playerID, code)
		m.publishRoomLocked(room)
		return room.snapshot(), nil
	}

	// Reclaim path: the seat's original occupant returns after a bot took
	// over.
	for seat, original := range room.OriginalOccupants {
		if original != playerID || !room.BotSeats[seat] {
			continue
		}
		if room.Status != StatusPlaying {
			return Snapshot{}, ErrGracePeriodExpired
		}
		if cur, ok := m.playerRooms[playerID]; ok && cur != code {
			return Snapshot{}, ErrAlreadyInOtherRoom
		}

		botID := room.Positions[seat]
		if m.bots != nil {
			ctx, cancel := context.WithTimeout(context.Background(), childCallTimeout)
			err := m.bots.StopBot(ctx, code, seat)
			cancel()
			switch {
			case err == nil:
			case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
				// The bot may still act; the seat must not flip under it.
				// The reclaim fails and the player retries.
				m.log.Warnf("Bot %s did not stop for reclaim: %v", botID, err)
				return Snapshot{}, fmt.Errorf("%w: %v", ErrBotStillStopping, err)
			default:
				// Already gone; nothing holds the seat.
				m.log.Debugf("Stopping bot %s for reclaim: %v", botID, err)
			}
		}

		room.Positions[seat] = playerID
		delete(room.BotSeats, seat)
		m.playerRooms[playerID] = code
		room.touch(time.Now())

		m.log.Infof("Player %s reclaimed seat %s in room %s from %s", playerID, seat, code, botID)
		m.publishRoomLocked(room, PlayerReclaimedSeat{
			Code: code, Seat: seat, PlayerID: playerID, BotID: botID,
		})
		return room.snapshot(), nil
	}

	return Snapshot{}, ErrPlayerNotDisconnected
}

// ClaimPracticeBots hands out the pending bot seats of a practice room,
// exactly once, to the host. Non-practice rooms and repeat calls return
// nothing.
func (m *Manager) ClaimPracticeBots(code, playerID string) []pidro.Seat {
	code = NormalizeCode(code)
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[code]
	if !ok || room.Type != TypePractice || room.botsClaimed || playerID != room.HostID {
		return nil
	}
	room.botsClaimed = true
	seats := room.PendingBots
	room.PendingBots = nil
	return seats
}

// DevSetSeat writes a seat directly, bypassing join checks. Pass an empty
// id to clear the seat. Testing and development only.
func (m *Manager) DevSetSeat(code string, seat pidro.Seat, playerID string) error {
	code = NormalizeCode(code)
	if !pidro.ValidSeat(seat) {
		return ErrInvalidChoice
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[code]
	if !ok {
		return ErrRoomNotFound
	}

	if prev, occupied := room.Positions[seat]; occupied {
		delete(room.Positions, seat)
		delete(room.BotSeats, seat)
		if !IsBotID(prev) && m.playerRooms[prev] == code {
			delete(m.playerRooms, prev)
		}
	}
	if playerID != "" {
		room.Positions[seat] = playerID
		if IsBotID(playerID) {
			room.BotSeats[seat] = true
		} else {
			m.playerRooms[playerID] = code
			if _, ok := room.OriginalOccupants[seat]; !ok {
				room.OriginalOccupants[seat] = playerID
			}
		}
	}

	room.touch(time.Now())
	m.log.Warnf("dev_set_seat: room %s seat %s -> %q", code, seat, playerID)
	m.publishRoomLocked(room)
	return nil
}

// RoomOf returns the code of the room the player is currently in.
func (m *Manager) RoomOf(playerID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.playerRooms[playerID]
	return code, ok
}

// publishRoomLocked emits the room snapshot on the room topic, any extra
// events after it, and a lobby update for public rooms. Must be called
// with the lock held so events leave in commit order.
func (m *Manager) publishRoomLocked(room *Room, extra ...interface{}) {
	if m.bus == nil {
		return
	}
	snap := room.snapshot()
	m.bus.Publish(pubsub.RoomTopic(room.Code), RoomUpdate{Room: snap})
	for _, ev := range extra {
		m.bus.Publish(pubsub.RoomTopic(room.Code), ev)
	}
	if room.Type == TypePublic {
		m.bus.Publish(pubsub.LobbyTopic(), LobbyUpdate{Room: snap})
	}
}

// janitor periodically closes idle rooms: stale waiting or ready rooms past
// the idle timeout, finished rooms after a quarter of it. Playing rooms are
// never swept.
func (m *Manager) janitor() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.quit:
			return
		case <-ticker.C:
			m.sweepIdle()
		}
	}
}

func (m *Manager) sweepIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-m.cfg.IdleTimeout)
	finishedCutoff := now.Add(-m.cfg.IdleTimeout / 4)
	var stale []*Room
	for _, room := range m.rooms {
		if room.Status == StatusPlaying {
			continue
		}
		limit := cutoff
		if room.Status == StatusFinished {
			limit = finishedCutoff
		}
		if room.LastActivity.Before(limit) {
			stale = append(stale, room)
		}
	}
	for _, room := range stale {
		m.log.Infof("Janitor closing idle room %s (last activity %s)",
			room.Code, room.LastActivity.Format(time.RFC3339))
		m.closeRoomLocked(room, "idle timeout")
	}
}
