package rooms

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelfahle/pidro-backend-sub005/pkg/pidro"
	"github.com/marcelfahle/pidro-backend-sub005/pkg/pubsub"
)

type fakeGames struct {
	mu       sync.Mutex
	started  map[string]map[pidro.Seat]string
	stopped  []string
	startErr error
}

func newFakeGames() *fakeGames {
	return &fakeGames{started: make(map[string]map[pidro.Seat]string)}
}

func (f *fakeGames) StartGame(_ context.Context, code string, players map[pidro.Seat]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	cp := make(map[pidro.Seat]string, len(players))
	for s, id := range players {
		cp[s] = id
	}
	f.started[code] = cp
	return nil
}

func (f *fakeGames) StopGame(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, code)
}

func (f *fakeGames) startedPlayers(code string) map[pidro.Seat]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started[code]
}

func (f *fakeGames) stopCount(code string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.stopped {
		if c == code {
			n++
		}
	}
	return n
}

type botKey struct {
	code string
	seat pidro.Seat
}

type fakeBots struct {
	mu       sync.Mutex
	running  map[botKey]string
	stopped  []botKey
	stopAll  []string
	startErr error
	stopErr  error
}

func newFakeBots() *fakeBots {
	return &fakeBots{running: make(map[botKey]string)}
}

func (f *fakeBots) StartBot(_ context.Context, code string, seat pidro.Seat, strategy string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.running[botKey{code, seat}] = strategy
	return nil
}

func (f *fakeBots) StopBot(_ context.Context, code string, seat pidro.Seat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		// The bot keeps running, as after a timed-out wait.
		return f.stopErr
	}
	delete(f.running, botKey{code, seat})
	f.stopped = append(f.stopped, botKey{code, seat})
	return nil
}

func (f *fakeBots) StopAllBots(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.running {
		if k.code == code {
			delete(f.running, k)
		}
	}
	f.stopAll = append(f.stopAll, code)
}

func (f *fakeBots) isRunning(code string, seat pidro.Seat) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.running[botKey{code, seat}]
	return ok
}

type managerFixture struct {
	mgr   *Manager
	games *fakeGames
	bots  *fakeBots
	bus   *pubsub.Bus
}

func newFixture(t *testing.T, cfg Config) *managerFixture {
	t.Helper()
	if cfg.Log == nil {
		cfg.Log = slog.Disabled
	}
	if cfg.Bus == nil {
		cfg.Bus = pubsub.NewBus(slog.Disabled, 64)
	}
	f := &managerFixture{
		games: newFakeGames(),
		bots:  newFakeBots(),
		bus:   cfg.Bus,
	}
	f.mgr = NewManager(cfg)
	f.mgr.SetGameStarter(f.games)
	f.mgr.SetBotService(f.bots)
	t.Cleanup(f.mgr.Close)
	return f
}

// fillRoom seats three more players after the host so the room turns ready.
func fillRoom(t *testing.T, m *Manager, code string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, _, err := m.JoinRoom(code, id, AutoChoice())
		require.NoError(t, err)
	}
}

// waitEvent drains a subscription until a payload of type T arrives.
func waitEvent[T any](t *testing.T, sub *pubsub.Subscription) T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-sub.C():
			if ev, ok := msg.Payload.(T); ok {
				return ev
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func TestCreateRoom(t *testing.T) {
	f := newFixture(t, Config{})
	lobby := f.bus.Subscribe(pubsub.LobbyTopic())
	defer lobby.Cancel()

	snap, err := f.mgr.CreateRoom("alice", CreateRoomOptions{Metadata: map[string]string{"name": "Friday game"}})
	require.NoError(t, err)

	assert.Len(t, snap.Code, CodeLength)
	assert.Equal(t, "alice", snap.HostID)
	assert.Equal(t, StatusWaiting, snap.Status)
	assert.Equal(t, TypePublic, snap.Type)
	assert.Equal(t, "alice", snap.Positions[pidro.North], "host auto-seats at the first seat")
	assert.Equal(t, 1, snap.Count)
	assert.Equal(t, "Friday game", snap.Metadata["name"])
	assert.Equal(t, "alice", snap.OriginalOccupants[pidro.North])

	ev := waitEvent[LobbyUpdate](t, lobby)
	assert.Equal(t, snap.Code, ev.Room.Code)

	_, err = f.mgr.CreateRoom("alice", CreateRoomOptions{})
	assert.ErrorIs(t, err, ErrAlreadyInRoom)
}

func TestCreateRoomValidation(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.mgr.CreateRoom("alice", CreateRoomOptions{BotSeats: []pidro.Seat{pidro.East}})
	assert.ErrorIs(t, err, ErrInvalidChoice, "public rooms cannot reserve bot seats")

	_, err = f.mgr.CreateRoom("alice", CreateRoomOptions{
		Type:     TypePractice,
		BotSeats: []pidro.Seat{pidro.East, pidro.East},
	})
	assert.ErrorIs(t, err, ErrInvalidChoice, "duplicate bot seats")

	_, err = f.mgr.CreateRoom("alice", CreateRoomOptions{
		Type:     TypePractice,
		BotSeats: []pidro.Seat{pidro.North, pidro.East, pidro.South, pidro.West},
	})
	assert.ErrorIs(t, err, ErrInvalidChoice, "host needs a seat")
}

func TestCreatePracticeRoom(t *testing.T) {
	f := newFixture(t, Config{})

	snap, err := f.mgr.CreateRoom("alice", CreateRoomOptions{Type: TypePractice})
	require.NoError(t, err)
	assert.Equal(t, TypePractice, snap.Type)
	assert.Equal(t, "alice", snap.Positions[pidro.North])
	assert.Equal(t, []pidro.Seat{pidro.East, pidro.South, pidro.West}, snap.PendingBots,
		"unspecified practice bots fill every seat but the host's")

	snap2, err := f.mgr.CreateRoom("bob", CreateRoomOptions{
		Type:     TypePractice,
		BotSeats: []pidro.Seat{pidro.North, pidro.South},
	})
	require.NoError(t, err)
	assert.Equal(t, "bob", snap2.Positions[pidro.East], "host takes the first unreserved seat")
	assert.Equal(t, []pidro.Seat{pidro.North, pidro.South}, snap2.PendingBots)
}

func TestJoinRoom(t *testing.T) {
	f := newFixture(t, Config{})
	snap, err := f.mgr.CreateRoom("alice", CreateRoomOptions{})
	require.NoError(t, err)
	code := snap.Code

	t.Run("auto seat", func(t *testing.T) {
		got, seat, err := f.mgr.JoinRoom(code, "bob", AutoChoice())
		require.NoError(t, err)
		assert.Equal(t, pidro.East, seat)
		assert.Equal(t, 2, got.Count)
	})

	t.Run("team seat", func(t *testing.T) {
		_, seat, err := f.mgr.JoinRoom(code, "carol", ChooseTeam(pidro.TeamNS))
		require.NoError(t, err)
		assert.Equal(t, pidro.South, seat)
	})

	t.Run("specific seat taken", func(t *testing.T) {
		_, _, err := f.mgr.JoinRoom(code, "dave", ChooseSeat(pidro.North))
		assert.ErrorIs(t, err, ErrSeatTaken)
	})

	t.Run("already in this room", func(t *testing.T) {
		_, _, err := f.mgr.JoinRoom(code, "bob", AutoChoice())
		assert.ErrorIs(t, err, ErrAlreadyInThisRoom)
	})

	t.Run("already in another room", func(t *testing.T) {
		other, err := f.mgr.CreateRoom("erin", CreateRoomOptions{})
		require.NoError(t, err)
		_, _, err = f.mgr.JoinRoom(other.Code, "bob", AutoChoice())
		assert.ErrorIs(t, err, ErrAlreadyInOtherRoom)
	})

	t.Run("room not found", func(t *testing.T) {
		_, _, err := f.mgr.JoinRoom("ZZZZ", "frank", AutoChoice())
		assert.ErrorIs(t, err, ErrRoomNotFound)
	})

	t.Run("lowercase code accepted", func(t *testing.T) {
		_, _, err := f.mgr.JoinRoom(strings.ToLower(code), "bob", AutoChoice())
		// Already seated proves the code resolved.
		assert.ErrorIs(t, err, ErrAlreadyInThisRoom)
	})
}

func TestFourthJoinStartsGame(t *testing.T) {
	f := newFixture(t, Config{})
	snap, err := f.mgr.CreateRoom("alice", CreateRoomOptions{})
	require.NoError(t, err)
	code := snap.Code

	roomSub := f.bus.Subscribe(pubsub.RoomTopic(code))
	defer roomSub.Cancel()

	fillRoom(t, f.mgr, code, "bob", "carol")
	got, _, err := f.mgr.JoinRoom(code, "dave", AutoChoice())
	require.NoError(t, err)

	assert.Equal(t, StatusPlaying, got.Status, "the fourth join replies with the room playing")
	players := f.games.startedPlayers(code)
	require.NotNil(t, players, "coordinator must start before the join returns")
	assert.Equal(t, map[pidro.Seat]string{
		pidro.North: "alice", pidro.East: "bob", pidro.South: "carol", pidro.West: "dave",
	}, players)

	// Subscribers see ready before playing, in commit order.
	var statuses []Status
	for len(statuses) < 4 {
		ev := waitEvent[RoomUpdate](t, roomSub)
		statuses = append(statuses, ev.Room.Status)
	}
	assert.Equal(t, []Status{StatusWaiting, StatusWaiting, StatusReady, StatusPlaying}, statuses)
}

func TestFourthJoinRollsBackOnStartFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.games.startErr = assert.AnError

	snap, err := f.mgr.CreateRoom("alice", CreateRoomOptions{})
	require.NoError(t, err)
	code := snap.Code
	fillRoom(t, f.mgr, code, "bob", "carol")

	_, _, err = f.mgr.JoinRoom(code, "dave", AutoChoice())
	require.Error(t, err)

	got, err := f.mgr.GetRoom(code)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, got.Status)
	assert.Equal(t, 3, got.Count)
	_, ok := f.mgr.RoomOf("dave")
	assert.False(t, ok, "rolled-back joiner must not stay indexed")

	// The room recovers once the starter does.
	f.games.startErr = nil
	_, _, err = f.mgr.JoinRoom(code, "dave", AutoChoice())
	require.NoError(t, err)
}

func TestLeaveRoom(t *testing.T) {
	t.Run("not in a room", func(t *testing.T) {
		f := newFixture(t, Config{})
		assert.ErrorIs(t, f.mgr.LeaveRoom("ghost"), ErrNotInRoom)
	})

	t.Run("member leaves", func(t *testing.T) {
		f := newFixture(t, Config{})
		snap, _ := f.mgr.CreateRoom("alice", CreateRoomOptions{})
		fillRoom(t, f.mgr, snap.Code, "bob")

		require.NoError(t, f.mgr.LeaveRoom("bob"))
		got, err := f.mgr.GetRoom(snap.Code)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Count)
		_, ok := f.mgr.RoomOf("bob")
		assert.False(t, ok)
	})

	t.Run("host leave closes non-playing room", func(t *testing.T) {
		f := newFixture(t, Config{})
		snap, _ := f.mgr.CreateRoom("alice", CreateRoomOptions{})
		fillRoom(t, f.mgr, snap.Code, "bob")
		roomSub := f.bus.Subscribe(pubsub.RoomTopic(snap.Code))
		defer roomSub.Cancel()

		require.NoError(t, f.mgr.LeaveRoom("alice"))

		ev := waitEvent[RoomClosed](t, roomSub)
		assert.Equal(t, snap.Code, ev.Code)
		_, err := f.mgr.GetRoom(snap.Code)
		assert.ErrorIs(t, err, ErrRoomNotFound)
		_, ok := f.mgr.RoomOf("bob")
		assert.False(t, ok, "eviction clears every occupant")
	})

	t.Run("host leave during playing is bot-replaced, not a close", func(t *testing.T) {
		f := newFixture(t, Config{})
		snap, _ := f.mgr.CreateRoom("alice", CreateRoomOptions{})
		fillRoom(t, f.mgr, snap.Code, "bob", "carol", "dave")

		require.NoError(t, f.mgr.LeaveRoom("alice"))
		got, err := f.mgr.GetRoom(snap.Code)
		require.NoError(t, err)
		assert.Equal(t, StatusPlaying, got.Status)
		assert.Equal(t, 4, got.Count, "the seat never goes vacant mid-game")
		assert.Equal(t, BotID(snap.Code, pidro.North), got.Positions[pidro.North])
		assert.True(t, f.bots.isRunning(snap.Code, pidro.North))
	})

	t.Run("every mid-game leaver is replaced", func(t *testing.T) {
		f := newFixture(t, Config{})
		snap, _ := f.mgr.CreateRoom("alice", CreateRoomOptions{})
		fillRoom(t, f.mgr, snap.Code, "bob", "carol", "dave")

		for _, id := range []string{"alice", "bob", "carol", "dave"} {
			require.NoError(t, f.mgr.LeaveRoom(id))
		}
		got, err := f.mgr.GetRoom(snap.Code)
		require.NoError(t, err)
		assert.Equal(t, StatusPlaying, got.Status)
		assert.Len(t, got.BotSeats, 4, "bots finish the hand out")
	})

	t.Run("leave fails when the replacement bot cannot start", func(t *testing.T) {
		f := newFixture(t, Config{})
		snap, _ := f.mgr.CreateRoom("alice", CreateRoomOptions{})
		fillRoom(t, f.mgr, snap.Code, "bob", "carol", "dave")
		f.bots.startErr = assert.AnError

		require.Error(t, f.mgr.LeaveRoom("bob"))
		got, err := f.mgr.GetRoom(snap.Code)
		require.NoError(t, err)
		assert.Equal(t, "bob", got.Positions[pidro.East], "the seat stays with the leaver")
		_, ok := f.mgr.RoomOf("bob")
		assert.True(t, ok)
	})

	t.Run("leaving a ready room reverts it to waiting", func(t *testing.T) {
		// No starter wired, so the room rests at ready when it fills.
		mgr := NewManager(Config{Log: slog.Disabled, Bus: pubsub.NewBus(slog.Disabled, 64)})
		t.Cleanup(mgr.Close)
		snap, err := mgr.CreateRoom("alice", CreateRoomOptions{})
		require.NoError(t, err)
		fillRoom(t, mgr, snap.Code, "bob", "carol", "dave")

		got, err := mgr.GetRoom(snap.Code)
		require.NoError(t, err)
		require.Equal(t, StatusReady, got.Status)

		require.NoError(t, mgr.LeaveRoom("dave"))
		got, err = mgr.GetRoom(snap.Code)
		require.NoError(t, err)
		assert.Equal(t, StatusWaiting, got.Status)
	})
}

func TestLeaveDuringPlayingReplacedByBot(t *testing.T) {
	// A long grace proves the replacement happens on the leave itself, not
	// through the disconnect timer.
	f := newFixture(t, Config{ReplaceGrace: time.Hour})
	snap, _ := f.mgr.CreateRoom("alice", CreateRoomOptions{})
	code := snap.Code
	fillRoom(t, f.mgr, code, "bob", "carol", "dave")

	roomSub := f.bus.Subscribe(pubsub.RoomTopic(code))
	defer roomSub.Cancel()

	require.NoError(t, f.mgr.LeaveRoom("bob"))

	ev := waitEvent[BotReplacedPlayer](t, roomSub)
	assert.Equal(t, pidro.East, ev.Seat)
	assert.Equal(t, "bob", ev.PlayerID)

	got, err := f.mgr.GetRoom(code)
	require.NoError(t, err)
	assert.Equal(t, StatusPlaying, got.Status)
	assert.Equal(t, 4, got.Count)
	assert.Equal(t, BotID(code, pidro.East), got.Positions[pidro.East])
	assert.Equal(t, []pidro.Seat{pidro.East}, got.BotSeats)
	assert.Equal(t, "bob", got.OriginalOccupants[pidro.East], "reclaim identity survives the leave")
	assert.Empty(t, got.Disconnected, "no grace window for a deliberate leave")
	assert.True(t, f.bots.isRunning(code, pidro.East))
	_, ok := f.mgr.RoomOf("bob")
	assert.False(t, ok)

	// A change of heart works like any reclaim from a bot.
	got, err = f.mgr.HandleReconnect(code, "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Positions[pidro.East])
	assert.Empty(t, got.BotSeats)
	assert.False(t, f.bots.isRunning(code, pidro.East))
}

func TestListRooms(t *testing.T) {
	f := newFixture(t, Config{})

	waiting, _ := f.mgr.CreateRoom("alice", CreateRoomOptions{})
	practice, _ := f.mgr.CreateRoom("bob", CreateRoomOptions{Type: TypePractice})

	playing, _ := f.mgr.CreateRoom("carol", CreateRoomOptions{})
	fillRoom(t, f.mgr, playing.Code, "dave", "erin", "frank")

	finished, _ := f.mgr.CreateRoom("grace", CreateRoomOptions{})
	fillRoom(t, f.mgr, finished.Code, "heidi", "ivan", "judy")
	require.NoError(t, f.mgr.UpdateStatus(finished.Code, StatusFinished))

	codesOf := func(snaps []Snapshot) []string {
		var codes []string
		for _, s := range snaps {
			codes = append(codes, s.Code)
		}
		return codes
	}

	assert.Len(t, f.mgr.ListRooms(FilterAll), 4)
	assert.Equal(t, []string{waiting.Code}, codesOf(f.mgr.ListRooms(FilterWaiting)))
	assert.Equal(t, []string{playing.Code}, codesOf(f.mgr.ListRooms(FilterPlaying)))
	assert.Equal(t, []string{finished.Code}, codesOf(f.mgr.ListRooms(FilterFinished)))

	available := codesOf(f.mgr.ListRooms(FilterAvailable))
	assert.Contains(t, available, waiting.Code)
	assert.Contains(t, available, playing.Code)
	assert.NotContains(t, available, practice.Code, "practice rooms stay out of the lobby")
	assert.NotContains(t, available, finished.Code)
}

func TestParseFilter(t *testing.T) {
	got, err := ParseFilter("")
	require.NoError(t, err)
	assert.Equal(t, FilterAvailable, got)

	// The full set of filter names accepted on the wire.
	for name, want := range map[string]Filter{
		"all":       FilterAll,
		"waiting":   FilterWaiting,
		"ready":     FilterReady,
		"playing":   FilterPlaying,
		"available": FilterAvailable,
		"finished":  FilterFinished,
	} {
		got, err = ParseFilter(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got)
	}

	_, err = ParseFilter("bogus")
	assert.Error(t, err)
	_, err = ParseFilter("practice")
	assert.Error(t, err, "room type is not a status filter")
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t, Config{})
	snap, _ := f.mgr.CreateRoom("alice", CreateRoomOptions{})

	err := f.mgr.UpdateStatus(snap.Code, StatusFinished)
	assert.ErrorIs(t, err, ErrInvalidTransition, "waiting cannot jump to finished")

	assert.ErrorIs(t, f.mgr.UpdateStatus("ZZZZ", StatusPlaying), ErrRoomNotFound)
}

func TestCloseRoom(t *testing.T) {
	f := newFixture(t, Config{})
	snap, _ := f.mgr.CreateRoom("alice", CreateRoomOptions{})
	code := snap.Code
	fillRoom(t, f.mgr, code, "bob", "carol", "dave")

	roomSub := f.bus.Subscribe(pubsub.RoomTopic(code))
	defer roomSub.Cancel()

	require.NoError(t, f.mgr.CloseRoom(code))

	ev := waitEvent[RoomClosed](t, roomSub)
	assert.Equal(t, code, ev.Code)
	assert.Equal(t, 1, f.games.stopCount(code), "playing room close stops the coordinator")
	assert.Contains(t, f.bots.stopAll, code)
	for _, id := range []string{"alice", "bob", "carol", "dave"} {
		_, ok := f.mgr.RoomOf(id)
		assert.False(t, ok, "%s must be evicted", id)
	}

	assert.ErrorIs(t, f.mgr.CloseRoom(code), ErrRoomNotFound)
}

func TestDisconnectReplacedByBot(t *testing.T) {
	f := newFixture(t, Config{ReplaceGrace: 150 * time.Millisecond})
	snap, _ := f.mgr.CreateRoom("alice", CreateRoomOptions{})
	code := snap.Code
	fillRoom(t, f.mgr, code, "bob", "carol", "dave")

	roomSub := f.bus.Subscribe(pubsub.RoomTopic(code))
	defer roomSub.Cancel()

	require.NoError(t, f.mgr.HandleDisconnect(code, "bob"))

	got, err := f.mgr.GetRoom(code)
	require.NoError(t, err)
	assert.Contains(t, got.Disconnected, "bob", "grace window is visible immediately")

	ev := waitEvent[BotReplacedPlayer](t, roomSub)
	assert.Equal(t, pidro.East, ev.Seat)
	assert.Equal(t, "bob", ev.PlayerID)
	assert.Equal(t, BotID(code, pidro.East), ev.BotID)

	got, err = f.mgr.GetRoom(code)
	require.NoError(t, err)
	assert.Equal(t, ev.BotID, got.Positions[pidro.East])
	assert.Equal(t, []pidro.Seat{pidro.East}, got.BotSeats)
	assert.Equal(t, "bob", got.OriginalOccupants[pidro.East], "reclaim identity survives replacement")
	assert.NotContains(t, got.Disconnected, "bob")
	_, ok := f.mgr.RoomOf("bob")
	assert.False(t, ok, "replaced player leaves the index")
	assert.True(t, f.bots.isRunning(code, pidro.East))
}

func TestReconnectWithinGraceKeepsSeat(t *testing.T) {
	f := newFixture(t, Config{ReplaceGrace: 250 * time.Millisecond})
	snap, _ := f.mgr.CreateRoom("alice", CreateRoomOptions{})
	code := snap.Code
	fillRoom(t, f.mgr, code, "bob", "carol", "dave")

	require.NoError(t, f.mgr.HandleDisconnect(code, "bob"))
	got, err := f.mgr.HandleReconnect(code, "bob")
	require.NoError(t, err)
	assert.NotContains(t, got.Disconnected, "bob")
	assert.Equal(t, "bob", got.Positions[pidro.East])

	// Long past the original deadline the seat must still be bob's: the
	// cancelled timer stays cancelled.
	time.Sleep(400 * time.Millisecond)
	got, err = f.mgr.GetRoom(code)
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Positions[pidro.East])
	assert.Empty(t, got.BotSeats)
	assert.False(t, f.bots.isRunning(code, pidro.East))
}

func TestReclaimSeatFromBot(t *testing.T) {
	f := newFixture(t, Config{ReplaceGrace: 30 * time.Millisecond})
	snap, _ := f.mgr.CreateRoom("alice", CreateRoomOptions{})
	code := snap.Code
	fillRoom(t, f.mgr, code, "bob", "carol", "dave")

	roomSub := f.bus.Subscribe(pubsub.RoomTopic(code))
	defer roomSub.Cancel()

	require.NoError(t, f.mgr.HandleDisconnect(code, "bob"))
	waitEvent[BotReplacedPlayer](t, roomSub)

	got, err := f.mgr.HandleReconnect(code, "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Positions[pidro.East])
	assert.Empty(t, got.BotSeats)

	ev := waitEvent[PlayerReclaimedSeat](t, roomSub)
	assert.Equal(t, "bob", ev.PlayerID)
	assert.Equal(t, pidro.East, ev.Seat)

	assert.False(t, f.bots.isRunning(code, pidro.East), "reclaim stops the bot first")
	require.Len(t, f.bots.stopped, 1)
	assert.Equal(t, botKey{code, pidro.East}, f.bots.stopped[0])

	roomOf, ok := f.mgr.RoomOf("bob")
	require.True(t, ok)
	assert.Equal(t, code, roomOf)
}

func TestReclaimAbortsWhileBotStillStopping(t *testing.T) {
	f := newFixture(t, Config{ReplaceGrace: 30 * time.Millisecond})
	snap, _ := f.mgr.CreateRoom("alice", CreateRoomOptions{})
	code := snap.Code
	fillRoom(t, f.mgr, code, "bob", "carol", "dave")

	roomSub := f.bus.Subscribe(pubsub.RoomTopic(code))
	defer roomSub.Cancel()

	require.NoError(t, f.mgr.HandleDisconnect(code, "bob"))
	waitEvent[BotReplacedPlayer](t, roomSub)

	f.bots.stopErr = context.DeadlineExceeded
	_, err := f.mgr.HandleReconnect(code, "bob")
	assert.ErrorIs(t, err, ErrBotStillStopping)

	got, err := f.mgr.GetRoom(code)
	require.NoError(t, err)
	assert.Equal(t, BotID(code, pidro.East), got.Positions[pidro.East], "the seat stays with the live bot")
	assert.True(t, f.bots.isRunning(code, pidro.East))

	// Once the bot can be stopped the retry goes through.
	f.bots.stopErr = nil
	got, err = f.mgr.HandleReconnect(code, "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Positions[pidro.East])
	assert.Empty(t, got.BotSeats)
	assert.False(t, f.bots.isRunning(code, pidro.East))
}

func TestReconnectErrors(t *testing.T) {
	f := newFixture(t, Config{})
	snap, _ := f.mgr.CreateRoom("alice", CreateRoomOptions{})

	_, err := f.mgr.HandleReconnect("ZZZZ", "alice")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = f.mgr.HandleReconnect(snap.Code, "alice")
	assert.ErrorIs(t, err, ErrPlayerNotDisconnected)
}

func TestRemovalGraceInWaitingRoom(t *testing.T) {
	f := newFixture(t, Config{RemovalGrace: 40 * time.Millisecond})
	snap, _ := f.mgr.CreateRoom("alice", CreateRoomOptions{})
	code := snap.Code
	fillRoom(t, f.mgr, code, "bob")

	require.NoError(t, f.mgr.HandleDisconnect(code, "bob"))

	require.Eventually(t, func() bool {
		got, err := f.mgr.GetRoom(code)
		return err == nil && got.Count == 1
	}, 2*time.Second, 10*time.Millisecond, "disconnected player is removed after the grace")

	_, ok := f.mgr.RoomOf("bob")
	assert.False(t, ok)
}

func TestHostRemovalClosesWaitingRoom(t *testing.T) {
	f := newFixture(t, Config{RemovalGrace: 40 * time.Millisecond})
	snap, _ := f.mgr.CreateRoom("alice", CreateRoomOptions{})
	fillRoom(t, f.mgr, snap.Code, "bob")

	require.NoError(t, f.mgr.HandleDisconnect(snap.Code, "alice"))

	require.Eventually(t, func() bool {
		_, err := f.mgr.GetRoom(snap.Code)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond, "host removal closes the room")
}

func TestDisconnectUnknownPlayer(t *testing.T) {
	f := newFixture(t, Config{})
	snap, _ := f.mgr.CreateRoom("alice", CreateRoomOptions{})

	assert.ErrorIs(t, f.mgr.HandleDisconnect(snap.Code, "ghost"), ErrNotInRoom)
	assert.ErrorIs(t, f.mgr.HandleDisconnect("ZZZZ", "alice"), ErrRoomNotFound)
}

func TestClaimPracticeBots(t *testing.T) {
	f := newFixture(t, Config{})
	snap, _ := f.mgr.CreateRoom("alice", CreateRoomOptions{Type: TypePractice})

	assert.Nil(t, f.mgr.ClaimPracticeBots(snap.Code, "mallory"), "only the host claims")

	seats := f.mgr.ClaimPracticeBots(snap.Code, "alice")
	assert.Equal(t, []pidro.Seat{pidro.East, pidro.South, pidro.West}, seats)

	assert.Nil(t, f.mgr.ClaimPracticeBots(snap.Code, "alice"), "claim is one-shot")

	got, err := f.mgr.GetRoom(snap.Code)
	require.NoError(t, err)
	assert.Empty(t, got.PendingBots)
}

func TestPracticeBotsJoinAndStart(t *testing.T) {
	f := newFixture(t, Config{})
	snap, _ := f.mgr.CreateRoom("alice", CreateRoomOptions{Type: TypePractice})
	code := snap.Code

	seats := f.mgr.ClaimPracticeBots(code, "alice")
	for _, seat := range seats {
		_, got, err := f.mgr.JoinRoom(code, BotID(code, seat), ChooseSeat(seat))
		require.NoError(t, err)
		assert.Equal(t, seat, got)
	}

	got, err := f.mgr.GetRoom(code)
	require.NoError(t, err)
	assert.Equal(t, StatusPlaying, got.Status)
	assert.Len(t, got.BotSeats, 3)
	assert.NotNil(t, f.games.startedPlayers(code), "full practice room starts its game")
	assert.Empty(t, got.OriginalOccupants[pidro.East], "bots never become original occupants")
}

func TestDevSetSeat(t *testing.T) {
	f := newFixture(t, Config{})
	snap, _ := f.mgr.CreateRoom("alice", CreateRoomOptions{})
	code := snap.Code

	require.NoError(t, f.mgr.DevSetSeat(code, pidro.West, "zoe"))
	got, _ := f.mgr.GetRoom(code)
	assert.Equal(t, "zoe", got.Positions[pidro.West])
	roomOf, ok := f.mgr.RoomOf("zoe")
	require.True(t, ok)
	assert.Equal(t, code, roomOf)

	require.NoError(t, f.mgr.DevSetSeat(code, pidro.West, BotID(code, pidro.West)))
	got, _ = f.mgr.GetRoom(code)
	assert.Equal(t, []pidro.Seat{pidro.West}, got.BotSeats)
	_, ok = f.mgr.RoomOf("zoe")
	assert.False(t, ok, "displaced player leaves the index")

	require.NoError(t, f.mgr.DevSetSeat(code, pidro.West, ""))
	got, _ = f.mgr.GetRoom(code)
	assert.NotContains(t, got.Positions, pidro.West)
	assert.Empty(t, got.BotSeats)

	assert.ErrorIs(t, f.mgr.DevSetSeat(code, pidro.Seat("X"), "zoe"), ErrInvalidChoice)
	assert.ErrorIs(t, f.mgr.DevSetSeat("ZZZZ", pidro.North, "zoe"), ErrRoomNotFound)
}

func TestJanitorSweepsIdleRooms(t *testing.T) {
	f := newFixture(t, Config{
		IdleTimeout:     250 * time.Millisecond,
		JanitorInterval: 50 * time.Millisecond,
	})

	playing, _ := f.mgr.CreateRoom("bob", CreateRoomOptions{})
	fillRoom(t, f.mgr, playing.Code, "carol", "dave", "erin")

	idle, _ := f.mgr.CreateRoom("alice", CreateRoomOptions{})

	require.Eventually(t, func() bool {
		_, err := f.mgr.GetRoom(idle.Code)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond, "idle waiting room is swept")

	_, err := f.mgr.GetRoom(playing.Code)
	assert.NoError(t, err, "playing rooms are never swept")
}

func TestJanitorSweepsFinishedRoomsSooner(t *testing.T) {
	f := newFixture(t, Config{
		IdleTimeout:     2 * time.Second,
		JanitorInterval: 25 * time.Millisecond,
	})

	finished, _ := f.mgr.CreateRoom("alice", CreateRoomOptions{})
	fillRoom(t, f.mgr, finished.Code, "bob", "carol", "dave")
	require.NoError(t, f.mgr.UpdateStatus(finished.Code, StatusFinished))

	waiting, _ := f.mgr.CreateRoom("erin", CreateRoomOptions{})

	require.Eventually(t, func() bool {
		_, err := f.mgr.GetRoom(finished.Code)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond, "finished room is swept after a quarter of the idle timeout")

	_, err := f.mgr.GetRoom(waiting.Code)
	assert.NoError(t, err, "waiting rooms keep the full idle timeout")
}

func TestConcurrentJoinsSeatExactlyThree(t *testing.T) {
	f := newFixture(t, Config{})
	snap, _ := f.mgr.CreateRoom("host", CreateRoomOptions{})
	code := snap.Code

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := f.mgr.JoinRoom(code, string(rune('a'+i))+"-player", AutoChoice())
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	ok := 0
	for err := range results {
		if err == nil {
			ok++
		}
	}
	assert.Equal(t, 3, ok, "exactly three free seats")

	got, err := f.mgr.GetRoom(code)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Count)
	assert.Equal(t, StatusPlaying, got.Status)
	assert.NotNil(t, f.games.startedPlayers(code), "game started exactly when the room filled")
}
