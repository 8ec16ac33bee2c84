package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"

	"github.com/marcelfahle/pidro-backend-sub005/pkg/pidro"
	"github.com/marcelfahle/pidro-backend-sub005/pkg/pubsub"
	"github.com/marcelfahle/pidro-backend-sub005/pkg/rooms"
)

var (
	// ErrBotExists means the (room, seat) pair already has a live bot.
	ErrBotExists = errors.New("bot already seated there")
	// ErrBotNotFound means no live bot occupies the (room, seat) pair.
	ErrBotNotFound = errors.New("bot not found")
	// ErrBotStopped means the bot exited while a control call was pending.
	ErrBotStopped = errors.New("bot stopped")
)

// DefaultDelay is the think delay used when a caller passes none.
const DefaultDelay = time.Second

// ManagerConfig wires a Manager into the server.
type ManagerConfig struct {
	Log slog.Logger
	Bus *pubsub.Bus
	// Resolve looks up the live game for a room code; bots use it the same
	// way the gateway does.
	Resolve ResolveFunc
}

// BotInfo is the operator view of one live bot.
type BotInfo struct {
	ID       string `json:"id"`
	Strategy string `json:"strategy"`
	Status   string `json:"status"`
}

type botKey struct {
	code string
	seat pidro.Seat
}

// Manager indexes live bots by (room, seat) and owns their lifecycles. It
// satisfies the room layer's BotService: StartBot registers and spawns,
// StopBot removes the entry and waits for the goroutine to unwind, and a
// crashed bot removes its own entry so a later StartBot for the seat is
// clean.
type Manager struct {
	log slog.Logger
	bus *pubsub.Bus

	resolve ResolveFunc
	sup     *Supervisor

	mu   sync.Mutex
	bots map[botKey]*Player
}

var _ rooms.BotService = (*Manager)(nil)

// NewManager creates a bot manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Log == nil {
		cfg.Log = slog.Disabled
	}
	return &Manager{
		log:     cfg.Log,
		bus:     cfg.Bus,
		resolve: cfg.Resolve,
		sup:     NewSupervisor(cfg.Log),
		bots:    make(map[botKey]*Player),
	}
}

// StartBot seats a new bot. The bot subscribes to the room's game topic
// before this returns, so no later update can slip past it; if the game is
// already waiting on the seat the bot notices on its first direct read.
func (m *Manager) StartBot(ctx context.Context, code string, seat pidro.Seat, strategy string, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	code = rooms.NormalizeCode(code)
	if !pidro.ValidSeat(seat) {
		return fmt.Errorf("invalid bot seat %q", seat)
	}
	strat, err := NewStrategy(strategy)
	if err != nil {
		return err
	}
	if delay <= 0 {
		delay = DefaultDelay
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := botKey{code, seat}
	if _, ok := m.bots[k]; ok {
		return ErrBotExists
	}
	p := newPlayer(playerConfig{
		log:      m.log,
		bus:      m.bus,
		resolve:  m.resolve,
		code:     code,
		seat:     seat,
		strategy: strat,
		delay:    delay,
		onExit:   m.botExited,
	})
	m.bots[k] = p
	m.sup.Spawn(p)
	m.log.Infof("Started %s bot %s (delay %s)", strat.Name(), p.ID(), delay)
	return nil
}

// botExited runs on the bot's goroutine as it unwinds; it drops the
// registry entry unless a newer bot already claimed the seat.
func (m *Manager) botExited(p *Player) {
	m.mu.Lock()
	k := botKey{p.code, p.seat}
	if cur, ok := m.bots[k]; ok && cur == p {
		delete(m.bots, k)
	}
	m.mu.Unlock()
}

// StopBot removes the bot's entry and waits for its goroutine to exit, so
// when StopBot returns the seat is truly free: no further action from this
// bot can reach the game.
func (m *Manager) StopBot(ctx context.Context, code string, seat pidro.Seat) error {
	code = rooms.NormalizeCode(code)

	m.mu.Lock()
	k := botKey{code, seat}
	p, ok := m.bots[k]
	if ok {
		delete(m.bots, k)
	}
	m.mu.Unlock()
	if !ok {
		return ErrBotNotFound
	}

	p.stop()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopAllBots signals every bot in the room to stop. It does not wait:
// room close runs under the room manager's lock and the bots unwind on
// their own, dropping their entries as they go.
func (m *Manager) StopAllBots(code string) {
	code = rooms.NormalizeCode(code)

	m.mu.Lock()
	var stopping []*Player
	for k, p := range m.bots {
		if k.code == code {
			delete(m.bots, k)
			stopping = append(stopping, p)
		}
	}
	m.mu.Unlock()

	for _, p := range stopping {
		p.stop()
	}
	if len(stopping) > 0 {
		m.log.Debugf("Stopping %d bots in room %s", len(stopping), code)
	}
}

// PauseBot holds a bot's play until ResumeBot.
func (m *Manager) PauseBot(ctx context.Context, code string, seat pidro.Seat) error {
	p, err := m.lookup(code, seat)
	if err != nil {
		return err
	}
	return p.pause(ctx)
}

// ResumeBot releases a paused bot; a turn that arrived during the hold is
// acted on after the usual think delay.
func (m *Manager) ResumeBot(ctx context.Context, code string, seat pidro.Seat) error {
	p, err := m.lookup(code, seat)
	if err != nil {
		return err
	}
	return p.resume(ctx)
}

func (m *Manager) lookup(code string, seat pidro.Seat) (*Player, error) {
	code = rooms.NormalizeCode(code)
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.bots[botKey{code, seat}]
	if !ok {
		return nil, ErrBotNotFound
	}
	return p, nil
}

// ListBots reports the live bots of one room by seat.
func (m *Manager) ListBots(code string) map[pidro.Seat]BotInfo {
	code = rooms.NormalizeCode(code)
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[pidro.Seat]BotInfo)
	for k, p := range m.bots {
		if k.code != code {
			continue
		}
		out[k.seat] = BotInfo{
			ID:       p.ID(),
			Strategy: p.strategy.Name(),
			Status:   p.Status(),
		}
	}
	return out
}

// Count returns the number of live bots across all rooms.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bots)
}

// Close stops every bot and waits for all of them to unwind. For server
// shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	var stopping []*Player
	for k, p := range m.bots {
		delete(m.bots, k)
		stopping = append(stopping, p)
	}
	m.mu.Unlock()

	for _, p := range stopping {
		p.stop()
	}
	m.sup.Wait()
}
