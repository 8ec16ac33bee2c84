package game

import (
	"context"
	"sort"
	"sync"

	"github.com/decred/slog"

	"github.com/marcelfahle/pidro-backend-sub005/pkg/pidro"
	"github.com/marcelfahle/pidro-backend-sub005/pkg/pubsub"
)

// SupervisorConfig wires a Supervisor.
type SupervisorConfig struct {
	Log slog.Logger
	Bus *pubsub.Bus
	// Notifier receives game lifecycle callbacks. Optional in tests.
	Notifier RoomNotifier
	// NewEngine builds the engine for one game. Defaults to pidro.NewRules,
	// one instance per game so random streams stay independent.
	NewEngine func() Engine
}

// Supervisor keys one coordinator per room code. A crashed coordinator is
// removed and never restarted; its room is closed through the notifier.
type Supervisor struct {
	log       slog.Logger
	bus       *pubsub.Bus
	notify    RoomNotifier
	newEngine func() Engine

	mu    sync.Mutex
	games map[string]*Coordinator
}

// NewSupervisor creates an empty supervisor.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.Log == nil {
		cfg.Log = slog.Disabled
	}
	if cfg.NewEngine == nil {
		cfg.NewEngine = func() Engine { return pidro.NewRules() }
	}
	return &Supervisor{
		log:       cfg.Log,
		bus:       cfg.Bus,
		notify:    cfg.Notifier,
		newEngine: cfg.NewEngine,
		games:     make(map[string]*Coordinator),
	}
}

// StartGame creates and registers the coordinator for a room. The initial
// state is published before StartGame returns. Duplicate codes fail with
// ErrAlreadyStarted.
func (s *Supervisor) StartGame(ctx context.Context, code string, players map[pidro.Seat]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.games[code]; ok {
		return ErrAlreadyStarted
	}

	coord, err := newCoordinator(code, players, s.newEngine(), s.bus, s.log, s.notify, s.coordinatorExited)
	if err != nil {
		return err
	}
	s.games[code] = coord
	s.log.Infof("Started game for room %s with players %v", code, players)
	return nil
}

// StopGame signals the room's coordinator to shut down. It does not wait
// for the loop to exit and is a no-op for unknown codes.
func (s *Supervisor) StopGame(code string) {
	s.mu.Lock()
	coord, ok := s.games[code]
	if ok {
		delete(s.games, code)
	}
	s.mu.Unlock()
	if ok {
		coord.stop()
		s.log.Debugf("Stopped game for room %s", code)
	}
}

// Lookup returns the running coordinator for a room code.
func (s *Supervisor) Lookup(code string) (*Coordinator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	coord, ok := s.games[code]
	if !ok {
		return nil, ErrGameNotFound
	}
	return coord, nil
}

// ListGames returns the room codes with running coordinators, sorted.
func (s *Supervisor) ListGames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := make([]string, 0, len(s.games))
	for code := range s.games {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// StopAll shuts down every coordinator. Server shutdown only.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	coords := make([]*Coordinator, 0, len(s.games))
	for _, c := range s.games {
		coords = append(coords, c)
	}
	s.games = make(map[string]*Coordinator)
	s.mu.Unlock()
	for _, c := range coords {
		c.stop()
	}
}

// coordinatorExited cleans the registry when a loop ends on its own, which
// only happens on a crash; a normal StopGame already removed the entry. The
// identity check keeps a crashed predecessor from unregistering a new game
// on a reused code.
func (s *Supervisor) coordinatorExited(c *Coordinator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.games[c.code]; ok && cur == c {
		delete(s.games, c.code)
	}
}
