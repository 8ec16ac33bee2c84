package bot

import (
	"runtime/debug"
	"sync"

	"github.com/decred/slog"
)

// Supervisor owns the bot goroutines. It spawns each player, captures any
// panic that escapes the run loop, and reports every exit; Wait blocks
// until all spawned bots have unwound. Crashed bots are not restarted:
// the seat stays a bot seat and the room layer decides what happens next.
type Supervisor struct {
	log slog.Logger
	wg  sync.WaitGroup
}

// NewSupervisor creates a supervisor logging through the given logger.
func NewSupervisor(log slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Disabled
	}
	return &Supervisor{log: log}
}

// Spawn starts the player's run loop on a fresh goroutine. The player's
// own deferred cleanup runs before the panic reaches the recover here, so
// by the time a crash is reported the registry is already consistent.
func (s *Supervisor) Spawn(p *Player) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Criticalf("Bot %s crashed: %v\n%s", p.ID(), r, debug.Stack())
				return
			}
			s.log.Debugf("Bot %s exited", p.ID())
		}()
		p.run()
	}()
}

// Wait blocks until every spawned bot goroutine has exited.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
