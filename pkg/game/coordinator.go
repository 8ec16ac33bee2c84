// Package game runs one coordinator goroutine per active room. The
// coordinator owns the engine state outright: every read and write is a
// request executed on its loop, so actions serialise without locks and
// every accepted action is published with a strictly increasing sequence
// number.
package game

import (
	"errors"
	"sync"

	"github.com/decred/slog"

	"github.com/marcelfahle/pidro-backend-sub005/pkg/pidro"
	"github.com/marcelfahle/pidro-backend-sub005/pkg/pubsub"
)

var (
	// ErrAlreadyStarted is returned for a duplicate start on a room code.
	ErrAlreadyStarted = errors.New("game already started")
	// ErrGameNotFound is returned when no coordinator runs for the code.
	ErrGameNotFound = errors.New("game not found")
	// ErrGameStopped is returned to callers whose request raced the
	// coordinator's shutdown.
	ErrGameStopped = errors.New("game stopped")
)

// RoomNotifier receives lifecycle callbacks from coordinators. Every call
// arrives on a throwaway goroutine, never on the coordinator loop, so
// implementations may synchronise with the room manager and bot manager
// freely.
type RoomNotifier interface {
	GameStarted(code string)
	GameFinished(code string, winner pidro.Team, scores map[pidro.Team]int)
	GameAborted(code string, reason string)
}

// Coordinator owns the game state for one room.
type Coordinator struct {
	code   string
	log    slog.Logger
	bus    *pubsub.Bus
	eng    Engine
	notify RoomNotifier
	onExit func(*Coordinator)

	requests chan func()
	quit     chan struct{}
	stopOnce sync.Once
	// done is closed when the loop goroutine has exited, normally or not.
	done chan struct{}

	// Loop-owned: never touched outside the run goroutine after start.
	state *pidro.State
	seq   uint64
}

func newCoordinator(code string, players map[pidro.Seat]string, eng Engine,
	bus *pubsub.Bus, log slog.Logger, notify RoomNotifier, onExit func(*Coordinator)) (*Coordinator, error) {

	st, err := eng.InitialState(players)
	if err != nil {
		return nil, err
	}
	c := &Coordinator{
		code:     code,
		log:      log,
		bus:      bus,
		eng:      eng,
		notify:   notify,
		onExit:   onExit,
		requests: make(chan func()),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		state:    st,
	}
	// Sequence 0 goes out before the loop starts so StartGame's caller can
	// rely on the initial publish having happened.
	c.publishState()
	go c.run()
	return c, nil
}

// Code returns the room code this coordinator serves.
func (c *Coordinator) Code() string { return c.code }

func (c *Coordinator) run() {
	defer func() {
		if r := recover(); r != nil {
			c.log.Criticalf("Game %s coordinator panicked: %v", c.code, r)
			if c.bus != nil {
				c.bus.Publish(pubsub.GameTopic(c.code), GameOver{Code: c.code, Aborted: true})
			}
			if c.notify != nil {
				go c.notify.GameAborted(c.code, "coordinator crashed")
			}
		}
		if c.onExit != nil {
			c.onExit(c)
		}
		close(c.done)
	}()

	if c.notify != nil {
		go c.notify.GameStarted(c.code)
	}

	for {
		select {
		case fn := <-c.requests:
			fn()
		case <-c.quit:
			return
		}
	}
}

// stop signals the loop to exit. It never blocks and is safe to call more
// than once.
func (c *Coordinator) stop() {
	c.stopOnce.Do(func() { close(c.quit) })
}

// do runs fn on the coordinator loop and waits for it.
func (c *Coordinator) do(fn func()) error {
	ran := make(chan struct{})
	select {
	case c.requests <- func() { fn(); close(ran) }:
	case <-c.done:
		return ErrGameStopped
	}
	select {
	case <-ran:
		return nil
	case <-c.done:
		return ErrGameStopped
	}
}

// GetState returns the engine state masked for the viewer.
func (c *Coordinator) GetState(viewer pidro.Viewer) (*pidro.View, error) {
	var view *pidro.View
	err := c.do(func() {
		view = c.eng.MaskStateFor(c.state, viewer)
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// Seq returns the sequence number of the last published state.
func (c *Coordinator) Seq() (uint64, error) {
	var seq uint64
	err := c.do(func() { seq = c.seq })
	return seq, err
}

// Sync returns the masked state together with its sequence number, captured
// in one request so the pair is consistent. Transports use it to answer
// state fetches.
func (c *Coordinator) Sync(viewer pidro.Viewer) (*pidro.View, uint64, error) {
	var (
		view *pidro.View
		seq  uint64
	)
	err := c.do(func() {
		view = c.eng.MaskStateFor(c.state, viewer)
		seq = c.seq
	})
	if err != nil {
		return nil, 0, err
	}
	return view, seq, nil
}

// LegalActions returns the actions the seat may take right now. Empty for
// off-turn or eliminated seats.
func (c *Coordinator) LegalActions(seat pidro.Seat) ([]pidro.Action, error) {
	var acts []pidro.Action
	err := c.do(func() {
		acts = c.eng.LegalActions(c.state, seat)
	})
	if err != nil {
		return nil, err
	}
	return acts, nil
}

// ApplyAction validates and applies one action. On success the new state is
// published as a StateUpdate and the actor's masked view is returned; a
// terminal phase additionally publishes GameOver and notifies the room.
func (c *Coordinator) ApplyAction(seat pidro.Seat, act pidro.Action) (*pidro.View, error) {
	var (
		view   *pidro.View
		actErr error
	)
	err := c.do(func() {
		next, err := c.eng.ApplyAction(c.state, seat, act)
		if err != nil {
			actErr = err
			return
		}
		c.state = next
		c.seq++
		c.publishState()
		view = c.eng.MaskStateFor(c.state, pidro.SeatViewer(seat))

		if c.eng.Phase(c.state) == pidro.PhaseComplete {
			winner, _ := c.eng.Winner(c.state)
			scores := make(map[pidro.Team]int, len(c.state.Scores))
			for team, pts := range c.state.Scores {
				scores[team] = pts
			}
			c.log.Infof("Game %s complete: %s wins %v", c.code, winner, scores)
			if c.bus != nil {
				c.bus.Publish(pubsub.GameTopic(c.code), GameOver{
					Code: c.code, Winner: winner, Scores: scores,
				})
			}
			if c.notify != nil {
				go c.notify.GameFinished(c.code, winner, scores)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	if actErr != nil {
		return nil, actErr
	}
	return view, nil
}

func (c *Coordinator) publishState() {
	if c.bus == nil {
		return
	}
	c.bus.Publish(pubsub.GameTopic(c.code), StateUpdate{
		Code:  c.code,
		Seq:   c.seq,
		State: c.state,
	})
}
