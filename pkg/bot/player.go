package bot

import (
	"context"
	"sync"
	"time"

	"github.com/decred/slog"

	"github.com/marcelfahle/pidro-backend-sub005/pkg/game"
	"github.com/marcelfahle/pidro-backend-sub005/pkg/pidro"
	"github.com/marcelfahle/pidro-backend-sub005/pkg/pubsub"
	"github.com/marcelfahle/pidro-backend-sub005/pkg/rooms"
	"github.com/marcelfahle/pidro-backend-sub005/pkg/statemachine"
	"github.com/marcelfahle/pidro-backend-sub005/pkg/utils"
)

// GameClient is the slice of a live game a bot needs: masked reads and the
// same action entry point human players use.
type GameClient interface {
	GetState(viewer pidro.Viewer) (*pidro.View, error)
	Seq() (uint64, error)
	LegalActions(seat pidro.Seat) ([]pidro.Action, error)
	ApplyAction(seat pidro.Seat, act pidro.Action) (*pidro.View, error)
}

var _ GameClient = (*game.Coordinator)(nil)

// ResolveFunc looks up the live game for a room code.
type ResolveFunc func(code string) (GameClient, error)

type ctrlKind int

const (
	ctrlPause ctrlKind = iota
	ctrlResume
)

type ctrlMsg struct {
	kind ctrlKind
	done chan struct{}
}

// Player is one automated seat. It subscribes to the room's game topic and
// runs a single goroutine that owns all of its decision state; the only
// other goroutines involved are one-shot timer callbacks, which do nothing
// but push their arming sequence into fireC.
//
// The lifecycle runs on a small state machine: watching (not our turn),
// armed (our turn, delay timer running), paused (operator hold). Arming
// records the sequence number that prompted it, and a timer firing for any
// other sequence is stale and ignored.
type Player struct {
	log      slog.Logger
	id       string
	code     string
	seat     pidro.Seat
	strategy Strategy
	delay    time.Duration
	resolve  ResolveFunc
	onExit   func(*Player)

	sub   *pubsub.Subscription
	fireC chan uint64
	ctrl  chan ctrlMsg
	quit  chan struct{}
	done  chan struct{}

	machine *statemachine.Machine[Player]

	// Owned by the run loop.
	paused     bool
	pendingSeq uint64
	timer      *time.Timer

	statusMu sync.Mutex
	status   string
}

type playerConfig struct {
	log      slog.Logger
	bus      *pubsub.Bus
	resolve  ResolveFunc
	code     string
	seat     pidro.Seat
	strategy Strategy
	delay    time.Duration
	onExit   func(*Player)
}

func newPlayer(cfg playerConfig) *Player {
	p := &Player{
		log:      cfg.log,
		id:       rooms.BotID(cfg.code, cfg.seat),
		code:     cfg.code,
		seat:     cfg.seat,
		strategy: cfg.strategy,
		delay:    cfg.delay,
		resolve:  cfg.resolve,
		onExit:   cfg.onExit,
		fireC:    make(chan uint64, 1),
		ctrl:     make(chan ctrlMsg),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		status:   "watching",
	}
	p.machine = statemachine.New(p, botWatching)
	p.sub = cfg.bus.Subscribe(pubsub.GameTopic(cfg.code))
	return p
}

// ID returns the bot's player identity.
func (p *Player) ID() string { return p.id }

// Seat returns the seat the bot plays.
func (p *Player) Seat() pidro.Seat { return p.seat }

// Code returns the room the bot plays in.
func (p *Player) Code() string { return p.code }

// Status reports the lifecycle state: watching, armed, or paused.
func (p *Player) Status() string {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	return p.status
}

func (p *Player) setStatus(s string) {
	p.statusMu.Lock()
	p.status = s
	p.statusMu.Unlock()
}

// stop signals shutdown. Callers wait on done for the loop to unwind.
func (p *Player) stop() {
	select {
	case <-p.quit:
	default:
		close(p.quit)
	}
}

// pause holds the bot: its timer is cancelled and published turns are
// ignored until resume. Blocks until the run loop acknowledges.
func (p *Player) pause(ctx context.Context) error {
	return p.control(ctx, ctrlPause)
}

// resume releases a paused bot. The bot re-reads the live state, so a turn
// that arrived during the hold is picked up immediately.
func (p *Player) resume(ctx context.Context) error {
	return p.control(ctx, ctrlResume)
}

func (p *Player) control(ctx context.Context, kind ctrlKind) error {
	msg := ctrlMsg{kind: kind, done: make(chan struct{})}
	select {
	case p.ctrl <- msg:
	case <-p.done:
		return ErrBotStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-msg.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the bot's only goroutine. The supervisor calls it and owns panic
// capture; the cleanup here still runs while a panic unwinds, so the
// registry entry and subscription never leak.
func (p *Player) run() {
	defer func() {
		p.cancelTimer()
		p.sub.Cancel()
		if p.onExit != nil {
			p.onExit(p)
		}
		close(p.done)
	}()

	p.log.Infof("Bot %s seated at %s in room %s", p.id, p.seat, p.code)

	// The game may already be waiting on this seat: the subscription only
	// sees updates published after it, so take one direct look first.
	p.evaluate(0, true)

	for {
		select {
		case <-p.quit:
			return

		case msg, ok := <-p.sub.C():
			if !ok {
				return
			}
			switch ev := msg.Payload.(type) {
			case game.StateUpdate:
				p.consider(ev.Seq, ev.State.Turn)
			case game.GameOver:
				p.log.Debugf("Bot %s leaving finished game %s", p.id, p.code)
				return
			}

		case seq := <-p.fireC:
			p.act(seq)

		case msg := <-p.ctrl:
			switch msg.kind {
			case ctrlPause:
				p.paused = true
				p.machine.Dispatch(botPaused)
			case ctrlResume:
				p.paused = false
				p.evaluate(0, true)
			}
			close(msg.done)
		}
	}
}

// consider reacts to one published state: arm the timer when it is our
// turn, otherwise go back to watching.
func (p *Player) consider(seq uint64, turn pidro.Seat) {
	if p.paused {
		return
	}
	if turn == p.seat {
		p.pendingSeq = seq
		p.machine.Dispatch(botArmed)
		return
	}
	p.machine.Dispatch(botWatching)
}

// evaluate pulls the current state directly and feeds it to consider. When
// force is set a matching sequence re-arms even if it equals pendingSeq,
// which is what resume needs.
func (p *Player) evaluate(_ uint64, force bool) {
	g, err := p.resolve(p.code)
	if err != nil {
		p.log.Debugf("Bot %s has no game yet: %v", p.id, err)
		return
	}
	seq, err := g.Seq()
	if err != nil {
		return
	}
	view, err := g.GetState(pidro.SeatViewer(p.seat))
	if err != nil {
		return
	}
	if force || seq != p.pendingSeq {
		p.consider(seq, view.Turn)
	}
}

// act fires after the think delay. The sequence check drops firings from
// timers that were superseded while queued; the re-read afterwards drops
// firings that raced an update still sitting in the subscription.
func (p *Player) act(fireSeq uint64) {
	if p.paused || fireSeq != p.pendingSeq {
		return
	}
	g, err := p.resolve(p.code)
	if err != nil {
		p.machine.Dispatch(botWatching)
		return
	}
	seq, err := g.Seq()
	if err != nil {
		p.machine.Dispatch(botWatching)
		return
	}
	if seq != fireSeq {
		return
	}
	legal, err := g.LegalActions(p.seat)
	if err != nil || len(legal) == 0 {
		p.machine.Dispatch(botWatching)
		return
	}
	view, err := g.GetState(pidro.SeatViewer(p.seat))
	if err != nil {
		p.machine.Dispatch(botWatching)
		return
	}
	act, why := p.strategy.Pick(legal, view)
	if _, err := g.ApplyAction(p.seat, act); err != nil {
		p.log.Warnf("Bot %s action %s rejected: %v", p.id, act.Type, err)
		p.machine.Dispatch(botWatching)
		return
	}
	p.log.Debugf("Bot %s played %s at seq %d (hand %s): %s",
		p.id, act.Type, fireSeq, utils.FormatCards(view.Hand), why)
	p.machine.Dispatch(botWatching)
}

func (p *Player) startTimer() {
	seq := p.pendingSeq
	p.timer = time.AfterFunc(p.delay, func() {
		select {
		case p.fireC <- seq:
		case <-p.quit:
		}
	})
}

func (p *Player) cancelTimer() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func botWatching(p *Player) statemachine.StateFn[Player] {
	p.cancelTimer()
	p.setStatus("watching")
	return botWatching
}

func botArmed(p *Player) statemachine.StateFn[Player] {
	p.cancelTimer()
	p.startTimer()
	p.setStatus("armed")
	return botArmed
}

func botPaused(p *Player) statemachine.StateFn[Player] {
	p.cancelTimer()
	p.setStatus("paused")
	return botPaused
}
