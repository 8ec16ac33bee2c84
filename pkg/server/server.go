// Package server assembles the Pidro backend behind one HTTP/WebSocket
// gateway: the pubsub bus, the room manager, the game supervisor, the bot
// manager, and the statistics store. It is also the rooms' notifier: game
// lifecycle callbacks land here and are turned into room status changes,
// bot shutdowns, and stat records.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/go-chi/chi/v5"
	"github.com/vctt94/bisonbotkit/logging"

	"github.com/marcelfahle/pidro-backend-sub005/pkg/bot"
	"github.com/marcelfahle/pidro-backend-sub005/pkg/config"
	"github.com/marcelfahle/pidro-backend-sub005/pkg/game"
	"github.com/marcelfahle/pidro-backend-sub005/pkg/pidro"
	"github.com/marcelfahle/pidro-backend-sub005/pkg/pubsub"
	"github.com/marcelfahle/pidro-backend-sub005/pkg/rooms"
	"github.com/marcelfahle/pidro-backend-sub005/pkg/server/internal/db"
)

// botStartTimeout bounds the synchronous bot spawn on a practice-room
// subscribe.
const botStartTimeout = 5 * time.Second

// Server is the top-level wiring for one Pidro backend process.
type Server struct {
	log        slog.Logger
	statLog    slog.Logger
	logBackend *logging.LogBackend
	cfg        *config.Config
	db         Database

	bus   *pubsub.Bus
	rooms *rooms.Manager
	games *game.Supervisor
	bots  *bot.Manager

	// rules is used for re-masking published states per viewer; it never
	// deals or applies actions.
	rules *pidro.Rules

	started time.Time

	mu sync.Mutex
	// sessions is keyed by player id; a new connection for an id
	// supersedes the old session, which then must not file a disconnect.
	sessions   map[string]*session
	gameStarts map[string]time.Time
}

var _ game.RoomNotifier = (*Server)(nil)

// NewServer wires the full room/game/bot stack. The database is opened and
// closed by the caller.
func NewServer(database Database, logBackend *logging.LogBackend, cfg *config.Config) *Server {
	if cfg == nil {
		cfg = config.Default()
	}

	s := &Server{
		log:        logBackend.Logger("GATE"),
		statLog:    logBackend.Logger("STAT"),
		logBackend: logBackend,
		cfg:        cfg,
		db:         database,
		rules:      pidro.NewRules(),
		started:    time.Now(),
		sessions:   make(map[string]*session),
		gameStarts: make(map[string]time.Time),
	}

	s.bus = pubsub.NewBus(logBackend.Logger("PUBS"), cfg.PubSub.Buffer)
	s.games = game.NewSupervisor(game.SupervisorConfig{
		Log:      logBackend.Logger("GAME"),
		Bus:      s.bus,
		Notifier: s,
	})
	s.bots = bot.NewManager(bot.ManagerConfig{
		Log: logBackend.Logger("BOT"),
		Bus: s.bus,
		Resolve: func(code string) (bot.GameClient, error) {
			coord, err := s.games.Lookup(code)
			if err != nil {
				return nil, err
			}
			return coord, nil
		},
	})
	s.rooms = rooms.NewManager(rooms.Config{
		Log:             logBackend.Logger("ROOM"),
		Bus:             s.bus,
		ReplaceGrace:    cfg.Rooms.ReplaceGrace,
		RemovalGrace:    cfg.Rooms.RemovalGrace,
		IdleTimeout:     cfg.Rooms.IdleTimeout,
		JanitorInterval: cfg.Rooms.JanitorInterval,
		BotStrategy:     cfg.Bots.Strategy,
		BotDelay:        cfg.Bots.ActionDelay,
	})
	s.rooms.SetGameStarter(s.games)
	s.rooms.SetBotService(s.bots)

	return s
}

// Handler returns the gateway routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Post("/rooms", s.handleCreateRoom)
	r.Get("/rooms", s.handleListRooms)
	r.Get("/rooms/{code}", s.handleGetRoom)
	r.Post("/rooms/{code}/close", s.handleCloseRoom)
	r.Get("/players/{id}/stats", s.handlePlayerStats)
	r.Get("/stats/top", s.handleTopPlayers)
	r.Get("/statusz", s.handleStatusz)
	r.Get("/ws", s.handleWS)

	return r
}

// Close shuts the backend down: sessions first, then room timers,
// coordinators, and bots. The database stays open for the caller.
func (s *Server) Close() {
	s.mu.Lock()
	open := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()
	for _, sess := range open {
		sess.shutdown()
	}

	s.rooms.Close()
	s.games.StopAll()
	s.bots.Close()
	s.log.Infof("Server closed")
}

// addSession registers sess as the live connection for its player. An
// older session for the same id is shut down; superseded, it skips the
// disconnect notice in its teardown.
func (s *Server) addSession(sess *session) {
	s.mu.Lock()
	old := s.sessions[sess.playerID]
	s.sessions[sess.playerID] = sess
	s.mu.Unlock()
	if old != nil {
		s.log.Debugf("New connection for %s supersedes the old session", sess.playerID)
		old.shutdown()
	}
}

// dropSession removes sess and reports whether it was still the live
// session for its player.
func (s *Server) dropSession(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[sess.playerID] != sess {
		return false
	}
	delete(s.sessions, sess.playerID)
	return true
}

func (s *Server) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// spawnPracticeBot starts one declared practice bot and seats it through
// the ordinary join path; seating the last one starts the game.
func (s *Server) spawnPracticeBot(code string, seat pidro.Seat) error {
	ctx, cancel := context.WithTimeout(context.Background(), botStartTimeout)
	defer cancel()
	if err := s.bots.StartBot(ctx, code, seat, s.cfg.Bots.Strategy, s.cfg.Bots.ActionDelay); err != nil {
		return fmt.Errorf("starting practice bot: %w", err)
	}
	if _, _, err := s.rooms.JoinRoom(code, rooms.BotID(code, seat), rooms.ChooseSeat(seat)); err != nil {
		if stopErr := s.bots.StopBot(ctx, code, seat); stopErr != nil {
			s.log.Warnf("Stopping unseated practice bot %s/%s: %v", code, seat, stopErr)
		}
		return fmt.Errorf("seating practice bot: %w", err)
	}
	return nil
}

// GameStarted records the start time for duration accounting. The room
// status flip to playing already happened inside the fourth join.
func (s *Server) GameStarted(code string) {
	s.mu.Lock()
	s.gameStarts[code] = time.Now()
	s.mu.Unlock()
	s.log.Debugf("Game started for room %s", code)
}

// GameFinished settles a completed game: the result is captured while the
// coordinator still exists, then the room is marked finished, its bots are
// stopped, the coordinator retired, and the record written.
func (s *Server) GameFinished(code string, winner pidro.Team, scores map[pidro.Team]int) {
	rec := s.buildRecord(code, winner, scores, false)

	if err := s.rooms.UpdateStatus(code, rooms.StatusFinished); err != nil {
		s.log.Warnf("Marking room %s finished: %v", code, err)
	}
	s.bots.StopAllBots(code)
	s.games.StopGame(code)

	if err := s.db.RecordGame(rec); err != nil {
		s.statLog.Errorf("Recording game %s: %v", code, err)
		return
	}
	s.statLog.Infof("Recorded game %s: %s won %d-%d in %d hands",
		code, rec.Winner, rec.ScoreNS, rec.ScoreEW, rec.Hands)
}

// GameAborted runs when a coordinator dies mid-game: the room closes and
// the game is recorded with the abort flag.
func (s *Server) GameAborted(code string, reason string) {
	s.log.Errorf("Game %s aborted: %s", code, reason)
	rec := s.buildRecord(code, "", nil, true)

	if err := s.rooms.CloseRoom(code); err != nil && !errors.Is(err, rooms.ErrRoomNotFound) {
		s.log.Warnf("Closing room %s after abort: %v", code, err)
	}

	if err := s.db.RecordGame(rec); err != nil {
		s.statLog.Errorf("Recording aborted game %s: %v", code, err)
	}
}

// buildRecord assembles the stat row for one game. Seats keep their
// original occupants, so a seat a replacement bot finished still counts for
// the human who started it.
func (s *Server) buildRecord(code string, winner pidro.Team, scores map[pidro.Team]int, aborted bool) *db.GameRecord {
	now := time.Now()
	rec := &db.GameRecord{
		Code:       code,
		ScoreNS:    scores[pidro.TeamNS],
		ScoreEW:    scores[pidro.TeamEW],
		Aborted:    aborted,
		FinishedAt: now,
	}
	if !aborted {
		rec.Winner = string(winner)
	}

	s.mu.Lock()
	if started, ok := s.gameStarts[code]; ok {
		rec.Duration = now.Sub(started)
		delete(s.gameStarts, code)
	}
	s.mu.Unlock()

	// Best effort: a crashed coordinator is already gone.
	if coord, err := s.games.Lookup(code); err == nil {
		if view, _, err := coord.Sync(pidro.SpectatorViewer()); err == nil {
			rec.Hands = view.HandNum
		}
	}

	snap, err := s.rooms.GetRoom(code)
	if err != nil {
		s.log.Warnf("No room snapshot for recorded game %s: %v", code, err)
		return rec
	}
	for _, seat := range pidro.Seats() {
		occupant, ok := snap.Positions[seat]
		if !ok {
			continue
		}
		playerID := occupant
		isBot := rooms.IsBotID(occupant)
		if original, ok := snap.OriginalOccupants[seat]; ok {
			playerID = original
			isBot = false
		}
		rec.Seats = append(rec.Seats, db.SeatRecord{
			Seat:     string(seat),
			PlayerID: playerID,
			Bot:      isBot,
			Won:      !aborted && pidro.TeamOf(seat) == winner,
		})
	}
	return rec
}
