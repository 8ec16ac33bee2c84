package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/marcelfahle/pidro-backend-sub005/pkg/game"
	"github.com/marcelfahle/pidro-backend-sub005/pkg/pidro"
	"github.com/marcelfahle/pidro-backend-sub005/pkg/pubsub"
	"github.com/marcelfahle/pidro-backend-sub005/pkg/rooms"
)

const (
	// wsReadTimeout must exceed wsPingInterval so a healthy idle connection
	// keeps its deadline refreshed by pongs.
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 54 * time.Second
	wsWriteTimeout = 10 * time.Second

	sendBuffer     = 256
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect from any origin; identity is the player id,
	// not the Origin header.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ClientMessage is one inbound envelope.
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ServerMessage is one outbound envelope.
type ServerMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Outbound payloads.

type welcomePayload struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name,omitempty"`
}

type joinedPayload struct {
	Room rooms.Snapshot `json:"room"`
	Seat pidro.Seat     `json:"seat"`
}

type leftPayload struct {
	Code string `json:"code"`
}

type statePayload struct {
	Code  string      `json:"code"`
	Seq   uint64      `json:"seq"`
	State *pidro.View `json:"state"`
}

type roomListPayload struct {
	Rooms []rooms.Snapshot `json:"rooms"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// Inbound payloads.

type joinRoomReq struct {
	Code string `json:"code"`
	Seat string `json:"seat,omitempty"`
}

type roomRef struct {
	Code string `json:"code,omitempty"`
}

type actionReq struct {
	Code   string       `json:"code,omitempty"`
	Action pidro.Action `json:"action"`
}

type listRoomsReq struct {
	Filter string `json:"filter,omitempty"`
}

// session is one WebSocket connection bound to one player id. All socket
// writes go through the send channel and the write pump; the read loop runs
// on the run goroutine.
type session struct {
	srv  *Server
	log  slog.Logger
	conn *websocket.Conn

	playerID string
	name     string

	send    chan ServerMessage
	limiter *rate.Limiter
	quit    chan struct{}
	once    sync.Once

	lobbySub *pubsub.Subscription

	mu       sync.Mutex
	roomCode string
	seat     pidro.Seat
	roomSub  *pubsub.Subscription
	gameSub  *pubsub.Subscription
}

// handleWS upgrades the connection and binds it to a player id. A missing
// player_id mints a guest id; bot ids are reserved for the bot manager.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("player_id")
	if playerID == "" {
		playerID = uuid.NewString()
	}
	if rooms.IsBotID(playerID) {
		http.Error(w, "reserved player id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("WebSocket upgrade for %s: %v", playerID, err)
		return
	}

	sess := &session{
		srv:      s,
		log:      s.log,
		conn:     conn,
		playerID: playerID,
		name:     r.URL.Query().Get("name"),
		send:     make(chan ServerMessage, sendBuffer),
		limiter:  rate.NewLimiter(rate.Limit(s.cfg.Gateway.RateLimit), s.cfg.Gateway.RateBurst),
		quit:     make(chan struct{}),
	}
	s.addSession(sess)
	s.log.Debugf("Session opened for %s", playerID)
	go sess.run()
}

// run owns the session lifecycle: the write pump, the lobby feed, the
// reconnect check, and finally the blocking read loop.
func (s *session) run() {
	defer s.shutdown()

	go s.writePump()

	s.lobbySub = s.srv.bus.Subscribe(pubsub.LobbyTopic())
	go s.forwardLobby(s.lobbySub)

	s.trySend(ServerMessage{Type: "welcome", Data: welcomePayload{PlayerID: s.playerID, Name: s.name}})

	// A returning player is rebound to their room before the first read.
	if code, ok := s.srv.rooms.RoomOf(s.playerID); ok {
		if err := s.rejoin(code); err != nil {
			s.log.Debugf("Session %s could not resume room %s: %v", s.playerID, code, err)
		}
	}

	s.readPump()
}

// readPump reads envelopes until the socket dies. Liveness comes from the
// ping/pong cycle: each pong pushes the read deadline forward.
func (s *session) readPump() {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		var msg ClientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debugf("Session %s read error: %v", s.playerID, err)
			}
			return
		}
		if !s.limiter.Allow() {
			s.sendError("rate limit exceeded")
			continue
		}
		s.handleMessage(msg)
	}
}

// handleMessage dispatches one envelope. A panic in a handler is contained
// to the message that caused it.
func (s *session) handleMessage(msg ClientMessage) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Criticalf("Session %s panicked on %q: %v\n%s", s.playerID, msg.Type, r, debug.Stack())
			s.sendError("internal error")
		}
	}()

	switch msg.Type {
	case "ping":
		s.trySend(ServerMessage{Type: "pong"})
	case "list_rooms":
		s.handleListRooms(msg.Data)
	case "join_room":
		s.handleJoinRoom(msg.Data)
	case "leave_room":
		s.handleLeaveRoom()
	case "subscribe_game":
		s.handleSubscribeGame(msg.Data)
	case "get_state":
		s.handleGetState(msg.Data)
	case "action":
		s.handleAction(msg.Data)
	default:
		s.sendError(fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func (s *session) handleListRooms(data json.RawMessage) {
	var req listRoomsReq
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			s.sendError("bad list_rooms payload")
			return
		}
	}
	filter, err := rooms.ParseFilter(req.Filter)
	if err != nil {
		s.sendError(err.Error())
		return
	}
	list := s.srv.rooms.ListRooms(filter)
	if list == nil {
		list = []rooms.Snapshot{}
	}
	s.trySend(ServerMessage{Type: "room_list", Data: roomListPayload{Rooms: list}})
}

func (s *session) handleJoinRoom(data json.RawMessage) {
	var req joinRoomReq
	if err := json.Unmarshal(data, &req); err != nil || req.Code == "" {
		s.sendError("bad join_room payload")
		return
	}
	choice, err := rooms.ParseSeatChoice(req.Seat)
	if err != nil {
		s.sendError(err.Error())
		return
	}

	snap, seat, err := s.srv.rooms.JoinRoom(req.Code, s.playerID, choice)
	switch {
	case err == nil:
		s.setRoom(snap)
		s.trySend(ServerMessage{Type: "joined", Data: joinedPayload{Room: snap, Seat: seat}})
	case errors.Is(err, rooms.ErrAlreadyInThisRoom), errors.Is(err, rooms.ErrRoomNotJoinable):
		// The player may already belong here: a rebinding socket, a
		// grace-window return, or a seat reclaim from a replacement bot.
		if rerr := s.rejoin(req.Code); rerr != nil {
			if errors.Is(rerr, rooms.ErrPlayerNotDisconnected) {
				s.sendError(err.Error())
			} else {
				s.sendError(rerr.Error())
			}
		}
	default:
		s.sendError(err.Error())
	}
}

// rejoin rebinds this session to a room the player already belongs to,
// covering the grace-window reconnect, the bot-seat reclaim, and the plain
// duplicate socket.
func (s *session) rejoin(code string) error {
	snap, err := s.srv.rooms.HandleReconnect(code, s.playerID)
	if errors.Is(err, rooms.ErrPlayerNotDisconnected) {
		// Still seated with no grace pending: rebind only if the player is
		// actually in this room.
		if cur, ok := s.srv.rooms.RoomOf(s.playerID); ok && cur == rooms.NormalizeCode(code) {
			snap, err = s.srv.rooms.GetRoom(code)
		}
	}
	if err != nil {
		return err
	}
	s.setRoom(snap)
	seat, _ := snap.Positions.GetSeat(s.playerID)
	s.trySend(ServerMessage{Type: "joined", Data: joinedPayload{Room: snap, Seat: seat}})
	return nil
}

func (s *session) handleLeaveRoom() {
	code, _ := s.srv.rooms.RoomOf(s.playerID)
	if err := s.srv.rooms.LeaveRoom(s.playerID); err != nil {
		s.sendError(err.Error())
		return
	}
	s.clearRoom()
	s.trySend(ServerMessage{Type: "left", Data: leftPayload{Code: code}})
}

func (s *session) handleSubscribeGame(data json.RawMessage) {
	var req roomRef
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			s.sendError("bad subscribe_game payload")
			return
		}
	}
	code := req.Code
	if code == "" {
		code = s.currentRoom()
	}
	if code == "" {
		s.sendError("no room to subscribe to")
		return
	}
	code = rooms.NormalizeCode(code)
	if _, err := s.srv.rooms.GetRoom(code); err != nil {
		s.sendError(err.Error())
		return
	}

	// The host's first subscribe on a practice room spawns its bots; the
	// last bot seated starts the game.
	for _, seat := range s.srv.rooms.ClaimPracticeBots(code, s.playerID) {
		if err := s.srv.spawnPracticeBot(code, seat); err != nil {
			s.log.Errorf("Practice bot for %s seat %s: %v", code, seat, err)
			s.sendError(err.Error())
			return
		}
	}

	sub := s.srv.bus.Subscribe(pubsub.GameTopic(code))
	s.mu.Lock()
	old := s.gameSub
	s.gameSub = sub
	s.mu.Unlock()
	if old != nil {
		old.Cancel()
	}
	go s.forwardGame(code, sub)

	// A game already in progress answers with its current state right away.
	if coord, err := s.srv.games.Lookup(code); err == nil {
		if view, seq, err := coord.Sync(s.viewerFor(code)); err == nil {
			s.trySend(ServerMessage{Type: "state", Data: statePayload{Code: code, Seq: seq, State: view}})
		}
	}
}

func (s *session) handleGetState(data json.RawMessage) {
	var req roomRef
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			s.sendError("bad get_state payload")
			return
		}
	}
	code := req.Code
	if code == "" {
		code = s.currentRoom()
	}
	if code == "" {
		s.sendError("no room given")
		return
	}
	code = rooms.NormalizeCode(code)

	coord, err := s.srv.games.Lookup(code)
	if err != nil {
		s.sendError(err.Error())
		return
	}
	view, seq, err := coord.Sync(s.viewerFor(code))
	if err != nil {
		s.sendError(err.Error())
		return
	}
	s.trySend(ServerMessage{Type: "state", Data: statePayload{Code: code, Seq: seq, State: view}})
}

func (s *session) handleAction(data json.RawMessage) {
	var req actionReq
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError("bad action payload")
		return
	}
	code := req.Code
	if code == "" {
		code = s.currentRoom()
	}
	if code == "" {
		s.sendError("no room given")
		return
	}
	code = rooms.NormalizeCode(code)

	// The seat mapping comes from the room registry, not the session cache,
	// so a seat reclaimed on another socket still acts correctly.
	snap, err := s.srv.rooms.GetRoom(code)
	if err != nil {
		s.sendError(err.Error())
		return
	}
	seat, ok := snap.Positions.GetSeat(s.playerID)
	if !ok {
		s.sendError("not seated in that room")
		return
	}

	coord, err := s.srv.games.Lookup(code)
	if err != nil {
		s.sendError(err.Error())
		return
	}
	if _, err := coord.ApplyAction(seat, req.Action); err != nil {
		s.sendError(err.Error())
		return
	}
	// The accepted action is already fanning out as a state_update; the
	// submitter also gets a direct reply.
	if view, seq, err := coord.Sync(pidro.SeatViewer(seat)); err == nil {
		s.trySend(ServerMessage{Type: "state", Data: statePayload{Code: code, Seq: seq, State: view}})
	}
}

// setRoom binds the session to a room: seat, room subscription, and feed.
// A game subscription belonging to a different room is dropped.
func (s *session) setRoom(snap rooms.Snapshot) {
	seat, _ := snap.Positions.GetSeat(s.playerID)
	sub := s.srv.bus.Subscribe(pubsub.RoomTopic(snap.Code))

	s.mu.Lock()
	oldRoom := s.roomSub
	var oldGame *pubsub.Subscription
	if s.roomCode != snap.Code && s.gameSub != nil {
		oldGame = s.gameSub
		s.gameSub = nil
	}
	s.roomCode = snap.Code
	s.seat = seat
	s.roomSub = sub
	s.mu.Unlock()

	if oldRoom != nil {
		oldRoom.Cancel()
	}
	if oldGame != nil {
		oldGame.Cancel()
	}
	go s.forwardRoom(sub)
}

// clearRoom drops the room binding and its subscriptions.
func (s *session) clearRoom() {
	s.mu.Lock()
	roomSub, gameSub := s.roomSub, s.gameSub
	s.roomSub, s.gameSub = nil, nil
	s.roomCode, s.seat = "", ""
	s.mu.Unlock()
	if roomSub != nil {
		roomSub.Cancel()
	}
	if gameSub != nil {
		gameSub.Cancel()
	}
}

// clearRoomIf drops the binding only if it still points at sub, so a stale
// feed cannot unbind a newer room.
func (s *session) clearRoomIf(sub *pubsub.Subscription) {
	s.mu.Lock()
	if s.roomSub != sub {
		s.mu.Unlock()
		return
	}
	gameSub := s.gameSub
	s.roomSub, s.gameSub = nil, nil
	s.roomCode, s.seat = "", ""
	s.mu.Unlock()
	sub.Cancel()
	if gameSub != nil {
		gameSub.Cancel()
	}
}

func (s *session) currentRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomCode
}

// viewerFor is the masking identity of this session for one room: seated
// players see their own hand, everyone else is a spectator.
func (s *session) viewerFor(code string) pidro.Viewer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roomCode == code && pidro.ValidSeat(s.seat) {
		return pidro.SeatViewer(s.seat)
	}
	return pidro.SpectatorViewer()
}

// forwardLobby relays public room listings for the lifetime of the session.
func (s *session) forwardLobby(sub *pubsub.Subscription) {
	for msg := range sub.C() {
		if ev, ok := msg.Payload.(rooms.LobbyUpdate); ok {
			s.trySend(ServerMessage{Type: "lobby_update", Data: ev})
		}
	}
}

// forwardRoom relays seating and lifecycle events for the bound room. A
// RoomClosed event ends the feed and unbinds the session.
func (s *session) forwardRoom(sub *pubsub.Subscription) {
	for msg := range sub.C() {
		switch ev := msg.Payload.(type) {
		case rooms.RoomUpdate:
			s.trySend(ServerMessage{Type: "room_update", Data: ev})
		case rooms.BotReplacedPlayer:
			s.trySend(ServerMessage{Type: "bot_replaced_player", Data: ev})
		case rooms.PlayerReclaimedSeat:
			s.trySend(ServerMessage{Type: "player_reclaimed_seat", Data: ev})
		case rooms.RoomClosed:
			s.trySend(ServerMessage{Type: "room_closed", Data: ev})
			s.clearRoomIf(sub)
			return
		}
	}
}

// forwardGame re-masks every state update for this viewer before it leaves
// the process. GameOver passes through unchanged.
func (s *session) forwardGame(code string, sub *pubsub.Subscription) {
	for msg := range sub.C() {
		switch ev := msg.Payload.(type) {
		case game.StateUpdate:
			view := s.srv.rules.MaskStateFor(ev.State, s.viewerFor(code))
			s.trySend(ServerMessage{Type: "state_update", Data: statePayload{Code: ev.Code, Seq: ev.Seq, State: view}})
		case game.GameOver:
			s.trySend(ServerMessage{Type: "game_over", Data: ev})
		}
	}
}

// writePump serialises all socket writes and keeps the ping cycle going.
func (s *session) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.log.Debugf("Session %s write error: %v", s.playerID, err)
				s.conn.Close()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.conn.Close()
				return
			}
		case <-s.quit:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// trySend queues an envelope without blocking; a slow consumer loses the
// message and reconciles through get_state.
func (s *session) trySend(msg ServerMessage) {
	select {
	case s.send <- msg:
	case <-s.quit:
	default:
		s.log.Warnf("Session %s send queue full, dropping %s", s.playerID, msg.Type)
	}
}

func (s *session) sendError(text string) {
	s.trySend(ServerMessage{Type: "error", Data: errorPayload{Message: text}})
}

// shutdown tears the session down exactly once: feeds, socket, registry
// entry, and the room-layer disconnect notice. A session superseded by a
// newer connection for the same player skips the notice; the player never
// went away.
func (s *session) shutdown() {
	s.once.Do(func() {
		close(s.quit)
		if s.lobbySub != nil {
			s.lobbySub.Cancel()
		}

		s.mu.Lock()
		code := s.roomCode
		roomSub, gameSub := s.roomSub, s.gameSub
		s.roomSub, s.gameSub = nil, nil
		s.mu.Unlock()
		if roomSub != nil {
			roomSub.Cancel()
		}
		if gameSub != nil {
			gameSub.Cancel()
		}

		s.conn.Close()
		current := s.srv.dropSession(s)

		if current && code != "" {
			if err := s.srv.rooms.HandleDisconnect(code, s.playerID); err != nil {
				s.log.Debugf("Disconnect notice for %s in %s: %v", s.playerID, code, err)
			}
		}
		s.log.Debugf("Session closed for %s", s.playerID)
	})
}
