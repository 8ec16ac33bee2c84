package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pbnjay/memory"
	"github.com/prometheus/procfs"

	"github.com/marcelfahle/pidro-backend-sub005/pkg/game"
	"github.com/marcelfahle/pidro-backend-sub005/pkg/pidro"
	"github.com/marcelfahle/pidro-backend-sub005/pkg/rooms"
	"github.com/marcelfahle/pidro-backend-sub005/pkg/server/internal/db"
)

type createRoomRequest struct {
	HostID   string            `json:"host_id"`
	Name     string            `json:"name,omitempty"`
	Practice bool              `json:"practice,omitempty"`
	BotSeats []string          `json:"bot_seats,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	if req.HostID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("host_id is required"))
		return
	}
	if rooms.IsBotID(req.HostID) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("reserved player id"))
		return
	}

	opts := rooms.CreateRoomOptions{Metadata: req.Metadata}
	if req.Name != "" {
		if opts.Metadata == nil {
			opts.Metadata = make(map[string]string)
		}
		opts.Metadata["name"] = req.Name
	}
	if req.Practice {
		opts.Type = rooms.TypePractice
	}
	for _, raw := range req.BotSeats {
		seat := pidro.Seat(strings.ToUpper(strings.TrimSpace(raw)))
		if !pidro.ValidSeat(seat) {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid bot seat %q", raw))
			return
		}
		opts.BotSeats = append(opts.BotSeats, seat)
	}

	snap, err := s.rooms.CreateRoom(req.HostID, opts)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	filter, err := rooms.ParseFilter(r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	list := s.rooms.ListRooms(filter)
	if list == nil {
		list = []rooms.Snapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rooms": list})
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	snap, err := s.rooms.GetRoom(chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCloseRoom(w http.ResponseWriter, r *http.Request) {
	code := rooms.NormalizeCode(chi.URLParam(r, "code"))

	// The body is optional: operators close without one, players must
	// identify themselves.
	var req struct {
		PlayerID string `json:"player_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}

	snap, err := s.rooms.GetRoom(code)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if req.PlayerID != "" && req.PlayerID != snap.HostID {
		writeError(w, http.StatusForbidden, fmt.Errorf("only the host may close the room"))
		return
	}

	if err := s.rooms.CloseRoom(code); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code": code, "status": "closed"})
}

func (s *Server) handlePlayerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.PlayerStats(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTopPlayers(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	players, err := s.db.TopPlayers(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if players == nil {
		players = []*db.PlayerStats{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"players": players})
}

func (s *Server) handleStatusz(w http.ResponseWriter, r *http.Request) {
	roomCounts := make(map[rooms.Status]int)
	for _, snap := range s.rooms.ListRooms(rooms.FilterAll) {
		roomCounts[snap.Status]++
	}

	status := map[string]interface{}{
		"uptime":     time.Since(s.started).Round(time.Second).String(),
		"rooms":      roomCounts,
		"games":      len(s.games.ListGames()),
		"bots":       s.bots.Count(),
		"sessions":   s.sessionCount(),
		"goroutines": runtime.NumGoroutine(),
		"mem_total":  memory.TotalMemory(),
		"mem_free":   memory.FreeMemory(),
	}

	// Process stats are best-effort; /proc may be absent.
	if proc, err := procfs.Self(); err == nil {
		if stat, err := proc.Stat(); err == nil {
			status["rss_bytes"] = stat.ResidentMemory()
		}
		if fds, err := proc.FileDescriptorsLen(); err == nil {
			status["open_fds"] = fds
		}
	}

	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps registry errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, rooms.ErrRoomNotFound), errors.Is(err, game.ErrGameNotFound):
		return http.StatusNotFound
	case errors.Is(err, rooms.ErrInvalidChoice):
		return http.StatusBadRequest
	case errors.Is(err, rooms.ErrRoomFull),
		errors.Is(err, rooms.ErrSeatTaken),
		errors.Is(err, rooms.ErrTeamFull),
		errors.Is(err, rooms.ErrAlreadySeated),
		errors.Is(err, rooms.ErrAlreadyInRoom),
		errors.Is(err, rooms.ErrAlreadyInThisRoom),
		errors.Is(err, rooms.ErrAlreadyInOtherRoom),
		errors.Is(err, rooms.ErrRoomNotJoinable),
		errors.Is(err, rooms.ErrNotInRoom),
		errors.Is(err, rooms.ErrInvalidTransition):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
