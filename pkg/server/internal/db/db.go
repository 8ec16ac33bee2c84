// Package db is the SQLite statistics store: one row per recorded game
// plus one row per seat. The sqlite3 driver is registered by the binary or
// test that opens the store.
package db

import (
	"database/sql"
	"fmt"
	"time"
)

// GameRecord is one recorded game. Aborted games carry the flag and no
// winner.
type GameRecord struct {
	Code       string        `json:"code"`
	Winner     string        `json:"winner,omitempty"`
	ScoreNS    int           `json:"score_ns"`
	ScoreEW    int           `json:"score_ew"`
	Hands      int           `json:"hands"`
	Duration   time.Duration `json:"duration"`
	Aborted    bool          `json:"aborted,omitempty"`
	FinishedAt time.Time     `json:"finished_at"`
	Seats      []SeatRecord  `json:"seats"`
}

// SeatRecord is one seat of a recorded game. PlayerID is the seat's
// original occupant, so a seat a replacement bot finished still counts for
// the human who started it; Bot marks seats held by a bot from the first
// deal.
type SeatRecord struct {
	Seat     string `json:"seat"`
	PlayerID string `json:"player_id"`
	Bot      bool   `json:"bot,omitempty"`
	Won      bool   `json:"won,omitempty"`
}

// PlayerStats aggregates the completed games of one human player.
type PlayerStats struct {
	PlayerID string `json:"player_id"`
	Games    int64  `json:"games"`
	Wins     int64  `json:"wins"`
	Losses   int64  `json:"losses"`
}

// DB represents the database connection
type DB struct {
	*sql.DB
}

// NewDB creates a new database connection
func NewDB(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Create tables if they don't exist
	if err := createTables(db); err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// createTables creates the necessary database tables
func createTables(db *sql.DB) error {
	// Create games table
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS games (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			code TEXT NOT NULL,
			winner TEXT NOT NULL DEFAULT '',
			ns_score INTEGER NOT NULL DEFAULT 0,
			ew_score INTEGER NOT NULL DEFAULT 0,
			hands INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			aborted INTEGER NOT NULL DEFAULT 0,
			finished_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	// Create game_seats table
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS game_seats (
			game_id INTEGER NOT NULL,
			seat TEXT NOT NULL,
			player_id TEXT NOT NULL,
			is_bot INTEGER NOT NULL DEFAULT 0,
			won INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (game_id, seat),
			FOREIGN KEY (game_id) REFERENCES games(id)
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_games_code ON games(code)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_game_seats_player ON game_seats(player_id)`)
	if err != nil {
		return err
	}

	return nil
}

// RecordGame inserts one game and its seats atomically.
func (db *DB) RecordGame(rec *GameRecord) error {
	finished := rec.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO games (code, winner, ns_score, ew_score, hands, duration_ms, aborted, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.Code, rec.Winner, rec.ScoreNS, rec.ScoreEW, rec.Hands,
		rec.Duration.Milliseconds(), rec.Aborted, finished)
	if err != nil {
		return err
	}
	gameID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for _, seat := range rec.Seats {
		_, err = tx.Exec(`
			INSERT INTO game_seats (game_id, seat, player_id, is_bot, won)
			VALUES (?, ?, ?, ?, ?)
		`, gameID, seat.Seat, seat.PlayerID, seat.Bot, seat.Won)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// PlayerStats aggregates the completed, non-aborted games of one player.
// Seats played by bots from the start are excluded.
func (db *DB) PlayerStats(playerID string) (*PlayerStats, error) {
	var games, wins int64
	err := db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(s.won), 0)
		FROM game_seats s
		JOIN games g ON g.id = s.game_id
		WHERE s.player_id = ? AND s.is_bot = 0 AND g.aborted = 0
	`, playerID).Scan(&games, &wins)
	if err != nil {
		return nil, fmt.Errorf("failed to get player stats: %v", err)
	}
	if games == 0 {
		return nil, fmt.Errorf("player not found")
	}
	return &PlayerStats{
		PlayerID: playerID,
		Games:    games,
		Wins:     wins,
		Losses:   games - wins,
	}, nil
}

// TopPlayers returns up to limit players ordered by wins, then games.
func (db *DB) TopPlayers(limit int) ([]*PlayerStats, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.Query(`
		SELECT s.player_id, COUNT(*) AS games, COALESCE(SUM(s.won), 0) AS wins
		FROM game_seats s
		JOIN games g ON g.id = s.game_id
		WHERE s.is_bot = 0 AND g.aborted = 0
		GROUP BY s.player_id
		ORDER BY wins DESC, games DESC, s.player_id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get top players: %v", err)
	}
	defer rows.Close()

	var out []*PlayerStats
	for rows.Next() {
		st := &PlayerStats{}
		if err := rows.Scan(&st.PlayerID, &st.Games, &st.Wins); err != nil {
			return nil, err
		}
		st.Losses = st.Games - st.Wins
		out = append(out, st)
	}
	return out, rows.Err()
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
