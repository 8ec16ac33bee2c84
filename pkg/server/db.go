package server

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/marcelfahle/pidro-backend-sub005/pkg/server/internal/db"
)

// Database defines the interface for statistics recording. The server
// writes one record per finished or aborted game; reads back aggregates
// for the stats endpoints.
type Database interface {
	// RecordGame stores one game and its seat rows atomically.
	RecordGame(rec *db.GameRecord) error
	// PlayerStats aggregates one player's completed games.
	PlayerStats(playerID string) (*db.PlayerStats, error)
	// TopPlayers returns up to limit players ordered by wins.
	TopPlayers(limit int) ([]*db.PlayerStats, error)

	// Close closes the database connection
	Close() error
}

// NewDatabase creates a new database connection
func NewDatabase(dbPath string) (Database, error) {
	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %v", err)
	}

	// Create the database
	return db.NewDB(dbPath)
}
