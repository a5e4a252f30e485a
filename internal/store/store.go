package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/fernwood-systems/knxfleet/internal/knx"
)

const (
	dirPermissions  = 0750
	filePermissions = 0600

	msPerSecond = 1000

	connectionTimeout = 5 * time.Second
)

// Config contains store configuration options. These map to the store
// section of config.yaml.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// directory is created if it doesn't exist.
	Path string

	// WALMode enables Write-Ahead Logging for concurrent reads during
	// writes. Recommended: true.
	WALMode bool

	// BusyTimeout is the maximum time to wait for a database lock
	// (seconds).
	BusyTimeout int
}

// Store persists the applied fleet configuration so rooms come back after
// a restart. Records are kept as the raw JSON they arrived as, so
// extension fields survive the round trip.
type Store struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	room_id  TEXT PRIMARY KEY,
	position INTEGER NOT NULL,
	config   TEXT NOT NULL
);
`

// Open creates the store, creating the database file and schema on first
// run.
func Open(cfg Config) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout*msPerSecond)
	if cfg.WALMode {
		connStr += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	// SQLite supports one writer; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("verifying store connection: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating store schema: %w", err)
	}

	// File might not exist until the first write; permissions are then
	// set on the next start.
	_ = os.Chmod(cfg.Path, filePermissions)

	return &Store{db: db, path: cfg.Path}, nil
}

// SaveRooms replaces the stored configuration with the given rooms,
// preserving their order.
func (s *Store) SaveRooms(ctx context.Context, rooms []knx.RoomConfig) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM rooms`); err != nil {
		return fmt.Errorf("clear rooms: %w", err)
	}

	for i, room := range rooms {
		raw, err := json.Marshal(room)
		if err != nil {
			return fmt.Errorf("marshal room %q: %w", room.RoomID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rooms (room_id, position, config) VALUES (?, ?, ?)`,
			room.RoomID, i, string(raw)); err != nil {
			return fmt.Errorf("insert room %q: %w", room.RoomID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// LoadRooms returns the stored configuration in its saved order. An empty
// store yields an empty slice.
func (s *Store) LoadRooms(ctx context.Context) ([]knx.RoomConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT config FROM rooms ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []knx.RoomConfig
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		var cfg knx.RoomConfig
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal room: %w", err)
		}
		rooms = append(rooms, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}
	return rooms, nil
}

// Path returns the filesystem path to the database file.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
