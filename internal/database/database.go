package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB wraps sql.DB for booking requests.
type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

const memoryPath = ":memory:"

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != memoryPath {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite has a single writer; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{DB: db, logger: logger}, nil
}

func dsn(path string) string {
	if path == memoryPath {
		return path
	}
	return "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL"
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS booking_requests (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            approval_token TEXT NOT NULL UNIQUE,
            reference TEXT NOT NULL UNIQUE,
            status TEXT NOT NULL DEFAULT 'pending'
                CHECK (status IN ('pending', 'approved', 'declined')),
            requester_name TEXT NOT NULL,
            requester_email TEXT NOT NULL,
            meeting_date TEXT NOT NULL,
            meeting_time TEXT NOT NULL,
            duration_minutes INTEGER NOT NULL CHECK (duration_minutes > 0),
            purpose TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            decided_at DATETIME,
            calendar_event_id TEXT,
            calendar_error TEXT
        )`,

		`CREATE INDEX IF NOT EXISTS idx_booking_requests_status ON booking_requests(status)`,
		`CREATE INDEX IF NOT EXISTS idx_booking_requests_meeting_date ON booking_requests(meeting_date)`,
		`CREATE INDEX IF NOT EXISTS idx_booking_requests_requester_email ON booking_requests(requester_email)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(query), err)
		}
	}
	return nil
}

func trimSQL(q string) string {
	q = strings.Join(strings.Fields(q), " ")
	if len(q) > 60 {
		return q[:60] + "..."
	}
	return q
}

// Ready reports whether the database answers queries.
func (db *DB) Ready(ctx context.Context) error {
	return db.PingContext(ctx)
}
