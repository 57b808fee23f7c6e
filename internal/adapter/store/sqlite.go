// Package store persists agent descriptors, request logs and session
// transcripts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// SQLiteStore implements domain.AgentStore, domain.RequestLogStore and
// domain.TranscriptStore on a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and runs the
// schema migration.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// WAL mode for concurrent readers while the dispatcher writes logs.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return s, nil
}

// newSQLiteStoreFromDB wraps an already open handle without migrating.
func newSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS agents (
		endpoint_path TEXT PRIMARY KEY,
		agent_id      TEXT NOT NULL,
		display_name  TEXT NOT NULL DEFAULT '',
		description   TEXT NOT NULL DEFAULT '',
		instructions  TEXT NOT NULL DEFAULT '',
		indicators    TEXT NOT NULL DEFAULT '[]',
		priority      INTEGER NOT NULL DEFAULT 0,
		model         TEXT NOT NULL DEFAULT '',
		temperature   REAL NOT NULL DEFAULT 0,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS request_logs (
		id                TEXT PRIMARY KEY,
		endpoint          TEXT NOT NULL,
		selected_endpoint TEXT NOT NULL DEFAULT '',
		agent_id          TEXT NOT NULL DEFAULT '',
		route_reason      TEXT NOT NULL DEFAULT '',
		session_id        TEXT NOT NULL DEFAULT '',
		prompt_data       TEXT NOT NULL DEFAULT '',
		response          TEXT NOT NULL DEFAULT '',
		execution_time_ms INTEGER NOT NULL DEFAULT 0,
		input_tokens      INTEGER NOT NULL DEFAULT 0,
		output_tokens     INTEGER NOT NULL DEFAULT 0,
		model             TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL,
		error             TEXT NOT NULL DEFAULT '',
		client_ip         TEXT NOT NULL DEFAULT '',
		timestamp         TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_request_logs_timestamp ON request_logs (timestamp)`,
	`CREATE TABLE IF NOT EXISTS transcripts (
		session_id TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		timestamp  TEXT NOT NULL,
		PRIMARY KEY (session_id, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transcripts_timestamp ON transcripts (timestamp)`,
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storageErr("SQLiteStore.Ping", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorage, err)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

type scanner interface {
	Scan(dest ...any) error
}

var (
	_ domain.AgentStore      = (*SQLiteStore)(nil)
	_ domain.RequestLogStore = (*SQLiteStore)(nil)
	_ domain.TranscriptStore = (*SQLiteStore)(nil)
)
