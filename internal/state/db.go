// Package state persists the small mutable session bookkeeping that the
// markdown record files should not carry: per-session transcript
// cursors, trigger counters, and the curator transition audit log. It
// is backed by a single SQLite database in WAL mode so concurrent hook
// invocations from separate processes serialize safely.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite state database.
type DB struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger. A nil logger falls back to a no-op.
func WithLogger(logger *zap.Logger) Option {
	return func(d *DB) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *DB) {
		if now != nil {
			d.now = now
		}
	}
}

// Open opens (creating if necessary) the state database at path.
func Open(path string, opts ...Option) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("state: create dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("state: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("state: pragma %q: %w", p, err)
		}
	}

	d := &DB{db: db, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: migration: %w", err)
	}
	return d, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS session_cursors (
			session_id        TEXT PRIMARY KEY,
			transcript_path   TEXT NOT NULL,
			byte_offset       INTEGER NOT NULL DEFAULT 0,
			last_processed_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS trigger_counters (
			session_id    TEXT PRIMARY KEY,
			message_count INTEGER NOT NULL DEFAULT 0,
			last_fire_at  TEXT
		);

		CREATE TABLE IF NOT EXISTS transitions (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			record_id  TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state   TEXT NOT NULL,
			at         TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_transitions_record ON transitions(record_id);
		CREATE INDEX IF NOT EXISTS idx_transitions_at     ON transitions(at DESC);
	`
	_, err := d.db.Exec(schema)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// nullableTime maps a zero time to SQL NULL.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}
