// Package sqlite implements queue.Ledger on a local SQLite database, giving
// the queue durable, crash-consistent storage without a separate broker
// process.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"jobq/queue"
)

// Store is a durable ledger backed by a single SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens or creates the queue database at path. The database is switched
// to WAL mode, which SQLite needs for concurrent readers next to a writer.
// The pragmas ride in the DSN so every pooled connection gets them, not just
// the one a bare PRAGMA statement happens to run on.
func Open(path string) (*Store, error) {
	dsn := path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying handle for the CLI's config commands.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS jobs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  job_type TEXT NOT NULL,
  payload BLOB,
  priority INTEGER NOT NULL DEFAULT 0,
  run_at TEXT NOT NULL,
  state TEXT NOT NULL CHECK (state IN ('pending','running','succeeded','failed','cancelled')),
  attempt INTEGER NOT NULL DEFAULT 0,
  max_retries INTEGER NOT NULL DEFAULT 3,
  heartbeat_at TEXT,
  cancel_requested INTEGER NOT NULL DEFAULT 0,
  recurring_ref TEXT,
  dedup_key TEXT UNIQUE,
  last_error TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(state, run_at, priority);

CREATE TABLE IF NOT EXISTS checkpoints (
  job_id INTEGER PRIMARY KEY REFERENCES jobs(id),
  data BLOB NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS recurring_schedules (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  job_type TEXT NOT NULL,
  payload BLOB,
  priority INTEGER NOT NULL DEFAULT 0,
  max_retries INTEGER NOT NULL DEFAULT 3,
  cadence TEXT NOT NULL,
  next_run_at TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS config (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
`
	_, err := db.Exec(schema)
	return err
}

// ts formats a timestamp the way every column stores it.
func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// busy reports whether err is transient SQLite lock contention.
func busy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// storeErr maps driver errors onto the queue's error kinds.
func storeErr(op string, err error) error {
	if busy(err) {
		return fmt.Errorf("%s: %w: %v", op, queue.ErrStoreBusy, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
