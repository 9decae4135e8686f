// internal/store/db.go
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const timeFormat = time.RFC3339Nano

// DB wraps the SQLite connection shared by the session and plant stores
type DB struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// Option customizes a DB
type Option func(*DB)

// WithClock replaces time.Now for timestamps and lease expiry
func WithClock(now func() time.Time) Option {
	return func(d *DB) { d.now = now }
}

// Open opens or creates the SQLite database and applies the schema
func Open(path string, logger *zap.Logger, opts ...Option) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &Error{Op: "open", Err: fmt.Errorf("create database directory: %w", err)}
		}
	}

	// Pragmas go in the DSN so every pooled connection gets them
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &Error{Op: "open", Err: fmt.Errorf("ping database: %w", err)}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS plants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		care TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		plant_id TEXT NOT NULL,
		problem TEXT NOT NULL,
		status TEXT NOT NULL,
		finding TEXT,
		recommendation TEXT,
		failure_kind TEXT,
		failure_reason TEXT,
		lease_owner TEXT,
		lease_expires_at INTEGER,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_open
		ON sessions(plant_id, problem) WHERE status IN ('in_progress', 'pending_user_input');
	CREATE INDEX IF NOT EXISTS idx_sessions_plant ON sessions(plant_id, created_at);

	CREATE TABLE IF NOT EXISTS turns (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (session_id, seq)
	);

	CREATE TABLE IF NOT EXISTS hypotheses (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (session_id, seq)
	);

	CREATE TABLE IF NOT EXISTS vitals_snapshots (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		vitals TEXT NOT NULL,
		reason TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (session_id, seq)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &Error{Op: "migrate", Err: err}
	}

	d := &DB{db: db, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping verifies database connectivity
func (d *DB) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return &Error{Op: "ping", Err: err}
	}
	return nil
}

// withTx runs fn in a transaction. Sentinel errors from fn pass through
// unchanged; everything else is reported as a storage failure.
func (d *DB) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			d.logger.Warn("rollback failed", zap.String("op", op), zap.Error(rbErr))
		}
		if isSentinel(err) || IsStorage(err) {
			return err
		}
		return &Error{Op: op, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &Error{Op: op, Err: err}
	}
	return nil
}

func (d *DB) stamp() string {
	return d.now().UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}
