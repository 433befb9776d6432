// Package sqlite provides SQLite-backed record and audit storage.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	tenant_id  TEXT NOT NULL,
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (tenant_id, collection, id)
);

CREATE INDEX IF NOT EXISTS idx_records_created
	ON records (tenant_id, collection, created_at);

CREATE TABLE IF NOT EXISTS audit_log (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	ts          INTEGER NOT NULL,
	request_id  TEXT NOT NULL,
	trace_id    TEXT NOT NULL DEFAULT '',
	tenant_id   TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	caller_type TEXT NOT NULL,
	action_id   TEXT NOT NULL,
	success     INTEGER NOT NULL,
	error_type  TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	duration_us INTEGER NOT NULL,
	input       TEXT NOT NULL DEFAULT '',
	input_hash  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_audit_tenant_ts
	ON audit_log (tenant_id, ts);
`

// errNotConfigured is returned when a method is called on a nil or closed store.
var errNotConfigured = errors.New("sqlite store is not configured")

// Store is a SQLite database holding tenant records and the audit trail.
// It implements record.Provider, audit.AuditStore and audit.AuditQueryStore.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errNotConfigured
	}
	return s.db.PingContext(ctx)
}
