// Package state provides the self-hosted backend: SQLite tables mirroring
// the hosted schema plus an in-process live feed.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/user/memorial/internal/types"
)

// Compile-time interface compliance checks.
var _ types.TurnStore = (*DB)(nil)
var _ types.SourceStore = (*DB)(nil)
var _ types.TributeStore = (*DB)(nil)
var _ types.Feed = (*DB)(nil)

// timeLayout sorts lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS n8n_chat_histories (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	message    TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_session ON n8n_chat_histories(session_id, id);

CREATE TABLE IF NOT EXISTS sources (
	id                TEXT PRIMARY KEY,
	notebook_id       TEXT NOT NULL,
	title             TEXT NOT NULL,
	type              TEXT NOT NULL,
	content           TEXT,
	summary           TEXT,
	url               TEXT,
	processing_status TEXT,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sources_notebook ON sources(notebook_id, created_at);

CREATE TABLE IF NOT EXISTS replies (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	position   TEXT,
	contents   TEXT,
	image_url  TEXT,
	is_deleted INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_replies_created ON replies(is_deleted, created_at);

CREATE TABLE IF NOT EXISTS bridge_sessions (
	session_key TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
`

// DB is the SQLite-backed store.
type DB struct {
	db  *sql.DB
	hub *Hub
	now func() time.Time
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &DB{db: sqlDB, hub: NewHub(), now: time.Now}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Hub returns the live feed that receives every appended turn.
func (d *DB) Hub() *Hub { return d.hub }

// Subscribe implements types.Feed through the hub.
func (d *DB) Subscribe(ctx context.Context, sessionID types.SessionID) (<-chan types.StoredTurn, error) {
	return d.hub.Subscribe(ctx, sessionID)
}

func (d *DB) timestamp() string {
	return d.now().UTC().Format(timeLayout)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
