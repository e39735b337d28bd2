// Package store implements the optional, non-authoritative SQLite mirror
// of the audit log described by SPEC_FULL.md §C13. The JSONL file written
// by package audit remains the source of truth; this mirror exists only to
// let operators query recent events with SQL instead of grepping a log
// file, and its failures never block or fail an Emit.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/securer/internal/audit"
	"github.com/nextlevelbuilder/securer/internal/secerr"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	event TEXT NOT NULL,
	session_id TEXT NOT NULL,
	extra TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_session ON audit_events(session_id);
CREATE INDEX IF NOT EXISTS idx_audit_events_event ON audit_events(event);
`

// SQLiteMirror implements audit.Mirror on top of a pure-Go, cgo-free
// SQLite driver. One mirror instance is safe for concurrent use — the
// underlying *sql.DB pools its own connections.
type SQLiteMirror struct {
	db *sql.DB
}

// Open creates (if needed) the schema at path and returns a ready mirror.
// path may be ":memory:" for tests.
func Open(path string) (*SQLiteMirror, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, secerr.Wrap(secerr.AuditPathRejected, "open sqlite audit mirror", err)
	}
	// A file-backed SQLite handle serializes writes regardless of pool
	// size; capping at one connection avoids SQLITE_BUSY under the
	// audit logger's already-serialized Emit path.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, secerr.Wrap(secerr.AuditPathRejected, "create sqlite audit schema", err)
	}
	return &SQLiteMirror{db: db}, nil
}

// Mirror persists one audit event as a row. It satisfies audit.Mirror.
func (m *SQLiteMirror) Mirror(ev audit.Event) error {
	extra, err := json.Marshal(ev.Extra)
	if err != nil {
		return fmt.Errorf("marshal extra: %w", err)
	}
	_, err = m.db.ExecContext(context.Background(),
		`INSERT INTO audit_events (timestamp, event, session_id, extra) VALUES (?, ?, ?, ?)`,
		ev.Timestamp, string(ev.Event), ev.SessionID, string(extra),
	)
	return err
}

// Recent returns up to limit most recent events for a session, newest
// first. It is a read path for operator tooling, not part of the
// supervisor's hot path.
func (m *SQLiteMirror) Recent(ctx context.Context, sessionID string, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := m.db.QueryContext(ctx,
		`SELECT timestamp, event, session_id, extra FROM audit_events
		 WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var ev audit.Event
		var extra string
		if err := rows.Scan(&ev.Timestamp, &ev.Event, &ev.SessionID, &extra); err != nil {
			return nil, err
		}
		if extra != "null" {
			if err := json.Unmarshal([]byte(extra), &ev.Extra); err != nil {
				return nil, fmt.Errorf("unmarshal extra: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (m *SQLiteMirror) Close() error {
	return m.db.Close()
}
