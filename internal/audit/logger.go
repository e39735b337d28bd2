// Package audit implements the append-only, newline-delimited JSON audit
// sink described by spec.md §4.6: path hardening at construction, strict
// permissions, and truncation of oversized fields on every emit.
package audit

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nextlevelbuilder/securer/internal/secerr"
)

// Event is one audit log line. Timestamp is ISO 8601 UTC with millisecond
// precision and a literal "Z" suffix, matching spec.md §6.
type Event struct {
	Timestamp string         `json:"timestamp"`
	Event     Kind           `json:"event"`
	SessionID string         `json:"session_id"`
	Extra     map[string]any `json:"-"`
}

// MarshalJSON flattens Extra alongside the fixed fields into a single
// object, since the wire format has no nested "extra" envelope.
func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Extra)+3)
	for k, v := range e.Extra {
		m[k] = v
	}
	m["timestamp"] = e.Timestamp
	m["event"] = e.Event
	m["session_id"] = e.SessionID
	return json.Marshal(m)
}

// Mirror receives every appended event for optional secondary storage
// (see audit/store for the SQLite mirror). Mirror implementations must
// never block the audit write path for long, and their errors are logged,
// never propagated.
type Mirror interface {
	Mirror(Event) error
}

// Logger appends one JSON line per emitted event.
type Logger struct {
	mu     sync.Mutex
	file   *os.File
	mirror Mirror
}

// Open hardens path and opens (creating if necessary) the audit log file.
//
// Hardening, per spec.md §4.6:
//   - empty path is rejected
//   - existing device nodes, fifos, and sockets at path are rejected
//   - existing symlinks at path are rejected (never followed)
//   - the parent directory is created if missing
//   - the file is created (or opened) with owner-only permissions
func Open(path string) (*Logger, error) {
	if path == "" {
		return nil, secerr.New(secerr.AuditPathRejected, "audit path is empty")
	}

	if fi, err := os.Lstat(path); err == nil {
		if fi.Mode()&os.ModeSymlink != 0 {
			return nil, secerr.New(secerr.AuditPathRejected, "audit path is a symlink: "+path)
		}
		if fi.Mode()&(os.ModeDevice|os.ModeCharDevice|os.ModeNamedPipe|os.ModeSocket) != 0 {
			return nil, secerr.New(secerr.AuditPathRejected, "audit path is a device node: "+path)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, secerr.Wrap(secerr.AuditPathRejected, "create audit log directory", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, secerr.Wrap(secerr.AuditPathRejected, "open audit log", err)
	}
	// Re-assert the mode in case the file pre-existed with looser
	// permissions (O_CREATE does not chmod an existing file).
	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		return nil, secerr.Wrap(secerr.AuditPathRejected, "chmod audit log", err)
	}

	return &Logger{file: f}, nil
}

// WithMirror attaches a secondary sink that receives a copy of every event
// after the JSONL write succeeds.
func (l *Logger) WithMirror(m Mirror) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mirror = m
	return l
}

// Emit builds, truncates, serializes, and appends one event. The "code"
// and "result_summary" extras (if present) are truncated per spec.md §3.
func (l *Logger) Emit(sessionID string, kind Kind, extra map[string]any) {
	ev := Event{
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Event:     kind,
		SessionID: sessionID,
		Extra:     truncateExtras(extra),
	}

	line, err := json.Marshal(ev)
	if err != nil {
		slog.Error("audit: marshal event failed", "error", err, "event", kind)
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	_, writeErr := l.file.Write(line)
	mirror := l.mirror
	l.mu.Unlock()

	if writeErr != nil {
		slog.Error("audit: write failed", "error", writeErr, "event", kind)
		return
	}

	if mirror != nil {
		if err := mirror.Mirror(ev); err != nil {
			slog.Warn("audit: mirror write failed", "error", err, "event", kind)
		}
	}
}

func truncateExtras(extra map[string]any) map[string]any {
	if extra == nil {
		return nil
	}
	out := make(map[string]any, len(extra))
	for k, v := range extra {
		if k == "code" || k == "result_summary" || k == "error" {
			if s, ok := v.(string); ok {
				out[k] = TruncateField(s)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// Close closes the underlying file handle.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

var _ io.Closer = (*Logger)(nil)
