// Package ipc implements the supervisor's authenticated, length-bounded,
// newline-delimited JSON channel to the interpreter child: filesystem
// rendezvous, token handshake, and frame validation.
package ipc

import (
	"bufio"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nextlevelbuilder/securer/internal/ident"
	"github.com/nextlevelbuilder/securer/internal/secerr"
)

// MaxFrameBytes bounds a single frame, per spec.md §4.1/§6.
const MaxFrameBytes = 1 << 20

const (
	acceptCeiling = 5 * time.Second
	authCeiling   = 5 * time.Second
	socketName    = "ipc.sock"
	tokenBytes    = 16 // hex-encoded -> 32 characters, per spec.md §3
)

// NewToken returns a 32-character opaque token from a cryptographically
// strong source.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("ipc: generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Rendezvous is the private directory + socket path pair a session binds
// before spawning its child.
type Rendezvous struct {
	Dir        string
	SocketPath string
}

// NewRendezvous creates a random, owner-only-permission directory under
// base and returns its fixed-name socket path.
func NewRendezvous(base string) (Rendezvous, error) {
	dir, err := os.MkdirTemp(base, "securer_")
	if err != nil {
		return Rendezvous{}, fmt.Errorf("ipc: create rendezvous dir: %w", err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		os.RemoveAll(dir)
		return Rendezvous{}, fmt.Errorf("ipc: chmod rendezvous dir: %w", err)
	}
	return Rendezvous{Dir: dir, SocketPath: filepath.Join(dir, socketName)}, nil
}

// Cleanup removes the rendezvous directory and everything in it.
func (r Rendezvous) Cleanup() error {
	if r.Dir == "" {
		return nil
	}
	return os.RemoveAll(r.Dir)
}

// Listener binds the rendezvous socket and accepts exactly one
// authenticated connection per session lifetime.
type Listener struct {
	ln    *net.UnixListener
	token string
}

// Listen binds a Unix domain socket at rv.SocketPath.
func Listen(rv Rendezvous, token string) (*Listener, error) {
	addr, err := net.ResolveUnixAddr("unix", rv.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("ipc: resolve socket addr: %w", err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("ipc: listen: %w", err)
	}
	return &Listener{ln: ln, token: token}, nil
}

// Close closes the listener without removing the rendezvous directory
// (callers own that via Rendezvous.Cleanup).
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Accept waits up to the accept ceiling for the child to connect, then
// reads and verifies its token line within the auth ceiling. On any
// failure the connection (if any) is closed and a *secerr.Error is
// returned with Kind IPCAuthFailed.
func (l *Listener) Accept() (*Channel, error) {
	if err := l.ln.SetDeadline(time.Now().Add(acceptCeiling)); err != nil {
		return nil, secerr.Wrap(secerr.IPCAuthFailed, "set accept deadline", err)
	}
	conn, err := l.ln.AcceptUnix()
	if err != nil {
		return nil, secerr.Wrap(secerr.IPCAuthFailed, "accept connection", err)
	}

	if err := conn.SetDeadline(time.Now().Add(authCeiling)); err != nil {
		conn.Close()
		return nil, secerr.Wrap(secerr.IPCAuthFailed, "set auth deadline", err)
	}

	reader := bufio.NewReaderSize(conn, MaxFrameBytes+1)
	line, err := readLine(reader, MaxFrameBytes)
	if err != nil {
		conn.Close()
		return nil, secerr.Wrap(secerr.IPCAuthFailed, "read token line", err)
	}

	if subtle.ConstantTimeCompare([]byte(line), []byte(l.token)) != 1 {
		conn.Close()
		return nil, secerr.New(secerr.IPCAuthFailed, "IPC authentication failed")
	}

	// Clear the deadline now that handshake succeeded; the event loop
	// manages its own per-poll deadlines from here on.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, secerr.Wrap(secerr.IPCAuthFailed, "clear deadline", err)
	}

	return &Channel{conn: conn, reader: reader}, nil
}

// Channel is the authenticated, framed connection to one child.
type Channel struct {
	conn   *net.UnixConn
	reader *bufio.Reader
}

// Close closes the underlying connection.
func (c *Channel) Close() error {
	return c.conn.Close()
}

// SetDeadline forwards to the underlying connection, letting the event
// loop bound each poll iteration.
func (c *Channel) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// ToolCallFrame is the child->parent request shape.
type ToolCallFrame struct {
	Type string          `json:"type"`
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

// ReplyFrame is the parent->child response shape: exactly one of Value or
// Error is set. Value has no omitempty: a tool or eval legitimately
// returning 0, false, "", or nil must still serialize as an explicit
// "value" field, per spec.md §6 — omitting it would be indistinguishable
// from "no value" on the child's side of reply[["value"]].
type ReplyFrame struct {
	Value any    `json:"value"`
	Error string `json:"error,omitempty"`
}

// ReadFrame reads one newline-terminated JSON object, enforcing the byte
// cap before attempting to parse, then validates it per spec.md §4.1. A
// nil error with a non-nil *ToolCallFrame means a well-formed tool_call;
// a nil *ToolCallFrame with nil error means a known-but-ignorable
// non-tool_call message (the caller should count it against the total
// message cap and continue). raw is the decoded field map for every
// message type, letting callers handle message types the IPC layer
// itself doesn't know about (e.g. an execution-completion signal) without
// re-reading the line.
func (c *Channel) ReadFrame() (frame *ToolCallFrame, typ string, raw map[string]json.RawMessage, err error) {
	line, err := readLine(c.reader, MaxFrameBytes)
	if err != nil {
		if err == errFrameTooLarge {
			return nil, "", nil, secerr.New(secerr.IPCFrameTooLarge, "frame exceeds maximum size")
		}
		return nil, "", nil, err
	}

	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, "", nil, secerr.Wrap(secerr.IPCSchemaViolation, "frame is not a JSON object", err)
	}

	typeRaw, ok := raw["type"]
	if !ok {
		return nil, "", raw, secerr.New(secerr.IPCSchemaViolation, "frame missing \"type\"")
	}
	if err := json.Unmarshal(typeRaw, &typ); err != nil {
		return nil, "", raw, secerr.New(secerr.IPCSchemaViolation, "\"type\" is not a scalar string")
	}

	if typ != "tool_call" {
		return nil, typ, raw, nil
	}

	toolRaw, ok := raw["tool"]
	if !ok {
		return nil, typ, raw, secerr.New(secerr.IPCSchemaViolation, "tool_call missing \"tool\"")
	}
	var tool string
	if err := json.Unmarshal(toolRaw, &tool); err != nil {
		return nil, typ, raw, secerr.New(secerr.IPCSchemaViolation, "\"tool\" is not a scalar string")
	}
	if !ident.Valid(tool) {
		return nil, typ, raw, secerr.New(secerr.IPCSchemaViolation, "\"tool\" is not a valid identifier: "+tool)
	}

	args := raw["args"]
	if args != nil {
		trimmed := strings.TrimSpace(string(args))
		if trimmed != "null" && !(len(trimmed) > 0 && trimmed[0] == '{') {
			return nil, typ, raw, secerr.New(secerr.IPCSchemaViolation, "\"args\" must be null or an object")
		}
	}

	return &ToolCallFrame{Type: typ, Tool: tool, Args: args}, typ, raw, nil
}

// WriteReply serializes and writes exactly one reply frame.
func (c *Channel) WriteReply(reply ReplyFrame) error {
	line, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("ipc: marshal reply: %w", err)
	}
	line = append(line, '\n')
	_, err = c.conn.Write(line)
	return err
}

var errFrameTooLarge = fmt.Errorf("ipc: frame too large")

// readLine reads up to the next '\n', failing with errFrameTooLarge if
// more than maxLen bytes are read before a newline is found. The
// terminating newline is stripped from the returned string.
func readLine(r *bufio.Reader, maxLen int) (string, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		buf = append(buf, chunk...)
		n := len(buf)
		if err == nil {
			n-- // the terminating newline does not count toward maxLen
		}
		if n > maxLen {
			// Oversized frames are a fatal channel error per spec — the
			// caller tears the connection down, so there is no need to
			// keep reading toward the next newline.
			return "", errFrameTooLarge
		}
		if err == nil {
			return string(buf[:len(buf)-1]), nil
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return "", err
	}
}
