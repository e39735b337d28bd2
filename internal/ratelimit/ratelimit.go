// Package ratelimit implements the Guard (C15): a per-session token
// bucket bounding the steady-state rate of execute calls, layered with a
// per-tool-category sliding-window limiter bounding tool-call bursts,
// both ahead of the Policy Engine's hard caps.
package ratelimit

import (
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/securer/internal/secerr"
)

// Config configures a Guard. A zero-value Config disables both layers —
// PerSessionRPS of 0 means unlimited, and a nil ToolWindows map means no
// per-category limiting.
type Config struct {
	// PerSessionRPS and PerSessionBurst configure the steady-state token
	// bucket per session ID. 0 RPS means unlimited.
	PerSessionRPS   float64
	PerSessionBurst int

	// ToolWindows maps a tool name to the max calls allowed within
	// ToolWindowDuration for that tool. A tool absent from the map is
	// unlimited by the category layer.
	ToolWindows      map[string]int
	ToolWindowDuration time.Duration
}

// Guard composes the two layers described in the package doc comment.
// Safe for concurrent use by multiple sessions.
type Guard struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*rate.Limiter

	categoryLimiter *catrate.Limiter
}

// New builds a Guard from cfg.
func New(cfg Config) *Guard {
	g := &Guard{
		cfg:      cfg,
		sessions: make(map[string]*rate.Limiter),
	}
	if len(cfg.ToolWindows) > 0 {
		window := cfg.ToolWindowDuration
		if window <= 0 {
			window = 10 * time.Second
		}
		maxCount := 0
		for _, n := range cfg.ToolWindows {
			if n > maxCount {
				maxCount = n
			}
		}
		g.categoryLimiter = catrate.NewLimiter(map[time.Duration]int{window: maxCount})
	}
	return g
}

// AllowExecute reports whether sessionID may start another execution
// right now under the per-session steady-state bucket. 0 configured RPS
// means unlimited and always allows.
func (g *Guard) AllowExecute(sessionID string) error {
	if g.cfg.PerSessionRPS <= 0 {
		return nil
	}
	limiter := g.sessionLimiter(sessionID)
	if !limiter.Allow() {
		return secerr.New(secerr.ExecutionRateLimited, "per-session execute rate exceeded")
	}
	return nil
}

// AllowToolCall reports whether tool may be invoked right now under its
// configured sliding-window cap. A tool with no configured window, or a
// Guard with no category limiter at all, is always allowed by this
// layer (the Policy Engine's absolute max_tool_calls cap still applies
// independently). A rejection surfaces as ToolCallsExceeded, the same
// Kind the absolute cap uses, per SPEC_FULL.md §4.14 — both are a
// tool-call-layer rejection from the caller's point of view.
func (g *Guard) AllowToolCall(tool string) error {
	if g.categoryLimiter == nil {
		return nil
	}
	limit, configured := g.cfg.ToolWindows[tool]
	if !configured || limit <= 0 {
		return nil
	}
	if _, ok := g.categoryLimiter.Allow(tool); !ok {
		return secerr.New(secerr.ToolCallsExceeded, "tool call burst limit exceeded for "+tool)
	}
	return nil
}

func (g *Guard) sessionLimiter(sessionID string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.sessions[sessionID]
	if !ok {
		burst := g.cfg.PerSessionBurst
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(g.cfg.PerSessionRPS), burst)
		g.sessions[sessionID] = l
	}
	return l
}

// Forget drops a session's steady-state bucket, for use when a session
// is closed so the Guard's memory doesn't grow unbounded across the
// pool's lifetime.
func (g *Guard) Forget(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, sessionID)
}
