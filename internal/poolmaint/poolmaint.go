// Package poolmaint implements the scheduled pool maintenance sweep
// (C14): a cron-scheduled background loop that calls the pool's
// dead-session recovery path on an operator-configured cadence,
// independent of acquire/release traffic.
package poolmaint

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/securer/internal/secerr"
)

// Reaper is the subset of *pool.Pool the scheduler depends on. Kept as
// an interface so tests can substitute a fake without starting real
// supervisor sessions.
type Reaper interface {
	Reap(ctx context.Context) (int, error)
}

// Scheduler sleeps until each cron tick, then calls Reap and logs a
// summary. It is strictly additional to acquire/release-triggered
// recovery: an idle pool with no traffic still recovers crashed
// sessions promptly instead of waiting for the next caller.
type Scheduler struct {
	expr string
	pool Reaper
	now  func() time.Time

	done chan struct{}
}

// New validates expr as a standard cron expression and builds a
// Scheduler bound to pool. Returns ConfigInvalid if expr does not
// parse.
func New(expr string, pool Reaper) (*Scheduler, error) {
	if !gronx.IsValid(expr) {
		return nil, secerr.New(secerr.ConfigInvalid, "poolmaint: invalid cron expression: "+expr)
	}
	return &Scheduler{
		expr: expr,
		pool: pool,
		now:  time.Now,
		done: make(chan struct{}),
	}, nil
}

// Run blocks, sweeping at every cron tick until ctx is canceled or Stop
// is called. Run is meant to be launched in its own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		now := s.now()
		next, err := gronx.NextTickAfter(s.expr, now, false)
		if err != nil {
			slog.Warn("poolmaint: failed to compute next tick, stopping scheduler", "expr", s.expr, "error", err)
			return
		}

		delay := next.Sub(now)
		if delay < 0 {
			delay = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-time.After(delay):
		}

		n, err := s.pool.Reap(ctx)
		if err != nil {
			slog.Warn("poolmaint: sweep failed", "error", err)
			continue
		}
		if n > 0 {
			slog.Info("poolmaint: sweep respawned dead sessions", "count", n)
		}
	}
}

// Stop ends a running Scheduler's loop. Safe to call once.
func (s *Scheduler) Stop() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}
