// Package pool implements the fixed-size session pool (C9): a pre-warmed
// collection of supervisors with acquire/release, dead-session recovery,
// and optional reset-between-uses.
//
// The pool is documented as single-process-only with no internal
// locking, per spec.md §4.9 — callers own serializing access to it, the
// same way goclaw's single-threaded session cache assumes one owning
// goroutine rather than guarding itself.
package pool

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/securer/internal/policy"
	"github.com/nextlevelbuilder/securer/internal/secerr"
	"github.com/nextlevelbuilder/securer/internal/supervisor"
)

const (
	minSize = 1
	maxSize = 100

	// acquireRetryInterval is the sleep between acquire attempts while a
	// caller-supplied acquire timeout budget remains, per spec.md §4.9.
	acquireRetryInterval = 100 * time.Millisecond
)

// Options configures a Pool at construction time.
type Options struct {
	Size              int
	NewConfig         func(slot int) supervisor.Config
	ResetBetweenUses  bool
	AcquireTimeout    time.Duration // 0 means "fail immediately if no slot is free"
}

// Pool is a fixed-size array of supervisors with busy/free tracking. Not
// safe for concurrent use — see the package doc comment.
type Pool struct {
	sessions         []*supervisor.Session
	busy             []bool
	resetBetweenUses bool
	acquireTimeout   time.Duration
	closed           bool
}

// Status summarizes slot occupancy, per spec.md §4.9.
type Status struct {
	Total int
	Busy  int
	Idle  int
	Dead  int
}

// New builds size pre-warmed sessions, starting each one immediately so
// Acquire never pays session startup latency on the hot path.
func New(ctx context.Context, opts Options) (*Pool, error) {
	if opts.Size < minSize || opts.Size > maxSize {
		return nil, secerr.New(secerr.InvalidLimit, "pool size must be in [1, 100]")
	}
	if opts.NewConfig == nil {
		return nil, secerr.New(secerr.InvalidLimit, "pool requires NewConfig to build each slot's session")
	}

	p := &Pool{
		sessions:         make([]*supervisor.Session, opts.Size),
		busy:             make([]bool, opts.Size),
		resetBetweenUses: opts.ResetBetweenUses,
		acquireTimeout:   opts.AcquireTimeout,
	}
	for i := 0; i < opts.Size; i++ {
		sess := supervisor.New(opts.NewConfig(i))
		if err := sess.StartSession(ctx); err != nil {
			p.Close()
			return nil, err
		}
		p.sessions[i] = sess
	}
	return p, nil
}

// Acquire scans for the first free slot. If that slot's session is no
// longer alive, it is torn down and respawned with its original
// configuration before being handed out. When every slot is busy and
// AcquireTimeout is set, Acquire retries with 100 ms sleeps until a slot
// frees up or the budget expires; with no timeout set, Acquire fails
// immediately.
func (p *Pool) Acquire(ctx context.Context) (int, *supervisor.Session, error) {
	if p.closed {
		return -1, nil, secerr.New(secerr.PoolClosed, "pool is closed")
	}

	var deadline time.Time
	if p.acquireTimeout > 0 {
		deadline = time.Now().Add(p.acquireTimeout)
	}

	for {
		if idx, sess, err := p.tryAcquire(ctx); err != nil || sess != nil {
			return idx, sess, err
		}

		if deadline.IsZero() {
			return -1, nil, secerr.New(secerr.PoolExhausted, "no free slot and no acquire_timeout set")
		}
		if time.Now().After(deadline) {
			return -1, nil, secerr.New(secerr.PoolExhausted, "acquire_timeout exceeded")
		}

		select {
		case <-ctx.Done():
			return -1, nil, ctx.Err()
		case <-time.After(acquireRetryInterval):
		}
	}
}

// tryAcquire makes one pass over the slots without sleeping. A nil
// session with a nil error means "no free slot right now, caller should
// retry or give up".
func (p *Pool) tryAcquire(ctx context.Context) (int, *supervisor.Session, error) {
	for i, busy := range p.busy {
		if busy {
			continue
		}
		sess := p.sessions[i]
		if !sess.IsAlive() {
			if err := p.respawn(ctx, i); err != nil {
				return -1, nil, err
			}
			sess = p.sessions[i]
		}
		p.busy[i] = true
		return i, sess, nil
	}
	return -1, nil, nil
}

// respawn tears down a dead slot's session and brings it back up with its
// original configuration, which Restart already carries internally.
func (p *Pool) respawn(ctx context.Context, slot int) error {
	_ = p.sessions[slot].Close()
	return p.sessions[slot].Restart(ctx)
}

// Release marks slot free again.
func (p *Pool) Release(slot int) {
	if slot < 0 || slot >= len(p.busy) {
		return
	}
	p.busy[slot] = false
}

// Execute acquires a slot, runs code through it, and always releases the
// slot afterward regardless of outcome (ExecutionCapReached, Timeout, or
// any other error). If ResetBetweenUses is set, the session is restarted
// after release so no state leaks to the next consumer.
func (p *Pool) Execute(ctx context.Context, code string, pol policy.Policy) (supervisor.ExecuteResult, error) {
	slot, sess, err := p.Acquire(ctx)
	if err != nil {
		return supervisor.ExecuteResult{}, err
	}

	result, execErr := sess.Execute(ctx, code, pol)
	p.Release(slot)

	if p.resetBetweenUses {
		_ = sess.Restart(ctx)
	}

	return result, execErr
}

// Status reports current slot occupancy, inspecting every session's
// liveness.
func (p *Pool) Status() Status {
	st := Status{Total: len(p.sessions)}
	for i, sess := range p.sessions {
		if p.busy[i] {
			st.Busy++
		} else {
			st.Idle++
		}
		if !sess.IsAlive() {
			st.Dead++
		}
	}
	return st
}

// Reap scans every idle slot and respawns any session found dead,
// independent of acquire/release traffic. Busy slots are left alone —
// a session currently checked out cannot be safely torn down out from
// under its caller. Returns the number of slots respawned.
func (p *Pool) Reap(ctx context.Context) (int, error) {
	respawned := 0
	for i, busy := range p.busy {
		if busy {
			continue
		}
		if p.sessions[i].IsAlive() {
			continue
		}
		if err := p.respawn(ctx, i); err != nil {
			return respawned, err
		}
		respawned++
	}
	return respawned, nil
}

// Close closes every session in the pool. Safe to call once; a second
// call is a no-op.
func (p *Pool) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	var firstErr error
	for _, sess := range p.sessions {
		if sess == nil {
			continue
		}
		if err := sess.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
