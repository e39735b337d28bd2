package poolmaint

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type fakeReaper struct {
	calls int32
	n     int
	err   error
}

func (f *fakeReaper) Reap(ctx context.Context) (int, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.n, f.err
}

func TestNewRejectsInvalidCronExpression(t *testing.T) {
	if _, err := New("not a cron expr", &fakeReaper{}); err == nil {
		t.Fatal("expected ConfigInvalid for a malformed cron expression")
	}
}

func TestNewAcceptsEveryMinuteExpression(t *testing.T) {
	if _, err := New("* * * * *", &fakeReaper{}); err != nil {
		t.Fatalf("expected a standard 5-field cron expression to validate, got %v", err)
	}
}

func TestRunSweepsAtEachTick(t *testing.T) {
	reaper := &fakeReaper{}
	s, err := New("* * * * *", reaper)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Fake time so the first tick is effectively immediate.
	tick := 0
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&reaper.calls) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for scheduler to sweep at least once")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	s.Stop()
}

func TestStopIsIdempotent(t *testing.T) {
	s, err := New("* * * * *", &fakeReaper{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Stop()
	s.Stop()
}
