package idle

import (
	"context"
	"sync"
	"time"
)

// Tracker records foreground activity so background work can wait for a
// quiet moment. It is safe for concurrent use.
type Tracker struct {
	mu         sync.Mutex
	lastActive time.Time
	active     int
}

// New creates a new Tracker with no recorded activity
func New() *Tracker {
	return &Tracker{}
}

// Mark records foreground activity at the current time
func (t *Tracker) Mark() {
	t.mu.Lock()
	t.lastActive = time.Now()
	t.mu.Unlock()
}

// Begin marks the start of a foreground operation. The tracker is not idle
// until the matching End.
func (t *Tracker) Begin() {
	t.mu.Lock()
	t.active++
	t.lastActive = time.Now()
	t.mu.Unlock()
}

// End marks the end of a foreground operation started with Begin
func (t *Tracker) End() {
	t.mu.Lock()
	if t.active > 0 {
		t.active--
	}
	t.lastActive = time.Now()
	t.mu.Unlock()
}

// IdleFor returns how long there has been no foreground activity.
// Returns 0 while an operation is in progress and a very large duration
// if nothing was ever recorded.
func (t *Tracker) IdleFor() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active > 0 {
		return 0
	}
	if t.lastActive.IsZero() {
		return time.Duration(1<<63 - 1) // Max duration
	}
	return time.Since(t.lastActive)
}

// WaitIdle blocks until the foreground has been quiet for at least quiet,
// or until maxDelay has passed, whichever comes first. timedOut reports
// that maxDelay forced the return. A maxDelay of zero or less waits only
// for quiet.
func (t *Tracker) WaitIdle(ctx context.Context, quiet, maxDelay time.Duration) (timedOut bool, err error) {
	var deadline time.Time
	if maxDelay > 0 {
		deadline = time.Now().Add(maxDelay)
	}
	return t.WaitIdleUntil(ctx, quiet, deadline)
}

// WaitIdleUntil is WaitIdle with an absolute deadline. A zero deadline
// waits only for quiet; a deadline already in the past returns at once
// unless the foreground is quiet.
func (t *Tracker) WaitIdleUntil(ctx context.Context, quiet time.Duration, deadline time.Time) (timedOut bool, err error) {
	for {
		idleFor := t.IdleFor()
		if idleFor >= quiet {
			return false, nil
		}

		wait := quiet - idleFor
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return true, nil
			}
			if remaining < wait {
				wait = remaining
			}
		}
		if wait < time.Millisecond {
			wait = time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}
