package proctor

import (
	"context"
	"sync"
	"time"
)

// Timer counts a session down to its deadline. The remaining time is always
// recomputed from the deadline, never decremented, so a restarted client
// cannot gain time.
type Timer struct {
	deadline time.Time
	onTick   func(remaining int)
	onExpire func()

	once sync.Once
}

// NewTimer builds a timer for deadline. Either callback may be nil.
func NewTimer(deadline time.Time, onTick func(remaining int), onExpire func()) *Timer {
	return &Timer{deadline: deadline, onTick: onTick, onExpire: onExpire}
}

// Remaining returns the whole seconds left at now, never negative.
func (t *Timer) Remaining(now time.Time) int {
	d := t.deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// Step reports the remaining time at now and fires onExpire the first time
// it reaches zero. It returns true once the timer has expired.
func (t *Timer) Step(now time.Time) bool {
	remaining := t.Remaining(now)
	if t.onTick != nil {
		t.onTick(remaining)
	}
	if remaining > 0 {
		return false
	}
	t.once.Do(func() {
		if t.onExpire != nil {
			t.onExpire()
		}
	})
	return true
}

// Run ticks once per second until the deadline passes or ctx is done.
func (t *Timer) Run(ctx context.Context) {
	if t.Step(time.Now()) {
		return
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if t.Step(now) {
				return
			}
		}
	}
}
