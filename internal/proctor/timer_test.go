package proctor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimerRecomputesFromDeadline(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	timer := NewTimer(start.Add(60*time.Second), nil, nil)

	assert.Equal(t, 60, timer.Remaining(start))
	assert.Equal(t, 30, timer.Remaining(start.Add(30*time.Second)))
	assert.Equal(t, 1, timer.Remaining(start.Add(59500*time.Millisecond)))
	assert.Equal(t, 0, timer.Remaining(start.Add(61*time.Second)))
}

func TestTimerExpiresOnce(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var ticks []int
	expired := 0
	timer := NewTimer(start.Add(2*time.Second), func(r int) { ticks = append(ticks, r) }, func() { expired++ })

	assert.False(t, timer.Step(start))
	assert.False(t, timer.Step(start.Add(time.Second)))
	assert.True(t, timer.Step(start.Add(2*time.Second)))
	assert.True(t, timer.Step(start.Add(3*time.Second)))

	assert.Equal(t, []int{2, 1, 0, 0}, ticks)
	assert.Equal(t, 1, expired)
}

func TestTimerRunReturnsImmediatelyWhenPastDeadline(t *testing.T) {
	expired := make(chan struct{})
	timer := NewTimer(time.Now().Add(-time.Second), nil, func() { close(expired) })

	done := make(chan struct{})
	go func() {
		timer.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	select {
	case <-expired:
	default:
		t.Fatal("onExpire not called")
	}
}

func TestTimerRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	timer := NewTimer(time.Now().Add(time.Hour), nil, func() { t.Error("unexpected expiry") })

	done := make(chan struct{})
	go func() {
		timer.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
