package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/service"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) SweepExpired(context.Context) (service.SweepStats, error) {
	s.calls.Add(1)
	return service.SweepStats{Finalized: 1}, s.err
}

func TestExpiryWorker_RunOnce(t *testing.T) {
	sw := &countingSweeper{}
	w := NewExpiryWorker(sw, "@every 30s", zerolog.Nop())

	w.RunOnce(context.Background())
	assert.EqualValues(t, 1, sw.calls.Load())

	sw.err = errors.New("db down")
	w.RunOnce(context.Background())
	assert.EqualValues(t, 2, sw.calls.Load())
}

func TestExpiryWorker_SkipsAfterCancel(t *testing.T) {
	sw := &countingSweeper{}
	w := NewExpiryWorker(sw, "@every 30s", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.RunOnce(ctx)
	assert.EqualValues(t, 0, sw.calls.Load())
}

func TestExpiryWorker_RunsOnSchedule(t *testing.T) {
	sw := &countingSweeper{}
	w := NewExpiryWorker(sw, "@every 1s", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Start(ctx) }()

	require.Eventually(t, func() bool { return sw.calls.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestExpiryWorker_RejectsBadSchedule(t *testing.T) {
	w := NewExpiryWorker(&countingSweeper{}, "every now and then", zerolog.Nop())
	err := w.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule expiry sweep")
}
