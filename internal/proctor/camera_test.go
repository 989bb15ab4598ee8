package proctor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
)

type fakeStream struct {
	ended   chan struct{}
	stopped atomic.Int32
}

func newFakeStream() *fakeStream { return &fakeStream{ended: make(chan struct{})} }

func (f *fakeStream) Ended() <-chan struct{} { return f.ended }
func (f *fakeStream) Stop()                  { f.stopped.Add(1) }

type fakeDevices struct {
	stream *fakeStream
	err    error
}

func (d fakeDevices) Acquire(context.Context) (MediaStream, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

func TestCameraSensorReportsLossOnce(t *testing.T) {
	s := &fakeSession{active: true}
	stream := newFakeStream()
	cam := NewCameraSensor(fakeDevices{stream: stream})
	m := newMonitor(t, s, 5, cam)

	close(stream.ended)

	assert.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.count == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, model.ViolationCameraLost, s.events[0].Kind)

	require.NoError(t, m.Stop())
	assert.Equal(t, int32(1), stream.stopped.Load())
}

func TestCameraSensorReleasesTracksOnStop(t *testing.T) {
	s := &fakeSession{active: true}
	stream := newFakeStream()
	cam := NewCameraSensor(fakeDevices{stream: stream})
	m := newMonitor(t, s, 5, cam)

	require.NoError(t, m.Stop())
	require.NoError(t, cam.Stop())

	assert.Equal(t, int32(1), stream.stopped.Load())
	assert.Zero(t, s.count)
}

func TestCameraSensorReleasesTracksOnContextCancel(t *testing.T) {
	s := &fakeSession{active: true}
	stream := newFakeStream()
	cam := NewCameraSensor(fakeDevices{stream: stream})
	m := NewMonitor(Config{Active: s.Active, Reporter: s}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx, cam))
	cancel()

	assert.Eventually(t, func() bool { return stream.stopped.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, m.Stop())
	assert.Equal(t, int32(1), stream.stopped.Load())
}

func TestCameraSensorDenied(t *testing.T) {
	cam := NewCameraSensor(fakeDevices{err: errors.New("NotAllowedError")})

	err := cam.Start(context.Background(), func(Signal) Decision { return Decision{} })

	assert.ErrorIs(t, err, ErrCameraDenied)
	assert.NoError(t, cam.Stop())
}
