package proctor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// ErrCameraDenied is returned when the host refuses camera access.
var ErrCameraDenied = errors.New("camera access denied")

// MediaStream is an acquired video stream.
type MediaStream interface {
	// Ended is closed when the stream drops.
	Ended() <-chan struct{}
	// Stop releases the device tracks.
	Stop()
}

// MediaDevices acquires camera streams from the host.
type MediaDevices interface {
	Acquire(ctx context.Context) (MediaStream, error)
}

// CameraSensor owns the session's camera stream. It reports camera_lost
// once if the stream drops and releases the tracks on every exit path.
type CameraSensor struct {
	devices MediaDevices

	mu      sync.Mutex
	stream  MediaStream
	stop    chan struct{}
	done    chan struct{}
	release sync.Once
}

func NewCameraSensor(devices MediaDevices) *CameraSensor {
	return &CameraSensor{devices: devices}
}

func (s *CameraSensor) Name() string { return "camera" }

func (s *CameraSensor) Start(ctx context.Context, emit Emit) error {
	stream, err := s.devices.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCameraDenied, err)
	}

	s.mu.Lock()
	s.stream = stream
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer s.releaseStream()
		select {
		case <-stream.Ended():
			emit(Signal{Kind: model.ViolationCameraLost, Detail: "video stream ended", At: time.Now()})
		case <-stop:
		case <-ctx.Done():
		}
	}()
	return nil
}

// Stop releases the stream. It is safe to call more than once.
func (s *CameraSensor) Stop() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
	s.releaseStream()
	return nil
}

func (s *CameraSensor) releaseStream() {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return
	}
	s.release.Do(stream.Stop)
}
