// Package proctor watches the candidate's environment during an active
// session and turns what it sees into counted violations.
package proctor

import (
	"context"
	"sync"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Signal is one raw observation from a sensor.
type Signal struct {
	Kind   model.ViolationKind
	Detail string
	At     time.Time
	// GestureID identifies the user gesture behind the signal. Signals that
	// share a non-empty GestureID are counted once.
	GestureID string
}

// Decision tells the sensor what to do with the underlying action.
type Decision struct {
	// Suppress is set when the host must cancel the action.
	Suppress bool
	Counted  bool
	Count    int
}

// Emit hands a signal to the monitor and returns its decision.
type Emit func(Signal) Decision

// Sensor is one environment capability the monitor listens to.
type Sensor interface {
	Name() string
	Start(ctx context.Context, emit Emit) error
	Stop() error
}

// hostSensor is the shared plumbing for sensors fed by host callbacks.
// Callbacks made while the sensor is stopped are ignored.
type hostSensor struct {
	name string
	now  func() time.Time

	mu   sync.Mutex
	emit Emit
}

func (h *hostSensor) Name() string { return h.name }

func (h *hostSensor) Start(_ context.Context, emit Emit) error {
	h.mu.Lock()
	h.emit = emit
	h.mu.Unlock()
	return nil
}

func (h *hostSensor) Stop() error {
	h.mu.Lock()
	h.emit = nil
	h.mu.Unlock()
	return nil
}

func (h *hostSensor) fire(kind model.ViolationKind, detail, gesture string) Decision {
	h.mu.Lock()
	emit := h.emit
	h.mu.Unlock()
	if emit == nil {
		return Decision{}
	}
	now := time.Now
	if h.now != nil {
		now = h.now
	}
	return emit(Signal{Kind: kind, Detail: detail, At: now(), GestureID: gesture})
}

// VisibilitySensor reports the document becoming hidden.
type VisibilitySensor struct{ hostSensor }

func NewVisibilitySensor() *VisibilitySensor {
	return &VisibilitySensor{hostSensor{name: "visibility"}}
}

// OnVisibilityChange is the host callback. Becoming visible again is not a
// violation.
func (s *VisibilitySensor) OnVisibilityChange(hidden bool) {
	if hidden {
		s.fire(model.ViolationTabSwitch, "document hidden", "")
	}
}

// ClipboardSensor reports copy and paste commands.
type ClipboardSensor struct{ hostSensor }

func NewClipboardSensor() *ClipboardSensor {
	return &ClipboardSensor{hostSensor{name: "clipboard"}}
}

// OnCopy reports whether the host must cancel the copy.
func (s *ClipboardSensor) OnCopy(gestureID string) bool {
	return s.fire(model.ViolationCopyAttempt, "copy command", gestureID).Suppress
}

// OnPaste reports whether the host must cancel the paste.
func (s *ClipboardSensor) OnPaste(gestureID string) bool {
	return s.fire(model.ViolationPasteBlocked, "paste command", gestureID).Suppress
}

// ContextMenuSensor reports right-click menus.
type ContextMenuSensor struct{ hostSensor }

func NewContextMenuSensor() *ContextMenuSensor {
	return &ContextMenuSensor{hostSensor{name: "context_menu"}}
}

// OnContextMenu reports whether the host must cancel the menu.
func (s *ContextMenuSensor) OnContextMenu(gestureID string) bool {
	return s.fire(model.ViolationContextMenuBlocked, "context menu", gestureID).Suppress
}

// ChannelSensor forwards signals received on a channel, for clients that
// report through a stream instead of host callbacks.
type ChannelSensor struct {
	name string
	in   <-chan Signal

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewChannelSensor(name string, in <-chan Signal) *ChannelSensor {
	return &ChannelSensor{name: name, in: in}
}

func (s *ChannelSensor) Name() string { return s.name }

func (s *ChannelSensor) Start(ctx context.Context, emit Emit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go func(stop, done chan struct{}) {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case sig, ok := <-s.in:
				if !ok {
					return
				}
				if sig.At.IsZero() {
					sig.At = time.Now()
				}
				emit(sig)
			}
		}
	}(s.stop, s.done)
	return nil
}

// Stop waits for the forwarding goroutine to exit.
func (s *ChannelSensor) Stop() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}
