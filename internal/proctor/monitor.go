package proctor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Reporter records a violation against the session and returns the new
// total.
type Reporter interface {
	ReportViolation(ctx context.Context, ev model.ViolationEvent) (int, error)
}

// Warning is shown to the candidate for every counted violation.
type Warning struct {
	Kind           model.ViolationKind `json:"kind"`
	Message        string              `json:"message"`
	Count          int                 `json:"count"`
	Ceiling        int                 `json:"ceiling"`
	AutoSubmitting bool                `json:"auto_submitting"`
}

// WarningMessage formats the text of a warning.
func WarningMessage(kind model.ViolationKind, count, ceiling int) string {
	if count >= ceiling {
		return fmt.Sprintf("%s is not allowed. Violation limit reached (%d/%d), your session is being submitted automatically.", kind.Label(), count, ceiling)
	}
	return fmt.Sprintf("%s is not allowed. Warning %d of %d.", kind.Label(), count, ceiling)
}

// Warner surfaces warnings to the candidate. Warn must return only once the
// warning is visible.
type Warner interface {
	Warn(Warning)
}

// Submitter requests forced submission from the session state machine.
type Submitter interface {
	ForceSubmit(ctx context.Context, reason model.SubmitReason) error
}

// maxGestures bounds how many gesture ids are kept for deduplication.
const maxGestures = 64

// Config wires a Monitor.
type Config struct {
	Ceiling   int
	Active    func() bool
	Reporter  Reporter
	Warner    Warner
	Submitter Submitter
}

// Monitor serialises sensor signals into counted violations. It is inert
// whenever Active reports false: nothing is counted and nothing suppressed.
// It never ends the session itself; at the ceiling it asks the Submitter,
// exactly once.
type Monitor struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	ctx      context.Context
	sensors  []Sensor
	gestures map[string]Decision
	recent   []string
	running  bool

	forced atomic.Bool
}

func NewMonitor(cfg Config, log zerolog.Logger) *Monitor {
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = 5
	}
	return &Monitor{
		cfg:      cfg,
		log:      log.With().Str("component", "violation_monitor").Logger(),
		ctx:      context.Background(),
		gestures: make(map[string]Decision, maxGestures),
		recent:   make([]string, 0, maxGestures),
	}
}

// Start starts every sensor. If one fails the already started ones are
// stopped and the error is returned.
func (m *Monitor) Start(ctx context.Context, sensors ...Sensor) error {
	m.mu.Lock()
	m.ctx = ctx
	m.running = true
	m.mu.Unlock()

	for i, s := range sensors {
		if err := s.Start(ctx, m.Handle); err != nil {
			for _, started := range sensors[:i] {
				_ = started.Stop()
			}
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
			return fmt.Errorf("start %s sensor: %w", s.Name(), err)
		}
		m.mu.Lock()
		m.sensors = append(m.sensors, s)
		m.mu.Unlock()
	}
	return nil
}

// Stop stops every sensor and makes the monitor inert.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	sensors := m.sensors
	m.sensors = nil
	m.running = false
	m.mu.Unlock()

	var errs []error
	for _, s := range sensors {
		if err := s.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s sensor: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Handle processes one signal. Signals are handled one at a time; the
// warning has been delivered by the time Handle returns.
func (m *Monitor) Handle(sig Signal) Decision {
	m.mu.Lock()
	if !m.running || !m.isActive() {
		m.mu.Unlock()
		return Decision{}
	}
	if sig.GestureID != "" {
		if prev, ok := m.gestures[sig.GestureID]; ok {
			m.mu.Unlock()
			return Decision{Suppress: prev.Suppress, Count: prev.Count}
		}
	}

	suppress := sig.Kind.Suppressible()
	count, err := m.cfg.Reporter.ReportViolation(m.ctx, model.ViolationEvent{
		Kind:       sig.Kind,
		Detail:     sig.Detail,
		OccurredAt: sig.At,
	})
	if err != nil {
		m.mu.Unlock()
		m.log.Error().Err(err).Str("kind", string(sig.Kind)).Msg("Failed to report violation")
		return Decision{Suppress: suppress}
	}

	d := Decision{Suppress: suppress, Counted: true, Count: count}
	if sig.GestureID != "" {
		m.remember(sig.GestureID, d)
	}

	ceiling := m.cfg.Ceiling
	limit := count >= ceiling
	if m.cfg.Warner != nil {
		m.cfg.Warner.Warn(Warning{
			Kind:           sig.Kind,
			Message:        WarningMessage(sig.Kind, count, ceiling),
			Count:          count,
			Ceiling:        ceiling,
			AutoSubmitting: limit,
		})
	}
	ctx := m.ctx
	force := limit && m.forced.CompareAndSwap(false, true)
	m.mu.Unlock()

	if force {
		m.log.Warn().Int("count", count).Int("ceiling", ceiling).Msg("Violation ceiling reached, forcing submission")
		if m.cfg.Submitter != nil {
			if err := m.cfg.Submitter.ForceSubmit(ctx, model.SubmitReasonViolations); err != nil {
				m.log.Error().Err(err).Msg("Forced submission failed")
			}
		}
	}
	return d
}

// remember records the decision for a gesture, forgetting the oldest once
// maxGestures are held. Callers hold m.mu.
func (m *Monitor) remember(id string, d Decision) {
	if len(m.recent) == maxGestures {
		delete(m.gestures, m.recent[0])
		m.recent = append(m.recent[:0], m.recent[1:]...)
	}
	m.recent = append(m.recent, id)
	m.gestures[id] = d
}

func (m *Monitor) isActive() bool {
	if m.forced.Load() {
		return false
	}
	return m.cfg.Active == nil || m.cfg.Active()
}

// Forced reports whether the monitor has requested forced submission.
func (m *Monitor) Forced() bool {
	return m.forced.Load()
}
