package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/interview"
	"github.com/stemsi/exstem-proctor/internal/llm"
	"github.com/stemsi/exstem-proctor/internal/lock"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository/memstore"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordedEvents struct {
	mu         sync.Mutex
	events     []model.SessionEvent
	violations []model.ViolationRecord
}

func (r *recordedEvents) Publish(_ context.Context, ev model.SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordedEvents) LogViolation(_ context.Context, rec model.ViolationRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.violations = append(r.violations, rec)
}

func (r *recordedEvents) types() []model.SessionEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.SessionEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	store       *memstore.Store
	sessions    *SessionService
	interviews  *InterviewService
	assignments *AssignmentService
	events      *recordedEvents
	clock       *fakeClock
	locker      Locker
	engine      *interview.Engine
}

const candidate = "cand-001"

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, nil)
}

// newHarnessWith wires the services around provider; nil means every model
// call falls back to canned content.
func newHarnessWith(t *testing.T, provider llm.Provider) *harness {
	t.Helper()
	store := memstore.New()
	engine, err := interview.NewEngine(provider, interview.Config{Timeout: time.Second}, zerolog.Nop())
	require.NoError(t, err)

	locker := lock.NewLocalLocker()
	events := &recordedEvents{}
	clock := &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}

	sessions := NewSessionService(store, locker, events, engine, zerolog.Nop())
	sessions.now = clock.Now
	cfg := &config.Config{DefaultMaxViolations: 5, DefaultTotalQuestions: 5}

	return &harness{
		store:       store,
		sessions:    sessions,
		interviews:  NewInterviewService(sessions, store, locker, engine, zerolog.Nop()),
		assignments: NewAssignmentService(store, cfg, zerolog.Nop()),
		events:      events,
		clock:       clock,
		locker:      locker,
		engine:      engine,
	}
}

func choiceKey(idx int) *model.AnswerPayload {
	return &model.AnswerPayload{Kind: model.AnswerKindChoice, Value: json.RawMessage(jsonInt(idx))}
}

func jsonInt(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

// newTest creates an n-question multiple-choice test whose correct option
// is always index 1.
func (h *harness) newTest(t *testing.T, n int, mutate func(*model.CreateAssignmentRequest)) *model.Assignment {
	t.Helper()
	req := model.CreateAssignmentRequest{
		Kind:            "test",
		Title:           "Go fundamentals",
		DurationMinutes: 1,
		PassingScore:    60,
		MaxRetakes:      1,
	}
	for i := 0; i < n; i++ {
		req.Questions = append(req.Questions, model.CreateQuestionRequest{
			Type:    "multiple_choice",
			Prompt:  "Pick the second option",
			Options: []string{"a", "b", "c", "d"},
			Points:  10,
			Correct: choiceKey(1),
		})
	}
	if mutate != nil {
		mutate(&req)
	}
	a, err := h.assignments.Create(context.Background(), req)
	require.NoError(t, err)
	return a
}

func (h *harness) newInterview(t *testing.T, total int) *model.Assignment {
	t.Helper()
	a, err := h.assignments.Create(context.Background(), model.CreateAssignmentRequest{
		Kind:            "interview",
		Title:           "Backend engineer screen",
		DurationMinutes: 30,
		PassingScore:    40,
		TotalQuestions:  total,
		Personality:     "friendly",
		Role:            "Backend Engineer",
		Company:         "Acme",
		CameraPolicy:    "optional",
	})
	require.NoError(t, err)
	return a
}

// started creates and starts the first attempt of a.
func (h *harness) started(t *testing.T, a *model.Assignment) *model.Session {
	t.Helper()
	ctx := context.Background()
	sess, err := h.sessions.CreateAttempt(ctx, a.ID, candidate)
	require.NoError(t, err)
	sess, err = h.sessions.Start(ctx, sess.ID, candidate, true)
	require.NoError(t, err)
	require.Equal(t, model.SessionStatusActive, sess.Status)
	return sess
}

func answerReq(questionID uuid.UUID, idx int) model.SubmitAnswerRequest {
	return model.SubmitAnswerRequest{
		QuestionID: questionID,
		Answer:     *choiceKey(idx),
	}
}
