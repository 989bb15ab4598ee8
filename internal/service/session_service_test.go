package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
)

func TestScenarioA_AllCorrectTestPasses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.newTest(t, 5, nil)
	sess := h.started(t, a)

	state, err := h.sessions.State(ctx, sess.ID, candidate)
	require.NoError(t, err)
	require.Len(t, state.Questions, 5)

	for _, q := range state.Questions {
		_, err := h.sessions.SubmitAnswer(ctx, sess.ID, candidate, answerReq(q.ID, 1))
		require.NoError(t, err)
	}

	out, err := h.sessions.Submit(ctx, sess.ID, candidate, model.SubmitSessionRequest{})
	require.NoError(t, err)
	assert.Equal(t, 100, out.Result.OverallScore)
	assert.True(t, out.Result.Passed)
	assert.Equal(t, 50, out.Result.EarnedPoints)
	assert.Equal(t, 0, out.Result.ViolationsAtSubmission)
	assert.Equal(t, model.SubmitReasonExplicit, out.Result.Reason)
	assert.Empty(t, out.Rejected)

	got, err := h.sessions.State(ctx, sess.ID, candidate)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCompleted, got.Session.Status)
	assert.Len(t, got.AnsweredID, 5)
	require.NotNil(t, got.Result)
	assert.Equal(t, out.Result.ID, got.Result.ID)
}

func TestScenarioB_ViolationCeilingForcesSubmission(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.newTest(t, 5, nil)
	sess := h.started(t, a)

	for i := 1; i <= 4; i++ {
		out, err := h.sessions.RecordViolation(ctx, sess.ID, candidate, model.ViolationEvent{Kind: model.ViolationTabSwitch})
		require.NoError(t, err)
		assert.True(t, out.Counted)
		assert.Equal(t, i, out.Count)
		assert.Equal(t, 5, out.Ceiling)
		assert.False(t, out.AutoSubmitting)
		assert.Nil(t, out.Result)
		assert.Contains(t, out.Message, "Switching tabs")
	}

	out, err := h.sessions.RecordViolation(ctx, sess.ID, candidate, model.ViolationEvent{Kind: model.ViolationTabSwitch})
	require.NoError(t, err)
	assert.True(t, out.AutoSubmitting)
	require.NotNil(t, out.Result)
	assert.Equal(t, 5, out.Result.ViolationsAtSubmission)
	assert.Equal(t, 0, out.Result.OverallScore)
	assert.False(t, out.Result.Passed)
	assert.Equal(t, model.SubmitReasonViolations, out.Result.Reason)

	got, err := h.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCompleted, got.Status)
	assert.Equal(t, 5, got.TabSwitchCount)

	// Nothing counts once the session is over.
	after, err := h.sessions.RecordViolation(ctx, sess.ID, candidate, model.ViolationEvent{Kind: model.ViolationCopyAttempt})
	require.NoError(t, err)
	assert.False(t, after.Counted)
	assert.Equal(t, 5, after.Count)

	h.events.mu.Lock()
	assert.Len(t, h.events.violations, 5)
	h.events.mu.Unlock()
	assert.Contains(t, h.events.types(), model.SessionEventSubmitted)
}

func TestRecordViolation_IgnoredBeforeStart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.newTest(t, 1, nil)
	sess, err := h.sessions.CreateAttempt(ctx, a.ID, candidate)
	require.NoError(t, err)

	out, err := h.sessions.RecordViolation(ctx, sess.ID, candidate, model.ViolationEvent{Kind: model.ViolationTabSwitch})
	require.NoError(t, err)
	assert.False(t, out.Counted)
	assert.Equal(t, 0, out.Count)
}

func TestRecordViolation_UnknownKind(t *testing.T) {
	h := newHarness(t)
	a := h.newTest(t, 1, nil)
	sess := h.started(t, a)
	_, err := h.sessions.RecordViolation(context.Background(), sess.ID, candidate, model.ViolationEvent{Kind: "screenshot"})
	assert.Error(t, err)
}

func TestSubmit_IsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.newTest(t, 2, nil)
	sess := h.started(t, a)

	first, err := h.sessions.Submit(ctx, sess.ID, candidate, model.SubmitSessionRequest{})
	require.NoError(t, err)
	second, err := h.sessions.Submit(ctx, sess.ID, candidate, model.SubmitSessionRequest{})
	require.NoError(t, err)
	assert.Equal(t, first.Result.ID, second.Result.ID)
	assert.Equal(t, first.Result.OverallScore, second.Result.OverallScore)
}

func TestSubmit_ConcurrentPathsYieldOneResult(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.newTest(t, 2, func(r *model.CreateAssignmentRequest) { r.MaxViolations = 1 })
	sess := h.started(t, a)

	var wg sync.WaitGroup
	ids := make(chan uuid.UUID, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			out, err := h.sessions.Submit(ctx, sess.ID, candidate, model.SubmitSessionRequest{})
			if assert.NoError(t, err) {
				ids <- out.Result.ID
			}
		}()
		go func() {
			defer wg.Done()
			out, err := h.sessions.RecordViolation(ctx, sess.ID, candidate, model.ViolationEvent{Kind: model.ViolationTabSwitch})
			if assert.NoError(t, err) && out.Result != nil {
				ids <- out.Result.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[uuid.UUID]struct{}{}
	for id := range ids {
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 1)

	results, err := h.store.ListResults(ctx, a.ID, candidate)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestState_RecomputesRemainingTimeAndExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.newTest(t, 1, nil)
	require.Equal(t, 60, a.DurationSeconds)
	sess := h.started(t, a)

	h.clock.Advance(20 * time.Second)
	state, err := h.sessions.State(ctx, sess.ID, candidate)
	require.NoError(t, err)
	assert.Equal(t, 40, state.Session.TimeRemainingSeconds)
	assert.Equal(t, model.SessionStatusActive, state.Session.Status)

	h.clock.Advance(41 * time.Second)
	state, err = h.sessions.State(ctx, sess.ID, candidate)
	require.NoError(t, err)
	assert.LessOrEqual(t, state.Session.TimeRemainingSeconds, 0)
	assert.Equal(t, model.SessionStatusCompleted, state.Session.Status)
	require.NotNil(t, state.Result)
	assert.Equal(t, model.SubmitReasonTimeout, state.Result.Reason)
	assert.Equal(t, 60, state.Result.TimeSpentSeconds)
}

func TestStart_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.newTest(t, 1, nil)
	sess := h.started(t, a)

	h.clock.Advance(10 * time.Second)
	again, err := h.sessions.Start(ctx, sess.ID, candidate, true)
	require.NoError(t, err)
	assert.Equal(t, sess.StartedAt, again.StartedAt)
	assert.Equal(t, 50, again.TimeRemainingSeconds)

	var started int
	for _, typ := range h.events.types() {
		if typ == model.SessionEventStarted {
			started++
		}
	}
	assert.Equal(t, 1, started)
}

func TestStart_CompletedSessionReturnsResult(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.newTest(t, 1, nil)
	sess := h.started(t, a)
	out, err := h.sessions.Submit(ctx, sess.ID, candidate, model.SubmitSessionRequest{})
	require.NoError(t, err)

	_, err = h.sessions.Start(ctx, sess.ID, candidate, true)
	ce, ok := AsCompleted(err)
	require.True(t, ok, "expected CompletedError, got %v", err)
	assert.Equal(t, out.Result.ID, ce.Result.ID)

	_, err = h.sessions.SubmitAnswer(ctx, sess.ID, candidate, answerReq(uuid.New(), 0))
	_, ok = AsCompleted(err)
	assert.True(t, ok)
}

func TestStart_CameraPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("required blocks", func(t *testing.T) {
		h := newHarness(t)
		a := h.newTest(t, 1, nil)
		sess, err := h.sessions.CreateAttempt(ctx, a.ID, candidate)
		require.NoError(t, err)
		_, err = h.sessions.Start(ctx, sess.ID, candidate, false)
		assert.ErrorIs(t, err, ErrCameraRequired)

		got, err := h.store.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SessionStatusNotStarted, got.Status)
	})

	t.Run("optional degrades", func(t *testing.T) {
		h := newHarness(t)
		a := h.newTest(t, 1, func(r *model.CreateAssignmentRequest) { r.CameraPolicy = "optional" })
		sess, err := h.sessions.CreateAttempt(ctx, a.ID, candidate)
		require.NoError(t, err)
		started, err := h.sessions.Start(ctx, sess.ID, candidate, false)
		require.NoError(t, err)
		assert.True(t, started.Degraded)
		assert.Equal(t, model.SessionStatusActive, started.Status)
	})
}

func TestStart_PastDueExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	due := h.clock.Now().Add(-time.Hour)
	a := h.newTest(t, 1, func(r *model.CreateAssignmentRequest) { r.DueAt = &due })
	sess, err := h.sessions.CreateAttempt(ctx, a.ID, candidate)
	require.NoError(t, err)

	_, err = h.sessions.Start(ctx, sess.ID, candidate, true)
	assert.ErrorIs(t, err, ErrSessionExpired)

	got, err := h.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusExpired, got.Status)
}

func TestOwnership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.newTest(t, 1, nil)
	sess := h.started(t, a)

	_, err := h.sessions.State(ctx, sess.ID, "someone-else")
	assert.ErrorIs(t, err, ErrNotSessionOwner)
	_, err = h.sessions.State(ctx, uuid.New(), candidate)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSubmitAnswer_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.newTest(t, 2, nil)
	sess := h.started(t, a)
	questions, err := h.store.ListQuestions(ctx, a.ID)
	require.NoError(t, err)

	_, err = h.sessions.SubmitAnswer(ctx, sess.ID, candidate, answerReq(questions[0].ID, 1))
	require.NoError(t, err)
	_, err = h.sessions.SubmitAnswer(ctx, sess.ID, candidate, answerReq(questions[0].ID, 2))
	assert.ErrorIs(t, err, ErrAnswerExists)

	_, err = h.sessions.SubmitAnswer(ctx, sess.ID, candidate, answerReq(questions[1].ID, 9))
	assert.ErrorIs(t, err, model.ErrInvalidAnswer)

	_, err = h.sessions.SubmitAnswer(ctx, sess.ID, candidate, answerReq(uuid.New(), 0))
	assert.ErrorIs(t, err, ErrUnknownQuestion)
}

func TestSubmit_RejectsBadAnswersIndividually(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.newTest(t, 2, nil)
	sess := h.started(t, a)
	questions, err := h.store.ListQuestions(ctx, a.ID)
	require.NoError(t, err)

	out, err := h.sessions.Submit(ctx, sess.ID, candidate, model.SubmitSessionRequest{
		Answers: []model.SubmitAnswerRequest{
			answerReq(questions[0].ID, 1),
			answerReq(questions[1].ID, 7),
			answerReq(uuid.New(), 0),
		},
	})
	require.NoError(t, err)
	assert.Len(t, out.Rejected, 2)
	assert.Equal(t, 10, out.Result.EarnedPoints)
	assert.Equal(t, 50, out.Result.OverallScore)
}

func TestRetakeAndBestAttempt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.newTest(t, 2, nil)
	first := h.started(t, a)
	questions, err := h.store.ListQuestions(ctx, a.ID)
	require.NoError(t, err)

	_, err = h.sessions.Retake(ctx, first.ID, candidate)
	assert.ErrorIs(t, err, ErrRetakeNotAllowed, "active attempt cannot be retaken")

	res1, err := h.sessions.Submit(ctx, first.ID, candidate, model.SubmitSessionRequest{
		Answers: []model.SubmitAnswerRequest{answerReq(questions[0].ID, 1)},
	})
	require.NoError(t, err)
	assert.Equal(t, 50, res1.Result.OverallScore)

	second, err := h.sessions.Retake(ctx, first.ID, candidate)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Attempt)
	assert.Equal(t, model.SessionStatusNotStarted, second.Status)
	require.NotNil(t, second.BestAttemptID)
	assert.Equal(t, first.ID, *second.BestAttemptID)

	_, err = h.sessions.Retake(ctx, first.ID, candidate)
	assert.ErrorIs(t, err, ErrRetakeNotAllowed, "only the latest attempt")

	_, err = h.sessions.Start(ctx, second.ID, candidate, true)
	require.NoError(t, err)
	res2, err := h.sessions.Submit(ctx, second.ID, candidate, model.SubmitSessionRequest{
		Answers: []model.SubmitAnswerRequest{answerReq(questions[0].ID, 1), answerReq(questions[1].ID, 1)},
	})
	require.NoError(t, err)
	assert.Equal(t, 100, res2.Result.OverallScore)

	best, err := h.sessions.BestAttempt(ctx, a.ID, candidate)
	require.NoError(t, err)
	assert.Equal(t, second.ID, best.SessionID)

	// The first result is untouched.
	prior, err := h.sessions.Result(ctx, first.ID, candidate)
	require.NoError(t, err)
	assert.Equal(t, res1.Result.ID, prior.ID)
	assert.Equal(t, 50, prior.OverallScore)

	_, err = h.sessions.Retake(ctx, second.ID, candidate)
	assert.ErrorIs(t, err, ErrRetakeLimit)

	got, err := h.store.GetSession(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, got.BestAttemptID)
	assert.Equal(t, second.ID, *got.BestAttemptID)
}

func TestCreateAttempt_ReturnsExisting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.newTest(t, 1, nil)

	s1, err := h.sessions.CreateAttempt(ctx, a.ID, candidate)
	require.NoError(t, err)
	s2, err := h.sessions.CreateAttempt(ctx, a.ID, candidate)
	require.NoError(t, err)
	assert.Equal(t, s1.ID, s2.ID)
	assert.Equal(t, 60, s2.TimeRemainingSeconds)

	_, err = h.sessions.CreateAttempt(ctx, uuid.New(), candidate)
	assert.ErrorIs(t, err, ErrAssignmentNotFound)
}

func TestCancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.newTest(t, 1, nil)
	sess := h.started(t, a)

	cancelled, err := h.sessions.Cancel(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCancelled, cancelled.Status)

	_, err = h.sessions.Start(ctx, sess.ID, candidate, true)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = h.sessions.Submit(ctx, sess.ID, candidate, model.SubmitSessionRequest{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = h.sessions.Cancel(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSweepExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a := h.newTest(t, 1, nil)
	active := h.started(t, a)

	due := h.clock.Now().Add(30 * time.Second)
	b := h.newTest(t, 1, func(r *model.CreateAssignmentRequest) { r.DueAt = &due })
	idle, err := h.sessions.CreateAttempt(ctx, b.ID, candidate)
	require.NoError(t, err)

	stats, err := h.sessions.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepStats{}, stats)

	h.clock.Advance(2 * time.Minute)
	stats, err = h.sessions.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Finalized)
	assert.Equal(t, 1, stats.Expired)

	res, err := h.sessions.Result(ctx, active.ID, candidate)
	require.NoError(t, err)
	assert.Equal(t, model.SubmitReasonTimeout, res.Reason)

	got, err := h.store.GetSession(ctx, idle.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusExpired, got.Status)

	stats, err = h.sessions.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepStats{}, stats)
}
