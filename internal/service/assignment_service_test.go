package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
)

func TestAssignmentCreate_InterviewDefaults(t *testing.T) {
	h := newHarness(t)
	a, err := h.assignments.Create(context.Background(), model.CreateAssignmentRequest{
		Kind:            "interview",
		Title:           "Screen",
		DurationMinutes: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, 1200, a.DurationSeconds)
	assert.Equal(t, 5, a.MaxViolations)
	assert.Equal(t, 5, a.TotalQuestions)
	assert.Equal(t, model.CameraPolicyRequired, a.CameraPolicy)
	assert.Equal(t, model.PersonalityProfessional, a.Personality)
	assert.Equal(t, model.QuestionStyleTechnical, a.InterviewType)
	assert.Equal(t, model.DifficultyMedium, a.Difficulty)
}

func TestAssignmentCreate_TestValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	base := func() model.CreateAssignmentRequest {
		return model.CreateAssignmentRequest{Kind: "test", Title: "Quiz", DurationMinutes: 10}
	}

	req := base()
	_, err := h.assignments.Create(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidAssignment, "no questions")

	req = base()
	req.Questions = []model.CreateQuestionRequest{{Type: "multiple_choice", Prompt: "?", Options: []string{"a", "b"}, Points: 1}}
	_, err = h.assignments.Create(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidAssignment, "missing key")

	req = base()
	req.Questions = []model.CreateQuestionRequest{{Type: "multiple_choice", Prompt: "?", Options: []string{"a", "b"}, Points: 1, Correct: choiceKey(5)}}
	_, err = h.assignments.Create(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidAssignment, "key out of range")

	req = base()
	req.Questions = []model.CreateQuestionRequest{{Type: "multiple_choice", Prompt: "?", Options: []string{"a"}, Points: 1, Correct: choiceKey(0)}}
	_, err = h.assignments.Create(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidAssignment, "single option")

	req = base()
	req.Questions = []model.CreateQuestionRequest{
		{Type: "true_false", Prompt: "Go has generics", Points: 1, Correct: &model.AnswerPayload{Kind: model.AnswerKindBool, Value: json.RawMessage(`true`)}},
		{Type: "free_text", Prompt: "Explain channels", Points: 3, ExpectedKeywords: []string{"goroutine"}},
	}
	a, err := h.assignments.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, a.TotalQuestions)

	questions, err := h.store.ListQuestions(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Equal(t, model.Bool{Value: true}, questions[0].Correct)
	assert.Equal(t, 2, questions[1].OrderNum)
}

func TestAssignmentSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.newTest(t, 1, nil)
	sess := h.started(t, a)
	_, err := h.sessions.RecordViolation(ctx, sess.ID, candidate, model.ViolationEvent{Kind: model.ViolationPasteBlocked})
	require.NoError(t, err)

	snap, err := h.assignments.Snapshot(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, snap.Assignment.ID)
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, 1, snap.StatusCounts[model.SessionStatusActive])
	assert.Equal(t, 1, snap.TotalViolations)

	_, err = h.assignments.Snapshot(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrAssignmentNotFound)
}
