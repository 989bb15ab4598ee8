package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// ErrInvalidAssignment wraps every assignment validation failure.
var ErrInvalidAssignment = errors.New("invalid assignment")

// AssignmentService creates assignments and reports on their sessions.
type AssignmentService struct {
	store Store
	cfg   *config.Config
	log   zerolog.Logger
}

// NewAssignmentService creates a new AssignmentService.
func NewAssignmentService(store Store, cfg *config.Config, log zerolog.Logger) *AssignmentService {
	return &AssignmentService{
		store: store,
		cfg:   cfg,
		log:   log.With().Str("component", "assignment_service").Logger(),
	}
}

// Create validates the request, applies defaults and stores the assignment
// with its questions.
func (s *AssignmentService) Create(ctx context.Context, req model.CreateAssignmentRequest) (*model.Assignment, error) {
	a := &model.Assignment{
		ID:              uuid.New(),
		Kind:            model.SessionKind(req.Kind),
		Title:           req.Title,
		DurationSeconds: req.DurationMinutes * 60,
		PassingScore:    req.PassingScore,
		MaxRetakes:      req.MaxRetakes,
		MaxViolations:   req.MaxViolations,
		CameraPolicy:    model.CameraPolicy(req.CameraPolicy),
		TotalQuestions:  req.TotalQuestions,
		Personality:     model.Personality(req.Personality),
		InterviewType:   model.QuestionStyle(req.InterviewType),
		Role:            req.Role,
		Company:         req.Company,
		Difficulty:      model.Difficulty(req.Difficulty),
		DueAt:           req.DueAt,
		CreatedAt:       time.Now(),
	}
	if a.MaxViolations <= 0 {
		a.MaxViolations = s.cfg.DefaultMaxViolations
	}
	if a.CameraPolicy == "" {
		a.CameraPolicy = model.CameraPolicyRequired
	}

	var questions []model.Question
	switch a.Kind {
	case model.SessionKindInterview:
		if len(req.Questions) > 0 {
			return nil, fmt.Errorf("%w: interviews generate their own questions", ErrInvalidAssignment)
		}
		if a.TotalQuestions <= 0 {
			a.TotalQuestions = s.cfg.DefaultTotalQuestions
		}
		if a.Personality == "" {
			a.Personality = model.PersonalityProfessional
		}
		if a.InterviewType == "" {
			a.InterviewType = model.QuestionStyleTechnical
		}
		if a.Difficulty == "" {
			a.Difficulty = model.DifficultyMedium
		}
	case model.SessionKindTest:
		if len(req.Questions) == 0 {
			return nil, fmt.Errorf("%w: a test needs at least one question", ErrInvalidAssignment)
		}
		var err error
		if questions, err = buildQuestions(a.ID, req.Questions); err != nil {
			return nil, err
		}
		a.TotalQuestions = len(questions)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidAssignment, req.Kind)
	}

	if err := s.store.CreateAssignment(ctx, a, questions); err != nil {
		return nil, fmt.Errorf("create assignment: %w", err)
	}
	s.log.Info().Str("assignment_id", a.ID.String()).Str("kind", string(a.Kind)).Msg("Assignment created")
	return a, nil
}

func buildQuestions(assignmentID uuid.UUID, reqs []model.CreateQuestionRequest) ([]model.Question, error) {
	out := make([]model.Question, 0, len(reqs))
	for i, r := range reqs {
		q := model.Question{
			ID:               uuid.New(),
			AssignmentID:     assignmentID,
			Type:             model.QuestionType(r.Type),
			Prompt:           r.Prompt,
			Options:          r.Options,
			Points:           r.Points,
			ExpectedKeywords: r.ExpectedKeywords,
			OrderNum:         i + 1,
		}
		if q.Type.ChoiceBased() && len(q.Options) < 2 {
			return nil, fmt.Errorf("%w: question %d needs at least two options", ErrInvalidAssignment, i+1)
		}
		if q.Type.AIGraded() {
			out = append(out, q)
			continue
		}
		if r.Correct == nil {
			return nil, fmt.Errorf("%w: question %d has no answer key", ErrInvalidAssignment, i+1)
		}
		v, err := r.Correct.Decode()
		if err != nil {
			return nil, fmt.Errorf("%w: question %d: %v", ErrInvalidAssignment, i+1, err)
		}
		if err := model.ValidateAnswer(q, v); err != nil {
			return nil, fmt.Errorf("%w: question %d: %v", ErrInvalidAssignment, i+1, err)
		}
		q.Correct = v
		out = append(out, q)
	}
	return out, nil
}

// Get retrieves an assignment by ID.
func (s *AssignmentService) Get(ctx context.Context, id uuid.UUID) (*model.Assignment, error) {
	a, err := s.store.GetAssignment(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAssignmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	return a, nil
}

// MonitorSnapshot summarises the live state of an assignment's sessions.
type MonitorSnapshot struct {
	Assignment      *model.Assignment           `json:"assignment"`
	Sessions        []model.Session             `json:"sessions"`
	StatusCounts    map[model.SessionStatus]int `json:"status_counts"`
	TotalViolations int                         `json:"total_violations"`
}

// Snapshot loads the assignment and its sessions concurrently.
func (s *AssignmentService) Snapshot(ctx context.Context, id uuid.UUID) (*MonitorSnapshot, error) {
	var (
		a          *model.Assignment
		sessions   []model.Session
		aErr, sErr error
		wg         sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		a, aErr = s.Get(ctx, id)
	}()
	go func() {
		defer wg.Done()
		sessions, sErr = s.store.ListByAssignment(ctx, id)
	}()
	wg.Wait()

	if aErr != nil {
		return nil, aErr
	}
	if sErr != nil {
		return nil, fmt.Errorf("list sessions: %w", sErr)
	}

	snap := &MonitorSnapshot{
		Assignment:   a,
		Sessions:     sessions,
		StatusCounts: make(map[model.SessionStatus]int),
	}
	if snap.Sessions == nil {
		snap.Sessions = []model.Session{}
	}
	now := time.Now()
	for i := range snap.Sessions {
		snap.Sessions[i].Refresh(now)
		snap.StatusCounts[snap.Sessions[i].Status]++
		snap.TotalViolations += snap.Sessions[i].ViolationCount
	}
	return snap, nil
}
