package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AssignmentStore persists assignments and their questions.
type AssignmentStore interface {
	CreateAssignment(ctx context.Context, a *model.Assignment, questions []model.Question) error
	GetAssignment(ctx context.Context, id uuid.UUID) (*model.Assignment, error)
	ListQuestions(ctx context.Context, assignmentID uuid.UUID) ([]model.Question, error)
}

// SessionStore persists sessions. Status changes go through compare-and-set
// methods that report whether this caller won the transition.
type SessionStore interface {
	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error)
	ListAttempts(ctx context.Context, assignmentID uuid.UUID, subjectID string) ([]model.Session, error)
	ListByAssignment(ctx context.Context, assignmentID uuid.UUID) ([]model.Session, error)
	// MarkStarted moves not_started to active.
	MarkStarted(ctx context.Context, id uuid.UUID, at time.Time, degraded bool) (bool, error)
	// TransitionStatus moves from to to, stamping finished_at.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to model.SessionStatus, at time.Time) (bool, error)
	// IncrementViolation bumps the counters of an active session. The bool
	// is false, and nothing changes, when the session is not active.
	IncrementViolation(ctx context.Context, id uuid.UUID, kind model.ViolationKind) (*model.Session, bool, error)
	SetBestAttempt(ctx context.Context, assignmentID uuid.UUID, subjectID string, best uuid.UUID) error
	// ListExpired returns active sessions whose deadline is at or before now.
	ListExpired(ctx context.Context, now time.Time) ([]model.Session, error)
	// ListOverdue returns never-started sessions whose assignment is past due.
	ListOverdue(ctx context.Context, now time.Time) ([]model.Session, error)
}

// AnswerStore persists test answers, at most one per question per session.
type AnswerStore interface {
	// InsertAnswer fails with repository.ErrConflict for a second answer.
	InsertAnswer(ctx context.Context, a *model.Answer) error
	ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.Answer, error)
}

// TurnStore persists interview transcripts.
type TurnStore interface {
	// AppendTurn fails with repository.ErrConflict if the index is taken.
	AppendTurn(ctx context.Context, t *model.ConversationTurn) error
	ListTurns(ctx context.Context, sessionID uuid.UUID) ([]model.ConversationTurn, error)
	UpdateTurnScores(ctx context.Context, sessionID uuid.UUID, index int, scores model.TurnScores) error
}

// ResultStore persists results, at most one per session.
type ResultStore interface {
	// InsertResultIfAbsent stores r unless the session already has a result,
	// in which case the existing one is returned with created=false.
	InsertResultIfAbsent(ctx context.Context, r *model.Result) (*model.Result, bool, error)
	GetResultBySession(ctx context.Context, sessionID uuid.UUID) (*model.Result, error)
	ListResults(ctx context.Context, assignmentID uuid.UUID, subjectID string) ([]model.Result, error)
}

// Store is everything the services persist.
type Store interface {
	AssignmentStore
	SessionStore
	AnswerStore
	TurnStore
	ResultStore
}

// Locker serialises work on one key across processes.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Events receives session lifecycle notifications. Delivery is best effort.
type Events interface {
	Publish(ctx context.Context, ev model.SessionEvent)
	LogViolation(ctx context.Context, rec model.ViolationRecord)
}

type nopEvents struct{}

func (nopEvents) Publish(context.Context, model.SessionEvent)       {}
func (nopEvents) LogViolation(context.Context, model.ViolationRecord) {}
