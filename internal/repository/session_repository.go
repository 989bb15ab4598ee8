package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const sessionColumns = `id, assignment_id, subject_id, kind, status, attempt, started_at, finished_at,
	duration_seconds, violation_count, tab_switch_count, copy_attempt_count, max_violations,
	retake_count, max_retakes, best_attempt_id, degraded, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*model.Session, error) {
	s := &model.Session{}
	err := row.Scan(&s.ID, &s.AssignmentID, &s.SubjectID, &s.Kind, &s.Status, &s.Attempt,
		&s.StartedAt, &s.FinishedAt, &s.DurationSeconds, &s.ViolationCount, &s.TabSwitchCount,
		&s.CopyAttemptCount, &s.MaxViolations, &s.RetakeCount, &s.MaxRetakes, &s.BestAttemptID,
		&s.Degraded, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SessionRepository handles session data access. Status changes are
// conditional updates so concurrent callers cannot both win a transition.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// CreateSession inserts a not-started attempt. A second insert for the same
// (assignment, subject, attempt) yields ErrConflict.
func (r *SessionRepository) CreateSession(ctx context.Context, s *model.Session) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO sessions (id, assignment_id, subject_id, kind, status, attempt, duration_seconds,
		     max_violations, retake_count, max_retakes, best_attempt_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (assignment_id, subject_id, attempt) DO NOTHING
		 RETURNING created_at`,
		s.ID, s.AssignmentID, s.SubjectID, s.Kind, s.Status, s.Attempt, s.DurationSeconds,
		s.MaxViolations, s.RetakeCount, s.MaxRetakes, s.BestAttemptID,
	).Scan(&s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrConflict
	}
	return translate(err)
}

// GetSession retrieves a session by ID.
func (r *SessionRepository) GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if err != nil {
		return nil, translate(err)
	}
	return s, nil
}

func (r *SessionRepository) list(ctx context.Context, query string, args ...any) ([]model.Session, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// ListAttempts returns a subject's attempts at an assignment, oldest first.
func (r *SessionRepository) ListAttempts(ctx context.Context, assignmentID uuid.UUID, subjectID string) ([]model.Session, error) {
	return r.list(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE assignment_id = $1 AND subject_id = $2
		 ORDER BY attempt ASC`, assignmentID, subjectID)
}

// ListByAssignment returns every session of an assignment.
func (r *SessionRepository) ListByAssignment(ctx context.Context, assignmentID uuid.UUID) ([]model.Session, error) {
	return r.list(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE assignment_id = $1
		 ORDER BY subject_id ASC, attempt ASC`, assignmentID)
}

// MarkStarted moves a session from not_started to active.
func (r *SessionRepository) MarkStarted(ctx context.Context, id uuid.UUID, at time.Time, degraded bool) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET status = $1, started_at = $2, degraded = $3
		 WHERE id = $4 AND status = $5`,
		model.SessionStatusActive, at, degraded, id, model.SessionStatusNotStarted)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// TransitionStatus moves a session from one status to another and stamps
// finished_at. It reports false when the session was no longer in from.
func (r *SessionRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to model.SessionStatus, at time.Time) (bool, error) {
	if !model.CanTransition(from, to) {
		return false, nil
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET status = $1, finished_at = $2
		 WHERE id = $3 AND status = $4`,
		to, at, id, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// IncrementViolation bumps the counters of an active session in one
// statement. For any other status nothing changes and counted is false.
func (r *SessionRepository) IncrementViolation(ctx context.Context, id uuid.UUID, kind model.ViolationKind) (*model.Session, bool, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`UPDATE sessions SET
		     violation_count = violation_count + 1,
		     tab_switch_count = tab_switch_count + CASE WHEN $2::text = 'tab_switch' THEN 1 ELSE 0 END,
		     copy_attempt_count = copy_attempt_count + CASE WHEN $2::text IN ('copy_attempt', 'paste_blocked') THEN 1 ELSE 0 END
		 WHERE id = $1 AND status = $3
		 RETURNING `+sessionColumns,
		id, string(kind), model.SessionStatusActive))
	if err == nil {
		return s, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	s, err = r.GetSession(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return s, false, nil
}

// SetBestAttempt points every attempt of a subject at the best one.
func (r *SessionRepository) SetBestAttempt(ctx context.Context, assignmentID uuid.UUID, subjectID string, best uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE sessions SET best_attempt_id = $1
		 WHERE assignment_id = $2 AND subject_id = $3`,
		best, assignmentID, subjectID)
	return err
}

// ListExpired returns active sessions whose deadline is at or before now.
func (r *SessionRepository) ListExpired(ctx context.Context, now time.Time) ([]model.Session, error) {
	return r.list(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE status = $1
		   AND started_at + make_interval(secs => duration_seconds) <= $2
		 ORDER BY started_at ASC`,
		model.SessionStatusActive, now)
}

// ListOverdue returns never-started sessions whose assignment is past due.
func (r *SessionRepository) ListOverdue(ctx context.Context, now time.Time) ([]model.Session, error) {
	return r.list(ctx,
		`SELECT `+prefixed("s", sessionColumns)+` FROM sessions s
		 JOIN assignments a ON a.id = s.assignment_id
		 WHERE s.status = $1 AND a.due_at IS NOT NULL AND a.due_at < $2
		 ORDER BY s.created_at ASC`,
		model.SessionStatusNotStarted, now)
}
