package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const resultColumns = `id, session_id, assignment_id, subject_id, kind, overall_score, sub_scores,
	passing_score, passed, earned_points, total_points, violations_at_submission,
	time_spent_seconds, reason, feedback, created_at`

func scanResult(row scanner) (*model.Result, error) {
	res := &model.Result{}
	err := row.Scan(&res.ID, &res.SessionID, &res.AssignmentID, &res.SubjectID, &res.Kind,
		&res.OverallScore, &res.SubScores, &res.PassingScore, &res.Passed, &res.EarnedPoints,
		&res.TotalPoints, &res.ViolationsAtSubmission, &res.TimeSpentSeconds, &res.Reason,
		&res.Feedback, &res.CreatedAt)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ResultRepository handles result data access. A session has at most one
// result row, enforced by a unique constraint.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

// InsertResultIfAbsent stores res unless the session already has a result,
// in which case the stored one is returned with created=false.
func (r *ResultRepository) InsertResultIfAbsent(ctx context.Context, res *model.Result) (*model.Result, bool, error) {
	stored, err := scanResult(r.pool.QueryRow(ctx,
		`INSERT INTO results (id, session_id, assignment_id, subject_id, kind, overall_score, sub_scores,
		     passing_score, passed, earned_points, total_points, violations_at_submission,
		     time_spent_seconds, reason, feedback, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (session_id) DO NOTHING
		 RETURNING `+resultColumns,
		res.ID, res.SessionID, res.AssignmentID, res.SubjectID, res.Kind, res.OverallScore, res.SubScores,
		res.PassingScore, res.Passed, res.EarnedPoints, res.TotalPoints, res.ViolationsAtSubmission,
		res.TimeSpentSeconds, res.Reason, res.Feedback, res.CreatedAt))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, translate(err)
	}
	existing, err := r.GetResultBySession(ctx, res.SessionID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetResultBySession retrieves the result of a session.
func (r *ResultRepository) GetResultBySession(ctx context.Context, sessionID uuid.UUID) (*model.Result, error) {
	res, err := scanResult(r.pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM results WHERE session_id = $1`, sessionID))
	if err != nil {
		return nil, translate(err)
	}
	return res, nil
}

// ListResults returns a subject's results for an assignment, oldest first.
func (r *ResultRepository) ListResults(ctx context.Context, assignmentID uuid.UUID, subjectID string) ([]model.Result, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+resultColumns+` FROM results
		 WHERE assignment_id = $1 AND subject_id = $2
		 ORDER BY created_at ASC, id ASC`, assignmentID, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *res)
	}
	return results, rows.Err()
}
