package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

var violationColumns = []string{"session_id", "assignment_id", "subject_id", "kind", "detail", "sequence", "occurred_at"}

// ViolationRepository writes the violation audit log.
type ViolationRepository struct {
	pool *pgxpool.Pool
}

// NewViolationRepository creates a new ViolationRepository.
func NewViolationRepository(pool *pgxpool.Pool) *ViolationRepository {
	return &ViolationRepository{pool: pool}
}

// CopyViolations bulk-inserts records with COPY. One duplicate fails the
// whole batch; callers fall back to InsertViolation per row.
func (r *ViolationRepository) CopyViolations(ctx context.Context, recs []model.ViolationRecord) (int64, error) {
	return r.pool.CopyFrom(ctx,
		pgx.Identifier{"session_violations"},
		violationColumns,
		pgx.CopyFromSlice(len(recs), func(i int) ([]any, error) {
			v := recs[i]
			return []any{v.SessionID, v.AssignmentID, v.SubjectID, string(v.Kind), v.Detail, v.Sequence, time.Unix(v.OccurredAt, 0)}, nil
		}),
	)
}

// InsertViolation writes one record, ignoring a duplicate sequence.
func (r *ViolationRepository) InsertViolation(ctx context.Context, v model.ViolationRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO session_violations (session_id, assignment_id, subject_id, kind, detail, sequence, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (session_id, sequence) DO NOTHING`,
		v.SessionID, v.AssignmentID, v.SubjectID, string(v.Kind), v.Detail, v.Sequence, time.Unix(v.OccurredAt, 0))
	return err
}
