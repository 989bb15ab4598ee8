package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AssignmentRepository handles assignment and question data access.
type AssignmentRepository struct {
	pool *pgxpool.Pool
}

// NewAssignmentRepository creates a new AssignmentRepository.
func NewAssignmentRepository(pool *pgxpool.Pool) *AssignmentRepository {
	return &AssignmentRepository{pool: pool}
}

// CreateAssignment inserts an assignment and its questions in one transaction.
func (r *AssignmentRepository) CreateAssignment(ctx context.Context, a *model.Assignment, questions []model.Question) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO assignments (id, kind, title, duration_seconds, passing_score, max_retakes,
		     max_violations, camera_policy, total_questions, personality, interview_type,
		     role, company, difficulty, due_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING created_at`,
		a.ID, a.Kind, a.Title, a.DurationSeconds, a.PassingScore, a.MaxRetakes,
		a.MaxViolations, a.CameraPolicy, a.TotalQuestions, a.Personality, a.InterviewType,
		a.Role, a.Company, a.Difficulty, a.DueAt,
	).Scan(&a.CreatedAt)
	if err != nil {
		return translate(err)
	}

	if len(questions) > 0 {
		batch := &pgx.Batch{}
		for _, q := range questions {
			var correct *model.AnswerPayload
			if q.Correct != nil {
				p, err := model.EncodeAnswer(q.Correct)
				if err != nil {
					return fmt.Errorf("encode answer key: %w", err)
				}
				correct = &p
			}
			batch.Queue(
				`INSERT INTO questions (id, assignment_id, type, prompt, options, points, correct, expected_keywords, order_num)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				q.ID, a.ID, q.Type, q.Prompt, stringsOrEmpty(q.Options), q.Points, correct,
				stringsOrEmpty(q.ExpectedKeywords), q.OrderNum,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert questions: %w", translate(err))
		}
	}

	return tx.Commit(ctx)
}

// GetAssignment retrieves an assignment by ID.
func (r *AssignmentRepository) GetAssignment(ctx context.Context, id uuid.UUID) (*model.Assignment, error) {
	a := &model.Assignment{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, kind, title, duration_seconds, passing_score, max_retakes, max_violations,
		        camera_policy, total_questions, personality, interview_type, role, company,
		        difficulty, due_at, created_at
		 FROM assignments WHERE id = $1`, id,
	).Scan(&a.ID, &a.Kind, &a.Title, &a.DurationSeconds, &a.PassingScore, &a.MaxRetakes,
		&a.MaxViolations, &a.CameraPolicy, &a.TotalQuestions, &a.Personality, &a.InterviewType,
		&a.Role, &a.Company, &a.Difficulty, &a.DueAt, &a.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return a, nil
}

// ListQuestions returns an assignment's questions in display order,
// including the answer keys.
func (r *AssignmentRepository) ListQuestions(ctx context.Context, assignmentID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, assignment_id, type, prompt, options, points, correct, expected_keywords, order_num
		 FROM questions WHERE assignment_id = $1
		 ORDER BY order_num ASC`, assignmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var (
			q       model.Question
			correct *model.AnswerPayload
		)
		if err := rows.Scan(&q.ID, &q.AssignmentID, &q.Type, &q.Prompt, &q.Options, &q.Points,
			&correct, &q.ExpectedKeywords, &q.OrderNum); err != nil {
			return nil, err
		}
		if correct != nil {
			if q.Correct, err = correct.Decode(); err != nil {
				return nil, fmt.Errorf("question %s: %w", q.ID, err)
			}
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
