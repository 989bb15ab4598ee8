package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AnswerRepository handles test answer data access.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// InsertAnswer writes an answer once; a second write for the same question
// returns ErrConflict.
func (r *AnswerRepository) InsertAnswer(ctx context.Context, a *model.Answer) error {
	payload, err := model.EncodeAnswer(a.Value)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO answers (session_id, question_id, value, submitted_at, response_time_seconds)
		 VALUES ($1, $2, $3, $4, $5)`,
		a.SessionID, a.QuestionID, payload, a.SubmittedAt, a.ResponseTimeSeconds)
	return translate(err)
}

// ListAnswers returns every answer of a session in submission order.
func (r *AnswerRepository) ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.Answer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, question_id, value, submitted_at, response_time_seconds
		 FROM answers WHERE session_id = $1
		 ORDER BY submitted_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.Answer
	for rows.Next() {
		var (
			a       model.Answer
			payload model.AnswerPayload
		)
		if err := rows.Scan(&a.SessionID, &a.QuestionID, &payload, &a.SubmittedAt, &a.ResponseTimeSeconds); err != nil {
			return nil, err
		}
		if a.Value, err = payload.Decode(); err != nil {
			return nil, fmt.Errorf("answer %s/%s: %w", a.SessionID, a.QuestionID, err)
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}
