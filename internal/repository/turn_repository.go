package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// TurnRepository handles interview transcript data access.
type TurnRepository struct {
	pool *pgxpool.Pool
}

// NewTurnRepository creates a new TurnRepository.
func NewTurnRepository(pool *pgxpool.Pool) *TurnRepository {
	return &TurnRepository{pool: pool}
}

// AppendTurn inserts a turn. The (session, index) key makes a duplicate
// index fail with ErrConflict.
func (r *TurnRepository) AppendTurn(ctx context.Context, t *model.ConversationTurn) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO conversation_turns (session_id, idx, sender, content, question, closing, scores, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.SessionID, t.Index, t.Sender, t.Content, t.Question, t.Closing, t.Scores, t.CreatedAt)
	return translate(err)
}

// ListTurns returns a transcript ordered by index.
func (r *TurnRepository) ListTurns(ctx context.Context, sessionID uuid.UUID) ([]model.ConversationTurn, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, idx, sender, content, question, closing, scores, created_at
		 FROM conversation_turns WHERE session_id = $1
		 ORDER BY idx ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []model.ConversationTurn
	for rows.Next() {
		var t model.ConversationTurn
		if err := rows.Scan(&t.SessionID, &t.Index, &t.Sender, &t.Content, &t.Question, &t.Closing, &t.Scores, &t.CreatedAt); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// UpdateTurnScores attaches analysis scores to a candidate turn.
func (r *TurnRepository) UpdateTurnScores(ctx context.Context, sessionID uuid.UUID, index int, scores model.TurnScores) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE conversation_turns SET scores = $1
		 WHERE session_id = $2 AND idx = $3 AND sender = $4`,
		scores, sessionID, index, model.SenderCandidate)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
