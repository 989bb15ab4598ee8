package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store bundles the PostgreSQL repositories behind the service store
// interfaces.
type Store struct {
	*AssignmentRepository
	*SessionRepository
	*AnswerRepository
	*TurnRepository
	*ResultRepository
	*ViolationRepository
}

// NewStore wires every repository to pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		AssignmentRepository: NewAssignmentRepository(pool),
		SessionRepository:    NewSessionRepository(pool),
		AnswerRepository:     NewAnswerRepository(pool),
		TurnRepository:       NewTurnRepository(pool),
		ResultRepository:     NewResultRepository(pool),
		ViolationRepository:  NewViolationRepository(pool),
	}
}
