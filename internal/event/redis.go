// Package event fans session lifecycle events out over Redis: live monitor
// updates go to a per-assignment pub/sub channel and counted violations to
// the audit queue drained by the violation worker.
package event

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// RedisEvents publishes session events. Failures are logged, never returned.
type RedisEvents struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisEvents creates a new RedisEvents.
func NewRedisEvents(rdb *redis.Client, log zerolog.Logger) *RedisEvents {
	return &RedisEvents{rdb: rdb, log: log.With().Str("component", "events").Logger()}
}

// Publish sends ev to the monitor channel of its assignment.
func (e *RedisEvents) Publish(ctx context.Context, ev model.SessionEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		e.log.Error().Err(err).Msg("Failed to marshal session event")
		return
	}
	channel := config.CacheKey.AssignmentMonitorChannel(ev.AssignmentID.String())
	if err := e.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		e.log.Warn().Err(err).Str("session_id", ev.SessionID.String()).Str("type", string(ev.Type)).Msg("Failed to publish session event")
	}
}

// LogViolation queues rec for batched persistence.
func (e *RedisEvents) LogViolation(ctx context.Context, rec model.ViolationRecord) {
	payload, err := json.Marshal(rec)
	if err != nil {
		e.log.Error().Err(err).Msg("Failed to marshal violation record")
		return
	}
	if err := e.rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, payload).Err(); err != nil {
		e.log.Warn().Err(err).Str("session_id", rec.SessionID.String()).Msg("Failed to queue violation record")
	}
}

// Subscribe opens the monitor channel of an assignment. The caller closes it.
func (e *RedisEvents) Subscribe(ctx context.Context, assignmentID uuid.UUID) *redis.PubSub {
	return e.rdb.Subscribe(ctx, config.CacheKey.AssignmentMonitorChannel(assignmentID.String()))
}
