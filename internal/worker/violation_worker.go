package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// ViolationWriter persists the violation audit log.
type ViolationWriter interface {
	// CopyViolations writes a whole batch or nothing.
	CopyViolations(ctx context.Context, recs []model.ViolationRecord) (int64, error)
	// InsertViolation writes one record, ignoring duplicates.
	InsertViolation(ctx context.Context, rec model.ViolationRecord) error
}

// ViolationWorker drains the violation queue into the audit log in batches.
type ViolationWorker struct {
	writer  ViolationWriter
	rdb     *redis.Client
	log     zerolog.Logger
	backoff time.Duration
}

func NewViolationWorker(writer ViolationWriter, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	return &ViolationWorker{
		writer:  writer,
		rdb:     rdb,
		log:     log.With().Str("component", "violation_worker").Logger(),
		backoff: 2 * time.Second,
	}
}

func (w *ViolationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ViolationWorker started")

	buffer := make([]model.ViolationRecord, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			w.flush(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistViolationsQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			sleep(ctx, 3*time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var rec model.ViolationRecord
		if err := json.Unmarshal([]byte(result[1]), &rec); err != nil {
			// Malformed payloads can never succeed.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed violation")
			continue
		}
		buffer = append(buffer, rec)
	}
}

// flush tries the COPY path, then row-by-row, then requeues what is left.
func (w *ViolationWorker) flush(ctx context.Context, batch []model.ViolationRecord) {
	n, err := w.writer.CopyViolations(ctx, batch)
	if err == nil {
		w.log.Debug().Int64("rows", n).Msg("Violations persisted")
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")

	var failed []model.ViolationRecord
	for _, rec := range batch {
		if err := w.writer.InsertViolation(ctx, rec); err != nil {
			w.log.Error().Err(err).
				Str("session_id", rec.SessionID.String()).
				Int("sequence", rec.Sequence).
				Msg("Insert failed, requeueing")
			failed = append(failed, rec)
		}
	}
	if len(failed) > 0 {
		w.requeue(ctx, failed)
	}
}

func (w *ViolationWorker) requeue(ctx context.Context, items []model.ViolationRecord) {
	pipe := w.rdb.Pipeline()
	for _, rec := range items {
		data, _ := json.Marshal(rec)
		pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue violations. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed violations")
	// Avoid thrashing while the database is down.
	sleep(ctx, w.backoff)
}

func (w *ViolationWorker) shutdown(buffer []model.ViolationRecord) {
	if len(buffer) == 0 {
		w.log.Info().Msg("ViolationWorker stopped")
		return
	}
	w.log.Info().Int("count", len(buffer)).Msg("Worker stopping, flushing remaining buffer...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.flush(ctx, buffer)
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
