package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Sweeper finalizes sessions nobody is watching any more.
type Sweeper interface {
	SweepExpired(ctx context.Context) (service.SweepStats, error)
}

// ExpiryWorker periodically force-submits sessions whose timer ran out while
// the candidate was disconnected.
type ExpiryWorker struct {
	sweeper  Sweeper
	schedule string
	log      zerolog.Logger
}

// NewExpiryWorker creates a new ExpiryWorker. schedule uses cron syntax,
// including descriptors such as "@every 30s".
func NewExpiryWorker(sweeper Sweeper, schedule string, log zerolog.Logger) *ExpiryWorker {
	return &ExpiryWorker{
		sweeper:  sweeper,
		schedule: schedule,
		log:      log.With().Str("component", "expiry_worker").Logger(),
	}
}

// Start schedules the sweep and blocks until ctx is cancelled. A sweep still
// running when the next tick fires is not overlapped.
func (w *ExpiryWorker) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(w.schedule, func() { w.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule expiry sweep %q: %w", w.schedule, err)
	}

	w.log.Info().Str("schedule", w.schedule).Msg("ExpiryWorker started")
	c.Start()

	<-ctx.Done()
	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(10 * time.Second):
		w.log.Warn().Msg("Expiry sweep still running at shutdown")
	}
	w.log.Info().Msg("ExpiryWorker stopped")
	return nil
}

// RunOnce performs a single sweep.
func (w *ExpiryWorker) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	stats, err := w.sweeper.SweepExpired(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("Expiry sweep failed")
		return
	}
	if stats.Finalized == 0 && stats.Expired == 0 && stats.Failed == 0 {
		return
	}
	w.log.Info().
		Int("finalized", stats.Finalized).
		Int("expired", stats.Expired).
		Int("failed", stats.Failed).
		Dur("took", time.Since(start)).
		Msg("Expiry sweep done")
}
