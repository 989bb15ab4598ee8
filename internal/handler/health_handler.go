package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
)

// Pinger is anything that can report its own liveness, such as a pgx pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports dependency health and the violation backlog.
type HealthHandler struct {
	db        Pinger
	rdb       *redis.Client
	startTime time.Time
	log       zerolog.Logger
}

// NewHealthHandler creates a new HealthHandler. Either dependency may be nil
// when the server runs without it.
func NewHealthHandler(db Pinger, rdb *redis.Client, log zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		db:        db,
		rdb:       rdb,
		startTime: time.Now(),
		log:       log.With().Str("component", "health_handler").Logger(),
	}
}

type healthStatus struct {
	Status          string            `json:"status"`
	Uptime          string            `json:"uptime"`
	Checks          map[string]string `json:"checks"`
	ViolationQueued int64             `json:"violation_queue_depth"`
}

// Health godoc
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	out := healthStatus{
		Status: "ok",
		Uptime: time.Since(h.startTime).Truncate(time.Second).String(),
		Checks: map[string]string{},
	}

	if h.db != nil {
		out.Checks["database"] = "ok"
		if err := h.db.Ping(ctx); err != nil {
			h.log.Warn().Err(err).Msg("Database health check failed")
			out.Checks["database"] = "down"
			out.Status = "degraded"
		}
	}
	if h.rdb != nil {
		out.Checks["redis"] = "ok"
		depth, err := h.rdb.LLen(ctx, config.WorkerKey.PersistViolationsQueue).Result()
		if err != nil {
			h.log.Warn().Err(err).Msg("Redis health check failed")
			out.Checks["redis"] = "down"
			out.Status = "degraded"
		}
		out.ViolationQueued = depth
	}

	status := http.StatusOK
	if out.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, out)
}
