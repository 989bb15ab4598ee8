package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/event"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorHandler streams an assignment's live session activity to admins.
type MonitorHandler struct {
	assignments *service.AssignmentService
	feed        *event.RedisEvents
	log         zerolog.Logger

	refreshEvery   time.Duration
	keepAliveEvery time.Duration
}

// NewMonitorHandler creates a new MonitorHandler. feed may be nil, in which
// case the stream only carries periodic snapshots.
func NewMonitorHandler(assignments *service.AssignmentService, feed *event.RedisEvents, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		assignments:    assignments,
		feed:           feed,
		log:            log.With().Str("component", "monitor_handler").Logger(),
		refreshEvery:   refreshInterval,
		keepAliveEvery: keepAliveInterval,
	}
}

type monitorFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// MonitorAssignmentSSE godoc
// GET /api/v1/admin/assignments/:id/monitor
func (h *MonitorHandler) MonitorAssignmentSSE(c *gin.Context) {
	assignmentID, ok := paramID(c, "id")
	if !ok {
		return
	}
	reqCtx := c.Request.Context()

	// Fail with a regular response before committing to the stream.
	snap, err := h.snapshot(reqCtx, assignmentID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	log := h.log.With().Str("assignment_id", assignmentID.String()).Logger()

	// The subscription is confirmed before the snapshot goes out, so no
	// event between the two is lost.
	var events <-chan *redis.Message
	if h.feed != nil {
		pubsub := h.feed.Subscribe(reqCtx, assignmentID)
		defer pubsub.Close()
		if _, err := pubsub.Receive(reqCtx); err != nil {
			log.Warn().Err(err).Msg("Monitor feed unavailable, serving snapshots only")
		} else {
			events = pubsub.Channel()
		}
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Status(http.StatusOK)

	h.writeFrame(c, monitorFrame{Type: "snapshot", Data: snap})

	keepAlive := time.NewTicker(h.keepAliveEvery)
	defer keepAlive.Stop()
	refresh := time.NewTicker(h.refreshEvery)
	defer refresh.Stop()

	log.Info().Msg("Admin attached to live monitor SSE")

	dirty := false
	for {
		select {
		case <-reqCtx.Done():
			log.Info().Msg("Admin disconnected from live monitor SSE")
			return

		case msg, ok := <-events:
			if !ok {
				return
			}
			// Forward raw JSON directly; SessionEvent already carries its type.
			h.writeRaw(c, []byte(msg.Payload))
			dirty = true

		case <-refresh.C:
			if !dirty {
				continue
			}
			fetchCtx, cancel := context.WithTimeout(reqCtx, refreshTimeout)
			snap, err := h.snapshot(fetchCtx, assignmentID)
			cancel()
			if err != nil {
				log.Warn().Err(err).Msg("Failed to refresh monitor snapshot")
				continue
			}
			h.writeFrame(c, monitorFrame{Type: "refresh", Data: snap})
			dirty = false

		case <-keepAlive.C:
			h.writeFrame(c, monitorFrame{Type: "ping"})
		}
	}
}

func (h *MonitorHandler) snapshot(ctx context.Context, id uuid.UUID) (*service.MonitorSnapshot, error) {
	return h.assignments.Snapshot(ctx, id)
}

func (h *MonitorHandler) writeFrame(c *gin.Context, f monitorFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal monitor frame")
		return
	}
	h.writeRaw(c, data)
}

func (h *MonitorHandler) writeRaw(c *gin.Context, data []byte) {
	_, _ = c.Writer.Write([]byte("data: "))
	_, _ = c.Writer.Write(data)
	_, _ = c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
