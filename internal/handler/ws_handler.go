package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler serves the proctor stream of an active session.
type WSHandler struct {
	sessions *service.SessionService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessions *service.SessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/sessions/:id/stream?token=...
// Carries violations, answers and submission from the client, and warnings,
// ticks and the graded result back.
func (h *WSHandler) SessionStream(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	subjectID := middleware.SubjectID(c)

	state, err := h.sessions.State(c.Request.Context(), id, subjectID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	sess := state.Session
	if sess.Status != model.SessionStatusActive && sess.Status != model.SessionStatusCompleted {
		response.Fail(c, http.StatusConflict, response.ErrSessionNotActive)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)

	if sess.Status == model.SessionStatusCompleted {
		_ = conn.WriteTyped(ws.GradedResponse{Event: ws.EventGraded, Result: state.Result})
		_ = conn.Close("session completed")
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	s := &proctorStream{
		sessions:  h.sessions,
		conn:      conn,
		sessionID: id,
		subjectID: subjectID,
		deadline:  sess.Deadline(),
		cancel:    cancel,
		log: h.log.With().
			Str("session_id", id.String()).
			Str("subject_id", subjectID).
			Logger(),
	}
	s.active.Store(true)
	s.run(ctx, sess)
}

// proctorStream is one connected session. The monitor, the timer and the
// read loop share it; finish may be called from any of them.
type proctorStream struct {
	sessions  *service.SessionService
	conn      *ws.Conn
	sessionID uuid.UUID
	subjectID string
	cancel    context.CancelFunc
	deadline  time.Time
	log       zerolog.Logger

	active     atomic.Bool
	mu         sync.Mutex
	submitting bool
	finishOnce sync.Once
}

var errNotCounted = errors.New("violation not counted: session is no longer active")

func (s *proctorStream) run(ctx context.Context, sess *model.Session) {
	defer s.finish("")

	signals := make(chan proctor.Signal)
	monitor := proctor.NewMonitor(proctor.Config{
		Ceiling:   sess.MaxViolations,
		Active:    s.active.Load,
		Reporter:  s,
		Warner:    s,
		Submitter: s,
	}, s.log)
	if err := monitor.Start(ctx, proctor.NewChannelSensor("stream", signals)); err != nil {
		s.log.Error().Err(err).Msg("Failed to start violation monitor")
		_ = s.conn.WriteError(string(response.ErrInternal), "monitor unavailable", nil)
		return
	}
	defer func() { _ = monitor.Stop() }()

	timer := proctor.NewTimer(sess.Deadline(),
		func(remaining int) {
			_ = s.conn.WriteTyped(ws.TickResponse{Event: ws.EventTick, TimeRemainingSeconds: remaining})
		},
		func() { s.forceSubmit(ctx, model.SubmitReasonTimeout) },
	)
	go timer.Run(ctx)
	go s.conn.KeepAlive(ctx.Done())

	s.log.Info().Msg("Candidate connected")
	for {
		data, err := s.conn.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedClose(err) && ctx.Err() == nil {
				s.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				s.log.Debug().Msg("Connection closed")
			}
			return
		}

		var env ws.RequestEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			_ = s.conn.WriteError(string(response.ErrInvalidPayload), "malformed message", nil)
			continue
		}

		switch env.Action {
		case ws.ActionViolation:
			s.handleViolation(ctx, data, signals)
		case ws.ActionAnswer:
			s.handleAnswer(ctx, data)
		case ws.ActionSubmit:
			s.handleSubmit(ctx, data)
		case ws.ActionPing:
			_ = s.conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		default:
			s.log.Warn().Str("action", string(env.Action)).Msg("Unknown action")
			_ = s.conn.WriteError(string(response.ErrInvalidPayload), "unknown action: "+string(env.Action), nil)
		}
	}
}

func (s *proctorStream) handleViolation(ctx context.Context, data []byte, signals chan<- proctor.Signal) {
	var req ws.ViolationRequest
	if fields := validator.Decode(data, &req); fields != nil {
		_ = s.conn.WriteError(string(response.ErrValidation), "invalid violation", fields)
		return
	}
	select {
	case signals <- proctor.Signal{
		Kind:      model.ViolationKind(req.Kind),
		Detail:    req.Detail,
		GestureID: req.GestureID,
	}:
	case <-ctx.Done():
	}
}

func (s *proctorStream) handleAnswer(ctx context.Context, data []byte) {
	var req ws.AnswerRequest
	if fields := validator.Decode(data, &req); fields != nil {
		_ = s.conn.WriteError(string(response.ErrValidation), "invalid answer", fields)
		return
	}
	ans, err := s.sessions.SubmitAnswer(ctx, s.sessionID, s.subjectID, req.SubmitAnswerRequest)
	if err != nil {
		s.writeServiceError(err)
		return
	}
	_ = s.conn.WriteTyped(ws.SavedResponse{Event: ws.EventSaved, QuestionID: ans.QuestionID.String()})
}

func (s *proctorStream) handleSubmit(ctx context.Context, data []byte) {
	var req ws.SubmitRequest
	if fields := validator.Decode(data, &req); fields != nil {
		_ = s.conn.WriteError(string(response.ErrValidation), "invalid submission", fields)
		return
	}
	if !s.claimSubmit() {
		return
	}
	out, err := s.sessions.Submit(ctx, s.sessionID, s.subjectID, model.SubmitSessionRequest{Answers: req.Answers})
	if err != nil {
		if ce, ok := service.AsCompleted(err); ok {
			_ = s.conn.WriteTyped(ws.GradedResponse{Event: ws.EventGraded, Result: ce.Result})
			s.finish("session completed")
			return
		}
		s.log.Error().Err(err).Msg("Submission failed")
		s.reopen()
		s.writeServiceError(err)
		if !time.Now().Before(s.deadline) {
			s.forceSubmit(ctx, model.SubmitReasonTimeout)
		}
		return
	}
	_ = s.conn.WriteTyped(ws.GradedResponse{Event: ws.EventGraded, Result: out.Result, Rejected: out.Rejected})
	s.finish("session submitted")
}

// claimSubmit makes this stream's monitor inert and reports whether the
// caller is the one submitting.
func (s *proctorStream) claimSubmit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitting {
		return false
	}
	s.submitting = true
	s.active.Store(false)
	return true
}

// reopen undoes claimSubmit after a submission that left the session live.
func (s *proctorStream) reopen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitting = false
	s.active.Store(true)
}

// completed ends the stream of a session that finished elsewhere.
func (s *proctorStream) completed(res *model.Result) {
	if !s.claimSubmit() {
		return
	}
	_ = s.conn.WriteTyped(ws.GradedResponse{Event: ws.EventGraded, Result: res})
	s.finish("session completed")
}

// writeServiceError reports err to the client. A completed session ends the
// stream with its result.
func (s *proctorStream) writeServiceError(err error) {
	if ce, ok := service.AsCompleted(err); ok {
		s.completed(ce.Result)
		return
	}
	_, code := statusFor(err)
	msg := response.GetMessage(code)
	if code == response.ErrInternal {
		s.log.Error().Err(err).Msg("Stream request failed")
	}
	_ = s.conn.WriteError(string(code), msg, nil)
}

// ReportViolation implements proctor.Reporter.
func (s *proctorStream) ReportViolation(ctx context.Context, ev model.ViolationEvent) (int, error) {
	out, err := s.sessions.RecordViolation(ctx, s.sessionID, s.subjectID, ev)
	if err != nil {
		if ce, ok := service.AsCompleted(err); ok {
			s.completed(ce.Result)
		}
		return 0, err
	}
	if !out.Counted {
		s.active.Store(false)
		return out.Count, errNotCounted
	}
	return out.Count, nil
}

// Warn implements proctor.Warner. The write returns once the frame is on
// the wire.
func (s *proctorStream) Warn(w proctor.Warning) {
	_ = s.conn.WriteTyped(ws.WarningResponse{
		Event:    ws.EventWarning,
		Warning:  w,
		Suppress: w.Kind.Suppressible(),
	})
}

// ForceSubmit implements proctor.Submitter. It runs on the monitor's sensor
// goroutine, so it must not stop the monitor itself.
func (s *proctorStream) ForceSubmit(ctx context.Context, reason model.SubmitReason) error {
	s.forceSubmit(ctx, reason)
	return nil
}

func (s *proctorStream) forceSubmit(ctx context.Context, reason model.SubmitReason) {
	if !s.claimSubmit() {
		return
	}
	_ = s.conn.WriteTyped(ws.AutoSubmittingResponse{Event: ws.EventAutoSubmitting, Reason: reason})

	res, err := s.sessions.Finalize(ctx, s.sessionID, reason)
	if err != nil {
		s.log.Error().Err(err).Str("reason", string(reason)).Msg("Forced submission failed")
		_ = s.conn.WriteError(string(response.ErrInternal), "submission failed", nil)
		s.finish("submission failed")
		return
	}
	s.log.Info().Str("reason", string(reason)).Int("score", res.OverallScore).Msg("Session force-submitted")
	_ = s.conn.WriteTyped(ws.GradedResponse{Event: ws.EventGraded, Result: res})
	s.finish("session submitted")
}

// finish cancels the stream and closes the socket, which unblocks the read
// loop. The monitor is stopped by run on its way out.
func (s *proctorStream) finish(reason string) {
	s.finishOnce.Do(func() {
		s.cancel()
		_ = s.conn.Close(reason)
	})
}
