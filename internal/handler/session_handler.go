package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// SessionHandler serves the candidate side of a proctored session.
type SessionHandler struct {
	sessions *service.SessionService
	log      zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions *service.SessionService, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		log:      log.With().Str("component", "session_handler").Logger(),
	}
}

// CreateAttempt godoc
// POST /api/v1/assignments/:id/attempts
func (h *SessionHandler) CreateAttempt(c *gin.Context) {
	assignmentID, ok := paramID(c, "id")
	if !ok {
		return
	}
	sess, err := h.sessions.CreateAttempt(c.Request.Context(), assignmentID, middleware.SubjectID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, sess)
}

// Start godoc
// POST /api/v1/sessions/:id/start
func (h *SessionHandler) Start(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req model.StartSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	sess, err := h.sessions.Start(c.Request.Context(), id, middleware.SubjectID(c), req.CameraGranted())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, sess)
}

// State godoc
// GET /api/v1/sessions/:id/state
func (h *SessionHandler) State(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	state, err := h.sessions.State(c.Request.Context(), id, middleware.SubjectID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, state)
}

// SubmitAnswer godoc
// POST /api/v1/sessions/:id/answers
func (h *SessionHandler) SubmitAnswer(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	ans, err := h.sessions.SubmitAnswer(c.Request.Context(), id, middleware.SubjectID(c), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, ans)
}

// ReportViolation godoc
// POST /api/v1/sessions/:id/violations
// Fallback for clients that cannot hold the proctor stream open.
func (h *SessionHandler) ReportViolation(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req model.ReportViolationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	out, err := h.sessions.RecordViolation(c.Request.Context(), id, middleware.SubjectID(c), model.ViolationEvent{
		Kind:       model.ViolationKind(req.Kind),
		Detail:     req.Detail,
		OccurredAt: time.Now(),
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, out)
}

// Submit godoc
// POST /api/v1/sessions/:id/submit
func (h *SessionHandler) Submit(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req model.SubmitSessionRequest
	if c.Request.ContentLength != 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}
	out, err := h.sessions.Submit(c.Request.Context(), id, middleware.SubjectID(c), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, out)
}

// Result godoc
// GET /api/v1/sessions/:id/result
func (h *SessionHandler) Result(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	res, err := h.sessions.Result(c.Request.Context(), id, middleware.SubjectID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// Retake godoc
// POST /api/v1/sessions/:id/retake
func (h *SessionHandler) Retake(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	next, err := h.sessions.Retake(c.Request.Context(), id, middleware.SubjectID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, next)
}

// BestAttempt godoc
// GET /api/v1/assignments/:id/best
func (h *SessionHandler) BestAttempt(c *gin.Context) {
	assignmentID, ok := paramID(c, "id")
	if !ok {
		return
	}
	best, err := h.sessions.BestAttempt(c.Request.Context(), assignmentID, middleware.SubjectID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, best)
}
