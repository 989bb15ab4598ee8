package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// AssignmentHandler serves the admin side: authoring and intervention.
type AssignmentHandler struct {
	assignments *service.AssignmentService
	sessions    *service.SessionService
	log         zerolog.Logger
}

func NewAssignmentHandler(assignments *service.AssignmentService, sessions *service.SessionService, log zerolog.Logger) *AssignmentHandler {
	return &AssignmentHandler{
		assignments: assignments,
		sessions:    sessions,
		log:         log.With().Str("component", "assignment_handler").Logger(),
	}
}

// Create godoc
// POST /api/v1/admin/assignments
func (h *AssignmentHandler) Create(c *gin.Context) {
	var req model.CreateAssignmentRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	a, err := h.assignments.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, a)
}

// Get godoc
// GET /api/v1/admin/assignments/:id
func (h *AssignmentHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	a, err := h.assignments.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, a)
}

// CancelSession godoc
// POST /api/v1/admin/sessions/:id/cancel
func (h *AssignmentHandler) CancelSession(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	sess, err := h.sessions.Cancel(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	h.log.Info().Str("session_id", id.String()).Msg("Session cancelled by admin")
	response.Success(c, http.StatusOK, sess)
}
