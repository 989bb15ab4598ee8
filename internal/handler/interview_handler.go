package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// InterviewHandler serves the conversation of an interview session.
type InterviewHandler struct {
	interviews *service.InterviewService
	log        zerolog.Logger
}

// NewInterviewHandler creates a new InterviewHandler.
func NewInterviewHandler(interviews *service.InterviewService, log zerolog.Logger) *InterviewHandler {
	return &InterviewHandler{
		interviews: interviews,
		log:        log.With().Str("component", "interview_handler").Logger(),
	}
}

// Begin godoc
// POST /api/v1/sessions/:id/interview/begin
func (h *InterviewHandler) Begin(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	turns, err := h.interviews.Begin(c.Request.Context(), id, middleware.SubjectID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, turns)
}

// Reply godoc
// POST /api/v1/sessions/:id/interview/reply
func (h *InterviewHandler) Reply(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req model.ReplyRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	out, err := h.interviews.Reply(c.Request.Context(), id, middleware.SubjectID(c), req.Content)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, out)
}

// Turns godoc
// GET /api/v1/sessions/:id/interview/turns
func (h *InterviewHandler) Turns(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	turns, err := h.interviews.Turns(c.Request.Context(), id, middleware.SubjectID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if turns == nil {
		turns = []model.ConversationTurn{}
	}
	response.Success(c, http.StatusOK, turns)
}
