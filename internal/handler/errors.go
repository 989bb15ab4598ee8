package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// statusFor maps a domain error onto an HTTP status and error code.
func statusFor(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, service.ErrAssignmentNotFound):
		return http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, service.ErrNoResult):
		return http.StatusNotFound, response.ErrNoResult
	case errors.Is(err, service.ErrNotSessionOwner):
		return http.StatusForbidden, response.ErrNotSessionOwner
	case errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict, response.ErrInvalidTransition
	case errors.Is(err, service.ErrSessionNotActive):
		return http.StatusConflict, response.ErrSessionNotActive
	case errors.Is(err, service.ErrSessionExpired):
		return http.StatusGone, response.ErrSessionExpired
	case errors.Is(err, service.ErrCameraRequired):
		return http.StatusPreconditionFailed, response.ErrCameraRequired
	case errors.Is(err, service.ErrAnswerExists):
		return http.StatusConflict, response.ErrAnswerExists
	case errors.Is(err, service.ErrUnknownQuestion):
		return http.StatusUnprocessableEntity, response.ErrUnknownQuestion
	case errors.Is(err, model.ErrInvalidAnswer):
		return http.StatusUnprocessableEntity, response.ErrInvalidAnswer
	case errors.Is(err, service.ErrRetakeLimit):
		return http.StatusConflict, response.ErrRetakeLimit
	case errors.Is(err, service.ErrRetakeNotAllowed):
		return http.StatusConflict, response.ErrRetakeNotAllowed
	case errors.Is(err, service.ErrNotInterview), errors.Is(err, service.ErrNotTest):
		return http.StatusConflict, response.ErrWrongSessionKind
	case errors.Is(err, service.ErrInvalidAssignment):
		return http.StatusUnprocessableEntity, response.ErrInvalidAssignment
	}
	return http.StatusInternalServerError, response.ErrInternal
}

// writeError sends the envelope for err. A completed session is reported
// with its existing result as data.
func writeError(c *gin.Context, log zerolog.Logger, err error) {
	if ce, ok := service.AsCompleted(err); ok {
		response.FailWithData(c, http.StatusConflict, response.ErrSessionCompleted, ce.Result)
		return
	}
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	response.Fail(c, status, code)
}

// paramID parses a UUID path parameter, writing the error response itself.
func paramID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
