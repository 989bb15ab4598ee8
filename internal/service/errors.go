package service

import (
	"errors"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Domain errors. Handlers map these onto response codes.
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrAssignmentNotFound = errors.New("assignment not found")
	ErrNotSessionOwner    = errors.New("session belongs to another subject")
	ErrInvalidTransition  = errors.New("session is not in a state that allows this action")
	ErrSessionNotActive   = errors.New("session is not active")
	ErrSessionExpired     = errors.New("session expired before it was started")
	ErrCameraRequired     = errors.New("camera access is required to start this session")
	ErrAnswerExists       = errors.New("question already answered")
	ErrUnknownQuestion    = errors.New("question does not belong to this assignment")
	ErrRetakeLimit        = errors.New("retake limit reached")
	ErrRetakeNotAllowed   = errors.New("only a finished latest attempt can be retaken")
	ErrNotInterview       = errors.New("session is not an interview")
	ErrNotTest            = errors.New("session is not a test")
	ErrNoResult           = errors.New("session has no result yet")
)

// CompletedError is returned when a caller tries to act on a completed
// session. It carries the session's existing result.
type CompletedError struct {
	Result *model.Result
}

func (e *CompletedError) Error() string {
	return "session already completed"
}

// AsCompleted unwraps a CompletedError.
func AsCompleted(err error) (*CompletedError, bool) {
	var ce *CompletedError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// AnswerError reports one rejected answer in a batch submission.
type AnswerError struct {
	QuestionID string `json:"question_id"`
	Error      string `json:"error"`
}
