package websocket

import (
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionViolation Action = "violation"
	ActionAnswer    Action = "answer"
	ActionSubmit    Action = "submit"
	ActionPing      Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ViolationRequest reports one detected violation. GestureID identifies the
// user gesture so several observations of it count once.
type ViolationRequest struct {
	Action    Action `json:"action"`
	Kind      string `json:"kind" binding:"required,violation_kind"`
	Detail    string `json:"detail" binding:"omitempty,max=255"`
	GestureID string `json:"gesture_id" binding:"omitempty,max=64"`
}

// AnswerRequest saves a single test answer.
type AnswerRequest struct {
	Action Action `json:"action"`
	model.SubmitAnswerRequest
}

// SubmitRequest finishes and grades the session, optionally with answers
// that were not streamed yet.
type SubmitRequest struct {
	Action  Action                      `json:"action"`
	Answers []model.SubmitAnswerRequest `json:"answers" binding:"omitempty,dive"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventWarning        Event = "warning"
	EventAutoSubmitting Event = "auto_submitting"
	EventTick           Event = "tick"
	EventSaved          Event = "saved"
	EventGraded         Event = "graded"
	EventError          Event = "error"
	EventPong           Event = "pong"
)

type WarningResponse struct {
	Event Event `json:"event"`
	proctor.Warning
	Suppress bool `json:"suppress"`
}

type AutoSubmittingResponse struct {
	Event  Event              `json:"event"`
	Reason model.SubmitReason `json:"reason"`
}

type TickResponse struct {
	Event                Event `json:"event"`
	TimeRemainingSeconds int   `json:"time_remaining_seconds"`
}

type SavedResponse struct {
	Event      Event  `json:"event"`
	QuestionID string `json:"question_id"`
}

type GradedResponse struct {
	Event    Event                 `json:"event"`
	Result   *model.Result         `json:"result"`
	Rejected []service.AnswerError `json:"rejected_answers,omitempty"`
}

type ErrorResponse struct {
	Event  Event             `json:"event"`
	Error  string            `json:"error"`
	Code   string            `json:"code,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
