package model

import (
	"github.com/google/uuid"
)

// SessionEventType names live-monitor events.
type SessionEventType string

const (
	SessionEventStarted   SessionEventType = "started"
	SessionEventViolation SessionEventType = "violation"
	SessionEventSubmitted SessionEventType = "submitted"
	SessionEventExpired   SessionEventType = "expired"
	SessionEventCancelled SessionEventType = "cancelled"
)

// SessionEvent is published to the assignment's monitor channel.
type SessionEvent struct {
	Type           SessionEventType `json:"type"`
	SessionID      uuid.UUID        `json:"session_id"`
	AssignmentID   uuid.UUID        `json:"assignment_id"`
	SubjectID      string           `json:"subject_id"`
	Status         SessionStatus    `json:"status"`
	ViolationKind  ViolationKind    `json:"violation_kind,omitempty"`
	ViolationCount int              `json:"violation_count"`
	Score          *int             `json:"score,omitempty"`
	Reason         SubmitReason     `json:"reason,omitempty"`
	Timestamp      int64            `json:"timestamp"`
}
