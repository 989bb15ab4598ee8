package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionKind distinguishes skills tests from AI interviews.
type SessionKind string

const (
	SessionKindTest      SessionKind = "test"
	SessionKindInterview SessionKind = "interview"
)

// SessionStatus enumerates proctored session states.
type SessionStatus string

const (
	SessionStatusNotStarted SessionStatus = "not_started"
	SessionStatusActive     SessionStatus = "active"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusCancelled  SessionStatus = "cancelled"
	SessionStatusExpired    SessionStatus = "expired"
)

// IsTerminal reports whether no further mutation is allowed.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusCancelled, SessionStatusExpired:
		return true
	}
	return false
}

// CanTransition reports whether from → to is a legal edge of the lifecycle.
func CanTransition(from, to SessionStatus) bool {
	switch from {
	case SessionStatusNotStarted:
		return to == SessionStatusActive || to == SessionStatusExpired || to == SessionStatusCancelled
	case SessionStatusActive:
		return to == SessionStatusCompleted || to == SessionStatusCancelled || to == SessionStatusExpired
	}
	return false
}

// SubmitReason records which path completed a session.
type SubmitReason string

const (
	SubmitReasonExplicit   SubmitReason = "explicit"
	SubmitReasonTimeout    SubmitReason = "timeout"
	SubmitReasonViolations SubmitReason = "violations"
	SubmitReasonInterview  SubmitReason = "interview_closed"
)

// Session is one attempt at an assignment.
type Session struct {
	ID               uuid.UUID     `json:"id"`
	AssignmentID     uuid.UUID     `json:"assignment_id"`
	SubjectID        string        `json:"subject_id"`
	Kind             SessionKind   `json:"kind"`
	Status           SessionStatus `json:"status"`
	Attempt          int           `json:"attempt"`
	StartedAt        *time.Time    `json:"started_at,omitempty"`
	FinishedAt       *time.Time    `json:"finished_at,omitempty"`
	DurationSeconds  int           `json:"duration_seconds"`
	ViolationCount   int           `json:"violation_count"`
	TabSwitchCount   int           `json:"tab_switch_count"`
	CopyAttemptCount int           `json:"copy_attempt_count"`
	MaxViolations    int           `json:"max_violations_before_force_submit"`
	RetakeCount      int           `json:"retake_count"`
	MaxRetakes       int           `json:"max_retakes"`
	BestAttemptID    *uuid.UUID    `json:"best_attempt_id,omitempty"`
	Degraded         bool          `json:"degraded"`
	CreatedAt        time.Time     `json:"created_at"`

	// TimeRemainingSeconds is derived at read time and never persisted.
	TimeRemainingSeconds int `json:"time_remaining_seconds"`
}

// Deadline returns the instant the session runs out of time.
// The zero time is returned for sessions that have not started.
func (s *Session) Deadline() time.Time {
	if s.StartedAt == nil {
		return time.Time{}
	}
	return s.StartedAt.Add(time.Duration(s.DurationSeconds) * time.Second)
}

// RemainingAt recomputes the remaining time from the start timestamp.
// Not-started sessions report the full duration; the result may be negative.
func (s *Session) RemainingAt(now time.Time) time.Duration {
	if s.StartedAt == nil {
		return time.Duration(s.DurationSeconds) * time.Second
	}
	return s.Deadline().Sub(now)
}

// Elapsed returns how long the session has been (or was) running.
func (s *Session) Elapsed(now time.Time) time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	end := now
	if s.FinishedAt != nil {
		end = *s.FinishedAt
	}
	d := end.Sub(*s.StartedAt)
	if limit := time.Duration(s.DurationSeconds) * time.Second; d > limit {
		d = limit
	}
	if d < 0 {
		return 0
	}
	return d
}

// Refresh fills the derived fields for the given instant.
func (s *Session) Refresh(now time.Time) {
	secs := int(s.RemainingAt(now) / time.Second)
	if s.Status.IsTerminal() || secs < 0 {
		secs = 0
	}
	s.TimeRemainingSeconds = secs
}

// StartSessionRequest is the payload sent when a candidate opens a session.
type StartSessionRequest struct {
	Camera string `json:"camera" binding:"required,oneof=granted denied unavailable"`
}

// CameraGranted reports whether the client acquired the camera stream.
func (r StartSessionRequest) CameraGranted() bool {
	return r.Camera == "granted"
}
