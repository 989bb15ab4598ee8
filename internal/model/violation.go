package model

import (
	"time"

	"github.com/google/uuid"
)

// ViolationKind enumerates the rule-breaking actions the monitor reports.
type ViolationKind string

const (
	ViolationTabSwitch          ViolationKind = "tab_switch"
	ViolationCopyAttempt        ViolationKind = "copy_attempt"
	ViolationPasteBlocked       ViolationKind = "paste_blocked"
	ViolationShortcutBlocked    ViolationKind = "shortcut_blocked"
	ViolationContextMenuBlocked ViolationKind = "context_menu_blocked"
	ViolationCameraLost         ViolationKind = "camera_lost"
)

// Valid reports whether k is a known violation.
func (k ViolationKind) Valid() bool {
	switch k {
	case ViolationTabSwitch, ViolationCopyAttempt, ViolationPasteBlocked,
		ViolationShortcutBlocked, ViolationContextMenuBlocked, ViolationCameraLost:
		return true
	}
	return false
}

// Suppressible reports whether the underlying action can be cancelled.
// Leaving the tab or losing the camera has already happened when observed.
func (k ViolationKind) Suppressible() bool {
	switch k {
	case ViolationCopyAttempt, ViolationPasteBlocked, ViolationShortcutBlocked, ViolationContextMenuBlocked:
		return true
	}
	return false
}

// Label is the human-readable name shown in warnings.
func (k ViolationKind) Label() string {
	switch k {
	case ViolationTabSwitch:
		return "Switching tabs or windows"
	case ViolationCopyAttempt:
		return "Copying content"
	case ViolationPasteBlocked:
		return "Pasting content"
	case ViolationShortcutBlocked:
		return "Using a blocked keyboard shortcut"
	case ViolationContextMenuBlocked:
		return "Opening the context menu"
	case ViolationCameraLost:
		return "Camera feed lost"
	}
	return "Unknown action"
}

// ViolationEvent is one detected violation.
type ViolationEvent struct {
	Kind       ViolationKind `json:"kind"`
	Detail     string        `json:"detail,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// ViolationRecord is the audit-log row for a counted violation.
type ViolationRecord struct {
	SessionID    uuid.UUID     `json:"session_id"`
	AssignmentID uuid.UUID     `json:"assignment_id"`
	SubjectID    string        `json:"subject_id"`
	Kind         ViolationKind `json:"kind"`
	Detail       string        `json:"detail,omitempty"`
	Sequence     int           `json:"sequence"`
	OccurredAt   int64         `json:"occurred_at"`
}

// ReportViolationRequest is the REST fallback for clients without a stream.
type ReportViolationRequest struct {
	Kind   string `json:"kind" binding:"required,violation_kind"`
	Detail string `json:"detail" binding:"omitempty,max=255"`
}

// ViolationOutcome is what the server reports back for a violation.
type ViolationOutcome struct {
	Counted        bool    `json:"counted"`
	Count          int     `json:"count"`
	Ceiling        int     `json:"ceiling"`
	Message        string  `json:"message"`
	AutoSubmitting bool    `json:"auto_submitting"`
	Result         *Result `json:"result,omitempty"`
}
