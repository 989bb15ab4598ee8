package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden           ErrCode = "FORBIDDEN"
	ErrCandidateAccessOnly ErrCode = "CANDIDATE_ACCESS_ONLY"
	ErrAdminAccessOnly     ErrCode = "ADMIN_ACCESS_ONLY"
	ErrNotSessionOwner     ErrCode = "NOT_SESSION_OWNER"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation        ErrCode = "VALIDATION_ERROR"
	ErrInvalidID         ErrCode = "INVALID_ID"
	ErrInvalidPayload    ErrCode = "INVALID_PAYLOAD"
	ErrInvalidAnswer     ErrCode = "INVALID_ANSWER"
	ErrInvalidAssignment ErrCode = "INVALID_ASSIGNMENT"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Session-specific ──────────────────────────────────────────────
	ErrInvalidTransition ErrCode = "INVALID_TRANSITION"
	ErrSessionNotActive  ErrCode = "SESSION_NOT_ACTIVE"
	ErrSessionCompleted  ErrCode = "SESSION_COMPLETED"
	ErrSessionExpired    ErrCode = "SESSION_EXPIRED"
	ErrCameraRequired    ErrCode = "CAMERA_REQUIRED"
	ErrAnswerExists      ErrCode = "ANSWER_EXISTS"
	ErrUnknownQuestion   ErrCode = "UNKNOWN_QUESTION"
	ErrRetakeLimit       ErrCode = "RETAKE_LIMIT_REACHED"
	ErrRetakeNotAllowed  ErrCode = "RETAKE_NOT_ALLOWED"
	ErrWrongSessionKind  ErrCode = "WRONG_SESSION_KIND"
	ErrNoResult          ErrCode = "NO_RESULT"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid or expired."
	case ErrSessionInvalidated:
		return "You signed in on another device. Please sign in again."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrCandidateAccessOnly:
		return "This resource is restricted to candidates."
	case ErrAdminAccessOnly:
		return "This resource is restricted to administrators."
	case ErrNotSessionOwner:
		return "This session belongs to someone else."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."
	case ErrInvalidAnswer:
		return "The answer does not match the question type."
	case ErrInvalidAssignment:
		return "The assignment definition is invalid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrConflict:
		return "Resource already exists."

	// ─── Session-specific ──────────────────────────────────────────────
	case ErrInvalidTransition:
		return "The session cannot perform this action in its current state."
	case ErrSessionNotActive:
		return "The session has not started."
	case ErrSessionCompleted:
		return "The session is already completed."
	case ErrSessionExpired:
		return "The session expired before it was started."
	case ErrCameraRequired:
		return "Camera access is required to start this session."
	case ErrAnswerExists:
		return "This question has already been answered."
	case ErrUnknownQuestion:
		return "The question does not belong to this assignment."
	case ErrRetakeLimit:
		return "You have used all available retakes."
	case ErrRetakeNotAllowed:
		return "Only a finished latest attempt can be retaken."
	case ErrWrongSessionKind:
		return "This action is not available for this kind of session."
	case ErrNoResult:
		return "The session has no result yet."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
