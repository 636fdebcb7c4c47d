package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrSessionActive      ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden           ErrCode = "FORBIDDEN"
	ErrCandidateAccessOnly ErrCode = "CANDIDATE_ACCESS_ONLY"
	ErrRecruiterAccessOnly ErrCode = "RECRUITER_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound        ErrCode = "NOT_FOUND"
	ErrConflict        ErrCode = "CONFLICT"
	ErrActionForbidden ErrCode = "ACTION_FORBIDDEN"

	// ─── Assessment-specific ───────────────────────────────────────────
	ErrAssessmentNotAvailable ErrCode = "ASSESSMENT_NOT_AVAILABLE"
	ErrAssessmentNotPub       ErrCode = "ASSESSMENT_NOT_PUBLISHED"
	ErrNotAuthor              ErrCode = "NOT_ASSESSMENT_AUTHOR"
	ErrNoQuestionsCode        ErrCode = "NO_QUESTIONS"
	ErrAssessmentNotDraftCode ErrCode = "ASSESSMENT_NOT_DRAFT"
	ErrSessionCompleted       ErrCode = "SESSION_COMPLETED"
	ErrSessionNotFound        ErrCode = "SESSION_NOT_FOUND"
	ErrResultNotReady         ErrCode = "RESULT_NOT_READY"
	ErrUnresolvedWarning      ErrCode = "UNRESOLVED_WARNING"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Incorrect email or password."
	case ErrSessionActive:
		return "You are already logged in on another device."
	case ErrSessionInvalidated:
		return "Your login session has ended. Please sign in again."
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid."
	case ErrTokenExpired:
		return "The authentication token has expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrCandidateAccessOnly:
		return "This resource is restricted to candidates."
	case ErrRecruiterAccessOnly:
		return "This resource is restricted to recruiters."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrConflict:
		return "Resource already exists."
	case ErrActionForbidden:
		return "This action is not allowed."

	// ─── Assessment-specific ───────────────────────────────────────────
	case ErrAssessmentNotAvailable:
		return "This assessment is not currently available."
	case ErrAssessmentNotPub:
		return "This assessment has not been published."
	case ErrNotAuthor:
		return "You are not the author of this assessment."
	case ErrNoQuestionsCode:
		return "This assessment has no questions."
	case ErrAssessmentNotDraftCode:
		return "This assessment is not in DRAFT status."
	case ErrSessionCompleted:
		return "This assessment session has already been submitted."
	case ErrSessionNotFound:
		return "No assessment session was found."
	case ErrResultNotReady:
		return "The result for this session is not ready yet."
	case ErrUnresolvedWarning:
		return "Acknowledge the integrity warning before continuing."

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
