package handlers

// Error codes carried in ErrorResponse.Code.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"
	ErrCodeTimeout          = "timeout"

	ErrCodeNotReady   = "not_ready"
	ErrCodeListFailed = "list_failed"
	ErrCodeUnknownJob = "unknown_job"
)
