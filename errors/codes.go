package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

const (
	// CategoryTransient covers failures where a later attempt may succeed.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent covers failures a retry of the same call will not fix.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource covers exhaustion of a shared resource.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal covers bugs, corrupted state and recovered panics.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

const (
	// Transient
	ErrCodeTimeout     ErrorCode = "TIMEOUT"
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE"
	ErrCodeConflict    ErrorCode = "CONFLICT" // stream version mismatch; re-read and retry

	// Permanent
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeAlreadyExists     ErrorCode = "ALREADY_EXISTS" // duplicate idempotency id
	ErrCodeInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrCodeUnsupported       ErrorCode = "UNSUPPORTED"
	ErrCodeCanceled          ErrorCode = "CANCELED"
	ErrCodeCommandFailed     ErrorCode = "COMMAND_FAILED"
	ErrCodeProjectionFailed  ErrorCode = "PROJECTION_FAILED"

	// Resource
	ErrCodeResourceBusy ErrorCode = "RESOURCE_BUSY"

	// Internal
	ErrCodeInternal   ErrorCode = "INTERNAL"
	ErrCodeCorruption ErrorCode = "CORRUPTION"
	ErrCodePanic      ErrorCode = "PANIC"
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeUnavailable, ErrCodeConflict:
		return CategoryTransient

	case ErrCodeNotFound, ErrCodeAlreadyExists, ErrCodeInvalidInput, ErrCodeInvalidTransition,
		ErrCodeUnsupported, ErrCodeCanceled, ErrCodeCommandFailed, ErrCodeProjectionFailed:
		return CategoryPermanent

	case ErrCodeResourceBusy:
		return CategoryResource

	default:
		return CategoryInternal
	}
}
