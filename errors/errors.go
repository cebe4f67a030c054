package errors

import (
	"fmt"
	"strconv"
)

// Error is the structured error type returned by eventkit packages.
type Error struct {
	code      ErrorCode
	category  ErrorCategory
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool // nil means the category decides
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.category
}

// Retryable returns whether this error is retryable.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.category.IsRetryable()
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Fields returns the error as structured log fields: the message, the
// code and every metadata entry.
func (e *Error) Fields() map[string]interface{} {
	f := make(map[string]interface{}, len(e.metadata)+2)
	for k, v := range e.metadata {
		f[k] = v
	}
	f["error"] = e.Error()
	f["code"] = string(e.code)
	return f
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithRetryable explicitly sets whether the error is retryable.
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithStream tags the error with a stream name.
func WithStream(stream string) Option {
	return WithMetadata("stream", stream)
}

// WithVersion tags the error with a stream version.
func WithVersion(version int64) Option {
	return WithMetadata("version", strconv.FormatInt(version, 10))
}

// WithKey tags the error with a state or task key.
func WithKey(key string) Option {
	return WithMetadata("key", key)
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:     code,
		category: code.DefaultCategory(),
		message:  message,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Concurrency reports an append whose expected version does not match the stream.
func Concurrency(stream string, expected, actual int64) *Error {
	return New(ErrCodeConflict,
		fmt.Sprintf("stream %s: expected version %d but found %d", stream, expected, actual),
		WithStream(stream),
		WithVersion(actual),
		WithMetadata("expected_version", strconv.FormatInt(expected, 10)),
	)
}

// Duplicate reports a message whose idempotency id is already in the stream.
func Duplicate(stream, idempotencyID string, version int64) *Error {
	return New(ErrCodeAlreadyExists,
		fmt.Sprintf("stream %s: message %s already stored at version %d", stream, idempotencyID, version),
		WithStream(stream),
		WithVersion(version),
		WithMetadata("idempotency_id", idempotencyID),
	)
}

// ItemNotFound reports a stream read of a version that was never written.
func ItemNotFound(stream string, version int64) *Error {
	return New(ErrCodeNotFound,
		fmt.Sprintf("stream %s: item %d not found", stream, version),
		WithStream(stream),
		WithVersion(version),
	)
}

// NotFound creates a not found error.
func NotFound(message string, opts ...Option) *Error {
	return New(ErrCodeNotFound, message, opts...)
}

// InvalidInput creates an invalid input error.
func InvalidInput(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidInput, message, opts...)
}

// InvalidTransition reports a task operation not allowed from the current status.
func InvalidTransition(operation, status string) *Error {
	return New(ErrCodeInvalidTransition,
		fmt.Sprintf("cannot %s a task in status %s", operation, status),
		WithMetadata("operation", operation),
		WithMetadata("status", status),
	)
}

// Internal creates an internal error.
func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}
