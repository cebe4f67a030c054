// Package errors provides the structured error taxonomy used across eventkit.
//
// Every error carries a code and a category. The category drives retry
// decisions: a CONFLICT on a stream append is transient (re-read the version
// and append again), while a duplicate idempotency id or a missing stream item
// is permanent.
//
// # Usage
//
//	err := errors.Concurrency("orders42", 3, 5)
//	if errors.Is(err, errors.ErrCodeConflict) {
//	    // re-read the stream version and retry the append
//	}
//
// Errors serialize to JSON so a task failure can be persisted alongside the
// task state and inspected later.
package errors
