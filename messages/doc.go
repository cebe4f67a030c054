// Package messages provides the message envelope and the append-only,
// versioned, idempotent message stream.
//
// Streams live in a state.Provider under three key families:
//
//	{Stream}Stream                  current version (0 or missing = empty)
//	{Stream}Stream{version}         message at version, 1-based
//	{Stream}StreamId-{id}           version at which idempotency id was first added
//
// Appends are accepted only when the caller's expected version equals the
// stored version. There is no other locking: callers re-read and retry on a
// CONFLICT error.
package messages
