package messages

import (
	"context"
	"strconv"

	errs "github.com/vinayprograms/eventkit/errors"
	"github.com/vinayprograms/eventkit/state"
	"github.com/vinayprograms/eventkit/telemetry"
)

// Store is an append-only versioned stream of idempotent messages over a
// state provider. Appends are staged; the caller commits with SaveChanges.
type Store[T IdempotentMessage] struct {
	provider state.Provider
	stream   string
}

// NewStore returns the stream named stream in provider.
func NewStore[T IdempotentMessage](provider state.Provider, stream string) *Store[T] {
	return &Store[T]{provider: provider, stream: stream}
}

// Name returns the stream name.
func (s *Store[T]) Name() string {
	return s.stream
}

// HeaderKey is the state key holding the stream version.
func HeaderKey(stream string) string {
	return stream + "Stream"
}

// ItemKey is the state key of the message at version.
func ItemKey(stream string, version int64) string {
	return stream + "Stream" + strconv.FormatInt(version, 10)
}

// IndexKey is the state key of the idempotency index entry for id.
func IndexKey(stream, idempotencyID string) string {
	return stream + "StreamId-" + idempotencyID
}

// Version returns the current stream version, 0 if the stream was never written.
func (s *Store[T]) Version(ctx context.Context) (int64, error) {
	v, _, err := state.TryGet[int64](ctx, s.provider, HeaderKey(s.stream))
	if err != nil {
		return 0, errs.Wrap(err, "read stream version", errs.WithStream(s.stream))
	}
	return v, nil
}

// VersionOf returns the version at which idempotencyID was added.
func (s *Store[T]) VersionOf(ctx context.Context, idempotencyID string) (int64, bool, error) {
	v, found, err := state.TryGet[int64](ctx, s.provider, IndexKey(s.stream, idempotencyID))
	if err != nil {
		return 0, false, errs.Wrap(err, "read idempotency index", errs.WithStream(s.stream))
	}
	return v, found, nil
}

// Add appends msgs after expectedVersion and returns the new version.
//
// The call is all-or-nothing: a negative expected version, a version
// mismatch (CONFLICT) or a duplicate idempotency id (ALREADY_EXISTS,
// including one repeated inside msgs) is detected before anything is staged.
// When staging itself fails, the writes already staged by the call are
// dropped if the provider is a state.Unstager.
func (s *Store[T]) Add(ctx context.Context, msgs []T, expectedVersion int64) (int64, error) {
	ctx, span := telemetry.GetTracer().StartAppendSpan(ctx, s.stream, expectedVersion, len(msgs))
	version, result, err := s.add(ctx, msgs, expectedVersion)
	telemetry.GetTracer().EndAppendSpan(span, version, err)
	telemetry.StreamAppendsTotal.WithLabelValues(result).Inc()
	return version, err
}

func (s *Store[T]) add(ctx context.Context, msgs []T, expectedVersion int64) (int64, string, error) {
	if expectedVersion < 0 {
		return 0, "invalid", errs.InvalidInput("expected version must not be negative", errs.WithStream(s.stream))
	}

	current, err := s.Version(ctx)
	if err != nil {
		return 0, "error", err
	}
	if current != expectedVersion {
		return current, "conflict", errs.Concurrency(s.stream, expectedVersion, current)
	}
	if len(msgs) == 0 {
		return current, "ok", nil
	}

	firstSeen := make(map[string]int64, len(msgs))
	for i, msg := range msgs {
		id := msg.IdempotencyID()
		if id == "" {
			return current, "invalid", errs.InvalidInput("message without idempotency id", errs.WithStream(s.stream))
		}
		if v, dup := firstSeen[id]; dup {
			return current, "duplicate", errs.Duplicate(s.stream, id, v)
		}
		v, found, err := s.VersionOf(ctx, id)
		if err != nil {
			return current, "error", err
		}
		if found {
			return current, "duplicate", errs.Duplicate(s.stream, id, v)
		}
		firstSeen[id] = expectedVersion + int64(i) + 1
	}

	var staged []string
	fail := func(err error, msg string, opts ...errs.Option) (int64, string, error) {
		if u, ok := s.provider.(state.Unstager); ok {
			u.Unstage(staged...)
		}
		return current, "error", errs.Wrap(err, msg, append(opts, errs.WithStream(s.stream))...)
	}

	version := expectedVersion
	for _, msg := range msgs {
		version++
		index, item := IndexKey(s.stream, msg.IdempotencyID()), ItemKey(s.stream, version)
		if err := s.provider.AddState(ctx, index, version); err != nil {
			return fail(err, "stage idempotency index", errs.WithVersion(version))
		}
		staged = append(staged, index)
		if err := s.provider.AddState(ctx, item, msg); err != nil {
			return fail(err, "stage message", errs.WithVersion(version))
		}
		staged = append(staged, item)
	}

	if expectedVersion == 0 {
		err = s.provider.AddState(ctx, HeaderKey(s.stream), version)
	} else {
		err = s.provider.SetState(ctx, HeaderKey(s.stream), version)
	}
	if err != nil {
		return fail(err, "stage stream header")
	}
	return version, "ok", nil
}

// Get returns the message at version.
func (s *Store[T]) Get(ctx context.Context, version int64) (T, error) {
	var zero T
	if version < 1 {
		return zero, errs.InvalidInput("version must be at least 1", errs.WithStream(s.stream))
	}
	msg, found, err := state.TryGet[T](ctx, s.provider, ItemKey(s.stream, version))
	if err != nil {
		return zero, errs.Wrap(err, "read message", errs.WithStream(s.stream), errs.WithVersion(version))
	}
	if !found {
		return zero, errs.ItemNotFound(s.stream, version)
	}
	return msg, nil
}

// GetRange returns the messages from version from to version to inclusive.
// A range reaching past the stream version fails with NOT_FOUND naming the
// first missing version.
func (s *Store[T]) GetRange(ctx context.Context, from, to int64) ([]T, error) {
	if from < 1 || to < from {
		return nil, errs.Newf(errs.ErrCodeInvalidInput, "stream %s: invalid range [%d, %d]", s.stream, from, to)
	}
	version, err := s.Version(ctx)
	if err != nil {
		return nil, err
	}
	n := to - from + 1
	if avail := version - from + 1; avail < n {
		n = max(avail, 0)
	}
	out := make([]T, 0, n)
	for v := from; v <= to; v++ {
		msg, err := s.Get(ctx, v)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

// GetAll returns every message and the current version.
func (s *Store[T]) GetAll(ctx context.Context) ([]T, int64, error) {
	version, err := s.Version(ctx)
	if err != nil {
		return nil, 0, err
	}
	if version == 0 {
		return nil, 0, nil
	}
	msgs, err := s.GetRange(ctx, 1, version)
	if err != nil {
		return nil, 0, err
	}
	return msgs, version, nil
}
