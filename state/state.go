package state

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Common errors.
var (
	ErrNotFound    = errors.New("key not found")
	ErrKeyExists   = errors.New("key already exists")
	ErrClosed      = errors.New("store closed")
	ErrLockHeld    = errors.New("lock already held")
	ErrLockNotHeld = errors.New("lock not held")
	ErrLockExpired = errors.New("lock expired")
	ErrInvalidKey  = errors.New("invalid key")
	ErrInvalidTTL  = errors.New("invalid TTL")
)

// Write is one staged change applied by Backend.Commit.
type Write struct {
	// Key is the entry key.
	Key string

	// Value is the encoded value.
	Value []byte

	// Create requires that Key does not exist yet. A Create write against
	// an existing key fails the batch with ErrKeyExists.
	Create bool
}

// Backend is the committed region of the state store.
type Backend interface {
	// Get retrieves a committed value.
	// Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Commit applies writes in order. Atomicity across keys depends on
	// the backend; see each implementation.
	Commit(ctx context.Context, writes []Write) error

	// Close shuts down the backend and releases resources.
	Close() error
}

// Scanner is implemented by backends that can enumerate keys.
type Scanner interface {
	// Keys returns committed keys starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Locker is implemented by backends that provide distributed locks.
type Locker interface {
	// Lock acquires a lock with the given TTL.
	// Returns ErrLockHeld if the lock is already held.
	Lock(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Lock represents a distributed lock.
type Lock interface {
	// Unlock releases the lock.
	// Returns ErrLockNotHeld if already released.
	Unlock() error

	// Refresh extends the lock TTL.
	// Returns ErrLockExpired if the lock has expired.
	Refresh() error

	// Key returns the lock key.
	Key() string
}

// Provider is the two-phase state interface consumed by the message store,
// the command processor and the projection manager. Writes are staged
// until SaveChanges.
type Provider interface {
	// AddState stages value under key. Fails with ErrKeyExists if the key
	// is already staged or committed.
	AddState(ctx context.Context, key string, value any) error

	// SetState stages an upsert of key.
	SetState(ctx context.Context, key string, value any) error

	// TryGetState decodes the staged or committed value into out.
	// Returns false if the key does not exist.
	TryGetState(ctx context.Context, key string, out any) (bool, error)

	// GetState is TryGetState failing with ErrNotFound on a missing key.
	GetState(ctx context.Context, key string, out any) error

	// SaveChanges commits all staged writes.
	SaveChanges(ctx context.Context) error
}

// Unstager is implemented by providers that can drop individual staged
// writes, so a rejected multi-key operation leaves nothing behind.
type Unstager interface {
	Unstage(keys ...string)
}

// ValidateKey checks if a key is valid.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if strings.Contains(key, " ") {
		return ErrInvalidKey
	}
	if strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") {
		return ErrInvalidKey
	}
	if len(key) > 1024 {
		return ErrInvalidKey
	}
	return nil
}

// ValidateTTL checks if a lock TTL is valid.
func ValidateTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
