package state

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryBackend implements Backend, Scanner and Locker in process memory.
// Commits are atomic. Useful for testing and single-process hosts.
type MemoryBackend struct {
	mu       sync.RWMutex
	data     map[string]*entry
	locks    map[string]*memoryLock
	revision uint64
	closed   atomic.Bool
}

type entry struct {
	value    []byte
	revision uint64
	created  time.Time
	modified time.Time
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data:  make(map[string]*entry),
		locks: make(map[string]*memoryLock),
	}
}

// Get retrieves a committed value.
func (s *MemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyBytes(e.value), nil
}

// Revision returns the revision at which key was last written.
func (s *MemoryBackend) Revision(key string) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[key]
	if !ok {
		return 0, false
	}
	return e.revision, true
}

// Commit applies writes atomically: if any Create write targets an
// existing key nothing is applied.
func (s *MemoryBackend) Commit(ctx context.Context, writes []Write) error {
	for _, w := range writes {
		if err := ValidateKey(w.Key); err != nil {
			return err
		}
	}
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		return ErrClosed
	}
	for _, w := range writes {
		if !w.Create {
			continue
		}
		if _, exists := s.data[w.Key]; exists {
			return ErrKeyExists
		}
	}

	now := time.Now()
	for _, w := range writes {
		s.revision++
		created := now
		if existing, ok := s.data[w.Key]; ok {
			created = existing.created
		}
		s.data[w.Key] = &entry{
			value:    copyBytes(w.Value),
			revision: s.revision,
			created:  created,
			modified: now,
		}
	}
	return nil
}

// Keys returns committed keys starting with prefix, sorted.
func (s *MemoryBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Lock acquires an in-process lock.
func (s *MemoryBackend) Lock(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if err := ValidateTTL(ttl); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locks == nil {
		return nil, ErrClosed
	}

	lockKey := "_lock." + key

	if existing, ok := s.locks[lockKey]; ok {
		if !existing.released.Load() && time.Now().Before(existing.expires) {
			return nil, ErrLockHeld
		}
	}

	lock := &memoryLock{
		store:   s,
		key:     lockKey,
		ttl:     ttl,
		expires: time.Now().Add(ttl),
	}
	s.locks[lockKey] = lock

	return lock, nil
}

// Close shuts down the backend.
func (s *MemoryBackend) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, lock := range s.locks {
		lock.released.Store(true)
	}
	s.data = nil
	s.locks = nil

	return nil
}

// memoryLock implements the Lock interface for MemoryBackend.
type memoryLock struct {
	store    *MemoryBackend
	key      string
	ttl      time.Duration
	expires  time.Time
	released atomic.Bool
}

// Unlock releases the lock.
func (l *memoryLock) Unlock() error {
	if l.released.Swap(true) {
		return ErrLockNotHeld
	}

	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	if l.store.locks[l.key] == l {
		delete(l.store.locks, l.key)
	}
	return nil
}

// Refresh extends the lock TTL.
func (l *memoryLock) Refresh() error {
	if l.released.Load() {
		return ErrLockNotHeld
	}

	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	if time.Now().After(l.expires) {
		l.released.Store(true)
		if l.store.locks[l.key] == l {
			delete(l.store.locks, l.key)
		}
		return ErrLockExpired
	}

	l.expires = time.Now().Add(l.ttl)
	return nil
}

// Key returns the lock key.
func (l *memoryLock) Key() string {
	return l.key
}
