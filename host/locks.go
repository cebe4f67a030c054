package host

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vinayprograms/eventkit/state"
)

// keyedMutex serializes work per key inside one process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free or ctx is done.
func (m *keyedMutex) Lock(ctx context.Context, key string) error {
	m.mu.Lock()
	l := m.locks[key]
	if l == nil {
		l = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		m.release(key, l)
		return ctx.Err()
	}
}

// Unlock frees key. It must follow a successful Lock.
func (m *keyedMutex) Unlock(key string) {
	m.mu.Lock()
	l := m.locks[key]
	m.mu.Unlock()
	if l == nil {
		return
	}
	<-l.ch
	m.release(key, l)
}

func (m *keyedMutex) release(key string, l *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}

// acquire takes the in-process lock for key and, when the backend is a
// state.Locker, the distributed lock as well. The returned func releases
// both.
func (h *Host) acquire(ctx context.Context, key string) (func(), error) {
	if err := h.local.Lock(ctx, key); err != nil {
		return nil, err
	}

	locker, ok := h.backend.(state.Locker)
	if !ok {
		return func() { h.local.Unlock(key) }, nil
	}

	lock, err := h.distributedLock(ctx, locker, "host."+key)
	if err != nil {
		h.local.Unlock(key)
		return nil, err
	}
	return func() {
		if err := lock.Unlock(); err != nil && !errors.Is(err, state.ErrLockNotHeld) {
			h.logger.Warn("unlock_failed", map[string]interface{}{"key": key, "error": err.Error()})
		}
		h.local.Unlock(key)
	}, nil
}

// distributedLock polls until the lock is granted or ctx is done.
func (h *Host) distributedLock(ctx context.Context, locker state.Locker, key string) (state.Lock, error) {
	for {
		lock, err := locker.Lock(ctx, key, h.lockTTL)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, state.ErrLockHeld) {
			return nil, err
		}

		t := time.NewTimer(h.lockPoll)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}
