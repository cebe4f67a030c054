package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSBackend implements Backend, Scanner and Locker using NATS JetStream KV.
//
// JetStream KV has no multi-key transactions: Commit checks every Create
// write up front and then applies the batch in order, so a failure part way
// through (or a concurrent writer racing a Create) can leave a prefix of the
// batch applied. Hosts that need atomic commits use BadgerBackend; hosts on
// NATS rely on the single-writer lock around each stream.
type NATSBackend struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	kv     jetstream.KeyValue
	config NATSBackendConfig
	closed atomic.Bool

	lockMu sync.Mutex
	locks  map[string]*natsLock
}

// NATSBackendConfig holds NATS KV backend configuration.
type NATSBackendConfig struct {
	// Conn is the NATS connection to use.
	Conn *nats.Conn

	// Bucket is the KV bucket name.
	Bucket string

	// History is the number of revisions to keep per key.
	// Default: 1
	History int

	// MaxValueSize is the maximum value size in bytes.
	// Default: 1MB
	MaxValueSize int32

	// Timeout bounds each KV round trip when ctx has no deadline.
	// Default: 5s
	Timeout time.Duration
}

// DefaultNATSBackendConfig returns configuration with sensible defaults.
func DefaultNATSBackendConfig() NATSBackendConfig {
	return NATSBackendConfig{
		Bucket:       "eventkit-state",
		History:      1,
		MaxValueSize: 1024 * 1024,
		Timeout:      5 * time.Second,
	}
}

// NewNATSBackend creates or binds the KV bucket and returns a backend over it.
func NewNATSBackend(cfg NATSBackendConfig) (*NATSBackend, error) {
	if cfg.Conn == nil {
		return nil, fmt.Errorf("nats connection required")
	}
	defaults := DefaultNATSBackendConfig()
	if cfg.Bucket == "" {
		cfg.Bucket = defaults.Bucket
	}
	if cfg.History <= 0 {
		cfg.History = defaults.History
	}
	if cfg.MaxValueSize <= 0 {
		cfg.MaxValueSize = defaults.MaxValueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}

	js, err := jetstream.New(cfg.Conn)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:       cfg.Bucket,
		History:      uint8(cfg.History),
		MaxValueSize: cfg.MaxValueSize,
	})
	if err != nil {
		return nil, fmt.Errorf("create kv bucket: %w", err)
	}

	return &NATSBackend{
		conn:   cfg.Conn,
		js:     js,
		kv:     kv,
		config: cfg,
		locks:  make(map[string]*natsLock),
	}, nil
}

func (s *NATSBackend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.config.Timeout)
}

// Get retrieves a committed value.
func (s *NATSBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("kv get: %w", err)
	}

	return entry.Value(), nil
}

// Commit applies writes in order. Create writes use kv.Create so a racing
// writer still surfaces as ErrKeyExists.
func (s *NATSBackend) Commit(ctx context.Context, writes []Write) error {
	for _, w := range writes {
		if err := ValidateKey(w.Key); err != nil {
			return err
		}
	}
	if s.closed.Load() {
		return ErrClosed
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	for _, w := range writes {
		if !w.Create {
			continue
		}
		_, err := s.kv.Get(ctx, w.Key)
		if err == nil {
			return ErrKeyExists
		}
		if !errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("kv get: %w", err)
		}
	}

	for _, w := range writes {
		if w.Create {
			if _, err := s.kv.Create(ctx, w.Key, w.Value); err != nil {
				if errors.Is(err, jetstream.ErrKeyExists) {
					return ErrKeyExists
				}
				return fmt.Errorf("kv create %s: %w", w.Key, err)
			}
			continue
		}
		if _, err := s.kv.Put(ctx, w.Key, w.Value); err != nil {
			return fmt.Errorf("kv put %s: %w", w.Key, err)
		}
	}
	return nil
}

// Keys returns committed keys starting with prefix, sorted.
func (s *NATSBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	lister, err := s.kv.ListKeys(ctx, jetstream.MetaOnly())
	if err != nil {
		return nil, fmt.Errorf("kv list keys: %w", err)
	}
	defer lister.Stop()

	var keys []string
	for key := range lister.Keys() {
		if strings.HasPrefix(key, "_lock.") {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Lock acquires a distributed lock. The lock entry stores its TTL so that
// other processes can take over an expired lock.
func (s *NATSBackend) Lock(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if err := ValidateTTL(ttl); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	lockKey := "_lock." + key

	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	if s.locks == nil {
		return nil, ErrClosed
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rev, err := s.kv.Create(ctx, lockKey, []byte(ttl.String()))
	if errors.Is(err, jetstream.ErrKeyExists) {
		entry, getErr := s.kv.Get(ctx, lockKey)
		if getErr != nil {
			return nil, fmt.Errorf("check lock: %w", getErr)
		}
		storedTTL, _ := time.ParseDuration(string(entry.Value()))
		if time.Since(entry.Created()) < storedTTL {
			return nil, ErrLockHeld
		}
		rev, err = s.kv.Update(ctx, lockKey, []byte(ttl.String()), entry.Revision())
		if err != nil {
			return nil, ErrLockHeld
		}
	} else if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	lock := &natsLock{
		store:    s,
		key:      lockKey,
		ttl:      ttl,
		created:  time.Now(),
		revision: rev,
	}
	s.locks[lockKey] = lock

	return lock, nil
}

// Close shuts down the backend. The NATS connection stays open.
func (s *NATSBackend) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	for _, lock := range s.locks {
		lock.released.Store(true)
	}
	s.locks = nil

	return nil
}

// natsLock implements the Lock interface for NATSBackend.
type natsLock struct {
	store    *NATSBackend
	key      string
	ttl      time.Duration
	created  time.Time
	revision uint64
	released atomic.Bool
}

// Unlock releases the lock.
func (l *natsLock) Unlock() error {
	if l.released.Swap(true) {
		return ErrLockNotHeld
	}

	l.store.lockMu.Lock()
	delete(l.store.locks, l.key)
	l.store.lockMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), l.store.config.Timeout)
	defer cancel()

	err := l.store.kv.Delete(ctx, l.key, jetstream.LastRevision(l.revision))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("release lock: %w", err)
	}

	return nil
}

// Refresh extends the lock TTL.
func (l *natsLock) Refresh() error {
	if l.released.Load() {
		return ErrLockNotHeld
	}

	if time.Since(l.created) > l.ttl {
		l.released.Store(true)
		return ErrLockExpired
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.store.config.Timeout)
	defer cancel()

	rev, err := l.store.kv.Update(ctx, l.key, []byte(l.ttl.String()), l.revision)
	if err != nil {
		return fmt.Errorf("refresh lock: %w", err)
	}

	l.revision = rev
	l.created = time.Now()
	return nil
}

// Key returns the lock key.
func (l *natsLock) Key() string {
	return l.key
}
