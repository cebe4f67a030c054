package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Store is the two-phase state store: writes are staged in memory and
// committed to the Backend as one batch by SaveChanges.
//
// A Store is a unit of work. Hosts create one per command or projection
// step and discard it afterwards.
type Store struct {
	backend Backend

	mu     sync.Mutex
	staged map[string]Write
	order  []string
}

var _ Provider = (*Store)(nil)

// NewStore creates a Store over backend.
func NewStore(backend Backend) *Store {
	return &Store{
		backend: backend,
		staged:  make(map[string]Write),
	}
}

// Backend returns the committed region.
func (s *Store) Backend() Backend {
	return s.backend
}

// AddState stages value under key, failing with ErrKeyExists if the key is
// already staged or committed.
func (s *Store) AddState(ctx context.Context, key string, value any) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	s.mu.Lock()
	_, staged := s.staged[key]
	s.mu.Unlock()
	if staged {
		return fmt.Errorf("%s: %w", key, ErrKeyExists)
	}

	_, err = s.backend.Get(ctx, key)
	if err == nil {
		return fmt.Errorf("%s: %w", key, ErrKeyExists)
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, staged := s.staged[key]; staged {
		return fmt.Errorf("%s: %w", key, ErrKeyExists)
	}
	s.stage(Write{Key: key, Value: data, Create: true})
	return nil
}

// SetState stages an upsert of key. A key added with AddState in the same
// unit of work stays a create.
func (s *Store) SetState(ctx context.Context, key string, value any) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	create := s.staged[key].Create
	s.stage(Write{Key: key, Value: data, Create: create})
	return nil
}

// stage records w. Must be called with mu held.
func (s *Store) stage(w Write) {
	if _, ok := s.staged[w.Key]; !ok {
		s.order = append(s.order, w.Key)
	}
	s.staged[w.Key] = w
}

// Unstage drops the staged writes of keys, leaving other staged writes in place.
func (s *Store) Unstage(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		if _, ok := s.staged[k]; ok {
			delete(s.staged, k)
			drop[k] = true
		}
	}
	if len(drop) == 0 {
		return
	}
	order := s.order[:0]
	for _, k := range s.order {
		if !drop[k] {
			order = append(order, k)
		}
	}
	s.order = order
}

// TryGetState decodes the staged value, or else the committed value, into out.
func (s *Store) TryGetState(ctx context.Context, key string, out any) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}

	s.mu.Lock()
	w, staged := s.staged[key]
	s.mu.Unlock()

	data := w.Value
	if !staged {
		var err error
		data, err = s.backend.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// GetState decodes key into out, failing with ErrNotFound if it is missing.
func (s *Store) GetState(ctx context.Context, key string, out any) error {
	found, err := s.TryGetState(ctx, key, out)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return nil
}

// SaveChanges commits staged writes in staging order as one batch and clears
// the staging area. On error the staged writes are kept so the caller can
// Discard or retry.
func (s *Store) SaveChanges(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) == 0 {
		return nil
	}

	writes := make([]Write, 0, len(s.order))
	for _, key := range s.order {
		writes = append(writes, s.staged[key])
	}
	if err := s.backend.Commit(ctx, writes); err != nil {
		return err
	}

	s.staged = make(map[string]Write)
	s.order = nil
	return nil
}

// Discard drops all staged writes.
func (s *Store) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged = make(map[string]Write)
	s.order = nil
}

// Pending returns the staged keys in staging order.
func (s *Store) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Get decodes key from p into a new T.
func Get[T any](ctx context.Context, p Provider, key string) (T, error) {
	var v T
	err := p.GetState(ctx, key, &v)
	return v, err
}

// TryGet decodes key from p into a new T, reporting whether it exists.
func TryGet[T any](ctx context.Context, p Provider, key string) (T, bool, error) {
	var v T
	found, err := p.TryGetState(ctx, key, &v)
	return v, found, err
}

// Keys lists committed keys with prefix when the backend supports scanning.
func Keys(ctx context.Context, b Backend, prefix string) ([]string, error) {
	sc, ok := b.(Scanner)
	if !ok {
		return nil, fmt.Errorf("backend %T cannot list keys", b)
	}
	keys, err := sc.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
