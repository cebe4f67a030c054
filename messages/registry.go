package messages

import (
	"fmt"
	"sync"

	errs "github.com/vinayprograms/eventkit/errors"
)

type discriminator struct {
	typ     string
	version int
}

// Registry maps (Type, Version) discriminators to payload types.
type Registry struct {
	mu        sync.RWMutex
	factories map[discriminator]func() any
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[discriminator]func() any)}
}

// Register binds typ/version to factory, which returns a pointer to decode into.
func (r *Registry) Register(typ string, version int, factory func() any) error {
	if typ == "" || version < 1 || factory == nil {
		return errs.InvalidInput("register needs a type, a version >= 1 and a factory")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := discriminator{typ, version}
	if _, exists := r.factories[key]; exists {
		return errs.Newf(errs.ErrCodeAlreadyExists, "%s v%d already registered", typ, version)
	}
	r.factories[key] = factory
	return nil
}

// RegisterType binds typ/version to T.
func RegisterType[T any](r *Registry, typ string, version int) error {
	return r.Register(typ, version, func() any { return new(T) })
}

// Known reports whether typ/version is registered.
func (r *Registry) Known(typ string, version int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[discriminator{typ, version}]
	return ok
}

// Decode returns the envelope payload as the registered type (a pointer).
func (r *Registry) Decode(env Envelope) (any, error) {
	r.mu.RLock()
	factory, ok := r.factories[discriminator{env.Type, env.Version}]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.Newf(errs.ErrCodeUnsupported, "no payload type registered for %s v%d", env.Type, env.Version)
	}

	v := factory()
	if err := env.Decode(v); err != nil {
		return nil, errs.WrapWithCode(err, errs.ErrCodeInvalidInput, fmt.Sprintf("decode %s v%d", env.Type, env.Version))
	}
	return v, nil
}
