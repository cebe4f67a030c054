package config

import (
	"context"

	"github.com/nats-io/nats.go"

	"github.com/vinayprograms/eventkit/bus"
	errs "github.com/vinayprograms/eventkit/errors"
	"github.com/vinayprograms/eventkit/logging"
	"github.com/vinayprograms/eventkit/shutdown"
	"github.com/vinayprograms/eventkit/state"
	"github.com/vinayprograms/eventkit/telemetry"
)

// NATSConfig returns the bus connection settings.
func (c *Config) NATSConfig() bus.NATSConfig {
	n := bus.DefaultNATSConfig()
	if c.Bus.URL != "" {
		n.URL = c.Bus.URL
	}
	if c.Bus.Name != "" {
		n.Name = c.Bus.Name
	}
	if c.Bus.BufferSize > 0 {
		n.BufferSize = c.Bus.BufferSize
	}
	n.Token = c.Bus.Token
	n.User = c.Bus.User
	n.Password = c.Bus.Password
	return n
}

// NeedsNATS reports whether the store or the bus uses NATS.
func (c *Config) NeedsNATS() bool {
	return c.Store.Backend == "nats" || c.Bus.Kind == "nats"
}

// OpenBackend opens the configured state backend. conn is used by the
// nats backend and may be nil otherwise.
func (c *Config) OpenBackend(conn *nats.Conn, logger *logging.Logger) (state.Backend, error) {
	switch c.Store.Backend {
	case "memory":
		return state.NewMemoryBackend(), nil
	case "badger":
		bc := state.DefaultBadgerConfig(c.Store.Path)
		if c.Store.InMemory {
			bc = state.InMemoryBadgerConfig()
		}
		bc.SyncWrites = c.Store.SyncWrites
		bc.Logger = logger
		return state.OpenBadger(bc)
	case "nats":
		if conn == nil {
			return nil, errs.InvalidInput("store: nats backend needs a connection")
		}
		nc := state.DefaultNATSBackendConfig()
		nc.Conn = conn
		if c.Store.Bucket != "" {
			nc.Bucket = c.Store.Bucket
		}
		return state.NewNATSBackend(nc)
	default:
		return nil, errs.InvalidInput("store: unknown backend " + c.Store.Backend)
	}
}

// OpenBus opens the configured bus. conn is used by the nats bus and may
// be nil otherwise; the bus does not take ownership of it.
func (c *Config) OpenBus(conn *nats.Conn) (bus.MessageBus, error) {
	switch c.Bus.Kind {
	case "memory":
		return bus.NewMemoryBus(bus.Config{BufferSize: c.Bus.BufferSize}), nil
	case "nats":
		if conn == nil {
			return nil, errs.InvalidInput("bus: nats bus needs a connection")
		}
		return bus.NewNATSBusFromConn(conn, c.NATSConfig()), nil
	default:
		return nil, errs.InvalidInput("bus: unknown kind " + c.Bus.Kind)
	}
}

// ProviderConfig returns the tracing provider settings.
func (c *Config) ProviderConfig() telemetry.ProviderConfig {
	return telemetry.ProviderConfig{
		ServiceName: c.Telemetry.ServiceName,
		Endpoint:    c.Telemetry.Endpoint,
		Protocol:    c.Telemetry.Protocol,
		Insecure:    c.Telemetry.Insecure,
		Debug:       c.Telemetry.Debug,
	}
}

// Resources are the connections opened from a Config.
type Resources struct {
	Backend  state.Backend
	Bus      bus.MessageBus
	Conn     *nats.Conn
	Provider *telemetry.Provider

	// Shutdown releases the resources above. Callers may register their
	// own handlers, typically in shutdown.PhaseWorkers.
	Shutdown *shutdown.Coordinator
}

// Open opens the backend, the bus and, when a protocol is configured, the
// tracing provider. A single NATS connection is shared.
func (c *Config) Open(ctx context.Context, logger *logging.Logger) (*Resources, error) {
	r := &Resources{Shutdown: shutdown.NewCoordinator(shutdown.Config{
		OnProgress: func(hr shutdown.HandlerResult) {
			if hr.Err != nil {
				logger.Warn("resource_close_failed", map[string]interface{}{
					"resource": hr.Name,
					"error":    hr.Err.Error(),
				})
			}
		},
	})}
	if c.NeedsNATS() {
		conn, err := bus.Connect(c.NATSConfig())
		if err != nil {
			return nil, errs.WrapWithCode(err, errs.ErrCodeUnavailable, "connect to nats")
		}
		r.Conn = conn
		r.Shutdown.Register("nats", shutdown.PhaseConnection, func(context.Context) error {
			conn.Close()
			return nil
		})
	}

	var err error
	if r.Backend, err = c.OpenBackend(r.Conn, logger); err != nil {
		r.Close(ctx)
		return nil, err
	}
	backend := r.Backend
	r.Shutdown.Register("store", shutdown.PhaseStorage, func(context.Context) error {
		return backend.Close()
	})

	if r.Bus, err = c.OpenBus(r.Conn); err != nil {
		r.Close(ctx)
		return nil, err
	}
	mb := r.Bus
	r.Shutdown.Register("bus", shutdown.PhaseTransport, func(context.Context) error {
		return mb.Close()
	})

	if c.Telemetry.Protocol != "" {
		if r.Provider, err = telemetry.InitProvider(ctx, c.ProviderConfig()); err != nil {
			r.Close(ctx)
			return nil, err
		}
		r.Shutdown.Register("telemetry", shutdown.PhaseTelemetry, r.Provider.Shutdown)
	}
	return r, nil
}

// Close releases everything Open acquired, workers first and the NATS
// connection last.
func (r *Resources) Close(ctx context.Context) error {
	return r.Shutdown.Shutdown(ctx)
}
