// Package host runs commands and projections with one writer per
// aggregate stream and per projection.
//
// Exclusion is an in-process keyed mutex, plus a distributed lock when
// the state backend implements state.Locker, so several hosts can share
// one NATS-backed store. Committed events are published on
// bus.EventSubject and due reminders are consumed from
// bus.RemindersSubject by Run.
package host

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vinayprograms/eventkit/bus"
	"github.com/vinayprograms/eventkit/clock"
	"github.com/vinayprograms/eventkit/commands"
	errs "github.com/vinayprograms/eventkit/errors"
	"github.com/vinayprograms/eventkit/logging"
	"github.com/vinayprograms/eventkit/messages"
	"github.com/vinayprograms/eventkit/projections"
	"github.com/vinayprograms/eventkit/reminders"
	"github.com/vinayprograms/eventkit/resiliency"
	"github.com/vinayprograms/eventkit/state"
	"github.com/vinayprograms/eventkit/tasks"
)

// CommandReminderPrefix prefixes the reminder that retries a suspended command.
const CommandReminderPrefix = "command."

// AggregateFactory returns an empty aggregate for a stream.
type AggregateFactory func(aggregateName, aggregateID string) (commands.Aggregate, error)

// Config configures a Host.
type Config struct {
	// Backend is the committed state store. Required.
	Backend state.Backend

	// Dispatcher executes commands. Required.
	Dispatcher commands.Dispatcher

	// Aggregates builds aggregates to replay streams into. Required.
	Aggregates AggregateFactory

	// Bus receives committed events; nil disables publication.
	Bus bus.MessageBus

	// Reminders schedules retries; nil disables them.
	Reminders reminders.Scheduler

	// CommandPolicy is the retry policy of new commands.
	CommandPolicy resiliency.Policy

	// MaxEventsPerCall bounds one projection catch-up pass.
	MaxEventsPerCall int

	// LockTTL and LockPoll tune the distributed lock.
	LockTTL  time.Duration
	LockPoll time.Duration

	// Queue is the queue group Run joins on the reminders subject.
	Queue string

	// Registry, when set, restricts Execute to registered command types
	// and gets CommandProcessingFailed registered.
	Registry *messages.Registry

	Clock  clock.Clock
	Logger *logging.Logger
}

// Host is a single-writer command and projection runtime.
type Host struct {
	backend   state.Backend
	bus       bus.MessageBus
	reminders reminders.Scheduler
	factory   AggregateFactory
	processor *commands.Processor
	clock     clock.Clock
	logger    *logging.Logger

	maxEvents int
	lockTTL   time.Duration
	lockPoll  time.Duration
	queue     string

	registry *messages.Registry
	local    *keyedMutex

	mu          sync.RWMutex
	projections map[string]*projections.StateManager
	byStream    map[string][]string
}

// New creates a host.
func New(cfg Config) (*Host, error) {
	switch {
	case cfg.Backend == nil:
		return nil, errs.InvalidInput("host: backend is required")
	case cfg.Dispatcher == nil:
		return nil, errs.InvalidInput("host: dispatcher is required")
	case cfg.Aggregates == nil:
		return nil, errs.InvalidInput("host: aggregate factory is required")
	}
	if err := cfg.CommandPolicy.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.LockPoll <= 0 {
		cfg.LockPoll = 10 * time.Millisecond
	}
	if cfg.Queue == "" {
		cfg.Queue = "eventkit"
	}
	if cfg.Registry != nil && !cfg.Registry.Known(commands.CommandProcessingFailedType, 1) {
		if err := commands.Register(cfg.Registry); err != nil {
			return nil, err
		}
	}

	logger := cfg.Logger.WithComponent("host")
	return &Host{
		backend:   cfg.Backend,
		bus:       cfg.Bus,
		reminders: cfg.Reminders,
		factory:   cfg.Aggregates,
		processor: &commands.Processor{
			Policy:     cfg.CommandPolicy,
			Dispatcher: cfg.Dispatcher,
			Clock:      cfg.Clock,
			Logger:     cfg.Logger.WithComponent("commands"),
		},
		clock:       cfg.Clock,
		logger:      logger,
		maxEvents:   cfg.MaxEventsPerCall,
		lockTTL:     cfg.LockTTL,
		lockPoll:    cfg.LockPoll,
		queue:       cfg.Queue,
		registry:    cfg.Registry,
		local:       newKeyedMutex(),
		projections: make(map[string]*projections.StateManager),
		byStream:    make(map[string][]string),
	}, nil
}

// CommandKey is the task key of command.
func CommandKey(command messages.Envelope) string {
	return command.Stream() + "." + command.ID
}

// Execute runs command against its aggregate.
//
// Successful events are appended to the aggregate stream and committed
// together with the task state, then published. A suspended command gets a
// retry reminder; a command given up yields a published
// CommandProcessingFailed event that is not appended. Projections on the
// stream are caught up afterwards; their failures are logged, not returned.
func (h *Host) Execute(ctx context.Context, command messages.Envelope) (commands.Result, error) {
	if command.AggregateName == "" || command.ID == "" {
		return commands.Result{}, errs.InvalidInput("command needs an id and an aggregate name")
	}
	if h.registry != nil && !h.registry.Known(command.Type, command.Version) {
		return commands.Result{}, errs.Newf(errs.ErrCodeUnsupported, "command %s v%d is not registered", command.Type, command.Version)
	}
	stream := command.Stream()

	unlock, err := h.acquire(ctx, stream)
	if err != nil {
		return commands.Result{}, errs.Wrap(err, "lock aggregate", errs.WithStream(stream))
	}
	res, version, newVersion, err := h.execute(ctx, stream, command)
	unlock()
	if err != nil {
		return res, err
	}

	h.publish(res.Events)
	h.scheduleCommand(ctx, command, res.Processor)
	if newVersion > version {
		h.catchUp(ctx, stream, newVersion)
	}
	return res, nil
}

func (h *Host) execute(ctx context.Context, stream string, command messages.Envelope) (commands.Result, int64, int64, error) {
	store := state.NewStore(h.backend)
	events := messages.NewStore[messages.Envelope](store, stream)

	history, version, err := events.GetAll(ctx)
	if err != nil {
		return commands.Result{}, 0, 0, err
	}
	aggregate, err := h.factory(command.AggregateName, command.AggregateID)
	if err != nil {
		return commands.Result{}, 0, 0, errs.Wrap(err, "create aggregate", errs.WithStream(stream))
	}
	if aggregate == nil {
		return commands.Result{}, 0, 0, errs.Internal("aggregate factory returned nil", errs.WithStream(stream))
	}
	for _, ev := range history {
		if err := aggregate.Apply(ev); err != nil {
			return commands.Result{}, 0, 0, errs.WrapWithCode(err, errs.ErrCodeCorruption, "replay aggregate",
				errs.WithStream(stream), errs.WithKey(ev.ID))
		}
	}

	res, err := h.processor.Process(ctx, store, CommandKey(command), command, aggregate)
	if err != nil {
		return res, 0, 0, err
	}

	newVersion := version
	if res.Processor.Status == tasks.StatusCompleted && len(res.Events) > 0 {
		for i := range res.Events {
			if res.Events[i].AggregateName == "" {
				res.Events[i].AggregateName = command.AggregateName
				res.Events[i].AggregateID = command.AggregateID
			}
			res.Events[i] = res.Events[i].CausedBy(command)
		}
		newVersion, err = events.Add(ctx, res.Events, version)
		if err != nil {
			return res, 0, 0, err
		}
	}

	if err := store.SaveChanges(ctx); err != nil {
		return res, 0, 0, errs.Wrap(err, "commit command", errs.WithStream(stream))
	}
	if newVersion > version {
		h.logger.StreamAppended(stream, version+1, newVersion)
	}
	return res, version, newVersion, nil
}

// publish sends events on their aggregate subject. Delivery failures are
// logged; the events are already committed.
func (h *Host) publish(events []messages.Envelope) {
	if h.bus == nil {
		return
	}
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err == nil {
			err = h.bus.Publish(bus.EventSubject(ev.AggregateName), data)
		}
		if err != nil {
			h.logger.Warn("event_publish_failed", map[string]interface{}{
				"event": ev.ID,
				"type":  ev.Type,
				"error": err.Error(),
			})
		}
	}
}

func (h *Host) scheduleCommand(ctx context.Context, command messages.Envelope, tp tasks.TaskProcessor) {
	if h.reminders == nil {
		return
	}
	name := CommandReminderPrefix + CommandKey(command)

	var err error
	if tp.Status == tasks.StatusSuspended {
		due := time.Duration(0)
		if at := tp.RetryDate(); at != nil {
			due = at.Sub(h.clock.Now())
		}
		var payload []byte
		payload, err = json.Marshal(command)
		if err == nil {
			err = h.reminders.Register(ctx, name, payload, due, 0)
		}
	} else {
		err = h.reminders.Unregister(ctx, name)
	}
	if err != nil {
		h.logger.Error("command_reminder_failed", map[string]interface{}{
			"reminder": name,
			"error":    err.Error(),
		})
	}
}

// RegisterProjection attaches projection to stream.
func (h *Host) RegisterProjection(projection projections.Projection, stream string, policy resiliency.Policy) error {
	name := projection.Name()
	if name == "" || stream == "" {
		return errs.InvalidInput("projection name and stream are required")
	}
	if err := policy.Validate(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.projections[name]; exists {
		return errs.New(errs.ErrCodeAlreadyExists, "projection already registered", errs.WithKey(name))
	}
	h.projections[name] = &projections.StateManager{
		Projection:       projection,
		Stream:           stream,
		Policy:           policy,
		Clock:            h.clock,
		Logger:           h.logger.WithComponent("projections"),
		MaxEventsPerCall: h.maxEvents,
	}
	h.byStream[stream] = append(h.byStream[stream], name)
	return nil
}

// Projections returns the registered projection names, sorted.
func (h *Host) Projections() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.projections))
	for name := range h.projections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *Host) manager(name string) (*projections.StateManager, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.projections[name]
	if !ok {
		return nil, errs.NotFound("projection not registered", errs.WithKey(name))
	}
	return m, nil
}

// ContinueProjection runs one catch-up pass of the named projection.
func (h *Host) ContinueProjection(ctx context.Context, name string) (projections.State, error) {
	m, err := h.manager(name)
	if err != nil {
		return projections.State{}, err
	}
	unlock, err := h.acquire(ctx, "projection."+name)
	if err != nil {
		return projections.State{}, errs.Wrap(err, "lock projection", errs.WithKey(name))
	}
	defer unlock()
	return m.Continue(ctx, state.NewStore(h.backend), h.reminders)
}

// ProjectionStatus returns the committed position of the named projection.
func (h *Host) ProjectionStatus(ctx context.Context, name string) (projections.State, error) {
	m, err := h.manager(name)
	if err != nil {
		return projections.State{}, err
	}
	return m.Status(ctx, state.NewStore(h.backend))
}

func (h *Host) catchUp(ctx context.Context, stream string, version int64) {
	h.mu.RLock()
	names := append([]string(nil), h.byStream[stream]...)
	h.mu.RUnlock()

	for _, name := range names {
		m, err := h.manager(name)
		if err == nil {
			err = h.notify(ctx, m, name, version)
		}
		if err == nil {
			_, err = h.ContinueProjection(ctx, name)
		}
		if err != nil {
			h.logger.Error("projection_catch_up_failed", map[string]interface{}{
				"projection": name,
				"error":      err.Error(),
			})
		}
	}
}

func (h *Host) notify(ctx context.Context, m *projections.StateManager, name string, version int64) error {
	unlock, err := h.acquire(ctx, "projection."+name)
	if err != nil {
		return err
	}
	defer unlock()
	_, err = m.Notify(ctx, state.NewStore(h.backend), version)
	return err
}

// HandleReminder routes a due reminder to the command or projection it
// resumes.
func (h *Host) HandleReminder(ctx context.Context, r reminders.Reminder) error {
	ctx = r.Context(ctx)

	if strings.HasPrefix(r.Name, CommandReminderPrefix) {
		var command messages.Envelope
		if err := json.Unmarshal(r.Payload, &command); err != nil {
			return errs.Wrap(err, "decode command reminder", errs.WithKey(r.Name))
		}
		_, err := h.Execute(ctx, command)
		return err
	}

	p, err := projections.DecodeReminderPayload(r.Payload)
	if err != nil || p.Projection == "" {
		return errs.New(errs.ErrCodeUnsupported, "unknown reminder", errs.WithKey(r.Name))
	}
	_, err = h.ContinueProjection(ctx, p.Projection)
	return err
}
