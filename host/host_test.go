package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// counter is an aggregate whose value is the sum of Added events.
type counter struct{ total int }

func (c *counter) Apply(ev messages.Envelope) error {
	var p struct{ N int }
	if err := ev.Decode(&p); err != nil {
		return err
	}
	c.total += p.N
	return nil
}

type amount struct{ N int }

// dispatcher turns Add commands into Added events and fails while broken.
type dispatcher struct {
	mu     sync.Mutex
	broken bool
	seen   []int
}

func (d *dispatcher) setBroken(b bool) {
	d.mu.Lock()
	d.broken = b
	d.mu.Unlock()
}

func (d *dispatcher) Do(_ context.Context, cmd messages.Envelope, agg commands.Aggregate) ([]messages.Envelope, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.broken {
		return nil, errors.New("downstream unavailable")
	}
	d.seen = append(d.seen, agg.(*counter).total)

	var p amount
	if err := cmd.Decode(&p); err != nil {
		return nil, err
	}
	ev, err := messages.NewEnvelope("Added", 1, "", "", p)
	if err != nil {
		return nil, err
	}
	return []messages.Envelope{ev}, nil
}

type recordingReminders struct {
	mu         sync.Mutex
	registered map[string][]byte
	due        map[string]time.Duration
}

func newRecordingReminders() *recordingReminders {
	return &recordingReminders{registered: map[string][]byte{}, due: map[string]time.Duration{}}
}

func (r *recordingReminders) Register(_ context.Context, name string, payload []byte, due, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered[name] = payload
	r.due[name] = due
	return nil
}

func (r *recordingReminders) Unregister(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.registered, name)
	return nil
}

func (r *recordingReminders) get(name string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.registered[name]
	return p, ok
}

// totals is a projection summing Added events.
type totals struct {
	mu  sync.Mutex
	sum int
}

func (p *totals) Name() string { return "Totals" }

func (p *totals) Apply(_ context.Context, ev messages.Envelope) error {
	var a amount
	if err := ev.Decode(&a); err != nil {
		return err
	}
	p.mu.Lock()
	p.sum += a.N
	p.mu.Unlock()
	return nil
}

func (p *totals) value() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sum
}

type fixture struct {
	host       *Host
	backend    *state.MemoryBackend
	bus        *bus.MemoryBus
	events     bus.Subscription
	dispatcher *dispatcher
	reminders  *recordingReminders
	clock      *clock.Fake
}

func newFixture(t *testing.T, policy resiliency.Policy) *fixture {
	t.Helper()
	f := &fixture{
		backend:    state.NewMemoryBackend(),
		bus:        bus.NewMemoryBus(bus.DefaultConfig()),
		dispatcher: &dispatcher{},
		reminders:  newRecordingReminders(),
		clock:      clock.NewFake(t0),
	}
	t.Cleanup(func() {
		f.bus.Close()
		f.backend.Close()
	})

	var err error
	f.events, err = f.bus.Subscribe("events.>")
	require.NoError(t, err)

	f.host, err = New(Config{
		Backend:    f.backend,
		Dispatcher: f.dispatcher,
		Aggregates: func(string, string) (commands.Aggregate, error) {
			return &counter{}, nil
		},
		Bus:           f.bus,
		Reminders:     f.reminders,
		CommandPolicy: policy,
		Clock:         f.clock,
		Logger:        logging.Discard(),
	})
	require.NoError(t, err)
	return f
}

func retryPolicy() resiliency.Policy {
	return resiliency.Policy{
		MaximumRetries: 3,
		InitialPeriod:  time.Second,
		Period:         time.Second,
		Timeout:        time.Hour,
	}
}

func add(t *testing.T, n int) messages.Envelope {
	t.Helper()
	cmd, err := messages.NewEnvelope("Add", 1, "counter", "c1", amount{N: n})
	require.NoError(t, err)
	return cmd
}

func (f *fixture) version(t *testing.T) int64 {
	t.Helper()
	v, err := messages.NewStore[messages.Envelope](state.NewStore(f.backend), "counterc1").Version(context.Background())
	require.NoError(t, err)
	return v
}

func (f *fixture) published(t *testing.T) messages.Envelope {
	t.Helper()
	select {
	case msg := <-f.events.Messages():
		var ev messages.Envelope
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		assert.Equal(t, bus.EventSubject(ev.AggregateName), msg.Subject)
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event published")
		return messages.Envelope{}
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Config{})
	assert.True(t, errs.Is(err, errs.ErrCodeInvalidInput))
}

func TestExecute_RegistryRejectsUnknownCommands(t *testing.T) {
	registry := messages.NewRegistry()
	require.NoError(t, messages.RegisterType[amount](registry, "Add", 1))

	h, err := New(Config{
		Backend:    state.NewMemoryBackend(),
		Dispatcher: &dispatcher{},
		Aggregates: func(string, string) (commands.Aggregate, error) {
			return &counter{}, nil
		},
		Registry: registry,
	})
	require.NoError(t, err)
	assert.True(t, registry.Known(commands.CommandProcessingFailedType, 1))

	res, err := h.Execute(context.Background(), add(t, 1))
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusCompleted, res.Processor.Status)

	unknown, err := messages.NewEnvelope("Add", 2, "counter", "c1", amount{N: 1})
	require.NoError(t, err)
	_, err = h.Execute(context.Background(), unknown)
	assert.True(t, errs.Is(err, errs.ErrCodeUnsupported), "got %v", err)
}

func TestExecute_NilAggregateIsInternal(t *testing.T) {
	h, err := New(Config{
		Backend:    state.NewMemoryBackend(),
		Dispatcher: &dispatcher{},
		Aggregates: func(string, string) (commands.Aggregate, error) {
			return nil, nil
		},
	})
	require.NoError(t, err)

	_, err = h.Execute(context.Background(), add(t, 1))
	assert.True(t, errs.Is(err, errs.ErrCodeInternal), "got %v", err)
}

func TestExecute_AppendsAndPublishes(t *testing.T) {
	f := newFixture(t, retryPolicy())
	cmd := add(t, 5)

	res, err := f.host.Execute(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, tasks.StatusCompleted, res.Processor.Status)
	require.Len(t, res.Events, 1)
	assert.Equal(t, int64(1), f.version(t))

	ev := f.published(t)
	assert.Equal(t, "Added", ev.Type)
	assert.Equal(t, "counter", ev.AggregateName)
	assert.Equal(t, "c1", ev.AggregateID)
	assert.Equal(t, cmd.CorrelationID, ev.CorrelationID)
}

func TestExecute_RebuildsAggregateFromStream(t *testing.T) {
	f := newFixture(t, retryPolicy())
	ctx := context.Background()

	for _, n := range []int{2, 3, 4} {
		_, err := f.host.Execute(ctx, add(t, n))
		require.NoError(t, err)
	}

	assert.Equal(t, []int{0, 2, 5}, f.dispatcher.seen)
	assert.Equal(t, int64(3), f.version(t))
}

func TestExecute_SameCommandRunsOnce(t *testing.T) {
	f := newFixture(t, retryPolicy())
	ctx := context.Background()
	cmd := add(t, 1)

	_, err := f.host.Execute(ctx, cmd)
	require.NoError(t, err)
	res, err := f.host.Execute(ctx, cmd)
	require.NoError(t, err)

	assert.Empty(t, res.Events)
	assert.Equal(t, int64(1), f.version(t))
	assert.Len(t, f.dispatcher.seen, 1)
}

func TestExecute_SuspendedCommandGetsReminder(t *testing.T) {
	f := newFixture(t, retryPolicy())
	ctx := context.Background()
	cmd := add(t, 7)
	name := CommandReminderPrefix + CommandKey(cmd)

	f.dispatcher.setBroken(true)
	res, err := f.host.Execute(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusSuspended, res.Processor.Status)
	assert.Equal(t, int64(0), f.version(t))

	payload, ok := f.reminders.get(name)
	require.True(t, ok)
	assert.Equal(t, time.Second, f.reminders.due[name])

	// The reminder carries the command; replaying it after the retry
	// date completes the command and clears the reminder.
	f.dispatcher.setBroken(false)
	f.clock.Advance(2 * time.Second)
	require.NoError(t, f.host.HandleReminder(ctx, reminders.Reminder{Name: name, Payload: payload}))

	assert.Equal(t, int64(1), f.version(t))
	_, ok = f.reminders.get(name)
	assert.False(t, ok)
}

func TestExecute_GivenUpCommandPublishesFailure(t *testing.T) {
	f := newFixture(t, resiliency.None)
	f.dispatcher.setBroken(true)

	res, err := f.host.Execute(context.Background(), add(t, 1))
	require.NoError(t, err)

	assert.Equal(t, tasks.StatusCanceled, res.Processor.Status)
	assert.Equal(t, int64(0), f.version(t))

	ev := f.published(t)
	assert.Equal(t, commands.CommandProcessingFailedType, ev.Type)
	var failed commands.CommandProcessingFailed
	require.NoError(t, ev.Decode(&failed))
	assert.Equal(t, "downstream unavailable", failed.Reason)
}

func TestExecute_RejectsCommandWithoutAggregate(t *testing.T) {
	f := newFixture(t, retryPolicy())
	cmd, err := messages.NewEnvelope("Add", 1, "", "", amount{N: 1})
	require.NoError(t, err)

	_, err = f.host.Execute(context.Background(), cmd)
	assert.True(t, errs.Is(err, errs.ErrCodeInvalidInput))
}

func TestExecute_ConcurrentCommandsAreSerialized(t *testing.T) {
	f := newFixture(t, retryPolicy())
	ctx := context.Background()

	var wg sync.WaitGroup
	errCh := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cmd, err := messages.NewEnvelope("Add", 1, "counter", "c1", amount{N: 1})
			if err == nil {
				_, err = f.host.Execute(ctx, cmd)
			}
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(20), f.version(t))
}

func TestExecute_CatchesUpProjections(t *testing.T) {
	f := newFixture(t, retryPolicy())
	ctx := context.Background()
	p := &totals{}
	require.NoError(t, f.host.RegisterProjection(p, "counterc1", retryPolicy()))

	for _, n := range []int{1, 2, 3} {
		_, err := f.host.Execute(ctx, add(t, n))
		require.NoError(t, err)
	}

	assert.Equal(t, 6, p.value())
	st, err := f.host.ProjectionStatus(ctx, "Totals")
	require.NoError(t, err)
	assert.Equal(t, projections.State{EventStreamVersion: 3, LastEventDone: 3}, st)
}

func TestRegisterProjection_Duplicate(t *testing.T) {
	f := newFixture(t, retryPolicy())

	require.NoError(t, f.host.RegisterProjection(&totals{}, "counterc1", retryPolicy()))
	err := f.host.RegisterProjection(&totals{}, "counterc1", retryPolicy())
	assert.True(t, errs.Is(err, errs.ErrCodeAlreadyExists))
	assert.Equal(t, []string{"Totals"}, f.host.Projections())
}

func TestContinueProjection_Unknown(t *testing.T) {
	f := newFixture(t, retryPolicy())

	_, err := f.host.ContinueProjection(context.Background(), "Missing")
	assert.True(t, errs.Is(err, errs.ErrCodeNotFound))
}

func TestHandleReminder_Unknown(t *testing.T) {
	f := newFixture(t, retryPolicy())

	err := f.host.HandleReminder(context.Background(), reminders.Reminder{Name: "other", Payload: []byte("{}")})
	assert.True(t, errs.Is(err, errs.ErrCodeUnsupported))
}

func TestRun_HandlesProjectionReminders(t *testing.T) {
	f := newFixture(t, retryPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Events committed before the projection exists are picked up by the
	// reminder, not by Execute.
	for i := 0; i < 3; i++ {
		_, err := f.host.Execute(ctx, add(t, 1))
		require.NoError(t, err)
	}
	p := &totals{}
	require.NoError(t, f.host.RegisterProjection(p, "counterc1", retryPolicy()))

	done := make(chan error, 1)
	go func() { done <- f.host.Run(ctx, 2) }()

	require.Eventually(t, func() bool { return p.value() == 3 }, 2*time.Second, 10*time.Millisecond)

	data, err := json.Marshal(reminders.Reminder{
		Name:    projections.ReminderName("Totals"),
		Payload: []byte(fmt.Sprintf(`{"projection":%q,"stream":"counterc1"}`, "Totals")),
	})
	require.NoError(t, err)
	require.NoError(t, f.bus.Publish(bus.RemindersSubject, data))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Equal(t, 3, p.value())
}

func TestKeyedMutex_ContextCancel(t *testing.T) {
	m := newKeyedMutex()
	require.NoError(t, m.Lock(context.Background(), "k"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Lock(ctx, "k"), context.DeadlineExceeded)

	m.Unlock("k")
	require.NoError(t, m.Lock(context.Background(), "k"))
	m.Unlock("k")
	assert.Empty(t, m.locks)
}
