package reminders

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/vinayprograms/eventkit/bus"
	"github.com/vinayprograms/eventkit/clock"
	errs "github.com/vinayprograms/eventkit/errors"
	"github.com/vinayprograms/eventkit/logging"
	"github.com/vinayprograms/eventkit/telemetry"
)

// BusScheduler runs reminders on in-process timers and publishes them on
// a MessageBus.
type BusScheduler struct {
	bus    bus.MessageBus
	clock  clock.Clock
	logger *logging.Logger

	mu      sync.Mutex
	entries map[string]*entry
	seq     uint64
	closed  bool
}

type entry struct {
	reminder Reminder
	timer    *time.Timer
	gen      uint64
}

// NewBusScheduler creates a scheduler publishing on b.
func NewBusScheduler(b bus.MessageBus, logger *logging.Logger) *BusScheduler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &BusScheduler{
		bus:     b,
		clock:   clock.System,
		logger:  logger.WithComponent("reminders"),
		entries: make(map[string]*entry),
	}
}

// Register schedules name to fire after dueTime and then every period.
// A negative dueTime fires immediately.
func (s *BusScheduler) Register(ctx context.Context, name string, payload []byte, dueTime, period time.Duration) error {
	if name == "" {
		return errs.InvalidInput("reminder name is required")
	}
	if period < 0 {
		return errs.InvalidInput("reminder period must not be negative", errs.WithKey(name))
	}
	if dueTime < 0 {
		dueTime = 0
	}

	trace := telemetry.MapCarrier{}
	telemetry.InjectContext(ctx, trace)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.New(errs.ErrCodeUnavailable, "reminder scheduler closed", errs.WithKey(name))
	}

	if old := s.entries[name]; old != nil {
		old.timer.Stop()
	}
	s.seq++
	e := &entry{
		reminder: Reminder{
			Name:    name,
			Payload: append([]byte(nil), payload...),
			DueAt:   s.clock.Now().Add(dueTime),
			Period:  period,
			Trace:   trace,
		},
		gen: s.seq,
	}
	e.timer = time.AfterFunc(dueTime, func() { s.fire(name, e.gen) })
	s.entries[name] = e

	telemetry.RemindersTotal.WithLabelValues("register").Inc()
	s.logger.ReminderScheduled(name, dueTime, period)
	return nil
}

// Unregister removes name. Unknown names are ignored.
func (s *BusScheduler) Unregister(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.entries[name]; e != nil {
		e.timer.Stop()
		delete(s.entries, name)
		telemetry.RemindersTotal.WithLabelValues("unregister").Inc()
	}
	return nil
}

// Registered returns the pending reminder for name.
func (s *BusScheduler) Registered(name string) (Reminder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return Reminder{}, false
	}
	return e.reminder, true
}

// Len returns the number of registered reminders.
func (s *BusScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops every timer. Later registrations fail.
func (s *BusScheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, name)
	}
	s.closed = true
	return nil
}

func (s *BusScheduler) fire(name string, gen uint64) {
	s.mu.Lock()
	e := s.entries[name]
	if e == nil || e.gen != gen || s.closed {
		s.mu.Unlock()
		return
	}
	due := e.reminder
	if due.Period > 0 {
		e.reminder.DueAt = s.clock.Now().Add(due.Period)
		e.timer = time.AfterFunc(due.Period, func() { s.fire(name, gen) })
	} else {
		delete(s.entries, name)
	}
	s.mu.Unlock()

	data, err := json.Marshal(due)
	if err == nil {
		err = s.bus.Publish(bus.RemindersSubject, data)
	}
	if err != nil {
		s.logger.Error("reminder_publish_failed", map[string]interface{}{
			"reminder": name,
			"error":    err.Error(),
		})
		return
	}
	telemetry.RemindersTotal.WithLabelValues("fire").Inc()
}
