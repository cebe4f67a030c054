// Package reminders schedules named wake-ups and delivers them on the bus.
//
// A reminder fires once after its due time and then every period when
// the period is positive. Registering a name again replaces its schedule.
// Due reminders are published as JSON on bus.RemindersSubject, where a
// host queue-subscribes to them.
//
// Timers live in the process that registered them. A host that restarts
// resumes its projections on startup instead of relying on reminders
// registered before the crash.
package reminders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vinayprograms/eventkit/telemetry"
)

// Reminder is the message published when a reminder is due.
type Reminder struct {
	Name    string            `json:"name"`
	Payload []byte            `json:"payload,omitempty"`
	DueAt   time.Time         `json:"dueAt"`
	Period  time.Duration     `json:"period,omitempty"`
	Trace   map[string]string `json:"trace,omitempty"`
}

// Context returns ctx carrying the trace of the registration.
func (r Reminder) Context(ctx context.Context) context.Context {
	if len(r.Trace) == 0 {
		return ctx
	}
	return telemetry.ExtractContext(ctx, telemetry.MapCarrier(r.Trace))
}

// Decode parses a published reminder.
func Decode(data []byte) (Reminder, error) {
	var r Reminder
	if err := json.Unmarshal(data, &r); err != nil {
		return Reminder{}, err
	}
	return r, nil
}

// Scheduler registers and removes reminders.
type Scheduler interface {
	Register(ctx context.Context, name string, payload []byte, dueTime, period time.Duration) error
	Unregister(ctx context.Context, name string) error
}
