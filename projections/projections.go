// Package projections replays an event stream into a projection one event
// at a time, with the same retry machinery as commands.
//
// Progress is a State persisted under {Projection}ProjectionState and
// committed after every event, so LastEventDone is the single resumption
// point after a crash or a failed event. Resumption after a failure is
// driven by a reminder named {Projection}ProjectionReminder.
package projections

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vinayprograms/eventkit/messages"
)

// State is the catch-up position of a projection.
// LastEventDone never exceeds EventStreamVersion.
type State struct {
	EventStreamVersion int64 `json:"eventStreamVersion"`
	LastEventDone      int64 `json:"lastEventDone"`
}

// Pending returns the number of known events not yet applied.
func (s State) Pending() int64 {
	return s.EventStreamVersion - s.LastEventDone
}

// StateKey is the state key of the projection's State.
func StateKey(projection string) string {
	return projection + "ProjectionState"
}

// ReminderName is the reminder that resumes the projection.
func ReminderName(projection string) string {
	return projection + "ProjectionReminder"
}

// Projection applies events to a read model.
type Projection interface {
	Name() string
	Apply(ctx context.Context, event messages.Envelope) error
}

type funcProjection struct {
	name string
	fn   func(ctx context.Context, event messages.Envelope) error
}

func (p funcProjection) Name() string { return p.name }

func (p funcProjection) Apply(ctx context.Context, event messages.Envelope) error {
	return p.fn(ctx, event)
}

// ProjectionFunc builds a Projection from a function.
func ProjectionFunc(name string, fn func(ctx context.Context, event messages.Envelope) error) Projection {
	return funcProjection{name: name, fn: fn}
}

// Reminders schedules wake-ups for the catch-up loop.
type Reminders interface {
	Register(ctx context.Context, name string, payload []byte, dueTime, period time.Duration) error
	Unregister(ctx context.Context, name string) error
}

// ReminderPayload identifies the projection a reminder resumes.
type ReminderPayload struct {
	Projection string `json:"projection"`
	Stream     string `json:"stream"`
}

// DecodeReminderPayload parses a payload produced by the state manager.
func DecodeReminderPayload(data []byte) (ReminderPayload, error) {
	var p ReminderPayload
	err := json.Unmarshal(data, &p)
	return p, err
}
