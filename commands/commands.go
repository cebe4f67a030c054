// Package commands runs commands against aggregates exactly once per key,
// with policy-driven retry bookkeeping.
//
// Dispatch failures never escape Process: they become task transitions.
// A command whose retry budget is exhausted yields one
// CommandProcessingFailed event so callers always see a terminal outcome.
package commands

import (
	"context"
	"time"

	"github.com/vinayprograms/eventkit/messages"
)

// Aggregate is the state a command is applied to.
type Aggregate interface {
	// Apply folds one stored event into the aggregate.
	Apply(event messages.Envelope) error
}

// Dispatcher executes a command against an aggregate and returns the
// events it produced.
type Dispatcher interface {
	Do(ctx context.Context, command messages.Envelope, aggregate Aggregate) ([]messages.Envelope, error)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, command messages.Envelope, aggregate Aggregate) ([]messages.Envelope, error)

// Do calls f.
func (f DispatcherFunc) Do(ctx context.Context, command messages.Envelope, aggregate Aggregate) ([]messages.Envelope, error) {
	return f(ctx, command, aggregate)
}

// CommandProcessingFailedType is the envelope type of the synthesized failure event.
const CommandProcessingFailedType = "CommandProcessingFailed"

// CommandProcessingFailed is emitted once when a command is given up.
type CommandProcessingFailed struct {
	CommandID     string    `json:"commandId"`
	CommandType   string    `json:"commandType"`
	AggregateName string    `json:"aggregateName"`
	AggregateID   string    `json:"aggregateId"`
	Key           string    `json:"key"`
	Reason        string    `json:"reason"`
	Error         string    `json:"error,omitempty"`
	RetryCount    int       `json:"retryCount"`
	FailedDate    time.Time `json:"failedDate"`
}

// Register adds the failure event to a registry.
func Register(r *messages.Registry) error {
	return messages.RegisterType[CommandProcessingFailed](r, CommandProcessingFailedType, 1)
}
