package projections

import (
	"context"
	"time"

	"github.com/vinayprograms/eventkit/clock"
	errs "github.com/vinayprograms/eventkit/errors"
	"github.com/vinayprograms/eventkit/messages"
	"github.com/vinayprograms/eventkit/resiliency"
	"github.com/vinayprograms/eventkit/state"
	"github.com/vinayprograms/eventkit/tasks"
)

// Outcome classifies one event application.
type Outcome int

const (
	// Done means the event was applied, now or in an earlier call.
	Done Outcome = iota
	// Skipped means the event exhausted its retries and was given up.
	Skipped
	// Retry means the event failed and must be retried at RetryAt.
	Retry
)

func (o Outcome) String() string {
	switch o {
	case Done:
		return "done"
	case Skipped:
		return "skipped"
	case Retry:
		return "retry"
	default:
		return "unknown"
	}
}

// Result is the outcome of EventProcessor.Apply.
type Result struct {
	Outcome   Outcome
	RetryAt   time.Time
	Processor tasks.TaskProcessor
}

// EventProcessor applies one event to a projection under a task processor
// keyed by projection and event id.
type EventProcessor struct {
	Projection Projection
	Policy     resiliency.Policy
	Clock      clock.Clock
}

// TaskKey is the task key for event in projection.
func TaskKey(projection, eventID string) string {
	return projection + "." + eventID
}

// Apply runs the projection for event. Projection errors become task
// transitions; only state store errors are returned. The task processor
// is staged in provider, not committed.
func (p *EventProcessor) Apply(ctx context.Context, provider state.Provider, event messages.Envelope) (Result, error) {
	c := p.Clock
	if c == nil {
		c = clock.System
	}
	now := c.Now()
	key := TaskKey(p.Projection.Name(), event.ID)

	tp, err := tasks.LoadOrNew(ctx, provider, key, p.Policy, now)
	if err != nil {
		return Result{}, err
	}

	switch {
	case tp.Status == tasks.StatusCompleted:
		return Result{Outcome: Done, Processor: tp}, nil
	case tp.Status == tasks.StatusCanceled:
		return Result{Outcome: Skipped, Processor: tp}, nil
	case tp.Status == tasks.StatusSuspended:
		if tp.CanRetry(now) != resiliency.Enabled {
			return Result{Outcome: Retry, RetryAt: *tp.RetryDate(), Processor: tp}, nil
		}
		tp, err = tp.Retry(now)
	case tp.Status == tasks.StatusNew:
		tp, err = tp.Start(now)
	}
	if err != nil {
		return Result{Processor: tp}, err
	}

	applyErr := p.apply(ctx, event)
	now = c.Now()

	var res Result
	if applyErr == nil {
		tp = tp.Complete(now)
		res = Result{Outcome: Done}
	} else {
		tp, err = tp.Fail(now, applyErr.Error(), string(errs.Code(applyErr)))
		if err != nil {
			return Result{Processor: tp}, err
		}
		if tp.Status == tasks.StatusCanceled {
			res = Result{Outcome: Skipped}
		} else {
			res = Result{Outcome: Retry, RetryAt: *tp.RetryDate()}
		}
	}
	res.Processor = tp

	if err := tasks.Save(ctx, provider, key, tp); err != nil {
		return res, err
	}
	return res, nil
}

func (p *EventProcessor) apply(ctx context.Context, event messages.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.RecoverPanic(r)
		}
	}()
	return p.Projection.Apply(ctx, event)
}
