package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/vinayprograms/eventkit/clock"
	errs "github.com/vinayprograms/eventkit/errors"
	"github.com/vinayprograms/eventkit/logging"
	"github.com/vinayprograms/eventkit/messages"
	"github.com/vinayprograms/eventkit/resiliency"
	"github.com/vinayprograms/eventkit/state"
	"github.com/vinayprograms/eventkit/tasks"
	"github.com/vinayprograms/eventkit/telemetry"
)

// Result is the outcome of one Process call.
type Result struct {
	// Processor is the task state after the call.
	Processor tasks.TaskProcessor

	// Events are the dispatcher's events on success, a single
	// CommandProcessingFailed when the command was given up, or nothing.
	Events []messages.Envelope
}

// Processor is the resilient command processor.
type Processor struct {
	Policy     resiliency.Policy
	Dispatcher Dispatcher
	Clock      clock.Clock
	Logger     *logging.Logger
}

func (p *Processor) now() time.Time {
	if p.Clock == nil {
		return clock.System.Now()
	}
	return p.Clock.Now()
}

func (p *Processor) logger() *logging.Logger {
	if p.Logger == nil {
		return logging.Discard()
	}
	return p.Logger
}

// Process runs command for key against aggregate.
//
// The task processor for key is loaded (or created with p.Policy), advanced,
// and staged in provider without committing. A terminal task, or a
// suspended one whose retry date has not passed, is returned unchanged with
// no events. Only state store errors are returned.
func (p *Processor) Process(ctx context.Context, provider state.Provider, key string, command messages.Envelope, aggregate Aggregate) (Result, error) {
	ctx, span := telemetry.GetTracer().StartCommandSpan(ctx, command.Type, key)
	logger := p.logger()
	if sc := span.SpanContext(); sc.HasTraceID() {
		logger = logger.WithTraceID(sc.TraceID().String())
	}
	res, err := p.process(ctx, logger, provider, key, command, aggregate)
	telemetry.GetTracer().EndCommandSpan(span, telemetry.CommandSpanOptions{
		Status:     res.Processor.Status.String(),
		RetryCount: res.Processor.RetryCount,
		Events:     len(res.Events),
		Payload:    string(command.Payload),
	}, err)
	return res, err
}

func (p *Processor) process(ctx context.Context, logger *logging.Logger, provider state.Provider, key string, command messages.Envelope, aggregate Aggregate) (Result, error) {
	now := p.now()
	tp, err := tasks.LoadOrNew(ctx, provider, key, p.Policy, now)
	if err != nil {
		return Result{}, err
	}

	switch {
	case tp.Status.IsTerminal():
		return Result{Processor: tp}, nil
	case tp.Status == tasks.StatusSuspended:
		if tp.CanRetry(now) != resiliency.Enabled {
			return Result{Processor: tp}, nil
		}
		tp, err = tp.Retry(now)
	case tp.Status == tasks.StatusNew:
		tp, err = tp.Start(now)
	}
	if err != nil {
		return Result{Processor: tp}, err
	}

	started := time.Now()
	events, dispatchErr := p.dispatch(ctx, command, aggregate)
	elapsed := time.Since(started)
	telemetry.CommandDispatchSeconds.Observe(elapsed.Seconds())

	now = p.now()
	var out []messages.Envelope
	if dispatchErr == nil {
		tp = tp.Complete(now)
		out = events
	} else {
		tp, err = tp.Fail(now, dispatchErr.Error(), detail(dispatchErr))
		if err != nil {
			return Result{Processor: tp}, err
		}
		if tp.Status == tasks.StatusCanceled {
			failed, err := failureEvent(key, command, tp)
			if err != nil {
				return Result{Processor: tp}, err
			}
			out = []messages.Envelope{failed}
		}
	}

	if err := tasks.Save(ctx, provider, key, tp); err != nil {
		return Result{Processor: tp}, err
	}

	telemetry.CommandsTotal.WithLabelValues(tp.Status.String()).Inc()
	logger.CommandProcessed(key, command.Type, tp.Status.String(), tp.RetryCount, elapsed)
	if dispatchErr != nil {
		logger.Debug("command_dispatch_failed", map[string]interface{}{
			"key":   key,
			"error": dispatchErr.Error(),
		})
	}

	return Result{Processor: tp, Events: out}, nil
}

// dispatch calls the dispatcher, turning a panic into an error.
func (p *Processor) dispatch(ctx context.Context, command messages.Envelope, aggregate Aggregate) (events []messages.Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			events = nil
			err = errs.RecoverPanic(r)
		}
	}()
	if p.Dispatcher == nil {
		return nil, errs.New(errs.ErrCodeCommandFailed, "no dispatcher configured")
	}
	return p.Dispatcher.Do(ctx, command, aggregate)
}

// detail renders the error with its code when it is a structured error.
func detail(err error) string {
	if e := errs.As(err); e != nil {
		return fmt.Sprintf("%s: %+v", e.Code(), e.Metadata())
	}
	return fmt.Sprintf("%T", err)
}

func failureEvent(key string, command messages.Envelope, tp tasks.TaskProcessor) (messages.Envelope, error) {
	payload := CommandProcessingFailed{
		CommandID:     command.ID,
		CommandType:   command.Type,
		AggregateName: command.AggregateName,
		AggregateID:   command.AggregateID,
		Key:           key,
		RetryCount:    tp.RetryCount,
	}
	if tp.Failure != nil {
		payload.Reason = tp.Failure.Reason
		payload.Error = tp.Failure.Error
		payload.FailedDate = tp.Failure.Date
	}

	env, err := messages.NewEnvelope(CommandProcessingFailedType, 1, command.AggregateName, command.AggregateID, payload)
	if err != nil {
		return messages.Envelope{}, err
	}
	return env.CausedBy(command), nil
}
