package projections

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vinayprograms/eventkit/clock"
	errs "github.com/vinayprograms/eventkit/errors"
	"github.com/vinayprograms/eventkit/logging"
	"github.com/vinayprograms/eventkit/messages"
	"github.com/vinayprograms/eventkit/resiliency"
	"github.com/vinayprograms/eventkit/state"
	"github.com/vinayprograms/eventkit/telemetry"
)

// reminderSlack is added to the retry date so the reminder fires after
// the event becomes retryable.
const reminderSlack = time.Second

// StateManager drives one projection over one event stream.
type StateManager struct {
	Projection Projection
	Stream     string
	Policy     resiliency.Policy
	Clock      clock.Clock
	Logger     *logging.Logger

	// MaxEventsPerCall bounds a Continue call; zero means unbounded.
	MaxEventsPerCall int
}

func (m *StateManager) clock() clock.Clock {
	if m.Clock == nil {
		return clock.System
	}
	return m.Clock
}

func (m *StateManager) logger() *logging.Logger {
	if m.Logger == nil {
		return logging.Discard()
	}
	return m.Logger
}

// Status returns the persisted State; a projection never run is zero.
func (m *StateManager) Status(ctx context.Context, provider state.Provider) (State, error) {
	var st State
	if _, err := provider.TryGetState(ctx, StateKey(m.Projection.Name()), &st); err != nil {
		return State{}, err
	}
	return st, nil
}

// Notify records that the stream has reached streamVersion. The recorded
// version only ever increases; the change is committed.
func (m *StateManager) Notify(ctx context.Context, provider state.Provider, streamVersion int64) (State, error) {
	st, err := m.Status(ctx, provider)
	if err != nil {
		return State{}, err
	}
	if streamVersion <= st.EventStreamVersion {
		return st, nil
	}
	st.EventStreamVersion = streamVersion
	if err := provider.SetState(ctx, StateKey(m.Projection.Name()), st); err != nil {
		return State{}, err
	}
	if err := provider.SaveChanges(ctx); err != nil {
		return State{}, err
	}
	return st, nil
}

// Continue applies pending events in order, committing after each one.
//
// It stops at the first event that must be retried later and registers the
// projection reminder for its retry date. When MaxEventsPerCall is reached
// the reminder is registered for MaximumExponentialPeriod. When the
// projection is caught up the reminder is unregistered. reminders may be
// nil.
func (m *StateManager) Continue(ctx context.Context, provider state.Provider, reminders Reminders) (State, error) {
	name := m.Projection.Name()
	ctx, span := telemetry.GetTracer().StartProjectionSpan(ctx, name)

	var (
		st       State
		applied  int
		retryAt  time.Time
		retrying bool
	)
	err := func() error {
		var err error
		st, err = m.Status(ctx, provider)
		if err != nil {
			return err
		}

		stream := messages.NewStore[messages.Envelope](provider, m.Stream)
		version, err := stream.Version(ctx)
		if err != nil {
			return err
		}
		if version > st.EventStreamVersion {
			st.EventStreamVersion = version
		}

		processor := &EventProcessor{Projection: m.Projection, Policy: m.Policy, Clock: m.clock()}
		for st.LastEventDone < st.EventStreamVersion {
			if m.MaxEventsPerCall > 0 && applied >= m.MaxEventsPerCall {
				break
			}

			event, err := stream.Get(ctx, st.LastEventDone+1)
			if err != nil {
				return err
			}
			res, err := processor.Apply(ctx, provider, event)
			if err != nil {
				return err
			}
			telemetry.ProjectionEventsTotal.WithLabelValues(name, res.Outcome.String()).Inc()

			if res.Outcome == Retry {
				if err := provider.SaveChanges(ctx); err != nil {
					return err
				}
				retryAt = res.RetryAt
				retrying = true
				break
			}
			if res.Outcome == Skipped {
				m.logger().Warn("projection_event_skipped", map[string]interface{}{
					"projection": name,
					"version":    st.LastEventDone + 1,
					"event":      event.ID,
				})
			}

			st.LastEventDone++
			if err := provider.SetState(ctx, StateKey(name), st); err != nil {
				return err
			}
			if err := provider.SaveChanges(ctx); err != nil {
				return err
			}
			applied++
		}

		return m.schedule(ctx, reminders, st, retrying, retryAt)
	}()

	telemetry.GetTracer().EndProjectionSpan(span, telemetry.ProjectionSpanOptions{
		LastEventDone:      st.LastEventDone,
		EventStreamVersion: st.EventStreamVersion,
		Applied:            applied,
		Retrying:           retrying,
	}, err)
	if err != nil {
		return st, err
	}
	m.logger().ProjectionProgress(name, st.LastEventDone, st.EventStreamVersion)
	return st, nil
}

func (m *StateManager) schedule(ctx context.Context, reminders Reminders, st State, retrying bool, retryAt time.Time) error {
	if reminders == nil {
		return nil
	}
	name := ReminderName(m.Projection.Name())
	period := m.Policy.MaximumExponentialPeriod

	var due time.Duration
	switch {
	case retrying:
		due = retryAt.Sub(m.clock().Now()) + reminderSlack
		if due < reminderSlack {
			due = reminderSlack
		}
	case st.LastEventDone < st.EventStreamVersion:
		due = m.Policy.MaximumExponentialPeriod
	default:
		if err := reminders.Unregister(ctx, name); err != nil {
			return errs.Wrap(err, "unregister projection reminder", errs.WithKey(name))
		}
		return nil
	}

	payload, err := json.Marshal(ReminderPayload{Projection: m.Projection.Name(), Stream: m.Stream})
	if err != nil {
		return err
	}
	if err := reminders.Register(ctx, name, payload, due, period); err != nil {
		return errs.Wrap(err, "register projection reminder", errs.WithKey(name))
	}
	m.logger().ReminderScheduled(name, due, period)
	return nil
}
