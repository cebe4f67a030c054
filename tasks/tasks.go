package tasks

import (
	"time"

	errs "github.com/vinayprograms/eventkit/errors"
	"github.com/vinayprograms/eventkit/resiliency"
)

// Status represents the current state of a task.
type Status string

const (
	// StatusNew indicates the task has never been attempted.
	StatusNew Status = "New"

	// StatusActive indicates an attempt is in progress.
	StatusActive Status = "Active"

	// StatusSuspended indicates the last attempt failed and a retry is pending.
	StatusSuspended Status = "Suspended"

	// StatusCanceled indicates the task was given up.
	StatusCanceled Status = "Canceled"

	// StatusCompleted indicates the task succeeded.
	StatusCompleted Status = "Completed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusCanceled || s == StatusCompleted
}

// Failure describes the last failed attempt.
type Failure struct {
	Reason string    `json:"reason"`
	Error  string    `json:"error,omitempty"`
	Date   time.Time `json:"date"`
}

// TaskProcessor is the retry state machine for one task.
type TaskProcessor struct {
	Status     Status            `json:"status"`
	History    History           `json:"history"`
	Policy     resiliency.Policy `json:"policy"`
	Failure    *Failure          `json:"failure,omitempty"`
	RetryCount int               `json:"retryCount"`
}

// New creates a processor in status New.
func New(policy resiliency.Policy, now time.Time) TaskProcessor {
	return TaskProcessor{
		Status:  StatusNew,
		History: NewHistory(now),
		Policy:  policy,
	}
}

// Start moves a New processor to Active.
func (p TaskProcessor) Start(now time.Time) (TaskProcessor, error) {
	if p.Status != StatusNew {
		return p, errs.InvalidTransition("start", p.Status.String())
	}
	p.Status = StatusActive
	p.History = p.History.Started(now)
	return p, nil
}

// Retry moves a Suspended processor back to Active for its next attempt.
// ProcessingStartDate is kept so the timeout spans every attempt.
func (p TaskProcessor) Retry(now time.Time) (TaskProcessor, error) {
	if p.Status != StatusSuspended {
		return p, errs.InvalidTransition("retry", p.Status.String())
	}
	p.Status = StatusActive
	if p.History.ProcessingStartDate == nil {
		p.History = p.History.Started(now)
	}
	return p, nil
}

// Fail records a failed attempt. The processor becomes Suspended if the
// policy allows another attempt and Canceled otherwise.
func (p TaskProcessor) Fail(now time.Time, reason, detail string) (TaskProcessor, error) {
	if p.Status != StatusActive {
		return p, errs.InvalidTransition("fail", p.Status.String())
	}
	p.RetryCount++
	p.Failure = &Failure{Reason: reason, Error: detail, Date: now}

	if p.Policy.CanRetry(now, p.History.StartDate(), p.RetryCount) == resiliency.Stopped {
		p.Status = StatusCanceled
		p.History = p.History.Canceled(now)
		return p, nil
	}
	p.Status = StatusSuspended
	p.History = p.History.Suspended(now)
	return p, nil
}

// Complete marks the processor Completed. Terminal processors are returned
// unchanged.
func (p TaskProcessor) Complete(now time.Time) TaskProcessor {
	if p.Status.IsTerminal() {
		return p
	}
	p.Status = StatusCompleted
	p.History = p.History.Completed(now)
	return p
}

// Cancel aborts the processor. Terminal processors are returned unchanged.
func (p TaskProcessor) Cancel(now time.Time) TaskProcessor {
	if p.Status.IsTerminal() {
		return p
	}
	p.Status = StatusCanceled
	p.History = p.History.Canceled(now)
	return p
}

// RetryDate is when a Suspended processor may run again; nil otherwise.
func (p TaskProcessor) RetryDate() *time.Time {
	if p.Status != StatusSuspended || p.History.SuspendedDate == nil {
		return nil
	}
	return stamp(p.Policy.NextRetryTime(*p.History.SuspendedDate, p.RetryCount))
}

// CanRetry reports whether the next attempt may run at now.
func (p TaskProcessor) CanRetry(now time.Time) resiliency.RetryState {
	switch p.Status {
	case StatusCanceled, StatusCompleted:
		return resiliency.Stopped
	case StatusSuspended:
		if due := p.RetryDate(); due != nil && due.After(now) {
			return resiliency.Suspended
		}
		return resiliency.Enabled
	default:
		return resiliency.Enabled
	}
}
