package tasks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/vinayprograms/eventkit/errors"
	"github.com/vinayprograms/eventkit/resiliency"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func retryPolicy() resiliency.Policy {
	return resiliency.Policy{
		MaximumRetries:           3,
		InitialPeriod:            time.Second,
		Period:                   2 * time.Second,
		Timeout:                  time.Hour,
		MaximumExponentialPeriod: time.Minute,
		Exponential:              true,
	}
}

func mustStart(t *testing.T, p TaskProcessor, now time.Time) TaskProcessor {
	t.Helper()
	p, err := p.Start(now)
	require.NoError(t, err)
	return p
}

func requireTransitionError(t *testing.T, err error) {
	t.Helper()
	require.True(t, errs.Is(err, errs.ErrCodeInvalidTransition), "expected INVALID_TRANSITION, got %v", err)
}

// ============================================================================
// LEVEL 1: Transitions
// ============================================================================

func TestStart(t *testing.T) {
	p := New(retryPolicy(), t0)
	require.Equal(t, StatusNew, p.Status)

	started := mustStart(t, p, t0.Add(time.Second))
	assert.Equal(t, StatusActive, started.Status)
	require.NotNil(t, started.History.ProcessingStartDate, "ProcessingStartDate not stamped")
	assert.True(t, started.History.ProcessingStartDate.Equal(t0.Add(time.Second)))
	assert.Equal(t, StatusNew, p.Status, "Start mutated the receiver")
}

func TestStart_NotNew(t *testing.T) {
	p := mustStart(t, New(retryPolicy(), t0), t0)

	again, err := p.Start(t0)
	requireTransitionError(t, err)
	assert.Equal(t, StatusActive, again.Status, "processor changed on invalid start")
}

func TestFail_Suspends(t *testing.T) {
	p := mustStart(t, New(retryPolicy(), t0), t0)

	failed, err := p.Fail(t0.Add(100*time.Millisecond), "boom", "stack")
	require.NoError(t, err)
	require.Equal(t, StatusSuspended, failed.Status)
	assert.Equal(t, 1, failed.RetryCount)
	require.NotNil(t, failed.Failure, "failure not recorded")
	assert.Equal(t, "boom", failed.Failure.Reason)
	assert.Equal(t, "stack", failed.Failure.Error)

	due := failed.RetryDate()
	require.NotNil(t, due)
	assert.True(t, due.Equal(t0.Add(1100*time.Millisecond)), "unexpected retry date %v", due)
	assert.Equal(t, resiliency.Suspended, failed.CanRetry(t0.Add(time.Second)), "before due")
	assert.Equal(t, resiliency.Enabled, failed.CanRetry(t0.Add(2*time.Second)), "after due")
}

func TestFail_NonePolicyCancels(t *testing.T) {
	p := mustStart(t, New(resiliency.None, t0), t0)

	failed, err := p.Fail(t0, "boom", "")
	require.NoError(t, err)
	require.Equal(t, StatusCanceled, failed.Status)
	assert.NotNil(t, failed.History.CanceledDate, "CanceledDate not stamped")
	assert.Nil(t, failed.RetryDate(), "RetryDate must be nil unless Suspended")
	assert.NotNil(t, failed.Failure, "failure not recorded")
}

func TestFail_RetriesExhausted(t *testing.T) {
	p := mustStart(t, New(retryPolicy(), t0), t0)
	now := t0

	for i := 1; i <= 3; i++ {
		var err error
		p, err = p.Fail(now, "boom", "")
		require.NoError(t, err, "Fail %d", i)
		require.Equal(t, StatusSuspended, p.Status, "attempt %d", i)
		now = *p.RetryDate()
		p, err = p.Retry(now)
		require.NoError(t, err, "Retry %d", i)
	}

	p, _ = p.Fail(now, "boom", "")
	assert.Equal(t, StatusCanceled, p.Status, "expected Canceled after exceeding retries")
	assert.Equal(t, 4, p.RetryCount)
}

func TestFail_TimeoutExhausted(t *testing.T) {
	policy := retryPolicy()
	policy.Timeout = time.Minute
	p := mustStart(t, New(policy, t0), t0)

	p, _ = p.Fail(t0.Add(2*time.Minute), "slow", "")
	assert.Equal(t, StatusCanceled, p.Status, "expected Canceled after timeout")
}

func TestFail_NotActive(t *testing.T) {
	p := New(retryPolicy(), t0)
	_, err := p.Fail(t0, "boom", "")
	requireTransitionError(t, err)
}

func TestRetry_KeepsStartDate(t *testing.T) {
	p := mustStart(t, New(retryPolicy(), t0), t0)
	p, _ = p.Fail(t0, "boom", "")

	retried, err := p.Retry(t0.Add(5 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, StatusActive, retried.Status)
	assert.True(t, retried.History.ProcessingStartDate.Equal(t0), "ProcessingStartDate moved to %v", retried.History.ProcessingStartDate)

	_, err = retried.Retry(t0)
	requireTransitionError(t, err)
}

func TestComplete(t *testing.T) {
	p := mustStart(t, New(retryPolicy(), t0), t0)

	done := p.Complete(t0.Add(time.Second))
	assert.Equal(t, StatusCompleted, done.Status)
	assert.NotNil(t, done.History.CompletedDate, "CompletedDate not stamped")
	assert.Equal(t, resiliency.Stopped, done.CanRetry(t0), "terminal processor must report Stopped")
}

func TestComplete_CanceledUnchanged(t *testing.T) {
	p := New(retryPolicy(), t0).Cancel(t0)

	got := p.Complete(t0.Add(time.Second))
	assert.Equal(t, p, got, "Complete changed a canceled processor")
	assert.Nil(t, got.History.CompletedDate, "canceled processor gained a CompletedDate")
}

func TestCancel(t *testing.T) {
	active := mustStart(t, New(retryPolicy(), t0), t0)
	suspended, _ := active.Fail(t0, "boom", "")

	for _, p := range []TaskProcessor{New(retryPolicy(), t0), active, suspended} {
		assert.Equal(t, StatusCanceled, p.Cancel(t0).Status, "Cancel from %s", p.Status)
	}
}

// ============================================================================
// LEVEL 2: Terminal states are sticky
// ============================================================================

func TestTerminalStatesAreSticky(t *testing.T) {
	canceled := New(retryPolicy(), t0).Cancel(t0)
	completed := mustStart(t, New(retryPolicy(), t0), t0).Complete(t0)

	ops := []func(TaskProcessor) TaskProcessor{
		func(p TaskProcessor) TaskProcessor { q, _ := p.Start(t0); return q },
		func(p TaskProcessor) TaskProcessor { q, _ := p.Retry(t0); return q },
		func(p TaskProcessor) TaskProcessor { q, _ := p.Fail(t0, "x", ""); return q },
		func(p TaskProcessor) TaskProcessor { return p.Complete(t0) },
		func(p TaskProcessor) TaskProcessor { return p.Cancel(t0) },
	}

	for _, start := range []TaskProcessor{canceled, completed} {
		p := start
		for round := 0; round < 3; round++ {
			for _, op := range ops {
				p = op(p)
				require.Equal(t, start.Status, p.Status, "%s moved", start.Status)
			}
		}
		assert.False(t, p.History.CanceledDate != nil && p.History.CompletedDate != nil, "both terminal dates set: %+v", p.History)
	}
}

func TestHistory_TerminalStampNotOverwritten(t *testing.T) {
	h := NewHistory(t0).Canceled(t0.Add(time.Second))
	h = h.Completed(t0.Add(2 * time.Second)).Canceled(t0.Add(3 * time.Second))

	assert.Nil(t, h.CompletedDate, "completed date set after cancel")
	assert.True(t, h.CanceledDate.Equal(t0.Add(time.Second)), "canceled date overwritten: %v", h.CanceledDate)
	assert.True(t, h.CreatedDate.Equal(t0), "created date changed: %v", h.CreatedDate)
}

func TestHistory_StartDate(t *testing.T) {
	h := NewHistory(t0)
	assert.True(t, h.StartDate().Equal(t0), "expected created date, got %v", h.StartDate())
	h = h.Started(t0.Add(time.Minute))
	assert.True(t, h.StartDate().Equal(t0.Add(time.Minute)), "expected processing start, got %v", h.StartDate())
}

func TestStatus_IsTerminal(t *testing.T) {
	tests := map[Status]bool{
		StatusNew:       false,
		StatusActive:    false,
		StatusSuspended: false,
		StatusCanceled:  true,
		StatusCompleted: true,
	}
	for s, want := range tests {
		assert.Equal(t, want, s.IsTerminal(), "%s.IsTerminal()", s)
	}
}
