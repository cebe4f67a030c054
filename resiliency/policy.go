package resiliency

import (
	"math"
	"time"

	errs "github.com/vinayprograms/eventkit/errors"
)

// RetryState is the outcome of a retry eligibility check.
type RetryState int

const (
	// Enabled means the next attempt may run now.
	Enabled RetryState = iota
	// Suspended means the next attempt must wait for its retry time.
	Suspended
	// Stopped means the retry budget or timeout is exhausted.
	Stopped
)

func (s RetryState) String() string {
	switch s {
	case Enabled:
		return "Enabled"
	case Suspended:
		return "Suspended"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Policy describes how failed work is retried.
type Policy struct {
	MaximumRetries           int           `json:"maximumRetries"`
	InitialPeriod            time.Duration `json:"initialPeriod"`
	Period                   time.Duration `json:"period"`
	Timeout                  time.Duration `json:"timeout"`
	MaximumExponentialPeriod time.Duration `json:"maximumExponentialPeriod"`
	Exponential              bool          `json:"exponential"`
}

// None never retries: the first failure is final.
var None = Policy{}

// New builds a validated policy.
func New(maxRetries int, initial, period, timeout, maxPeriod time.Duration, exponential bool) (Policy, error) {
	p := Policy{
		MaximumRetries:           maxRetries,
		InitialPeriod:            initial,
		Period:                   period,
		Timeout:                  timeout,
		MaximumExponentialPeriod: maxPeriod,
		Exponential:              exponential,
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// CreateDefaultExponentialRetry returns the default exponential backoff policy.
func CreateDefaultExponentialRetry() Policy {
	return Policy{
		MaximumRetries:           10,
		InitialPeriod:            time.Second,
		Period:                   2 * time.Second,
		Timeout:                  time.Hour,
		MaximumExponentialPeriod: 5 * time.Minute,
		Exponential:              true,
	}
}

// CreateDefaultLinearRetry returns the default linear backoff policy.
func CreateDefaultLinearRetry() Policy {
	return Policy{
		MaximumRetries:           5,
		InitialPeriod:            time.Second,
		Period:                   10 * time.Second,
		Timeout:                  10 * time.Minute,
		MaximumExponentialPeriod: time.Minute,
	}
}

// Validate checks that no field is negative.
func (p Policy) Validate() error {
	switch {
	case p.MaximumRetries < 0:
		return errs.InvalidInput("maximum retries must not be negative")
	case p.InitialPeriod < 0:
		return errs.InvalidInput("initial period must not be negative")
	case p.Period < 0:
		return errs.InvalidInput("period must not be negative")
	case p.Timeout < 0:
		return errs.InvalidInput("timeout must not be negative")
	case p.MaximumExponentialPeriod < 0:
		return errs.InvalidInput("maximum exponential period must not be negative")
	}
	return nil
}

// IsNone reports whether the policy never retries.
func (p Policy) IsNone() bool {
	return p == None
}

// EvaluatePeriod returns the wait before attempt retryCount.
//
// Exponential: the wait for count n>1 is the wait for n-1 plus an increment
// that starts at Period and grows by Period each step (5, 15, 35, 65 ms for
// Initial=5ms, Period=10ms), capped at MaximumExponentialPeriod when set.
// Linear: InitialPeriod + Period*(n-1). Results are whole milliseconds and
// clamp instead of overflowing.
func (p Policy) EvaluatePeriod(retryCount int) time.Duration {
	initial := p.InitialPeriod.Milliseconds()
	period := p.Period.Milliseconds()
	limit := int64(math.MaxInt64 / int64(time.Millisecond))
	if p.MaximumExponentialPeriod > 0 {
		limit = p.MaximumExponentialPeriod.Milliseconds()
	}

	if !p.Exponential {
		steps := max(int64(retryCount)-1, 0)
		total, ok := mulAdd(initial, period, steps)
		maxMs := int64(math.MaxInt64 / int64(time.Millisecond))
		if !ok || total > maxMs {
			total = maxMs
		}
		return time.Duration(total) * time.Millisecond
	}

	// initial + period*(1+2+...+(n-1))
	total := initial
	if retryCount > 1 && period > 0 {
		tri, ok := triangular(int64(retryCount) - 1)
		if ok {
			total, ok = mulAdd(initial, period, tri)
		}
		if !ok {
			total = limit
		}
	}
	if total > limit {
		total = limit
	}
	return time.Duration(total) * time.Millisecond
}

// triangular returns 1+2+...+n, reporting false on overflow.
func triangular(n int64) (int64, bool) {
	a, b := n, n+1
	if a%2 == 0 {
		a /= 2
	} else {
		b /= 2
	}
	if a != 0 && b > math.MaxInt64/a {
		return 0, false
	}
	return a * b, true
}

// mulAdd returns a + b*n, reporting false on overflow.
func mulAdd(a, b, n int64) (int64, bool) {
	if n != 0 && b > (math.MaxInt64-a)/n {
		return 0, false
	}
	return a + b*n, true
}

// NextRetryTime returns from + EvaluatePeriod(retryCount).
func (p Policy) NextRetryTime(from time.Time, retryCount int) time.Time {
	return from.Add(p.EvaluatePeriod(retryCount))
}

// CanRetry classifies attempt retryCount of work that started at startDate.
func (p Policy) CanRetry(now, startDate time.Time, retryCount int) RetryState {
	if now.Sub(startDate) > p.Timeout || retryCount > p.MaximumRetries {
		return Stopped
	}
	if !p.NextRetryTime(startDate, retryCount).After(now) {
		return Enabled
	}
	return Suspended
}
