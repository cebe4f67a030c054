// Package resiliency computes retry wait times and retry eligibility.
//
// A Policy is an immutable value: construct it once from settings or one of
// the named factories and share it by value between processors.
//
//	p := resiliency.CreateDefaultExponentialRetry()
//	next := p.NextRetryTime(suspendedAt, retryCount)
//	switch p.CanRetry(now, startedAt, retryCount) {
//	case resiliency.Stopped:
//		// give up
//	case resiliency.Enabled:
//		// retry now
//	case resiliency.Suspended:
//		// wait until next
//	}
package resiliency
