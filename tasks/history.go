package tasks

import "time"

// History records the lifecycle timestamps of one task.
// CreatedDate never changes; at most one of CanceledDate and CompletedDate
// is ever set.
type History struct {
	CreatedDate         time.Time  `json:"createdDate"`
	ProcessingStartDate *time.Time `json:"processingStartDate,omitempty"`
	SuspendedDate       *time.Time `json:"suspendedDate,omitempty"`
	CanceledDate        *time.Time `json:"canceledDate,omitempty"`
	CompletedDate       *time.Time `json:"completedDate,omitempty"`
}

// NewHistory starts a history created at now.
func NewHistory(now time.Time) History {
	return History{CreatedDate: now}
}

func stamp(t time.Time) *time.Time {
	return &t
}

// Ended reports whether a terminal date is set.
func (h History) Ended() bool {
	return h.CanceledDate != nil || h.CompletedDate != nil
}

// Started returns h with ProcessingStartDate set to now.
func (h History) Started(now time.Time) History {
	h.ProcessingStartDate = stamp(now)
	return h
}

// Suspended returns h with SuspendedDate set to now.
func (h History) Suspended(now time.Time) History {
	h.SuspendedDate = stamp(now)
	return h
}

// Canceled returns h with CanceledDate set to now, unless h already ended.
func (h History) Canceled(now time.Time) History {
	if h.Ended() {
		return h
	}
	h.CanceledDate = stamp(now)
	return h
}

// Completed returns h with CompletedDate set to now, unless h already ended.
func (h History) Completed(now time.Time) History {
	if h.Ended() {
		return h
	}
	h.CompletedDate = stamp(now)
	return h
}

// StartDate is the reference point for the retry timeout: the first
// processing start, or the creation date if processing never started.
func (h History) StartDate() time.Time {
	if h.ProcessingStartDate != nil {
		return *h.ProcessingStartDate
	}
	return h.CreatedDate
}
