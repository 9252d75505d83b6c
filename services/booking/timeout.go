package booking

import "time"

// TimeoutPolicy maps a session's creation time to its absolute payment
// deadline. Pure computation; the deadline is persisted once and never
// recomputed afterwards.
type TimeoutPolicy struct {
	Window time.Duration
}

// DeadlineFor returns the absolute deadline for a session created at the
// given instant.
func (p TimeoutPolicy) DeadlineFor(createdAt time.Time) time.Time {
	return createdAt.Add(p.Window).UTC()
}
