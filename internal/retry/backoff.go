package retry

import "time"

// DefaultSchedule is the fixed backoff ladder for an identity's retry loop:
// each pair of attempts doubles the wait. Exhausting every step drops the
// remaining events.
var DefaultSchedule = []time.Duration{
	100 * time.Millisecond,
	100 * time.Millisecond,
	200 * time.Millisecond,
	200 * time.Millisecond,
	400 * time.Millisecond,
	400 * time.Millisecond,
	800 * time.Millisecond,
	800 * time.Millisecond,
	1600 * time.Millisecond,
	1600 * time.Millisecond,
	3200 * time.Millisecond,
	3200 * time.Millisecond,
}
