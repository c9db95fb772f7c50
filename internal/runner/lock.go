package runner

import "time"

// lockRetry is the bounded-retry budget for a locked repository: a total
// wait-for-lock duration is spent in fixed intervals until exhausted.
// Modeling it as explicit state keeps cancellation and budget exhaustion
// independently testable.
type lockRetry struct {
	remaining time.Duration
	interval  time.Duration
	attempts  int
}

func newLockRetry(budget, interval time.Duration) *lockRetry {
	if interval <= 0 {
		interval = defaultLockInterval
	}
	return &lockRetry{remaining: budget, interval: interval}
}

const defaultLockInterval = 15 * time.Second

// next returns the duration to sleep before the next attempt, or ok=false
// once the budget is exhausted.
func (l *lockRetry) next() (wait time.Duration, ok bool) {
	if l.remaining <= 0 {
		return 0, false
	}
	wait = l.interval
	if wait > l.remaining {
		wait = l.remaining
	}
	l.remaining -= wait
	l.attempts++
	return wait, true
}
