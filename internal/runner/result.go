package runner

import "time"

// Status classifies how an execution ended.
type Status int

const (
	StatusSuccess Status = iota
	StatusLockContended
	StatusFailed
	StatusTimedOut
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusLockContended:
		return "lock-contended"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed-out"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Result is the outcome of one supervised execution. Execution-time errors
// are reported here as values; the caller's loops stay alive across
// failures of individual runs.
type Result struct {
	Status   Status
	ExitCode int

	// Warning is set when restic exited 3 on a backup command: the backup
	// finished but some source files could not be read.
	Warning bool

	Duration time.Duration

	// Output holds captured lines after log-filter dropping.
	Output []string

	// LockRetries counts how many times the invocation was relaunched
	// after lock contention.
	LockRetries int

	// Err carries launch failures and other non-exit-code errors.
	Err error
}

// OK reports whether the run should be treated as successful.
func (r Result) OK() bool { return r.Status == StatusSuccess }

// Tail returns up to n trailing output lines.
func (r Result) Tail(n int) []string {
	if n <= 0 || len(r.Output) <= n {
		return r.Output
	}
	return r.Output[len(r.Output)-n:]
}
