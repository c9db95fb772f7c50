package eventbus

import "time"

// Run lifecycle event types published by the execution layer.
const (
	TypeRunStarted       = "run.started"
	TypeRunSucceeded     = "run.succeeded"
	TypeRunFailed        = "run.failed"
	TypeRunLockRetry     = "run.lock_retry"
	TypeRunLockExhausted = "run.lock_exhausted"
)

// RunEvent is the payload carried by run.* events.
type RunEvent struct {
	Profile  string        `json:"profile"`
	Command  string        `json:"command,omitempty"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	Warning  bool          `json:"warning,omitempty"`
	Error    string        `json:"error,omitempty"`
	// Tail holds the last few (filtered) output lines, for notifications.
	Tail []string `json:"tail,omitempty"`
}
