package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (snapshot + jsonl history)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord is one completed execution. Keep it compact and schema-stable.
type RunRecord struct {
	Profile     string    `json:"profile"`
	Command     string    `json:"command"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Status      string    `json:"status"`
	ExitCode    int       `json:"exit_code"`
	Warning     bool      `json:"warning,omitempty"`
	LockRetries int       `json:"lock_retries,omitempty"`
	Error       string    `json:"error,omitempty"`
}
