// Package storage persists run state across service restarts: the last
// completed run per profile (used to catch up missed schedules) and an
// append-only run history.
package storage
