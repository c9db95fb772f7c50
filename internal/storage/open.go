package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "prestic/pkg/logx"
)

// Store is the persistence API used by the service loop.
type Store interface {
	// LastRun returns when the profile last completed successfully.
	LastRun(ctx context.Context, profile string) (at time.Time, ok bool, err error)
	SetLastRun(ctx context.Context, profile string, at time.Time) error

	// AppendRun records a finished execution. Successful records also
	// advance the profile's last-run marker.
	AppendRun(ctx context.Context, r RunRecord) error
	RecentRuns(ctx context.Context, profile string, limit int) ([]RunRecord, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
