package profile

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownProfile marks an inherit reference to a profile that does
	// not exist.
	ErrUnknownProfile = errors.New("unknown profile")
	// ErrCycle marks cyclic inheritance (a profile reachable from itself).
	ErrCycle = errors.New("cyclic inheritance")
)

// ConfigError attributes a resolution failure to a specific profile.
// Other profiles remain usable.
type ConfigError struct {
	Profile string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("profile %q: %v", e.Profile, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
