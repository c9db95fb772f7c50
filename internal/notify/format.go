package notify

import (
	"fmt"
	"strings"
	"time"

	"prestic/internal/eventbus"
)

// FromRunEvent renders a run lifecycle event as a notification message.
// Only terminal events produce one; the rest return ok=false.
func FromRunEvent(typ string, ev eventbus.RunEvent) (Message, bool) {
	m := Message{Profile: ev.Profile, Body: strings.Join(ev.Tail, "\n")}
	switch typ {
	case eventbus.TypeRunSucceeded:
		if ev.Warning {
			m.Subject = fmt.Sprintf("backup %q finished with warnings (some files unreadable, %s)",
				ev.Profile, ev.Duration.Round(durationPrecision(ev)))
			m.Failure = true
			return m, true
		}
		m.Subject = fmt.Sprintf("%s %q finished in %s",
			ev.Command, ev.Profile, ev.Duration.Round(durationPrecision(ev)))
		return m, true
	case eventbus.TypeRunFailed:
		m.Subject = fmt.Sprintf("%s %q failed (exit %d)", ev.Command, ev.Profile, ev.ExitCode)
		if ev.Error != "" {
			m.Subject += ": " + ev.Error
		}
		m.Failure = true
		return m, true
	case eventbus.TypeRunLockExhausted:
		m.Subject = fmt.Sprintf("%s %q gave up: repository stayed locked", ev.Command, ev.Profile)
		m.Failure = true
		return m, true
	default:
		return Message{}, false
	}
}

func durationPrecision(ev eventbus.RunEvent) time.Duration {
	if ev.Duration >= time.Minute {
		return time.Second
	}
	return time.Millisecond
}
