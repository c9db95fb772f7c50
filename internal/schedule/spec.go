// Package schedule decides when profiles run.
//
// A Spec is parsed once at load time; Next() is a pure function of a point
// in time, so the scheduler can be driven by any clock.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Kind int

const (
	KindDaily Kind = iota
	KindMonthly
	KindWeekdays
	KindCron
)

// ParseError marks a malformed schedule string. The profile stays loaded
// but is never scheduled; the error is reported once at load time.
type ParseError struct {
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid schedule %q: %s", e.Raw, e.Reason)
}

// Spec is an immutable recurring trigger rule.
//
// Native forms combine a day rule (daily, monthly, a weekday set) with a
// time of day. A wildcard hour ("*:30") fires every hour at the given
// minute. Cron expressions are accepted with a "cron:" prefix.
type Spec struct {
	Raw  string
	Kind Kind

	// Hour is -1 for a wildcard ("every hour at Minute").
	Hour   int
	Minute int

	// Weekdays is set only for KindWeekdays.
	Weekdays map[time.Weekday]bool

	cronSched cron.Schedule
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var weekdayNames = map[string]time.Weekday{
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
	"sun": time.Sunday,
}

// Parse parses a schedule expression.
//
// Examples:
//
//	"daily 12:00"
//	"mon,thu 03:30"
//	"monthly 06:00"
//	"daily *:15"
//	"cron:*/5 * * * *"
func Parse(raw string) (*Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, &ParseError{Raw: raw, Reason: "empty"}
	}

	if rest, ok := strings.CutPrefix(s, "cron:"); ok {
		sched, err := cronParser.Parse(strings.TrimSpace(rest))
		if err != nil {
			return nil, &ParseError{Raw: raw, Reason: err.Error()}
		}
		return &Spec{Raw: raw, Kind: KindCron, cronSched: sched}, nil
	}

	spec := &Spec{Raw: raw, Kind: KindDaily}
	var (
		sawDay  bool
		sawTime bool
	)
	for _, tok := range strings.Fields(strings.ToLower(strings.ReplaceAll(s, ",", " "))) {
		switch {
		case tok == "daily":
			if sawDay && spec.Kind != KindDaily {
				return nil, &ParseError{Raw: raw, Reason: "conflicting day rules"}
			}
			spec.Kind = KindDaily
			sawDay = true
		case tok == "monthly":
			if sawDay {
				return nil, &ParseError{Raw: raw, Reason: "conflicting day rules"}
			}
			spec.Kind = KindMonthly
			sawDay = true
		case len(tok) >= 3 && isWeekday(tok):
			if sawDay && spec.Kind != KindWeekdays {
				return nil, &ParseError{Raw: raw, Reason: "conflicting day rules"}
			}
			if spec.Weekdays == nil {
				spec.Weekdays = map[time.Weekday]bool{}
			}
			spec.Kind = KindWeekdays
			spec.Weekdays[weekdayNames[tok[:3]]] = true
			sawDay = true
		case strings.Contains(tok, ":"):
			if sawTime {
				return nil, &ParseError{Raw: raw, Reason: "multiple time-of-day parts"}
			}
			h, m, err := parseTimeOfDay(tok)
			if err != nil {
				return nil, &ParseError{Raw: raw, Reason: err.Error()}
			}
			spec.Hour, spec.Minute = h, m
			sawTime = true
		default:
			return nil, &ParseError{Raw: raw, Reason: fmt.Sprintf("unrecognized token %q", tok)}
		}
	}
	// A bare time of day means daily; a bare day rule means midnight.
	if !sawDay && !sawTime {
		return nil, &ParseError{Raw: raw, Reason: "no day rule or time of day"}
	}
	return spec, nil
}

func isWeekday(tok string) bool {
	_, ok := weekdayNames[tok[:3]]
	return ok
}

// parseTimeOfDay parses "HH:MM" or "*:MM" (wildcard hour).
func parseTimeOfDay(tok string) (hour, minute int, err error) {
	parts := strings.Split(tok, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", tok)
	}
	if parts[0] == "*" {
		hour = -1
	} else {
		hour, err = strconv.Atoi(parts[0])
		if err != nil || hour < 0 || hour > 23 {
			return 0, 0, fmt.Errorf("invalid hour in %q", tok)
		}
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", tok)
	}
	return hour, minute, nil
}

// Next returns the first trigger time strictly after t.
func (s *Spec) Next(t time.Time) time.Time {
	if s.Kind == KindCron {
		return s.cronSched.Next(t)
	}

	loc := t.Location()
	if s.Hour < 0 {
		// Hourly cadence at a fixed minute, restricted to matching days.
		cand := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), s.Minute, 0, 0, loc)
		for i := 0; i < 24*366; i++ {
			if cand.After(t) && s.dayMatches(cand) {
				return cand
			}
			cand = cand.Add(time.Hour)
		}
		return time.Time{}
	}

	cand := time.Date(t.Year(), t.Month(), t.Day(), s.Hour, s.Minute, 0, 0, loc)
	for i := 0; i < 366; i++ {
		if cand.After(t) && s.dayMatches(cand) {
			return cand
		}
		cand = time.Date(cand.Year(), cand.Month(), cand.Day()+1, s.Hour, s.Minute, 0, 0, loc)
	}
	return time.Time{}
}

func (s *Spec) dayMatches(t time.Time) bool {
	switch s.Kind {
	case KindMonthly:
		return t.Day() == 1
	case KindWeekdays:
		return s.Weekdays[t.Weekday()]
	default:
		return true
	}
}
