package schedule

import (
	"testing"
	"time"
)

// ref is a Wednesday.
var ref = time.Date(2024, time.June, 12, 10, 30, 0, 0, time.UTC)

func mustParse(t *testing.T, raw string) *Spec {
	t.Helper()
	s, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse(%q): %v", raw, err)
	}
	return s
}

func TestParseVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw    string
		kind   Kind
		hour   int
		minute int
	}{
		{"daily 12:00", KindDaily, 12, 0},
		{"12:00", KindDaily, 12, 0},
		{"daily", KindDaily, 0, 0},
		{"monthly 06:30", KindMonthly, 6, 30},
		{"mon,thu 03:15", KindWeekdays, 3, 15},
		{"Tuesday 22:00", KindWeekdays, 22, 0},
		{"daily *:45", KindDaily, -1, 45},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			got := mustParse(t, tt.raw)
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Hour != tt.hour || got.Minute != tt.minute {
				t.Fatalf("time = %d:%d, want %d:%d", got.Hour, got.Minute, tt.hour, tt.minute)
			}
		})
	}
}

func TestParseWeekdaySet(t *testing.T) {
	t.Parallel()
	s := mustParse(t, "mon wed fri 08:00")
	want := []time.Weekday{time.Monday, time.Wednesday, time.Friday}
	for _, wd := range want {
		if !s.Weekdays[wd] {
			t.Fatalf("weekday %v missing", wd)
		}
	}
	if len(s.Weekdays) != 3 {
		t.Fatalf("Weekdays = %v", s.Weekdays)
	}
}

func TestParseCron(t *testing.T) {
	t.Parallel()
	s := mustParse(t, "cron:*/15 * * * *")
	if s.Kind != KindCron {
		t.Fatalf("Kind = %v, want KindCron", s.Kind)
	}
	next := s.Next(ref)
	if got := next.Minute() % 15; got != 0 {
		t.Fatalf("cron next minute = %d", next.Minute())
	}
	if !next.After(ref) {
		t.Fatalf("cron next %v not after %v", next, ref)
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "yearly 10:00", "daily 25:00", "daily 10:61", "monthly mon 10:00", "cron:not a cron", "daily 1:2:3"} {
		if _, err := Parse(raw); err == nil {
			t.Fatalf("Parse(%q): expected error", raw)
		}
	}
}

func TestNextDaily(t *testing.T) {
	t.Parallel()
	s := mustParse(t, "daily 12:00")

	// Time of day still ahead: today.
	got := s.Next(ref)
	want := time.Date(2024, time.June, 12, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}

	// Time of day already passed: tomorrow.
	got = s.Next(want)
	want = want.AddDate(0, 0, 1)
	if !got.Equal(want) {
		t.Fatalf("Next after fire = %v, want %v", got, want)
	}
}

func TestNextMonthly(t *testing.T) {
	t.Parallel()
	s := mustParse(t, "monthly 06:00")
	got := s.Next(ref)
	want := time.Date(2024, time.July, 1, 6, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}

	// From just before the anchor, same month.
	from := time.Date(2024, time.July, 1, 5, 0, 0, 0, time.UTC)
	got = s.Next(from)
	if !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}

func TestNextWeekdaySet(t *testing.T) {
	t.Parallel()
	s := mustParse(t, "mon,thu 03:00")
	// ref is Wednesday: nearest upcoming is Thursday.
	got := s.Next(ref)
	want := time.Date(2024, time.June, 13, 3, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
	// From Thursday after the fire: Monday.
	got = s.Next(want)
	want = time.Date(2024, time.June, 17, 3, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}

func TestNextWildcardMinute(t *testing.T) {
	t.Parallel()
	s := mustParse(t, "daily *:45")
	got := s.Next(ref) // 10:30
	want := time.Date(2024, time.June, 12, 10, 45, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
	// Hourly cadence, not daily.
	got = s.Next(want)
	want = want.Add(time.Hour)
	if !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}

func TestNextStrictlyAfter(t *testing.T) {
	t.Parallel()
	s := mustParse(t, "daily 12:00")
	at := time.Date(2024, time.June, 12, 12, 0, 0, 0, time.UTC)
	if got := s.Next(at); !got.After(at) {
		t.Fatalf("Next(%v) = %v, not strictly after", at, got)
	}
}
