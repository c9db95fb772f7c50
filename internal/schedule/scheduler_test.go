package schedule

import (
	"testing"
	"time"

	logx "prestic/pkg/logx"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestSchedulerSeedFromLastRun(t *testing.T) {
	t.Parallel()
	// Last fired yesterday at 12:00; now is 09:00 → next-due today 12:00.
	clk := &fakeClock{now: time.Date(2024, time.June, 12, 9, 0, 0, 0, time.UTC)}
	s := New(clk, logx.Nop())
	spec := mustParse(t, "daily 12:00")
	lastRun := time.Date(2024, time.June, 11, 12, 0, 0, 0, time.UTC)

	s.Add("home", spec, lastRun)

	next, ok := s.NextDue("home")
	if !ok {
		t.Fatal("entry missing")
	}
	want := time.Date(2024, time.June, 12, 12, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("NextDue = %v, want %v", next, want)
	}
}

func TestSchedulerSeedStaleLastRun(t *testing.T) {
	t.Parallel()
	// Last run a week ago: do not replay the backlog, arm from now.
	clk := &fakeClock{now: time.Date(2024, time.June, 12, 13, 0, 0, 0, time.UTC)}
	s := New(clk, logx.Nop())
	spec := mustParse(t, "daily 12:00")
	s.Add("home", spec, clk.now.AddDate(0, 0, -7))

	next, _ := s.NextDue("home")
	want := time.Date(2024, time.June, 13, 12, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("NextDue = %v, want %v", next, want)
	}
}

func TestSchedulerFireCycle(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{now: time.Date(2024, time.June, 12, 9, 0, 0, 0, time.UTC)}
	s := New(clk, logx.Nop())
	s.Add("home", mustParse(t, "daily 12:00"), time.Time{})

	// Not due yet.
	if due := s.Due(clk.now); len(due) != 0 {
		t.Fatalf("Due = %v, want none", due)
	}

	// Clock passes 12:00: exactly one due event.
	clk.now = time.Date(2024, time.June, 12, 12, 0, 30, 0, time.UTC)
	due := s.Due(clk.now)
	if len(due) != 1 || due[0] != "home" {
		t.Fatalf("Due = %v", due)
	}

	// While running, repeated ticks do not fire again (coalesced).
	clk.now = clk.now.Add(5 * time.Minute)
	if due := s.Due(clk.now); len(due) != 0 {
		t.Fatalf("Due while running = %v, want none", due)
	}

	// Completion re-arms strictly after the fire time.
	finished := clk.now
	s.Complete("home", finished)
	next, _ := s.NextDue("home")
	if !next.After(finished) {
		t.Fatalf("NextDue %v not after completion %v", next, finished)
	}
	want := time.Date(2024, time.June, 13, 12, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("NextDue = %v, want %v", next, want)
	}
}

func TestSchedulerLongRunCoalesces(t *testing.T) {
	t.Parallel()
	// An execution spanning several due times yields exactly one more fire.
	clk := &fakeClock{now: time.Date(2024, time.June, 12, 11, 59, 0, 0, time.UTC)}
	s := New(clk, logx.Nop())
	s.Add("hourly", mustParse(t, "daily *:00"), time.Time{})

	clk.now = time.Date(2024, time.June, 12, 12, 0, 1, 0, time.UTC)
	if due := s.Due(clk.now); len(due) != 1 {
		t.Fatalf("Due = %v", due)
	}

	// Execution runs for 3 hours; ticks during it fire nothing.
	for i := 1; i <= 3; i++ {
		clk.now = clk.now.Add(time.Hour)
		if due := s.Due(clk.now); len(due) != 0 {
			t.Fatalf("Due during run = %v", due)
		}
	}

	s.Complete("hourly", clk.now)
	next, _ := s.NextDue("hourly")
	want := time.Date(2024, time.June, 12, 16, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("NextDue = %v, want %v (a single coalesced fire)", next, want)
	}
}

func TestSchedulerReloadKeepsRunning(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{now: time.Date(2024, time.June, 12, 11, 59, 0, 0, time.UTC)}
	s := New(clk, logx.Nop())
	spec := mustParse(t, "daily *:00")
	s.Add("home", spec, time.Time{})

	clk.now = time.Date(2024, time.June, 12, 12, 0, 1, 0, time.UTC)
	if due := s.Due(clk.now); len(due) != 1 {
		t.Fatalf("Due = %v", due)
	}

	// A config reload re-arms the profile with a recent last-success
	// marker while the run is still in flight.
	s.Add("home", spec, clk.now.Add(-55*time.Minute))
	s.Prune(map[string]bool{"home": true})

	clk.now = clk.now.Add(time.Minute)
	if due := s.Due(clk.now); len(due) != 0 {
		t.Fatalf("Due fired %v while the previous run never completed", due)
	}

	clk.now = clk.now.Add(time.Minute)
	s.Complete("home", clk.now)
	next, _ := s.NextDue("home")
	want := time.Date(2024, time.June, 12, 13, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("NextDue = %v, want %v", next, want)
	}
}

func TestSchedulerPrune(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{now: ref}
	s := New(clk, logx.Nop())
	s.Add("a", mustParse(t, "daily 12:00"), time.Time{})
	s.Add("b", mustParse(t, "daily 13:00"), time.Time{})

	s.Prune(map[string]bool{"b": true})
	if _, ok := s.NextDue("a"); ok {
		t.Fatal("pruned entry still present")
	}
	if _, ok := s.NextDue("b"); !ok {
		t.Fatal("kept entry missing")
	}
}

func TestSchedulerRemoveAndClear(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{now: ref}
	s := New(clk, logx.Nop())
	s.Add("a", mustParse(t, "daily 12:00"), time.Time{})
	s.Add("b", mustParse(t, "daily 13:00"), time.Time{})

	s.Remove("a")
	if _, ok := s.NextDue("a"); ok {
		t.Fatal("entry a still present")
	}
	if got := len(s.Entries()); got != 1 {
		t.Fatalf("Entries = %d, want 1", got)
	}

	s.Clear()
	if got := len(s.Entries()); got != 0 {
		t.Fatalf("Entries after Clear = %d, want 0", got)
	}
}
