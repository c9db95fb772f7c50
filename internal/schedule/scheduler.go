package schedule

import (
	"sort"
	"sync"
	"time"

	logx "prestic/pkg/logx"
)

// Clock abstracts wall-clock time so the scheduler is testable with a
// fake clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the real wall clock.
func SystemClock() Clock { return systemClock{} }

// Entry is a read-only snapshot of one profile's schedule state.
type Entry struct {
	Profile string
	Spec    string
	LastRun time.Time
	NextDue time.Time
	Running bool
}

type entry struct {
	spec    *Spec
	lastRun time.Time
	nextDue time.Time
	running bool
}

// Scheduler owns per-profile schedule state: last-fired and next-due
// timestamps. It performs no blocking waits and no process I/O of its own;
// an external loop calls Due() periodically and reports completions back.
//
// Overlap rule: while a profile's previous fire is still executing, its due
// computations are deferred. Missed ticks during a long-running execution
// coalesce into a single next fire.
type Scheduler struct {
	mu      sync.Mutex
	clock   Clock
	log     logx.Logger
	entries map[string]*entry
}

func New(clock Clock, log logx.Logger) *Scheduler {
	if clock == nil {
		clock = SystemClock()
	}
	return &Scheduler{
		clock:   clock,
		log:     log,
		entries: map[string]*entry{},
	}
}

// Add arms a profile's schedule. lastRun may be zero (never ran).
//
// When the last run is recent (within catchUpWindow), next-due is computed
// from it, so a trigger missed during a short restart still fires on the
// first tick. Older or unknown last runs arm from now instead of replaying
// a backlog.
func (s *Scheduler) Add(profileName string, spec *Spec, lastRun time.Time) {
	now := s.clock.Now()
	e := &entry{spec: spec, lastRun: lastRun}
	if !lastRun.IsZero() && now.Sub(lastRun) < catchUpWindow {
		e.nextDue = spec.Next(lastRun)
	} else {
		e.nextDue = spec.Next(now)
	}

	s.mu.Lock()
	if prev, ok := s.entries[profileName]; ok && prev.running {
		// An in-flight execution survives re-arming; Complete recomputes
		// next-due against the new spec when it finishes.
		e.running = true
		e.lastRun = prev.lastRun
	}
	s.entries[profileName] = e
	s.mu.Unlock()

	if !s.log.IsZero() {
		s.log.Debug("schedule armed",
			logx.String("profile", profileName),
			logx.String("spec", spec.Raw),
			logx.Time("next_due", e.nextDue))
	}
}

const catchUpWindow = 24 * time.Hour

// Remove drops a profile from scheduling.
func (s *Scheduler) Remove(profileName string) {
	s.mu.Lock()
	delete(s.entries, profileName)
	s.mu.Unlock()
}

// Prune drops every entry whose profile is not in keep. Together with Add
// it reconciles schedule state against a reloaded config without losing
// the running flags of in-flight profiles.
func (s *Scheduler) Prune(keep map[string]bool) {
	s.mu.Lock()
	for name := range s.entries {
		if !keep[name] {
			delete(s.entries, name)
		}
	}
	s.mu.Unlock()
}

// Clear drops all schedule state (config reload).
func (s *Scheduler) Clear() {
	s.mu.Lock()
	s.entries = map[string]*entry{}
	s.mu.Unlock()
}

// Due returns the profiles whose next-due time has elapsed at now, marking
// each as running. Profiles still executing a previous fire are skipped;
// they re-arm when Complete is called.
func (s *Scheduler) Due(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []string
	for name, e := range s.entries {
		if e.running || e.nextDue.IsZero() || e.nextDue.After(now) {
			continue
		}
		e.running = true
		due = append(due, name)
	}
	sort.Strings(due)
	return due
}

// Complete records the end of a fire and re-arms the profile with a
// next-due strictly after the completion time.
func (s *Scheduler) Complete(profileName string, finished time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[profileName]
	if !ok {
		return
	}
	e.running = false
	e.lastRun = finished
	e.nextDue = e.spec.Next(finished)

	if !s.log.IsZero() {
		s.log.Debug("schedule re-armed",
			logx.String("profile", profileName),
			logx.Time("next_due", e.nextDue))
	}
}

// NextDue returns the profile's next trigger time.
func (s *Scheduler) NextDue(profileName string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[profileName]
	if !ok {
		return time.Time{}, false
	}
	return e.nextDue, true
}

// Entries returns a snapshot of all schedule state, sorted by profile name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for name, e := range s.entries {
		out = append(out, Entry{
			Profile: name,
			Spec:    e.spec.Raw,
			LastRun: e.lastRun,
			NextDue: e.nextDue,
			Running: e.running,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Profile < out[j].Profile })
	return out
}
