package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "prestic/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	cfg := Config{Driver: "file", Path: filepath.Join(t.TempDir(), "prestic.db")}
	s, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	s, err := Open(Config{}, logx.Nop())
	if err != nil || s != nil {
		t.Fatalf("Open = %v, %v; want nil, nil", s, err)
	}
	if _, err := Open(Config{Driver: "bogus", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFileLastRunRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.LastRun(ctx, "home"); err != nil || ok {
		t.Fatalf("LastRun on empty store = ok=%v, err=%v", ok, err)
	}

	at := time.Date(2024, time.June, 12, 12, 0, 0, 0, time.UTC)
	if err := s.SetLastRun(ctx, "home", at); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.LastRun(ctx, "home")
	if err != nil || !ok {
		t.Fatalf("LastRun = ok=%v, err=%v", ok, err)
	}
	if !got.Equal(at) {
		t.Fatalf("LastRun = %v, want %v", got, at)
	}
}

func TestFileStateSurvivesReopen(t *testing.T) {
	t.Parallel()
	cfg := Config{Driver: "file", Path: filepath.Join(t.TempDir(), "prestic.db")}
	ctx := context.Background()
	at := time.Date(2024, time.June, 12, 12, 0, 0, 0, time.UTC)

	s, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetLastRun(ctx, "home", at); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, ok, err := s.LastRun(ctx, "home")
	if err != nil || !ok || !got.Equal(at) {
		t.Fatalf("LastRun after reopen = %v, ok=%v, err=%v", got, ok, err)
	}
}

func TestFileAppendRunAdvancesLastRun(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	started := time.Date(2024, time.June, 12, 12, 0, 0, 0, time.UTC)
	finished := started.Add(10 * time.Minute)
	err := s.AppendRun(ctx, RunRecord{
		Profile: "home", Command: "backup",
		StartedAt: started, FinishedAt: finished,
		Status: "success", Warning: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	got, ok, _ := s.LastRun(ctx, "home")
	if !ok || !got.Equal(finished) {
		t.Fatalf("LastRun = %v, ok=%v; want %v", got, ok, finished)
	}

	// Failures do not advance the marker.
	err = s.AppendRun(ctx, RunRecord{
		Profile: "home", Command: "backup",
		StartedAt: finished, FinishedAt: finished.Add(time.Minute),
		Status: "failed", ExitCode: 1, Error: "boom",
	})
	if err != nil {
		t.Fatal(err)
	}
	got, _, _ = s.LastRun(ctx, "home")
	if !got.Equal(finished) {
		t.Fatalf("LastRun moved on failure: %v", got)
	}
}

func TestFileRecentRuns(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, time.June, 12, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		profile := "home"
		if i%2 == 1 {
			profile = "prune"
		}
		err := s.AppendRun(ctx, RunRecord{
			Profile: profile, Command: "backup",
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
			FinishedAt: base.Add(time.Duration(i)*time.Hour + time.Minute),
			Status:     "success",
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.RecentRuns(ctx, "home", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("RecentRuns = %d records", len(runs))
	}
	for _, r := range runs {
		if r.Profile != "home" {
			t.Fatalf("RecentRuns leaked profile %q", r.Profile)
		}
	}
	// Oldest first, trailing window.
	if !runs[1].StartedAt.After(runs[0].StartedAt) {
		t.Fatalf("RecentRuns not in chronological order: %v, %v", runs[0].StartedAt, runs[1].StartedAt)
	}

	all, err := s.RecentRuns(ctx, "", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Fatalf("RecentRuns(all) = %d records", len(all))
	}
}
