package profile

import (
	"errors"
	"reflect"
	"testing"
)

func opt(key string, values ...string) Option {
	return Option{Key: key, Values: values}
}

func mustStore(t *testing.T, blocks ...Block) *Store {
	t.Helper()
	s, err := NewStore(blocks)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestResolveIdentity(t *testing.T) {
	t.Parallel()
	s := mustStore(t, Block{Name: "plain", Options: []Option{
		opt("repository", "/srv/backup"),
		opt("command", "backup"),
		opt("args", "/home", "/etc"),
	}})
	r := NewResolver(s)

	eff, err := r.Resolve("plain")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := eff.Repository(); got != "/srv/backup" {
		t.Fatalf("Repository = %q, want /srv/backup", got)
	}
	if !reflect.DeepEqual(eff.Command, []string{"backup"}) {
		t.Fatalf("Command = %v", eff.Command)
	}
	if !reflect.DeepEqual(eff.Args, []string{"/home", "/etc"}) {
		t.Fatalf("Args = %v", eff.Args)
	}
}

func TestResolveScalarChain(t *testing.T) {
	t.Parallel()
	s := mustStore(t,
		Block{Name: "c", Options: []Option{
			opt("repository", "/srv/c"),
			opt("cpu-priority", "low"),
		}},
		Block{Name: "b", Options: []Option{opt("inherit", "c")}},
		Block{Name: "a", Options: []Option{
			opt("inherit", "b"),
			opt("cpu-priority", "idle"),
		}},
	)
	r := NewResolver(s)

	eff, err := r.Resolve("a")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// Declared only on the furthest ancestor: passes through unchanged.
	if got := eff.Repository(); got != "/srv/c" {
		t.Fatalf("Repository = %q, want /srv/c", got)
	}
	// Declared on both ends: the profile's own value wins.
	if eff.CPUPriority != "idle" {
		t.Fatalf("CPUPriority = %q, want idle", eff.CPUPriority)
	}
}

func TestResolveListAppend(t *testing.T) {
	t.Parallel()
	s := mustStore(t,
		Block{Name: "base", Options: []Option{
			opt("global-flags", "--no-cache"),
			opt("args", "/etc"),
		}},
		Block{Name: "home", Options: []Option{
			opt("inherit", "base"),
			opt("args", "/home", "/etc"),
		}},
	)
	r := NewResolver(s)

	eff, err := r.Resolve("home")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// Ancestor items first, own items last, no de-duplication.
	want := []string{"/etc", "/home", "/etc"}
	if !reflect.DeepEqual(eff.Args, want) {
		t.Fatalf("Args = %v, want %v", eff.Args, want)
	}
	if !reflect.DeepEqual(eff.GlobalFlags, []string{"--no-cache"}) {
		t.Fatalf("GlobalFlags = %v", eff.GlobalFlags)
	}
}

func TestResolveMultiParentScalar(t *testing.T) {
	t.Parallel()
	s := mustStore(t,
		Block{Name: "p1", Options: []Option{opt("restic-path", "/opt/restic")}},
		Block{Name: "p2", Options: []Option{
			opt("restic-path", "/usr/bin/restic"),
			opt("description", "second"),
		}},
		Block{Name: "child", Options: []Option{opt("inherit", "p1", "p2")}},
	)
	r := NewResolver(s)

	eff, err := r.Resolve("child")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// First-listed parent wins on scalar conflicts.
	if eff.ResticPath != "/opt/restic" {
		t.Fatalf("ResticPath = %q, want /opt/restic", eff.ResticPath)
	}
	// Options only the second parent declares still flow through.
	if eff.Description != "second" {
		t.Fatalf("Description = %q, want second", eff.Description)
	}
}

func TestResolveDiamond(t *testing.T) {
	t.Parallel()
	s := mustStore(t,
		Block{Name: "d", Options: []Option{
			opt("repository", "/srv/d"),
			opt("args", "/etc"),
			opt("flag.exclude", "*.tmp"),
		}},
		Block{Name: "b", Options: []Option{opt("inherit", "d"), opt("args", "/b")}},
		Block{Name: "c", Options: []Option{opt("inherit", "d"), opt("args", "/c")}},
		Block{Name: "a", Options: []Option{opt("inherit", "b", "c")}},
	)
	r := NewResolver(s)

	eff, err := r.Resolve("a")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// The shared ancestor contributes exactly once, ahead of both branches.
	want := []string{"/etc", "/b", "/c"}
	if !reflect.DeepEqual(eff.Args, want) {
		t.Fatalf("Args = %v, want %v", eff.Args, want)
	}
	if !reflect.DeepEqual(eff.ExtraFlags, []string{"--exclude", "*.tmp"}) {
		t.Fatalf("ExtraFlags = %v", eff.ExtraFlags)
	}
	if got := eff.Repository(); got != "/srv/d" {
		t.Fatalf("Repository = %q, want /srv/d", got)
	}
}

func TestResolveCycle(t *testing.T) {
	t.Parallel()
	s := mustStore(t,
		Block{Name: "a", Options: []Option{opt("inherit", "b")}},
		Block{Name: "b", Options: []Option{opt("inherit", "a")}},
	)
	r := NewResolver(s)

	_, err := r.Resolve("a")
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("err = %v, want ErrCycle", err)
	}
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("err %T is not *ConfigError", err)
	}
}

func TestResolveSelfInherit(t *testing.T) {
	t.Parallel()
	s := mustStore(t, Block{Name: "a", Options: []Option{opt("inherit", "a")}})
	r := NewResolver(s)
	if _, err := r.Resolve("a"); !errors.Is(err, ErrCycle) {
		t.Fatalf("err = %v, want ErrCycle", err)
	}
}

func TestResolveUnknownParent(t *testing.T) {
	t.Parallel()
	s := mustStore(t, Block{Name: "a", Options: []Option{opt("inherit", "ghost")}})
	r := NewResolver(s)

	_, err := r.Resolve("a")
	if !errors.Is(err, ErrUnknownProfile) {
		t.Fatalf("err = %v, want ErrUnknownProfile", err)
	}
	var ce *ConfigError
	if !errors.As(err, &ce) || ce.Profile != "a" {
		t.Fatalf("error not attributed to inheriting profile: %v", err)
	}
}

func TestResolvePassthroughBuckets(t *testing.T) {
	t.Parallel()
	s := mustStore(t,
		Block{Name: "base", Options: []Option{
			opt("env.AWS_ACCESS_KEY_ID", "base-key"),
			opt("flag.exclude", "*.tmp"),
		}},
		Block{Name: "child", Options: []Option{
			opt("inherit", "base"),
			opt("env.AWS_ACCESS_KEY_ID", "child-key"),
			opt("flag.exclude", "*.log"),
			opt("one-file-system"),
		}},
	)
	r := NewResolver(s)

	eff, err := r.Resolve("child")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// env.* is scalar: nearest profile wins.
	if got := eff.EnvValue("AWS_ACCESS_KEY_ID"); got != "child-key" {
		t.Fatalf("env = %q, want child-key", got)
	}
	// flag.* is list-union: inherited entries first, then own, then the
	// unrecognized bare option rendered as a long flag.
	want := []string{"--exclude", "*.tmp", "--exclude", "*.log", "--one-file-system"}
	if !reflect.DeepEqual(eff.ExtraFlags, want) {
		t.Fatalf("ExtraFlags = %v, want %v", eff.ExtraFlags, want)
	}
}

func TestResolveAliases(t *testing.T) {
	t.Parallel()
	s := mustStore(t, Block{Name: "p", Options: []Option{
		opt("repository", "s3:bucket/repo"),
		opt("password-file", "/etc/restic.pw"),
		opt("limit-upload", "1024"),
	}})
	r := NewResolver(s)

	eff, err := r.Resolve("p")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := eff.Repository(); got != "s3:bucket/repo" {
		t.Fatalf("Repository = %q", got)
	}
	if got := eff.EnvValue(EnvPasswordFile); got != "/etc/restic.pw" {
		t.Fatalf("password file env = %q", got)
	}
	foundLimit := false
	for _, f := range eff.OptionFlags {
		if f.Key == "--limit-upload" && f.Value == "1024" {
			foundLimit = true
		}
	}
	if !foundLimit {
		t.Fatalf("limit-upload flag missing: %v", eff.OptionFlags)
	}
}

func TestResolveRepositoryFileFallback(t *testing.T) {
	t.Parallel()
	s := mustStore(t, Block{Name: "p", Options: []Option{
		opt("repository-file", "/etc/repo.txt"),
	}})
	r := NewResolver(s)

	eff, err := r.Resolve("p")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := eff.Repository(); got != "file:/etc/repo.txt" {
		t.Fatalf("Repository = %q, want file:/etc/repo.txt", got)
	}
}

func TestResolveCacheInvalidate(t *testing.T) {
	t.Parallel()
	s := mustStore(t, Block{Name: "p", Options: []Option{opt("description", "x")}})
	r := NewResolver(s)

	a, err := r.Resolve("p")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	b, _ := r.Resolve("p")
	if a != b {
		t.Fatal("expected cached pointer on second resolve")
	}
	r.Invalidate()
	c, _ := r.Resolve("p")
	if a == c {
		t.Fatal("expected fresh value after Invalidate")
	}
}

func TestStoreRejectsDuplicates(t *testing.T) {
	t.Parallel()
	_, err := NewStore([]Block{{Name: "x"}, {Name: "x"}})
	if err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestStoreImplicitDefault(t *testing.T) {
	t.Parallel()
	s := mustStore(t, Block{Name: "only"})
	if _, ok := s.Block(DefaultProfile); !ok {
		t.Fatal("default profile missing")
	}
}
