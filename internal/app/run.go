package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"prestic/internal/plan"
	"prestic/internal/runner"
	"prestic/internal/schedule"
	"prestic/internal/storage"
)

// RunError reports an execution that started but did not succeed. The CLI
// maps it onto the process exit code.
type RunError struct {
	Profile string
	Result  runner.Result
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("profile %q: %s", e.Profile, e.Result.Status)
	if e.Result.Err != nil {
		msg += ": " + e.Result.Err.Error()
	}
	return msg
}

// RunProfiles executes the named profiles sequentially, streaming output
// to out. Stops at the first failure.
func (a *App) RunProfiles(ctx context.Context, names []string, overrideCmd string, overrideArgs []string, out io.Writer) error {
	for _, name := range names {
		res, err := a.execute(ctx, name, overrideCmd, overrideArgs, out)
		if err != nil {
			return err
		}
		if !res.OK() {
			return &RunError{Profile: name, Result: res}
		}
	}
	return nil
}

// ProfileInfo is one row of the profile listing.
type ProfileInfo struct {
	Name        string
	Description string
	Schedule    string
	Runnable    bool
	LastRun     time.Time
	NextDue     time.Time
	// Err is set when the profile cannot be resolved (broken inheritance);
	// it is still listed so the breakage is visible.
	Err error
}

// ListProfiles returns all profiles in declaration order, annotated with
// schedule state where available.
func (a *App) ListProfiles() ([]ProfileInfo, error) {
	a.mu.RLock()
	resolver := a.resolver
	entries := a.sched.Entries()
	a.mu.RUnlock()

	byName := make(map[string]schedule.Entry, len(entries))
	for _, e := range entries {
		byName[e.Profile] = e
	}

	var out []ProfileInfo
	for _, name := range resolver.Store().Names() {
		eff, err := resolver.Resolve(name)
		if err != nil {
			out = append(out, ProfileInfo{Name: name, Err: err})
			continue
		}
		info := ProfileInfo{
			Name:        name,
			Description: eff.DisplayDescription(),
			Schedule:    eff.Schedule,
			Runnable:    eff.Runnable(),
		}
		if e, ok := byName[name]; ok {
			info.NextDue = e.NextDue
			info.LastRun = e.LastRun
		}
		if info.LastRun.IsZero() && a.store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if at, ok, err := a.store.LastRun(ctx, name); err == nil && ok {
				info.LastRun = at
			}
			cancel()
		}
		out = append(out, info)
	}
	return out, nil
}

// ShowProfile returns the resolved invocation for one profile: the full
// command line (secrets stay in the environment, not in argv) and the
// environment variable names it would set.
func (a *App) ShowProfile(name string) (commandLine string, envKeys []string, err error) {
	a.mu.RLock()
	resolver := a.resolver
	a.mu.RUnlock()

	eff, err := resolver.Resolve(name)
	if err != nil {
		return "", nil, err
	}
	p, err := plan.Build(eff, "", nil)
	if err != nil {
		return "", nil, err
	}
	for _, kv := range p.Env {
		envKeys = append(envKeys, kv.Key)
	}
	return p.CommandLine(), envKeys, nil
}

// History returns recent run records, newest last. Empty without storage.
func (a *App) History(ctx context.Context, profileName string, limit int) ([]storage.RunRecord, error) {
	if a.store == nil {
		return nil, nil
	}
	return a.store.RecentRuns(ctx, profileName, limit)
}
