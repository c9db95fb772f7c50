// Package plan turns effective profiles into concrete process invocations.
package plan

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"prestic/internal/profile"
	"prestic/internal/secret"
)

// Plan is a ready-to-launch process specification. It is derived on demand
// and never stored.
type Plan struct {
	Profile string

	// Restic is the executable path; Args is the full argument vector
	// (without argv[0]).
	Restic string
	Args   []string

	// Env is the environment overlay. The runner merges it on top of the
	// ambient environment; these keys win on conflict.
	Env []profile.KV

	// Command is the first command token (e.g. "backup"), used for
	// exit-code interpretation.
	Command string

	WorkDir string

	// Priorities are empty when unset: "no priority" is distinct from
	// "normal priority" at the OS level.
	CPUPriority string
	IOPriority  string

	// WaitForLock is the total budget for retrying a locked repository.
	// Zero means fail immediately on lock contention.
	WaitForLock time.Duration

	// Timeout bounds the whole execution. Zero means unbounded (restic
	// operations may legitimately run for hours).
	Timeout time.Duration

	// LogFilter drops matching output lines from the captured log.
	LogFilter *regexp.Regexp
}

var priorities = map[string]bool{"idle": true, "low": true, "normal": true, "high": true}

// rate-limit flags are ordered after the other option flags so they can
// shadow anything a global flag set earlier.
var rateLimitFlags = map[string]bool{"--limit-download": true, "--limit-upload": true}

// Build assembles the invocation plan for an effective profile.
//
// When overrideCmd is set (interactive invocation) it replaces the profile's
// configured command, args and flags entirely; environment, executable path,
// priorities and lock policy still come from the profile.
func Build(eff *profile.Effective, overrideCmd string, overrideArgs []string) (*Plan, error) {
	p := &Plan{
		Profile:     eff.Name,
		Restic:      eff.ResticPath,
		WorkDir:     eff.WorkDir,
		CPUPriority: strings.ToLower(strings.TrimSpace(eff.CPUPriority)),
		IOPriority:  strings.ToLower(strings.TrimSpace(eff.IOPriority)),
	}
	if p.Restic == "" {
		p.Restic = "restic"
	}
	if p.CPUPriority != "" && !priorities[p.CPUPriority] {
		return nil, fmt.Errorf("profile %q: invalid cpu-priority %q", eff.Name, eff.CPUPriority)
	}
	if p.IOPriority != "" && !priorities[p.IOPriority] {
		return nil, fmt.Errorf("profile %q: invalid io-priority %q", eff.Name, eff.IOPriority)
	}

	var err error
	if p.WaitForLock, err = parseDurationOption("wait-for-lock", eff.WaitForLock); err != nil {
		return nil, fmt.Errorf("profile %q: %w", eff.Name, err)
	}
	if p.Timeout, err = parseDurationOption("timeout", eff.Timeout); err != nil {
		return nil, fmt.Errorf("profile %q: %w", eff.Name, err)
	}
	if f := strings.TrimSpace(eff.LogFilter); f != "" {
		if p.LogFilter, err = regexp.Compile(f); err != nil {
			return nil, fmt.Errorf("profile %q: invalid log-filter: %w", eff.Name, err)
		}
	}

	command := eff.Command
	args := eff.Args
	flags := eff.Flags
	if overrideCmd != "" {
		command = []string{overrideCmd}
		args = overrideArgs
		flags = nil
	}
	if len(command) == 0 {
		return nil, fmt.Errorf("profile %q: no command configured", eff.Name)
	}
	if eff.Repository() == "" {
		return nil, fmt.Errorf("profile %q: no repository configured", eff.Name)
	}
	p.Command = command[0]

	// Fixed, deterministic argument order: global flags, option flags,
	// rate limits, command, command args/flags, extra passthrough flags.
	// Later flags may intentionally shadow earlier ones in restic's own
	// flag parsing.
	argv := append([]string(nil), eff.GlobalFlags...)
	var limits []string
	for _, f := range eff.OptionFlags {
		if rateLimitFlags[f.Key] {
			limits = append(limits, f.Key, f.Value)
			continue
		}
		argv = append(argv, f.Key, f.Value)
	}
	argv = append(argv, limits...)
	argv = append(argv, command...)
	argv = append(argv, args...)
	argv = append(argv, flags...)
	argv = append(argv, eff.ExtraFlags...)
	p.Args = argv

	p.Env = buildEnv(eff)
	return p, nil
}

// buildEnv applies password source precedence: explicit plaintext > file >
// external command > keyring. Only the first present source survives into
// the overlay; the rest are dropped, not treated as a conflict.
func buildEnv(eff *profile.Effective) []profile.KV {
	var winner string
	switch {
	case eff.EnvValue(profile.EnvPassword) != "":
		winner = profile.EnvPassword
	case eff.EnvValue(profile.EnvPasswordFile) != "":
		winner = profile.EnvPasswordFile
	case eff.EnvValue(profile.EnvPasswordCommand) != "":
		winner = profile.EnvPasswordCommand
	}

	passwordSources := map[string]bool{
		profile.EnvPassword:        true,
		profile.EnvPasswordFile:    true,
		profile.EnvPasswordCommand: true,
	}

	env := make([]profile.KV, 0, len(eff.Env)+1)
	for _, kv := range eff.Env {
		if passwordSources[kv.Key] && kv.Key != winner {
			continue
		}
		env = append(env, kv)
	}
	if winner == "" && eff.Keyring != "" {
		env = append(env, profile.KV{
			Key:   profile.EnvPasswordCommand,
			Value: secret.CommandLine(eff.Keyring),
		})
	}
	return env
}

// CommandLine renders the plan for display/logging (not for shell eval).
func (p *Plan) CommandLine() string {
	parts := make([]string, 0, len(p.Args)+1)
	parts = append(parts, quoteArg(p.Restic))
	for _, a := range p.Args {
		parts = append(parts, quoteArg(a))
	}
	return strings.Join(parts, " ")
}

func quoteArg(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\"'\\$") {
		return strconv.Quote(s)
	}
	return s
}

// parseDurationOption accepts Go duration strings ("90s", "5m") and, for
// compatibility with older configs, bare integers meaning seconds.
func parseDurationOption(name, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("%s must be >= 0", name)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return d, nil
}
