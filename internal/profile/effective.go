package profile

import "strings"

// KV is an ordered key/value pair (a restic flag with its argument, or an
// environment variable with its value).
type KV struct {
	Key   string
	Value string
}

// Effective is the fully merged view of a profile's inheritance chain.
// It is immutable once built; the resolver caches it per profile name.
type Effective struct {
	Name        string
	Description string

	Command     []string
	Args        []string
	Flags       []string
	GlobalFlags []string

	Schedule    string
	ResticPath  string
	WaitForLock string
	CPUPriority string
	IOPriority  string
	Keyring     string
	LogFilter   string
	Timeout     string
	WorkDir     string

	// OptionFlags are recognized options aliased to restic CLI flags
	// ("-r", "--limit-upload", ...), in first-seen order. Scalar semantics.
	OptionFlags []KV

	// Env are environment variables from env.* options and env-aliased
	// options, in first-seen order. Scalar semantics per variable name.
	Env []KV

	// ExtraFlags are passthrough tokens from flag.* and unrecognized
	// options. List semantics: inherited entries first, own entries last.
	ExtraFlags []string
}

// Repository returns the effective repository location: the -r flag if set,
// otherwise a file: reference derived from repository-file. Empty when the
// profile has no repository configured.
func (e *Effective) Repository() string {
	for _, f := range e.OptionFlags {
		if f.Key == "-r" {
			return f.Value
		}
	}
	if v := e.EnvValue(EnvRepositoryFile); v != "" {
		return "file:" + v
	}
	return ""
}

// Runnable reports whether the profile can actually be invoked: it needs a
// repository and a configured command. A profile failing this is still a
// valid inheritance base.
func (e *Effective) Runnable() bool {
	return e.Repository() != "" && len(e.Command) > 0
}

// EnvValue returns the value of an env.* option by variable name.
func (e *Effective) EnvValue(name string) string {
	for _, kv := range e.Env {
		if kv.Key == name {
			return kv.Value
		}
	}
	return ""
}

// DisplayDescription returns the description, or a placeholder when unset.
func (e *Effective) DisplayDescription() string {
	if strings.TrimSpace(e.Description) == "" {
		return "no description"
	}
	return e.Description
}
