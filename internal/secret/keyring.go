// Package secret resolves credentials from the OS keyring.
//
// The lookup shells out to the `keyring` CLI, which fronts the platform
// credential store (Secret Service, macOS Keychain, Windows Credential
// Locker). Restic itself only accepts passwords via env/file/command, so
// the planner usually just hands restic a RESTIC_PASSWORD_COMMAND built
// by CommandLine instead of reading the secret in-process.
package secret

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Service is the keyring namespace under which profile secrets are stored.
const Service = "prestic"

// Keyring looks up a secret by account name.
type Keyring interface {
	Lookup(ctx context.Context, account string) (string, error)
}

// CommandKeyring resolves secrets via the external `keyring` command.
type CommandKeyring struct {
	// Path overrides the keyring executable (default "keyring").
	Path string
}

func (k CommandKeyring) Lookup(ctx context.Context, account string) (string, error) {
	bin := k.Path
	if bin == "" {
		bin = "keyring"
	}
	out, err := exec.CommandContext(ctx, bin, "get", Service, account).Output()
	if err != nil {
		return "", fmt.Errorf("keyring lookup for %q: %w", account, err)
	}
	return strings.TrimRight(string(out), "\r\n"), nil
}

// Available reports whether the keyring command can be found on PATH.
func Available() bool {
	_, err := exec.LookPath("keyring")
	return err == nil
}

// CommandLine renders the password command restic should run to fetch the
// secret itself (used for RESTIC_PASSWORD_COMMAND).
func CommandLine(account string) string {
	return fmt.Sprintf("keyring get %s %q", Service, account)
}
