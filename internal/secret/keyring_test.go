package secret

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestCommandLine(t *testing.T) {
	t.Parallel()
	got := CommandLine("backup repo")
	want := `keyring get prestic "backup repo"`
	if got != want {
		t.Fatalf("CommandLine = %q, want %q", got, want)
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("stub keyring script requires a POSIX shell")
	}
	dir := t.TempDir()
	stub := filepath.Join(dir, "keyring")
	script := "#!/bin/sh\n" +
		"[ \"$1\" = get ] || exit 2\n" +
		"[ \"$2\" = prestic ] || exit 2\n" +
		"[ \"$3\" = myrepo ] || exit 1\n" +
		"echo s3cret\n"
	if err := os.WriteFile(stub, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	k := CommandKeyring{Path: stub}
	got, err := k.Lookup(context.Background(), "myrepo")
	if err != nil {
		t.Fatal(err)
	}
	if got != "s3cret" {
		t.Fatalf("Lookup = %q", got)
	}

	if _, err := k.Lookup(context.Background(), "unknown"); err == nil {
		t.Fatal("expected error for missing account")
	}
}
