//go:build linux

package sandbox

import (
	"strings"
	"testing"
)

func TestIsolatorArgsIncludesCoreIsolation(t *testing.T) {
	opts := Options{
		Interpreter: Interpreter{Path: "/usr/lib/R/bin/exec/R"},
		SocketDir:   "/tmp/securer_abc123",
	}
	args := isolatorArgs(opts)
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"--unshare-all",
		"--die-with-parent",
		"--new-session",
		"--ro-bind /usr/lib/R/bin/exec /usr/lib/R/bin/exec",
		"--bind /tmp/securer_abc123 /tmp/securer_abc123",
		"--setenv HOME /tmp",
		"--setenv R_LIBS_USER ",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected isolator args to contain %q, got: %s", want, joined)
		}
	}
}

func TestAssembleFallsBackWhenIsolatorMissing(t *testing.T) {
	cfg, err := Assemble(Options{
		Interpreter:    Interpreter{Path: "/usr/bin/R"},
		SocketDir:      "/tmp/x",
		SandboxBinPath: "/nonexistent/bwrap-does-not-exist",
		SandboxStrict:  false,
	})
	if err != nil {
		t.Fatalf("expected non-strict fallback to succeed, got %v", err)
	}
	if cfg.Kind != KindNone {
		t.Errorf("expected KindNone fallback, got %v", cfg.Kind)
	}
}

func TestAssembleStrictFailsWhenIsolatorMissing(t *testing.T) {
	_, err := Assemble(Options{
		Interpreter:    Interpreter{Path: "/usr/bin/R"},
		SocketDir:      "/tmp/x",
		SandboxBinPath: "/nonexistent/bwrap-does-not-exist",
		SandboxStrict:  true,
	})
	if err == nil {
		t.Fatal("expected error when sandbox_strict and isolator missing")
	}
	if _, ok := err.(*ErrSandboxUnavailable); !ok {
		t.Errorf("expected *ErrSandboxUnavailable, got %T", err)
	}
}
