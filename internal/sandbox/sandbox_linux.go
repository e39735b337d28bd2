//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// isolatorBin is the bubblewrap-compatible namespace/mount isolator this
// module shells out to, rather than assembling raw clone(2) flags itself
// — the same "generated wrapper around an external binary" shape the
// Mach backend uses, so both platform assemblers share one mental model.
const isolatorBin = "bwrap"

// Assemble builds a POSIX-Linux sandbox configuration: a namespace/mount
// isolator argument list plus a shell wrapper that execs the isolator
// before the real interpreter.
func Assemble(opts Options) (Config, error) {
	binPath := opts.SandboxBinPath
	if binPath == "" {
		binPath = isolatorBin
	}
	resolved, err := exec.LookPath(binPath)
	if err != nil {
		if opts.SandboxStrict {
			return Config{}, &ErrSandboxUnavailable{Platform: "linux", Reason: binPath + " not found in PATH"}
		}
		return envOnlyFallback(opts), nil
	}

	tmpDir, err := os.MkdirTemp("", "securer_lx_tmp_")
	if err != nil {
		return Config{}, fmt.Errorf("sandbox: create temp dir: %w", err)
	}

	args := isolatorArgs(opts)
	wrapperPath := filepath.Join(os.TempDir(), "securer_r_"+opts.RandomSuffix+".sh")

	var quoted []string
	for _, a := range args {
		quoted = append(quoted, shellQuote(a))
	}
	script := "#!/bin/sh\n" + ulimitScript(opts.Limits) +
		fmt.Sprintf("exec %s %s -- %s \"$@\"\n", shellQuote(resolved), strings.Join(quoted, " "), shellQuote(opts.Interpreter.Path))
	if err := os.WriteFile(wrapperPath, []byte(script), 0o700); err != nil {
		os.RemoveAll(tmpDir)
		return Config{}, fmt.Errorf("sandbox: write wrapper: %w", err)
	}

	return Config{
		Kind:        KindWrapper,
		WrapperPath: wrapperPath,
		SandboxTmp:  tmpDir,
		Strict:      opts.SandboxStrict,
	}, nil
}

// isolatorArgs builds the bubblewrap argument list per spec.md §4.3:
// unshare every namespace, die with parent, start a new session,
// read-only bind system libraries and the interpreter installation,
// a clean writable tmpfs at /tmp with the private socket directory bound
// writable on top, masked /proc/self/{environ,maps,fd}, and a minimal
// forced environment.
func isolatorArgs(opts Options) []string {
	interpreterDir := filepath.Dir(opts.Interpreter.Path)

	args := []string{
		"--unshare-all",
		"--die-with-parent",
		"--new-session",
		"--ro-bind", "/usr", "/usr",
		"--ro-bind", "/lib", "/lib",
		"--ro-bind-try", "/lib64", "/lib64",
		"--ro-bind", interpreterDir, interpreterDir,
		"--tmpfs", "/tmp",
		"--bind", opts.SocketDir, opts.SocketDir,
		"--proc", "/proc",
		"--dev", "/dev",
		"--symlink", "/dev/null", "/proc/self/environ",
		"--symlink", "/dev/null", "/proc/self/maps",
		"--symlink", "/dev/null", "/proc/self/fd",
		"--setenv", "HOME", "/tmp",
		"--setenv", "TMPDIR", "/tmp",
		"--setenv", "R_LIBS_USER", "",
	}
	// SECURER_SOCKET and SECURER_TOKEN are not set here: bwrap passes
	// through the parent's environment by default, and the supervisor
	// already places both in the child process's Env before spawn.
	return args
}

func envOnlyFallback(opts Options) Config {
	if !hasAnyLimit(opts.Limits) {
		return Config{Kind: KindNone}
	}
	return Config{Kind: KindNone, Strict: false}
}
