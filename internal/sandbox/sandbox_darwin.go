//go:build darwin

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// sandboxExecBin is the macOS mandatory-access-control binary that
// consumes a Seatbelt profile. It has been present on every shipping
// macOS release this module targets; Assemble still probes for it so a
// missing binary degrades per sandbox_strict rather than panicking.
const sandboxExecBin = "/usr/bin/sandbox-exec"

// Assemble builds a POSIX-Mach sandbox configuration: a Seatbelt profile
// with default-deny semantics plus a shell wrapper that invokes
// sandbox-exec with that profile before exec'ing the real interpreter.
func Assemble(opts Options) (Config, error) {
	binPath := opts.SandboxBinPath
	if binPath == "" {
		binPath = sandboxExecBin
	}
	if _, err := exec.LookPath(binPath); err != nil {
		if opts.SandboxStrict {
			return Config{}, &ErrSandboxUnavailable{Platform: "darwin", Reason: "sandbox-exec not found"}
		}
		return envOnlyFallback(opts), nil
	}

	tmpDir, err := os.MkdirTemp("", "securer_sb_tmp_")
	if err != nil {
		return Config{}, fmt.Errorf("sandbox: create temp dir: %w", err)
	}

	profilePath := filepath.Join(os.TempDir(), "securer_sb_"+opts.RandomSuffix+".sb")
	if err := os.WriteFile(profilePath, []byte(seatbeltProfile(opts)), 0o600); err != nil {
		os.RemoveAll(tmpDir)
		return Config{}, fmt.Errorf("sandbox: write profile: %w", err)
	}

	wrapperPath := filepath.Join(os.TempDir(), "securer_r_"+opts.RandomSuffix+".sh")
	script := "#!/bin/sh\n" + ulimitScript(opts.Limits) +
		fmt.Sprintf("exec %s -f %s %s \"$@\"\n", shellQuote(binPath), shellQuote(profilePath), shellQuote(opts.Interpreter.Path))
	if err := os.WriteFile(wrapperPath, []byte(script), 0o700); err != nil {
		os.RemoveAll(tmpDir)
		os.Remove(profilePath)
		return Config{}, fmt.Errorf("sandbox: write wrapper: %w", err)
	}

	return Config{
		Kind:        KindWrapper,
		WrapperPath: wrapperPath,
		ProfilePath: profilePath,
		SandboxTmp:  tmpDir,
		Strict:      opts.SandboxStrict,
	}, nil
}

// seatbeltProfile renders a default-deny Seatbelt profile string that
// permits broad reads (the interpreter needs system libraries), writes
// confined to system temp directories, a handful of device nodes, and the
// session's private socket directory, local-stream-socket networking
// only, and process-exec limited to the interpreter plus a small
// allowlist of POSIX utilities needed at start-up.
func seatbeltProfile(opts Options) string {
	return fmt.Sprintf(`(version 1)
(deny default)

(allow file-read*)

(allow file-write*
  (subpath "/private/tmp")
  (subpath "/private/var/tmp")
  (subpath %q)
  (literal "/dev/null")
  (literal "/dev/tty")
  (literal "/dev/random")
  (literal "/dev/urandom"))

(allow network-outbound (local unix-socket))
(deny network-outbound (remote ip))
(deny network-inbound (remote ip))

(allow process-exec
  (literal %q)
  (literal "/bin/sh")
  (literal "/bin/cat")
  (literal "/usr/bin/env")
  (literal "/usr/bin/true"))

(allow signal (target self))
(allow sysctl-read)
(allow mach-lookup)
(allow iokit-open)
`, opts.SocketDir, opts.Interpreter.Path)
}

func envOnlyFallback(opts Options) Config {
	if !hasAnyLimit(opts.Limits) {
		return Config{Kind: KindNone}
	}
	return Config{Kind: KindNone, Strict: false}
}
