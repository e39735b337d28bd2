// Package sandbox assembles a per-platform launch configuration for the
// interpreter child: a generated wrapper script plus profile on platforms
// with a mandatory-access-control sandbox binary, or an environment-only
// configuration with a post-spawn hook where the platform requires it.
package sandbox

import (
	"fmt"
)

// Kind identifies which variant of Config Assemble produced.
type Kind int

const (
	// KindWrapper means the interpreter must be launched via WrapperPath
	// instead of directly — the wrapper invokes the real interpreter under
	// an OS sandbox.
	KindWrapper Kind = iota
	// KindEnvOnly means no wrapper is used; EnvOverrides are merged into
	// the child's environment and, if PostSpawnHook is set, it is invoked
	// with the child PID after spawn.
	KindEnvOnly
	// KindNone means no sandboxing was applied (and no confinement was
	// requested, or sandbox_strict is false and assembly fell back).
	KindNone
)

// Limits names the resource caps spec.md §4.3 translates per platform.
// All fields are optional; zero means "not requested".
type Limits struct {
	CPUSeconds float64
	MemoryByte uint64
	FileSizeByte uint64
	NumProcs   uint64
	NumFiles   uint64
	StackByte  uint64
}

// Config is the assembled launch configuration for one session's child
// process. It is immutable once returned by Assemble and is destroyed
// (its files unlinked) by Cleanup.
type Config struct {
	Kind Kind

	// KindWrapper fields.
	WrapperPath string
	ProfilePath string

	// Shared tracked-for-cleanup scratch directory (may be empty).
	SandboxTmp string

	// KindEnvOnly fields.
	EnvOverrides  map[string]string
	PostSpawnHook func(pid int) error

	// Strict records whether sandbox_strict forced this configuration
	// (used only for diagnostics / audit events).
	Strict bool
}

// Interpreter describes the target binary a sandbox wraps.
type Interpreter struct {
	// Path to the real interpreter binary.
	Path string
	// Args are interpreter-invocation arguments (before child's own argv).
	Args []string
}

// Options controls sandbox assembly.
type Options struct {
	Interpreter    Interpreter
	SocketDir      string // the session's private rendezvous directory; always writable
	Limits         Limits
	SandboxStrict  bool
	SandboxBinPath string // override for the platform MAC binary / isolator binary; empty = auto-detect
	RandomSuffix   string // used to name wrapper/profile/tmp files uniquely
}

// ErrSandboxUnavailable is returned when SandboxStrict is set and no real
// sandbox backend could be produced.
type ErrSandboxUnavailable struct {
	Platform string
	Reason   string
}

func (e *ErrSandboxUnavailable) Error() string {
	return fmt.Sprintf("sandbox unavailable on %s: %s", e.Platform, e.Reason)
}

// Cleanup removes every filesystem artifact Assemble created for cfg. It
// is idempotent and safe to call on a zero-value Config.
func Cleanup(cfg Config) error {
	return cleanupPaths(cfg)
}
