package sandbox

import (
	"fmt"
	"strings"
)

// ulimitScript renders the POSIX shell `ulimit` lines a wrapper script
// prepends before exec'ing the (possibly further-wrapped) interpreter.
// `cpu` is seconds; `memory`/`stack` are bytes converted to KiB and
// `fsize` is bytes converted to 512-byte blocks, the units `ulimit`
// expects; `nproc`/`nofile` are counts. Each limit is set twice, once
// with `ulimit -S` (soft) and once with `ulimit -H` (hard).
func ulimitScript(l Limits) string {
	var b strings.Builder
	if l.CPUSeconds > 0 {
		fmt.Fprintf(&b, "ulimit -S -t %d 2>/dev/null; ulimit -H -t %d 2>/dev/null\n", int64(l.CPUSeconds), int64(l.CPUSeconds))
	}
	if l.MemoryByte > 0 {
		kib := l.MemoryByte / 1024
		fmt.Fprintf(&b, "ulimit -S -v %d 2>/dev/null; ulimit -H -v %d 2>/dev/null\n", kib, kib)
	}
	if l.FileSizeByte > 0 {
		blocks := l.FileSizeByte / 512
		fmt.Fprintf(&b, "ulimit -S -f %d 2>/dev/null; ulimit -H -f %d 2>/dev/null\n", blocks, blocks)
	}
	if l.NumProcs > 0 {
		fmt.Fprintf(&b, "ulimit -S -u %d 2>/dev/null; ulimit -H -u %d 2>/dev/null\n", l.NumProcs, l.NumProcs)
	}
	if l.NumFiles > 0 {
		fmt.Fprintf(&b, "ulimit -S -n %d 2>/dev/null; ulimit -H -n %d 2>/dev/null\n", l.NumFiles, l.NumFiles)
	}
	if l.StackByte > 0 {
		kib := l.StackByte / 1024
		fmt.Fprintf(&b, "ulimit -S -s %d 2>/dev/null; ulimit -H -s %d 2>/dev/null\n", kib, kib)
	}
	return b.String()
}

// hasAnyLimit reports whether any field of l is non-zero.
func hasAnyLimit(l Limits) bool {
	return l.CPUSeconds > 0 || l.MemoryByte > 0 || l.FileSizeByte > 0 ||
		l.NumProcs > 0 || l.NumFiles > 0 || l.StackByte > 0
}

// shellQuote single-quotes s for safe embedding in a generated POSIX
// shell wrapper script, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
