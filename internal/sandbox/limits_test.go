package sandbox

import (
	"strings"
	"testing"
)

func TestHasAnyLimit(t *testing.T) {
	if hasAnyLimit(Limits{}) {
		t.Fatal("zero-value Limits should report no limits")
	}
	if !hasAnyLimit(Limits{NumFiles: 256}) {
		t.Fatal("expected NumFiles alone to count as a limit")
	}
}

func TestUlimitScriptConvertsUnits(t *testing.T) {
	script := ulimitScript(Limits{
		CPUSeconds:   2,
		MemoryByte:   8 * 1024,
		FileSizeByte: 1024,
		NumProcs:     10,
		NumFiles:     64,
		StackByte:    2048,
	})
	for _, want := range []string{
		"ulimit -S -t 2",
		"ulimit -S -v 8",
		"ulimit -S -f 2",
		"ulimit -S -u 10",
		"ulimit -S -n 64",
		"ulimit -S -s 2",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("expected script to contain %q, got:\n%s", want, script)
		}
	}
}

func TestUlimitScriptEmptyWhenNoLimits(t *testing.T) {
	if got := ulimitScript(Limits{}); got != "" {
		t.Errorf("expected empty script, got %q", got)
	}
}
