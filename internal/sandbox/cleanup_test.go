package sandbox

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCleanupRemovesAllPaths(t *testing.T) {
	dir := t.TempDir()
	wrapper := filepath.Join(dir, "wrapper.sh")
	profile := filepath.Join(dir, "profile.sb")
	scratch := filepath.Join(dir, "scratch")
	for _, p := range []string{wrapper, profile} {
		if err := os.WriteFile(p, []byte("x"), 0o700); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(scratch, 0o700); err != nil {
		t.Fatal(err)
	}

	cfg := Config{WrapperPath: wrapper, ProfilePath: profile, SandboxTmp: scratch}
	if err := Cleanup(cfg); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	for _, p := range []string{wrapper, profile, scratch} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("expected %s to be removed, stat err=%v", p, err)
		}
	}
}

func TestCleanupZeroValueIsNoop(t *testing.T) {
	if err := Cleanup(Config{}); err != nil {
		t.Fatalf("expected nil error for zero-value Config, got %v", err)
	}
}
