package sanitize

import (
	"strings"
	"testing"
)

func TestSanitizeStripsPaths(t *testing.T) {
	in := `open failed: /Users/alice/secret/project/file.R: no such file`
	got := Sanitize(in)
	if strings.Contains(got, "alice") {
		t.Errorf("expected path to be stripped, got %q", got)
	}
	if !strings.Contains(got, "[path]") {
		t.Errorf("expected [path] placeholder, got %q", got)
	}
}

func TestSanitizeStripsStackTrace(t *testing.T) {
	in := "bad call\nTraceback (most recent call last):\n  File internal, line 2\n    f()\n"
	got := Sanitize(in)
	if strings.Contains(got, "Traceback") || strings.Contains(got, "line 2") {
		t.Errorf("expected trace to be dropped, got %q", got)
	}
}

func TestSanitizeStripsPidAndHost(t *testing.T) {
	in := "process pid=4821 could not connect to 10.0.0.5:8080"
	got := Sanitize(in)
	if strings.Contains(got, "4821") {
		t.Errorf("expected pid stripped, got %q", got)
	}
	if strings.Contains(got, "10.0.0.5") {
		t.Errorf("expected ip stripped, got %q", got)
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{
		"short string",
		strings.Repeat("/home/bob/data.csv ", 500),
		"Traceback (most recent call last):\n" + strings.Repeat("x", 5000),
	}
	for _, in := range inputs {
		once := Sanitize(in)
		twice := Sanitize(once)
		if once != twice {
			t.Errorf("Sanitize not idempotent for input len %d:\nonce=%q\ntwice=%q", len(in), once, twice)
		}
	}
}

func TestSanitizeTruncates(t *testing.T) {
	in := strings.Repeat("a", 5000)
	got := Sanitize(in)
	if len(got) > maxLen {
		t.Errorf("expected length <= %d, got %d", maxLen, len(got))
	}
	if !strings.HasSuffix(got, truncated) {
		t.Errorf("expected truncation marker, got suffix %q", got[len(got)-20:])
	}
}
