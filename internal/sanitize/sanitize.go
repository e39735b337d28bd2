// Package sanitize strips host-identifying detail — paths, PIDs, IPs, stack
// traces — from error strings before they reach the child or an external
// caller. It never changes the error's Kind, only its Message text.
package sanitize

import "regexp"

const (
	maxLen    = 2000
	truncated = "…[truncated]"
)

// ordered substitution rules, applied in sequence. Order matters: stack
// traces are truncated before the remaining rules run over whatever
// survives, so a path fragment inside a truncated trace never leaks.
var rules = []struct {
	pattern *regexp.Regexp
	repl    string
}{
	// Stack / call traces: drop everything from the marker onward.
	{regexp.MustCompile(`(?s)\b(Traceback \(most recent call last\)|Call stack:|Stack trace:)[\s\S]*$`), ""},

	// POSIX absolute paths rooted at well-known user/system prefixes.
	{regexp.MustCompile(`(?:/(?:Users|home|root|tmp|var|private|usr|opt|etc)(?:/[^\s"'<>]*)?)`), "[path]"},

	// Windows drive-letter paths, e.g. C:\Users\foo\bar or C:/Users/foo.
	{regexp.MustCompile(`[A-Za-z]:[\\/](?:[^\s"'<>]*)`), "[path]"},

	// Process-id mentions, e.g. "pid 12345" or "PID=12345".
	{regexp.MustCompile(`(?i)\bpid[=: ]+\d+`), "[pid]"},

	// IPv4 dotted-quad addresses, with or without a trailing port.
	{regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}(?::\d{1,5})?\b`), "[host]"},

	// hostname:port in a connection-error context.
	{regexp.MustCompile(`(?i)\b(?:connect(?:ion|ed|ing)? to|dial|host) [a-zA-Z0-9.\-]+(?::\d{1,5})?`), "[host]"},
}

// Sanitize applies every rule in order and truncates to a bounded length.
// It is idempotent: Sanitize(Sanitize(x)) == Sanitize(x), since every
// substitution target is a fixed placeholder token the rules do not
// themselves match.
func Sanitize(s string) string {
	for _, r := range rules {
		s = r.pattern.ReplaceAllString(s, r.repl)
	}
	if len(s) > maxLen {
		s = s[:maxLen-len(truncated)] + truncated
	}
	return s
}
