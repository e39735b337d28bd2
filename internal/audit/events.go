package audit

// Kind enumerates the fixed set of audit event kinds the supervisor emits.
type Kind string

const (
	SessionStart    Kind = "session_start"
	SessionClose    Kind = "session_close"
	SessionRestart  Kind = "session_restart"
	ExecuteStart    Kind = "execute_start"
	ExecuteComplete Kind = "execute_complete"
	ExecuteError    Kind = "execute_error"
	ExecuteTimeout  Kind = "execute_timeout"
	ToolCall        Kind = "tool_call"
	ToolResult      Kind = "tool_result"
)

const (
	// maxFieldLen bounds the "code" and "result_summary" extras per
	// spec.md §3: "Code and result fields truncated to 10 000 characters
	// with `…[truncated]` suffix."
	maxFieldLen    = 10000
	truncateMarker = "…[truncated]"
)

// TruncateField bounds a free-form text field (code, result summaries) to
// the audit log's maximum length, appending the truncation marker only
// when truncation actually occurred.
func TruncateField(s string) string {
	r := []rune(s)
	if len(r) <= maxFieldLen {
		return s
	}
	return string(r[:maxFieldLen]) + truncateMarker
}
