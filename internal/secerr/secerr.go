// Package secerr defines the supervisor's error taxonomy. Every error the
// supervisor surfaces to a caller carries a Kind from this fixed set, so
// integrators can branch on errors.As without parsing messages.
package secerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the named error categories from the wire/API
// contract. The zero value is not a valid Kind.
type Kind string

const (
	SandboxUnavailable   Kind = "SandboxUnavailable"
	IPCAuthFailed        Kind = "IPCAuthFailed"
	IPCFrameTooLarge     Kind = "IPCFrameTooLarge"
	IPCSchemaViolation   Kind = "IPCSchemaViolation"
	IPCFlood             Kind = "IPCFlood"
	SyntaxError          Kind = "SyntaxError"
	CodeTooLong          Kind = "CodeTooLong"
	ExecutionCapReached  Kind = "ExecutionCapReached"
	ExecutionBlocked     Kind = "ExecutionBlocked"
	ToolCallsExceeded    Kind = "ToolCallsExceeded"
	Timeout              Kind = "Timeout"
	ExecutionFailed      Kind = "ExecutionFailed"
	InvalidIdentifier    Kind = "InvalidIdentifier"
	DuplicateTool        Kind = "DuplicateTool"
	UnknownTool          Kind = "UnknownTool"
	UnexpectedArguments  Kind = "UnexpectedArguments"
	InvalidLimit         Kind = "InvalidLimit"
	AuditPathRejected    Kind = "AuditPathRejected"
	SessionNotRunning    Kind = "SessionNotRunning"
	ConcurrentExecution  Kind = "ConcurrentExecution"
	PoolClosed           Kind = "PoolClosed"
	PoolExhausted        Kind = "PoolExhausted"

	// ArgumentSchemaViolation, ExecutionRateLimited and ConfigInvalid are
	// additions beyond the distilled wire contract; see SPEC_FULL.md §7.
	ArgumentSchemaViolation Kind = "ArgumentSchemaViolation"
	ExecutionRateLimited    Kind = "ExecutionRateLimited"
	ConfigInvalid           Kind = "ConfigInvalid"

	// TelemetryExportFailed is never returned to a caller; it is only ever
	// logged, since a tracing backend outage must not affect execution.
	TelemetryExportFailed Kind = "TelemetryExportFailed"
)

// Error is a typed supervisor error. Message is human-readable and, for
// execution-category errors, is subject to the Error Sanitizer (package
// sanitize) before it ever reaches a caller with sanitize_errors set.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is supports errors.Is(err, secerr.New(kind, "")) by comparing Kind only,
// which lets callers test `errors.Is(err, secerr.New(secerr.Timeout, ""))`.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return e.Kind == t.Kind
}

// Of reports the Kind of err if it is (or wraps) a *Error, and ok=false
// otherwise.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
