// Package policy implements the per-execution policy engine (C10): the
// knobs execute(code, policy) checks before and during an execution.
package policy

import (
	"time"

	"github.com/nextlevelbuilder/securer/internal/secerr"
)

// defaultMaxCodeLength is the default cap on submitted code length, per
// spec.md §4.8.
const defaultMaxCodeLength = 100000

// defaultTotalMessageCap is the fallback total-IPC-message cap used when
// MaxToolCalls is unset, per spec.md §4.8.
const defaultTotalMessageCap = 1000

// totalMessageCapMultiplier scales the total cap from MaxToolCalls when
// it is set ("10 × max_tool_calls").
const totalMessageCapMultiplier = 10

// PreExecuteHook runs before an execution starts; returning false blocks
// it with ExecutionBlocked.
type PreExecuteHook func(code string) bool

// OutputHandler receives each captured output line as it is drained. A
// panicking or erroring handler must never corrupt the event loop — the
// supervisor is responsible for recovering around each call.
type OutputHandler func(line string)

// Policy is the immutable, per-execution configuration resolved before
// execute(code, policy) begins.
type Policy struct {
	MaxCodeLength   int // 0 means "use the default"
	MaxToolCalls    int // 0 means unlimited
	MaxOutputLines  int // 0 means unlimited
	MaxExecutions   int // 0 means unlimited
	Timeout         time.Duration
	Validate        bool
	SanitizeErrors  bool
	PreExecuteHook  PreExecuteHook
	OutputHandler   OutputHandler
}

// EffectiveMaxCodeLength returns p.MaxCodeLength or the spec default.
func (p Policy) EffectiveMaxCodeLength() int {
	if p.MaxCodeLength > 0 {
		return p.MaxCodeLength
	}
	return defaultMaxCodeLength
}

// TotalMessageCap returns the total-IPC-message cap for this policy.
func (p Policy) TotalMessageCap() int {
	if p.MaxToolCalls > 0 {
		return totalMessageCapMultiplier * p.MaxToolCalls
	}
	return defaultTotalMessageCap
}

// CheckPreExecute runs the pre-policy checks from spec.md §4.8 step 1,
// excluding syntax validation (the supervisor runs the validator
// separately when Validate is set, since it needs the interpreter
// side-channel).
func CheckPreExecute(executionsUsed int, code string, p Policy) error {
	if p.MaxExecutions > 0 && executionsUsed >= p.MaxExecutions {
		return secerr.New(secerr.ExecutionCapReached, "execution cap reached")
	}
	if len(code) > p.EffectiveMaxCodeLength() {
		return secerr.New(secerr.CodeTooLong, "submitted code exceeds max_code_length")
	}
	if p.PreExecuteHook != nil && !p.PreExecuteHook(code) {
		return secerr.New(secerr.ExecutionBlocked, "pre_execute_hook rejected the submission")
	}
	return nil
}

// CheckToolCallCap reports whether incrementing the tool-call counter to
// used would exceed MaxToolCalls (0 means unlimited).
func CheckToolCallCap(used int, p Policy) error {
	if p.MaxToolCalls > 0 && used > p.MaxToolCalls {
		return secerr.New(secerr.ToolCallsExceeded, "max_tool_calls exceeded")
	}
	return nil
}

// CheckTotalMessageCap reports whether the total-IPC-message counter has
// overflowed its cap.
func CheckTotalMessageCap(total int, p Policy) error {
	if total > p.TotalMessageCap() {
		return secerr.New(secerr.IPCFlood, "total IPC message cap exceeded")
	}
	return nil
}

// PollInterval is the event loop's tick, per spec.md §5.
const PollInterval = 200 * time.Millisecond

// PollMillis computes min(PollInterval, remaining) in milliseconds, per
// spec.md §4.8 step 5. A non-positive return means the deadline has
// already passed.
func PollMillis(remaining time.Duration) int {
	if remaining < PollInterval {
		return int(remaining / time.Millisecond)
	}
	return int(PollInterval / time.Millisecond)
}

// SafeInvokeOutputHandler calls h(line), recovering from a panic so a
// broken handler can never corrupt the event loop, per spec.md §4.8.
func SafeInvokeOutputHandler(h OutputHandler, line string) {
	if h == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	h(line)
}
