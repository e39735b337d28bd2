// Package supervisor implements the session lifecycle and event loop
// (C8): it owns the child process, the IPC channel, the sandbox
// resources, and the audit logger for one execution-capable session.
package supervisor

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/securer/internal/audit"
	"github.com/nextlevelbuilder/securer/internal/ipc"
	"github.com/nextlevelbuilder/securer/internal/policy"
	"github.com/nextlevelbuilder/securer/internal/ratelimit"
	"github.com/nextlevelbuilder/securer/internal/runtime"
	"github.com/nextlevelbuilder/securer/internal/sandbox"
	"github.com/nextlevelbuilder/securer/internal/sanitize"
	"github.com/nextlevelbuilder/securer/internal/secerr"
	"github.com/nextlevelbuilder/securer/internal/telemetry"
	"github.com/nextlevelbuilder/securer/internal/tools"
	"github.com/nextlevelbuilder/securer/internal/validator"
)

// tracerName identifies this package's spans in a trace backend, per
// SPEC_FULL.md §4.10.
const tracerName = "github.com/nextlevelbuilder/securer/internal/supervisor"

// State is one node of the session finite state machine from spec.md §3.
type State int

const (
	StateInit State = iota
	StateStarting
	StateReady
	StateExecuting
	StateTimedOut
	StateRestarting
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateStarting:
		return "STARTING"
	case StateReady:
		return "READY"
	case StateExecuting:
		return "EXECUTING"
	case StateTimedOut:
		return "TIMED_OUT"
	case StateRestarting:
		return "RESTARTING"
	case StateFailed:
		return "FAILED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// envAllowlist is the fixed set of environment variables carried through
// to the child, per spec.md §4.7 step 5.
var envAllowlist = []string{
	"PATH", "HOME", "USER", "LOGNAME", "LANG", "SHELL", "TMPDIR", "TZ",
	"TERM", "R_HOME", "R_LIBS_SITE", "R_PLATFORM", "R_ARCH",
}

// Config is the immutable configuration a session is constructed (and, on
// restart, re-constructed) from.
type Config struct {
	ID              string
	InterpreterPath string
	InterpreterArgs []string
	BaseTempDir     string
	Registry        *tools.Registry
	Audit           *audit.Logger
	SandboxStrict   bool
	SandboxBinPath  string
	Limits          sandbox.Limits

	// Telemetry is the tracer provider start_session/execute/restart/
	// close/tool_call spans are recorded against, per SPEC_FULL.md §4.10.
	// A nil Telemetry is replaced with telemetry.NewNoop() in New, so
	// every span call below is unconditional.
	Telemetry *telemetry.Provider

	// RateLimiter, when set, gates Execute and each tool_call ahead of
	// the Policy Engine's hard caps, per SPEC_FULL.md §4.14. A nil
	// RateLimiter disables both layers.
	RateLimiter *ratelimit.Guard
}

// outputBuffer is a bounded, concurrency-safe line sink the stdout/stderr
// drain goroutines append to and the event loop periodically drains.
type outputBuffer struct {
	mu      sync.Mutex
	lines   []string
	max     int // 0 means unlimited
	dropped int
}

func (b *outputBuffer) append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && len(b.lines) >= b.max {
		b.dropped++
		return
	}
	b.lines = append(b.lines, line)
}

func (b *outputBuffer) drain() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.lines
	b.lines = nil
	return out
}

// Session owns one child process and its supporting resources.
type Session struct {
	cfg Config

	mu        sync.Mutex
	state     State
	executing bool

	cmd        *exec.Cmd
	rv         ipc.Rendezvous
	listener   *ipc.Listener
	channel    *ipc.Channel
	sandboxCfg sandbox.Config
	token      string

	stdout *outputBuffer
	stderr *outputBuffer

	processDone chan struct{}
	exitMu      sync.Mutex
	processErr  error

	executionsUsed int
}

// New constructs a session in state INIT. No child is spawned until
// StartSession is called.
func New(cfg Config) *Session {
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.NewNoop()
	}
	return &Session{cfg: cfg, state: StateInit}
}

// startSpan opens a span named after a lifecycle operation, tagged with
// session.id plus any operation-specific attributes, per SPEC_FULL.md
// §4.10. With no telemetry configured the session carries a noop
// provider, so this is always safe to call unconditionally.
func (s *Session) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append([]attribute.KeyValue{attribute.String("session.id", s.cfg.ID)}, attrs...)
	tracer := s.cfg.Telemetry.TracerProvider.Tracer(tracerName)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// finishSpan records the operation's outcome on span. When err is set,
// the recorded error is passed through the Sanitizer first if
// sanitizeErrors is set, mirroring the propagation policy of spec.md §7 —
// telemetry must never leak what the caller asked to have redacted.
func finishSpan(span trace.Span, err error, sanitizeErrors bool) {
	if err == nil {
		span.SetAttributes(attribute.String("execution.outcome", "success"))
		return
	}
	msg := err.Error()
	if sanitizeErrors {
		msg = sanitize.Sanitize(msg)
	}
	span.SetAttributes(attribute.String("execution.outcome", "error"))
	span.RecordError(errors.New(msg))
	span.SetStatus(codes.Error, msg)
}

// plainMessage strips the "Kind: " prefix secerr.Error.Error() adds, so
// the exact wire-format strings spec.md §4.8 names (e.g. "Unexpected
// arguments for tool 'ping': 'evil'") reach the child unprefixed, the
// same way the hand-written "Unknown tool: …" reply already does.
func plainMessage(err error) string {
	var se *secerr.Error
	if errors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsAlive reports whether a child process exists and has not exited, per
// spec.md §3 invariant I1.
func (s *Session) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isAliveLocked()
}

func (s *Session) isAliveLocked() bool {
	switch s.state {
	case StateStarting, StateReady, StateExecuting, StateTimedOut, StateRestarting:
	default:
		return false
	}
	if s.processDone == nil {
		return false
	}
	select {
	case <-s.processDone:
		return false
	default:
		return true
	}
}

// StartSession implements spec.md §4.7's start_session: bind the socket,
// assemble the sandbox, spawn the child, complete the handshake, and
// inject the runtime snippets.
func (s *Session) StartSession(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "supervisor.start_session")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.startSessionLocked(ctx)
	finishSpan(span, err, false)
	return err
}

func (s *Session) startSessionLocked(ctx context.Context) (err error) {
	s.state = StateStarting

	rv, rvErr := ipc.NewRendezvous(s.cfg.BaseTempDir)
	if rvErr != nil {
		s.state = StateFailed
		return secerr.Wrap(secerr.SandboxUnavailable, "create rendezvous directory", rvErr)
	}
	s.rv = rv

	defer func() {
		if err != nil {
			s.teardownLocked()
			s.state = StateFailed
		}
	}()

	token, tokErr := ipc.NewToken()
	if tokErr != nil {
		return secerr.Wrap(secerr.IPCAuthFailed, "generate session token", tokErr)
	}
	s.token = token

	listener, lnErr := ipc.Listen(rv, token)
	if lnErr != nil {
		return secerr.Wrap(secerr.IPCAuthFailed, "bind IPC socket", lnErr)
	}
	s.listener = listener

	sbCfg, sbErr := sandbox.Assemble(sandbox.Options{
		Interpreter:    sandbox.Interpreter{Path: s.cfg.InterpreterPath, Args: s.cfg.InterpreterArgs},
		SocketDir:      rv.Dir,
		Limits:         s.cfg.Limits,
		SandboxStrict:  s.cfg.SandboxStrict,
		SandboxBinPath: s.cfg.SandboxBinPath,
		RandomSuffix:   randomSuffix(),
	})
	if sbErr != nil {
		return sbErr
	}
	s.sandboxCfg = sbCfg

	env := buildChildEnv(sbCfg, rv.SocketPath, token)

	var name string
	var args []string
	if sbCfg.Kind == sandbox.KindWrapper {
		name = sbCfg.WrapperPath
	} else {
		name = s.cfg.InterpreterPath
		args = s.cfg.InterpreterArgs
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = env
	stdout, soErr := cmd.StdoutPipe()
	if soErr != nil {
		return secerr.Wrap(secerr.SandboxUnavailable, "create stdout pipe", soErr)
	}
	stderr, seErr := cmd.StderrPipe()
	if seErr != nil {
		return secerr.Wrap(secerr.SandboxUnavailable, "create stderr pipe", seErr)
	}

	if startErr := cmd.Start(); startErr != nil {
		return secerr.Wrap(secerr.SandboxUnavailable, "spawn interpreter", startErr)
	}
	s.cmd = cmd
	s.stdout = &outputBuffer{}
	s.stderr = &outputBuffer{}
	s.processDone = make(chan struct{})

	var drain errgroup.Group
	drain.Go(func() error { drainPipe(stdout, s.stdout); return nil })
	drain.Go(func() error { drainPipe(stderr, s.stderr); return nil })
	go s.waitForExit(s.processDone)

	if sbCfg.PostSpawnHook != nil {
		if hookErr := sbCfg.PostSpawnHook(cmd.Process.Pid); hookErr != nil {
			slog.Warn("supervisor: sandbox post-spawn hook failed", "session", s.cfg.ID, "error", hookErr)
		}
	}

	if acceptErr := s.handshakeLocked(); acceptErr != nil {
		return acceptErr
	}

	if s.cfg.Registry != nil && !s.cfg.Registry.Empty() {
		snippet, genErr := tools.GenerateWrapperSnippet(s.cfg.Registry)
		if genErr != nil {
			return genErr
		}
		if writeErr := s.channel.WriteReply(ipc.ReplyFrame{Value: map[string]string{"inject": snippet}}); writeErr != nil {
			return secerr.Wrap(secerr.IPCAuthFailed, "inject wrapper snippet", writeErr)
		}
	}

	s.state = StateReady
	if s.cfg.Audit != nil {
		s.cfg.Audit.Emit(s.cfg.ID, audit.SessionStart, map[string]any{
			"sandbox": sandboxKindLabel(sbCfg.Kind),
			"pid":     cmd.Process.Pid,
		})
	}
	return nil
}

// handshakeLocked accepts the child's connection and authenticates it,
// then writes the bootstrap snippet as the first outbound message, per
// spec.md §4.1's handshake and §4.2's injection order.
func (s *Session) handshakeLocked() error {
	ch, err := s.listener.Accept()
	if err != nil {
		return err
	}
	s.channel = ch

	bootstrap, err := runtime.GenerateBootstrap()
	if err != nil {
		return err
	}
	return ch.WriteReply(ipc.ReplyFrame{Value: map[string]string{"inject": bootstrap}})
}

func randomSuffix() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

func sandboxKindLabel(k sandbox.Kind) string {
	switch k {
	case sandbox.KindWrapper:
		return "wrapper"
	case sandbox.KindEnvOnly:
		return "env_only"
	default:
		return "none"
	}
}

// buildChildEnv applies the allowlist from spec.md §4.7 step 5, then
// injects R_LIBS_USER, SECURER_SOCKET, SECURER_TOKEN, and any
// sandbox-supplied overrides (which take precedence).
func buildChildEnv(sbCfg sandbox.Config, socketPath, token string) []string {
	env := make(map[string]string)
	for _, k := range envAllowlist {
		if v, ok := os.LookupEnv(k); ok {
			env[k] = v
		}
	}
	for k, v := range envLCVars() {
		env[k] = v
	}
	env["R_LIBS_USER"] = ""
	env["SECURER_SOCKET"] = socketPath
	env["SECURER_TOKEN"] = token
	for k, v := range sbCfg.EnvOverrides {
		env[k] = v
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// envLCVars carries through every LC_* variable present in the parent's
// environment, since the allowlist names the whole LC_* family rather
// than an enumerable fixed list.
func envLCVars() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				k := kv[:i]
				if len(k) > 3 && k[:3] == "LC_" {
					out[k] = kv[i+1:]
				}
				break
			}
		}
	}
	return out
}

// waitForExit captures the child's exit status on a dedicated mutex
// (never the session's main mu) and closes processDone last, so that
// killChildLocked can safely wait on processDone while holding mu.
func (s *Session) waitForExit(done chan struct{}) {
	err := s.cmd.Wait()
	s.exitMu.Lock()
	s.processErr = err
	s.exitMu.Unlock()
	close(done)
}

// drainPipe copies lines from a child's stdout or stderr pipe into buf
// until the pipe is closed (the child exits or is killed), mirroring the
// continuous read-loop pattern of a pty drain goroutine.
func drainPipe(r io.Reader, buf *outputBuffer) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		buf.append(scanner.Text())
	}
}

// ExecuteResult is returned by Execute on success.
type ExecuteResult struct {
	Value  any
	Output []string
}

// Execute runs one submission through the event loop, per spec.md §4.8.
func (s *Session) Execute(ctx context.Context, code string, p policy.Policy) (ExecuteResult, error) {
	ctx, span := s.startSpan(ctx, "supervisor.execute")
	defer span.End()

	result, err := s.doExecute(ctx, code, p)
	finishSpan(span, err, p.SanitizeErrors)
	return result, err
}

func (s *Session) doExecute(ctx context.Context, code string, p policy.Policy) (ExecuteResult, error) {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return ExecuteResult{}, secerr.New(secerr.SessionNotRunning, "session is not READY")
	}
	if s.executing {
		s.mu.Unlock()
		return ExecuteResult{}, secerr.New(secerr.ConcurrentExecution, "an execution is already in flight")
	}

	// The Rate Limiter's per-session bucket sits ahead of the Policy
	// Engine's hard caps, per SPEC_FULL.md §4.14.
	if s.cfg.RateLimiter != nil {
		if err := s.cfg.RateLimiter.AllowExecute(s.cfg.ID); err != nil {
			s.mu.Unlock()
			return ExecuteResult{}, err
		}
	}

	if err := policy.CheckPreExecute(s.executionsUsed, code, p); err != nil {
		s.mu.Unlock()
		return ExecuteResult{}, err
	}

	if p.Validate {
		checker := validator.ExecSyntaxChecker{InterpreterPath: s.cfg.InterpreterPath}
		if res := validator.Validate(ctx, checker, code); !res.Valid {
			s.mu.Unlock()
			return ExecuteResult{}, res.Err
		}
	}

	s.executionsUsed++
	s.executing = true
	s.state = StateExecuting
	channel := s.channel
	registry := s.cfg.Registry
	stdout, stderr := s.stdout, s.stderr
	auditLogger := s.cfg.Audit
	sessionID := s.cfg.ID
	s.mu.Unlock()

	if auditLogger != nil {
		auditLogger.Emit(sessionID, audit.ExecuteStart, map[string]any{"code": code})
	}

	if err := channel.WriteReply(ipc.ReplyFrame{Value: map[string]string{"eval": code}}); err != nil {
		s.finishExecution(StateReady)
		return ExecuteResult{}, secerr.Wrap(secerr.ExecutionFailed, "dispatch code to child", err)
	}

	var deadline time.Time
	if p.Timeout > 0 {
		deadline = time.Now().Add(p.Timeout)
	}

	var outputLines []string
	toolCallsUsed := 0
	totalMessages := 0

	for {
		var remaining time.Duration
		if !deadline.IsZero() {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return s.handleTimeout(ctx, sessionID, p.Timeout, auditLogger)
			}
		} else {
			remaining = policy.PollInterval
		}
		pollMillis := policy.PollMillis(remaining)

		for _, line := range stdout.drain() {
			outputLines = appendOutput(outputLines, line, p)
			policy.SafeInvokeOutputHandler(p.OutputHandler, line)
		}
		for _, line := range stderr.drain() {
			outputLines = appendOutput(outputLines, line, p)
			policy.SafeInvokeOutputHandler(p.OutputHandler, line)
		}

		if err := channel.SetDeadline(time.Now().Add(time.Duration(pollMillis) * time.Millisecond)); err != nil {
			s.finishExecution(StateReady)
			return ExecuteResult{}, secerr.Wrap(secerr.ExecutionFailed, "set poll deadline", err)
		}

		frame, typ, raw, err := channel.ReadFrame()
		if err != nil {
			if isTimeoutErr(err) {
				if complete, result, execErr := s.pollChildComplete(sessionID, outputLines, auditLogger, p); complete {
					s.finishExecution(StateReady)
					return result, execErr
				}
				continue
			}
			s.finishExecution(StateReady)
			return ExecuteResult{}, err
		}

		totalMessages++
		if err := policy.CheckTotalMessageCap(totalMessages, p); err != nil {
			s.finishExecution(StateReady)
			return ExecuteResult{}, err
		}

		if typ == "exec_result" {
			result, execErr := s.handleExecResult(sessionID, raw, outputLines, auditLogger, p)
			s.finishExecution(StateReady)
			return result, execErr
		}

		if typ != "tool_call" {
			slog.Warn("supervisor: unknown IPC message type", "session", sessionID, "type", typ)
			continue
		}

		// The Rate Limiter's per-category sliding window sits ahead of
		// the Policy Engine's absolute max_tool_calls cap, per
		// SPEC_FULL.md §4.14.
		if s.cfg.RateLimiter != nil {
			if err := s.cfg.RateLimiter.AllowToolCall(frame.Tool); err != nil {
				s.finishExecution(StateReady)
				return ExecuteResult{}, err
			}
		}

		toolCallsUsed++
		if err := policy.CheckToolCallCap(toolCallsUsed, p); err != nil {
			s.finishExecution(StateReady)
			return ExecuteResult{}, err
		}

		s.dispatchToolCall(ctx, sessionID, channel, registry, frame, auditLogger, p)
	}
}

func appendOutput(lines []string, line string, p policy.Policy) []string {
	if p.MaxOutputLines > 0 && len(lines) >= p.MaxOutputLines {
		return lines
	}
	return append(lines, line)
}

func (s *Session) dispatchToolCall(ctx context.Context, sessionID string, ch *ipc.Channel, reg *tools.Registry, frame *ipc.ToolCallFrame, auditLogger *audit.Logger, p policy.Policy) {
	_, span := s.startSpan(ctx, "supervisor.tool_call", attribute.String("tool.name", frame.Tool))
	defer span.End()

	// A fresh correlation ID per call, threaded into both the audit trail
	// and the span so the two can be cross-referenced for one tool
	// invocation.
	callID := uuid.NewString()
	span.SetAttributes(attribute.String("tool.call_id", callID))

	var args map[string]any
	if len(frame.Args) > 0 {
		_ = json.Unmarshal(frame.Args, &args)
	}

	fn, expected, schema, hasMetadata, ok := reg.Get(frame.Tool)
	if !ok {
		msg := "Unknown tool: " + frame.Tool
		finishSpan(span, errors.New(msg), false)
		_ = ch.WriteReply(ipc.ReplyFrame{Error: msg})
		return
	}

	if err := tools.CheckArguments(frame.Tool, expected, schema, hasMetadata, args); err != nil {
		finishSpan(span, err, false)
		_ = ch.WriteReply(ipc.ReplyFrame{Error: plainMessage(err)})
		return
	}

	if auditLogger != nil {
		auditLogger.Emit(sessionID, audit.ToolCall, map[string]any{"tool": frame.Tool, "call_id": callID, "args": args})
	}

	start := time.Now()
	value, err := invokeTool(fn, args)
	elapsed := time.Since(start)

	if err != nil {
		msg := err.Error()
		if p.SanitizeErrors {
			msg = sanitize.Sanitize(msg)
		}
		finishSpan(span, errors.New(msg), false)
		if auditLogger != nil {
			auditLogger.Emit(sessionID, audit.ToolResult, map[string]any{"tool": frame.Tool, "call_id": callID, "error": msg, "elapsed_ms": elapsed.Milliseconds()})
		}
		_ = ch.WriteReply(ipc.ReplyFrame{Error: msg})
		return
	}

	if auditLogger != nil {
		auditLogger.Emit(sessionID, audit.ToolResult, map[string]any{
			"tool": frame.Tool, "call_id": callID, "error": nil,
			"result_summary": audit.TruncateField(fmt.Sprintf("%v", value)),
			"elapsed_ms":      elapsed.Milliseconds(),
		})
	}
	finishSpan(span, nil, false)
	_ = ch.WriteReply(ipc.ReplyFrame{Value: value})
}

// invokeTool calls fn, recovering from a panic so a misbehaving tool
// implementation cannot crash the event loop, and reports it the same way
// as a returned error.
func invokeTool(fn tools.Func, args map[string]any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool implementation panicked: %v", r)
		}
	}()
	return fn(args)
}

func (s *Session) handleExecResult(sessionID string, raw map[string]json.RawMessage, output []string, auditLogger *audit.Logger, p policy.Policy) (ExecuteResult, error) {
	if errRaw, ok := raw["error"]; ok && !isJSONNull(errRaw) {
		var msg string
		_ = json.Unmarshal(errRaw, &msg)
		if p.SanitizeErrors {
			msg = sanitize.Sanitize(msg)
		}
		if auditLogger != nil {
			auditLogger.Emit(sessionID, audit.ExecuteError, map[string]any{"error": msg})
		}
		return ExecuteResult{Output: output}, secerr.New(secerr.ExecutionFailed, msg)
	}

	var value any
	if v, ok := raw["value"]; ok {
		_ = json.Unmarshal(v, &value)
	}
	if auditLogger != nil {
		auditLogger.Emit(sessionID, audit.ExecuteComplete, map[string]any{})
	}
	return ExecuteResult{Value: value, Output: output}, nil
}

// pollChildComplete checks, with zero wait, whether the child process has
// exited, per spec.md §4.8's final step. It is only reachable when the IPC
// poll in the main loop timed out without a frame.
func (s *Session) pollChildComplete(sessionID string, output []string, auditLogger *audit.Logger, p policy.Policy) (bool, ExecuteResult, error) {
	select {
	case <-s.processDone:
	default:
		return false, ExecuteResult{}, nil
	}

	s.exitMu.Lock()
	exitErr := s.processErr
	s.exitMu.Unlock()

	if exitErr != nil {
		msg := exitErr.Error()
		if p.SanitizeErrors {
			msg = sanitize.Sanitize(msg)
		}
		if auditLogger != nil {
			auditLogger.Emit(sessionID, audit.ExecuteError, map[string]any{"error": msg})
		}
		return true, ExecuteResult{Output: output}, secerr.New(secerr.ExecutionFailed, msg)
	}
	if auditLogger != nil {
		auditLogger.Emit(sessionID, audit.ExecuteComplete, map[string]any{})
	}
	return true, ExecuteResult{Output: output}, nil
}

// handleTimeout implements spec.md §4.8's timeout handler: kill, tear
// down, restart, and surface a Timeout error. The session is READY again
// on return, self-healing per spec.md §4.8.
func (s *Session) handleTimeout(ctx context.Context, sessionID string, d time.Duration, auditLogger *audit.Logger) (ExecuteResult, error) {
	if auditLogger != nil {
		auditLogger.Emit(sessionID, audit.ExecuteTimeout, map[string]any{"timeout_ms": d.Milliseconds()})
	}
	s.mu.Lock()
	s.state = StateTimedOut
	s.killChildLocked()
	s.teardownLocked()
	restartErr := s.startSessionLocked(ctx)
	s.executing = false
	s.mu.Unlock()

	if restartErr != nil {
		return ExecuteResult{}, restartErr
	}
	return ExecuteResult{}, secerr.New(secerr.Timeout, fmt.Sprintf("execution timed out after %s", d))
}

func (s *Session) finishExecution(next State) {
	s.mu.Lock()
	s.executing = false
	if s.state == StateExecuting {
		s.state = next
	}
	s.mu.Unlock()
}

// Restart refuses while EXECUTING, then tears down and re-runs
// StartSession, per spec.md §4.7.
func (s *Session) Restart(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "supervisor.restart")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateExecuting {
		err := secerr.New(secerr.ConcurrentExecution, "cannot restart while an execution is in flight")
		finishSpan(span, err, false)
		return err
	}
	s.state = StateRestarting
	s.killChildLocked()
	s.teardownLocked()
	if s.cfg.Audit != nil {
		s.cfg.Audit.Emit(s.cfg.ID, audit.SessionRestart, map[string]any{})
	}
	err := s.startSessionLocked(ctx)
	finishSpan(span, err, false)
	return err
}

// Close kills the child (if any), releases all resources, and marks the
// session CLOSED, per spec.md §4.7.
func (s *Session) Close() error {
	_, span := s.startSpan(context.Background(), "supervisor.close")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		finishSpan(span, nil, false)
		return nil
	}
	if s.cfg.Audit != nil {
		s.cfg.Audit.Emit(s.cfg.ID, audit.SessionClose, map[string]any{})
	}
	s.killChildLocked()
	s.teardownLocked()
	if s.cfg.RateLimiter != nil {
		s.cfg.RateLimiter.Forget(s.cfg.ID)
	}
	s.state = StateClosed
	finishSpan(span, nil, false)
	return nil
}

// killChildLocked sends the kill signal and waits for waitForExit to
// observe the exit, so callers never race the reaper goroutine.
func (s *Session) killChildLocked() {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	_ = s.cmd.Process.Kill()
	if s.processDone != nil {
		<-s.processDone
	}
}

// teardownLocked releases the IPC channel, listener, rendezvous
// directory, and sandbox-generated files, per spec.md §3 invariant I4.
func (s *Session) teardownLocked() {
	if s.channel != nil {
		_ = s.channel.Close()
		s.channel = nil
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	_ = s.rv.Cleanup()
	_ = sandbox.Cleanup(s.sandboxCfg)
	s.cmd = nil
	s.processDone = nil
}

func isTimeoutErr(err error) bool {
	type timeouter interface{ Timeout() bool }
	if te, ok := err.(timeouter); ok {
		return te.Timeout()
	}
	return false
}

func isJSONNull(raw []byte) bool {
	return string(raw) == "null"
}
