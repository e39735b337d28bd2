// Package validator implements the fast syntactic pre-check (C2): a
// side-channel parse of submitted code that never spawns the session's
// child, plus advisory pattern warnings for identifiers that commonly
// request OS resources.
package validator

import (
	"bytes"
	"context"
	"os/exec"
	"regexp"
	"time"

	"github.com/nextlevelbuilder/securer/internal/secerr"
)

// Result is the validator's verdict, per spec.md §4.5.
type Result struct {
	Valid    bool
	Err      *secerr.Error // nil when Valid
	Warnings []string
}

// SyntaxChecker reaches the interpreter's parser without spawning a full
// session child. The default implementation shells out to a one-shot
// parse-only invocation of the interpreter binary.
type SyntaxChecker interface {
	CheckSyntax(ctx context.Context, code string) error
}

// ExecSyntaxChecker shells out to the interpreter binary in a
// parse-only mode, per spec.md §4.5 ("reached via a side channel that
// does not spawn the child").
type ExecSyntaxChecker struct {
	// InterpreterPath is the binary to invoke.
	InterpreterPath string
	// Timeout bounds the one-shot parse invocation.
	Timeout time.Duration
}

const defaultParseTimeout = 5 * time.Second

// CheckSyntax runs `Rscript --vanilla -e 'parse(text=...)'`-equivalent: it
// feeds the code on stdin to a parse-only invocation and reports the
// interpreter's own syntax error message unmodified.
func (c ExecSyntaxChecker) CheckSyntax(ctx context.Context, code string) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultParseTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.InterpreterPath, "--vanilla", "--no-echo", "-e",
		`tryCatch(parse(file = file("stdin")), error = function(e) { cat(conditionMessage(e)); quit(status = 1) })`)
	cmd.Stdin = bytes.NewReader([]byte(code))

	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return secerr.New(secerr.SyntaxError, "syntax check timed out")
		}
		msg := stderr.String()
		if msg == "" {
			msg = err.Error()
		}
		return secerr.New(secerr.SyntaxError, msg)
	}
	return nil
}

// resourceIdentifiers is the fixed set of identifiers known to commonly
// request OS resources, per spec.md §4.5 and §8's note that the exact set
// is implementer-selected. Matching is a simple substring search, not a
// tokenizer, so it is advisory only — it never blocks execution.
var resourceIdentifiers = []string{
	"system(", "system2(", "shell(", "shell.exec(",
	"file.remove(", "unlink(", "file.copy(", "file.rename(",
	"Sys.setenv(", "Sys.unsetenv(", "Sys.setlocale(",
	"socketConnection(", "url(", "download.file(", "curlGetHeaders(",
	"dyn.load(", "dyn.unload(", ".Call(", ".C(", ".External(",
	"parallel::makeCluster(", "install.packages(",
}

// warningPatterns precompiles one literal-substring matcher per
// resourceIdentifiers entry; there is no word-boundary check, so "url("
// also fires inside "curl(".
var warningPatterns = buildWarningPatterns()

func buildWarningPatterns() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(resourceIdentifiers))
	for i, id := range resourceIdentifiers {
		out[i] = regexp.MustCompile(regexp.QuoteMeta(id))
	}
	return out
}

// CheckWarnings scans code for resource-identifier substrings and returns
// one warning string per match found, in resourceIdentifiers order.
func CheckWarnings(code string) []string {
	var warnings []string
	for i, pat := range warningPatterns {
		if pat.MatchString(code) {
			warnings = append(warnings, "code references "+resourceIdentifiers[i]+", which commonly requests OS resources")
		}
	}
	return warnings
}

// Validate runs the syntax checker (if non-nil) and the advisory warning
// scan, assembling the combined Result per spec.md §4.5.
func Validate(ctx context.Context, checker SyntaxChecker, code string) Result {
	res := Result{Valid: true, Warnings: CheckWarnings(code)}
	if checker == nil {
		return res
	}
	if err := checker.CheckSyntax(ctx, code); err != nil {
		res.Valid = false
		if se, ok := err.(*secerr.Error); ok {
			res.Err = se
		} else {
			res.Err = secerr.Wrap(secerr.SyntaxError, "syntax check failed", err)
		}
	}
	return res
}
