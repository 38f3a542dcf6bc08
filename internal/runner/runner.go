// Package runner executes external tools for the pipeline.
//
// Every subprocess pagebind launches goes through an Executor so output is
// captured for diagnostics, a per-call timeout can be applied, and tests can
// substitute a stub. Failures surface as *SubprocessError carrying the exit
// code and both output streams.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"pagebind/internal/logging"
	"pagebind/internal/services"
)

// Result captures the output of a successful tool run.
type Result struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args ...string) (Result, error)
}

// SubprocessError reports a tool that could not be started, exited non-zero,
// or exceeded its timeout.
type SubprocessError struct {
	Binary   string
	Args     []string
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Err      error
}

func (e *SubprocessError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", CommandLine(e.Binary, e.Args))
	switch {
	case e.TimedOut:
		b.WriteString(": timed out")
	case e.ExitCode > 0:
		fmt.Fprintf(&b, ": exit status %d", e.ExitCode)
	case e.Err != nil:
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if out := combinedOutput(e.Stdout, e.Stderr); out != "" {
		b.WriteString(": ")
		b.WriteString(out)
	}
	return b.String()
}

func (e *SubprocessError) Unwrap() error { return e.Err }

// Is maps the failure onto the shared error markers.
func (e *SubprocessError) Is(target error) bool {
	switch target {
	case services.ErrExternalTool:
		return true
	case services.ErrTimeout:
		return e.TimedOut
	}
	return false
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout bounds every call; zero disables the limit.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.timeout = d
	}
}

// WithLogger sets the logger used for debug command tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Runner is the os/exec backed Executor.
type Runner struct {
	timeout time.Duration
	logger  *slog.Logger
}

// New constructs a Runner.
func New(opts ...Option) *Runner {
	r := &Runner{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Timeout reports the configured per-call limit.
func (r *Runner) Timeout() time.Duration {
	return r.timeout
}

// Run executes binary with args and waits for it to exit. On timeout the
// process is killed through context cancellation.
func (r *Runner) Run(ctx context.Context, binary string, args ...string) (Result, error) {
	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, binary, args...) //nolint:gosec
	cmd.WaitDelay = 5 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger := logging.WithContext(ctx, r.logger)
	logger.Debug("running command", logging.String("command", CommandLine(binary, args)))

	start := time.Now()
	err := cmd.Run()
	result := Result{
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: time.Since(start),
	}
	if err == nil {
		return result, nil
	}

	subErr := &SubprocessError{
		Binary: binary,
		Args:   append([]string(nil), args...),
		Stdout: result.Stdout,
		Stderr: result.Stderr,
		Err:    err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		subErr.ExitCode = exitErr.ExitCode()
	}
	if r.timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		subErr.TimedOut = true
	}
	logger.Debug("command failed",
		logging.String("command", CommandLine(binary, args)),
		logging.Int("exit_code", subErr.ExitCode),
		logging.Bool("timed_out", subErr.TimedOut),
		logging.Duration("duration", result.Duration),
	)
	return result, subErr
}

// CommandLine renders a command for logs and error messages.
func CommandLine(binary string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, quoteArg(binary))
	for _, arg := range args {
		parts = append(parts, quoteArg(arg))
	}
	return strings.Join(parts, " ")
}

func quoteArg(arg string) string {
	if arg == "" {
		return "''"
	}
	if strings.ContainsAny(arg, " \t\n'\"\\$`;&|<>()*?[]{}") {
		return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
	}
	return arg
}

func combinedOutput(stdout, stderr string) string {
	parts := make([]string, 0, 2)
	if stdout != "" {
		parts = append(parts, stdout)
	}
	if stderr != "" {
		parts = append(parts, stderr)
	}
	return strings.Join(parts, "\n")
}
