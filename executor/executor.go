// Package executor runs external programs such as the CDK CLI on behalf of
// bootstrap actions. It captures output, layers environment variables on top
// of the process environment and reports non-zero exits as *ExitError so
// callers can decide whether a given exit code is a failure.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"
)

// Command describes a single program invocation.
type Command struct {
	Program string
	Args    []string
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// Env is layered on top of the runner's base environment.
	Env   map[string]string
	Stdin io.Reader
}

// String renders the command line for logs and error messages.
func (c Command) String() string {
	return strings.TrimSpace(c.Program + " " + strings.Join(c.Args, " "))
}

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, cmd Command) (*Result, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, cmd Command) (*Result, error) {
	return f(ctx, cmd)
}

// ExitError reports a command that ran but exited with a non-zero code.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Command, e.Code)
	if tail := lastLine(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

// ExitCode returns the exit code carried by err, or -1 when err is not an *ExitError.
func ExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return -1
}

// Options configures a LocalRunner.
type Options struct {
	MaxRetries int
	RetryDelay time.Duration
	// RetryOn decides whether a failed attempt is retried. Nil retries every failure.
	RetryOn func(error) bool

	// BaseEnv is the environment commands start from. Nil means os.Environ().
	BaseEnv []string

	// Stdout and Stderr receive a live copy of the output in addition to capture.
	Stdout io.Writer
	Stderr io.Writer

	Logger *slog.Logger
}

// Option modifies Options.
type Option func(*Options)

// WithRetry retries failed commands up to maxRetries times.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(o *Options) {
		o.MaxRetries = maxRetries
		o.RetryDelay = delay
	}
}

// WithRetryCondition limits retries to errors accepted by fn.
func WithRetryCondition(fn func(error) bool) Option {
	return func(o *Options) {
		o.RetryOn = fn
	}
}

// WithBaseEnv replaces the inherited process environment.
func WithBaseEnv(env []string) Option {
	return func(o *Options) {
		o.BaseEnv = env
	}
}

// WithOutput streams command output to the given writers while capturing it.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(o *Options) {
		o.Stdout = stdout
		o.Stderr = stderr
	}
}

// WithLogger sets the logger used for command diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// LocalRunner runs commands as child processes of the current process.
type LocalRunner struct {
	opts Options
}

// NewLocal creates a LocalRunner.
func NewLocal(opts ...Option) *LocalRunner {
	o := Options{RetryDelay: time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return &LocalRunner{opts: o}
}

// Run executes cmd, retrying according to the runner options. A non-zero
// exit returns both the result and an *ExitError.
func (r *LocalRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Program == "" {
		return nil, errors.New("command program cannot be empty")
	}

	attempts := r.opts.MaxRetries + 1
	var (
		result *Result
		err    error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err = r.runOnce(ctx, cmd)
		if err == nil || attempt == attempts {
			break
		}
		if r.opts.RetryOn != nil && !r.opts.RetryOn(err) {
			break
		}

		r.opts.Logger.WarnContext(ctx, "command failed, retrying",
			"command", cmd.Program, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return result, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		case <-time.After(r.opts.RetryDelay):
		}
	}
	return result, err
}

func (r *LocalRunner) runOnce(ctx context.Context, cmd Command) (*Result, error) {
	c := exec.CommandContext(ctx, cmd.Program, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = r.environ(cmd.Env)
	c.Stdin = cmd.Stdin

	var stdout, stderr bytes.Buffer
	c.Stdout = tee(&stdout, r.opts.Stdout)
	c.Stderr = tee(&stderr, r.opts.Stderr)

	r.opts.Logger.DebugContext(ctx, "running command", "command", cmd.String(), "dir", cmd.Dir)

	start := time.Now()
	runErr := c.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		return result, nil
	case errors.As(runErr, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		return result, &ExitError{Command: cmd.Program, Code: result.ExitCode, Stderr: result.Stderr}
	default:
		result.ExitCode = -1
		return result, fmt.Errorf("failed to run %s: %w", cmd.Program, runErr)
	}
}

func (r *LocalRunner) environ(extra map[string]string) []string {
	base := r.opts.BaseEnv
	if base == nil {
		base = os.Environ()
	}
	env := slices.Clone(base)
	for _, k := range slices.Sorted(maps.Keys(extra)) {
		env = append(env, k+"="+extra[k])
	}
	return env
}

func tee(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
