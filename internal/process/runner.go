// Package process spawns allow-listed developer commands without a shell.
//
// Every spawn goes through the same gate: the working directory is resolved
// by a PathGuard and the argv is checked by a CommandGuard immediately before
// exec. Commands sharing a directory are serialized.
package process

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/delegator/internal/observability"
	"github.com/haasonsaas/delegator/internal/security"
)

const (
	// DefaultTimeout bounds a single command.
	DefaultTimeout = 5 * time.Minute
	// DefaultMaxOutput caps captured stdout and stderr, each.
	DefaultMaxOutput = 1 << 20
)

// Options configures a Runner.
type Options struct {
	Commands  *security.CommandGuard
	Paths     *security.PathGuard
	Timeout   time.Duration
	MaxOutput int
	Env       []string
	Logger    *observability.Logger
}

// Result summarizes a finished command. A non-zero exit is reported here,
// not as an error.
type Result struct {
	Command  []string      `json:"command"`
	Dir      string        `json:"cwd"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Success reports a zero exit status.
func (r Result) Success() bool {
	return r.ExitCode == 0 && !r.TimedOut && r.Error == ""
}

// Runner is safe for concurrent use.
type Runner struct {
	commands  *security.CommandGuard
	paths     *security.PathGuard
	timeout   time.Duration
	maxOutput int
	env       []string
	lanes     *Lanes
	logger    *observability.Logger
}

// NewRunner creates a Runner. Both guards are required.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Commands == nil || opts.Paths == nil {
		return nil, fmt.Errorf("process: command and path guards are required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxOutput <= 0 {
		opts.MaxOutput = DefaultMaxOutput
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	logger := opts.Logger.WithFields("component", "process")
	lanes := NewLanes()
	lanes.OnWait = func(dir string, waited time.Duration) {
		logger.Warn(context.Background(), "command waiting for its directory lane", "cwd", dir, "waited", waited.String())
	}
	return &Runner{
		commands:  opts.Commands,
		paths:     opts.Paths,
		timeout:   opts.Timeout,
		maxOutput: opts.MaxOutput,
		env:       opts.Env,
		lanes:     lanes,
		logger:    logger,
	}, nil
}

// Run executes argv in dir (relative to the guard's base). Guard failures
// are returned as errors and nothing is spawned.
func (r *Runner) Run(ctx context.Context, dir string, argv []string) (Result, error) {
	cwd, err := r.paths.Resolve(dir)
	if err != nil {
		return Result{}, err
	}
	return Run(ctx, r.lanes, cwd, func(ctx context.Context) (Result, error) {
		return r.runSync(ctx, cwd, argv)
	})
}

func (r *Runner) runSync(ctx context.Context, cwd string, argv []string) (Result, error) {
	if err := r.commands.Check(argv); err != nil {
		return Result{}, err
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = cwd
	if len(r.env) > 0 {
		cmd.Env = append(cmd.Environ(), r.env...)
	}
	cmd.WaitDelay = time.Second
	stdout := newLimitedBuffer(r.maxOutput)
	stderr := newLimitedBuffer(r.maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	result := Result{
		Command:  append([]string(nil), argv...),
		Dir:      cwd,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		ExitCode: exitCode(err),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		result.TimedOut = true
		result.Error = fmt.Sprintf("command timed out after %s", r.timeout)
	case ctx.Err() != nil:
		return result, ctx.Err()
	case errors.As(err, &exitErr):
	default:
		// The process never started, e.g. the program is not installed.
		return result, fmt.Errorf("start %s: %w", argv[0], err)
	}

	r.logger.Debug(ctx, "command finished",
		"command", strings.Join(argv, " "),
		"cwd", cwd,
		"exit_code", result.ExitCode,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// Lanes reports directories with a running or queued command.
func (r *Runner) Lanes() []LaneStats {
	return r.lanes.Stats()
}

type limitedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	max       int
	truncated bool
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && len(b.buf) >= b.max {
		b.truncated = true
		return len(p), nil
	}
	remaining := b.max - len(b.buf)
	if b.max > 0 && len(p) > remaining {
		b.buf = append(b.buf, p[:remaining]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return string(b.buf) + "\n[output truncated]"
	}
	return string(b.buf)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
