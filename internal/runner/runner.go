// Package runner executes external programs with bounded lifetimes.
//
// A Runner drains stdout and stderr while the child runs so a chatty process
// never blocks on a full pipe, and it terminates the whole process tree when
// the deadline passes or the caller cancels.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"
)

// Static errors for process execution.
var (
	// ErrTimedOut is returned when a process outlives its Command.Timeout.
	ErrTimedOut = errors.New("process timed out")
	// ErrCancelled is returned when the caller's context ends first.
	ErrCancelled = errors.New("process cancelled")
	// ErrEmptyPath is returned when Command.Path is empty.
	ErrEmptyPath = errors.New("program path is empty")
)

// DefaultKillGrace is how long Run waits for a killed process tree to exit.
const DefaultKillGrace = 2 * time.Second

// Command describes one invocation.
type Command struct {
	// Path is the program to execute.
	Path string
	// Args are passed to the program, without the program name.
	Args []string
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// Timeout bounds the invocation. Zero means no bound other than ctx.
	Timeout time.Duration
}

// String renders the command line for logs.
func (c Command) String() string {
	var b bytes.Buffer
	b.WriteString(c.Path)
	for _, a := range c.Args {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	return b.String()
}

// Result is the outcome of a process that ran to completion.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Elapsed  time.Duration
}

// Diagnostics returns stderr followed by stdout. Most media tools write their
// reports to stderr.
func (r Result) Diagnostics() string {
	if r.Stdout == "" {
		return r.Stderr
	}
	if r.Stderr == "" {
		return r.Stdout
	}
	return r.Stderr + "\n" + r.Stdout
}

// Runner starts processes. The zero value is not usable; use New.
type Runner struct {
	logger    *slog.Logger
	killGrace time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithKillGrace sets how long to wait for a terminated process tree.
func WithKillGrace(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.killGrace = d
		}
	}
}

// New creates a Runner.
func New(logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		logger:    logger,
		killGrace: DefaultKillGrace,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes cmd and waits for it.
//
// A non-zero exit code is not an error: it is reported in Result.ExitCode
// and the caller decides what it means. Run returns an error wrapping
// ErrTimedOut or ErrCancelled when the process had to be killed, together
// with whatever output was captured before termination. No retry happens here.
func (r *Runner) Run(ctx context.Context, cmd Command) (Result, error) {
	if cmd.Path == "" {
		return Result{}, ErrEmptyPath
	}
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
	}

	// #nosec G204 - the program path comes from resolved configuration
	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.SysProcAttr = newProcessGroup()

	stdout, err := c.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stderr pipe: %w", err)
	}

	started := time.Now()
	if err := c.Start(); err != nil {
		return Result{}, fmt.Errorf("start %s: %w", cmd.Path, err)
	}

	var outBuf, errBuf bytes.Buffer
	var g errgroup.Group
	g.Go(func() error { return drain(&outBuf, stdout) })
	g.Go(func() error { return drain(&errBuf, stderr) })

	// Pipes must be fully read before Wait closes them.
	done := make(chan error, 1)
	go func() {
		drainErr := g.Wait()
		waitErr := c.Wait()
		if waitErr == nil {
			waitErr = drainErr
		}
		done <- waitErr
	}()

	var timeout <-chan time.Time
	if cmd.Timeout > 0 {
		timer := time.NewTimer(cmd.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	result := func() Result {
		return Result{
			ExitCode: -1,
			Stdout:   outBuf.String(),
			Stderr:   errBuf.String(),
			Elapsed:  time.Since(started),
		}
	}

	select {
	case waitErr := <-done:
		res := result()
		var exitErr *exec.ExitError
		switch {
		case waitErr == nil:
			res.ExitCode = 0
		case errors.As(waitErr, &exitErr):
			res.ExitCode = exitErr.ExitCode()
		default:
			return res, fmt.Errorf("wait %s: %w", cmd.Path, waitErr)
		}
		return res, nil

	case <-timeout:
		r.logger.Warn("process timed out, terminating",
			slog.String("program", cmd.Path),
			slog.Int("pid", c.Process.Pid),
			slog.Duration("timeout", cmd.Timeout),
		)
		res := Result{ExitCode: -1, Elapsed: time.Since(started)}
		if r.terminate(c, done) {
			res = result()
		}
		return res, fmt.Errorf("%w after %s", ErrTimedOut, cmd.Timeout)

	case <-ctx.Done():
		r.logger.Info("process cancelled, terminating",
			slog.String("program", cmd.Path),
			slog.Int("pid", c.Process.Pid),
		)
		res := Result{ExitCode: -1, Elapsed: time.Since(started)}
		if r.terminate(c, done) {
			res = result()
		}
		return res, fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
	}
}

// terminate kills the process tree and waits up to killGrace for it to be
// reaped. It reports whether the readers finished; the output buffers must
// not be touched otherwise.
func (r *Runner) terminate(c *exec.Cmd, done <-chan error) bool {
	if err := killTree(c.Process); err != nil {
		r.logger.Warn("kill process tree",
			slog.Int("pid", c.Process.Pid),
			slog.String("error", err.Error()),
		)
	}
	select {
	case <-done:
		return true
	case <-time.After(r.killGrace):
		r.logger.Warn("process tree did not exit after kill",
			slog.Int("pid", c.Process.Pid),
			slog.Duration("grace", r.killGrace),
		)
		return false
	}
}

func drain(dst *bytes.Buffer, src io.Reader) error {
	_, err := io.Copy(dst, src)
	return err
}
