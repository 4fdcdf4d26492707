// Package runner spawns external commands, streams their output to
// caller-supplied consumers and enforces deadlines with a
// terminate -> grace -> kill escalation.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultGrace is how long a terminated process gets before it is killed.
const DefaultGrace = time.Second

// Options configures a single process run. Output consumers are part of the
// options so they are attached before the child starts.
type Options struct {
	Dir     string
	Env     []string      // appended to os.Environ()
	Timeout time.Duration // 0 = no deadline
	Grace   time.Duration // 0 = DefaultGrace

	// Stdout and Stderr receive chunks as they are read. Each is called from
	// a single goroutine; the slice is owned by the callee.
	Stdout func([]byte)
	Stderr func([]byte)
}

// SpawnError is returned by Start when the command could not be started at
// all (binary missing, not executable).
type SpawnError struct {
	Name string
	Err  error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("spawn %s: %v", e.Name, e.Err) }
func (e *SpawnError) Unwrap() error { return e.Err }

// Exit is the terminal outcome of a process.
type Exit struct {
	Code     int  // -1 when killed by a signal
	TimedOut bool // deadline expired before the process exited on its own
	Canceled bool // Stop was called or the parent context was cancelled
	Err      error
	Duration time.Duration
}

// Success reports whether the process ran to completion with exit code 0.
func (e Exit) Success() bool {
	return e.Code == 0 && !e.TimedOut && !e.Canceled && e.Err == nil
}

// Process is a running child process.
type Process struct {
	name     string
	cmd      *exec.Cmd
	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
	started  time.Time

	done chan struct{}
	exit Exit
}

// Start spawns name with args. The returned process is already running;
// its terminal outcome is observed with Wait or Done.
func Start(parent context.Context, name string, args []string, opts Options) (*Process, error) {
	grace := opts.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	if opts.Stdout != nil {
		cmd.Stdout = chunkWriter(opts.Stdout)
	}
	if opts.Stderr != nil {
		cmd.Stderr = chunkWriter(opts.Stderr)
	}
	cmd.Cancel = func() error { return terminate(cmd.Process) }
	cmd.WaitDelay = grace

	if err := cmd.Start(); err != nil {
		// Read the deadline before cancel, which would mask it.
		ctxErr := ctx.Err()
		cancel()
		if ctxErr != nil {
			return nil, fmt.Errorf("start %s: %w", name, ctxErr)
		}
		return nil, &SpawnError{Name: name, Err: err}
	}

	p := &Process{
		name:    name,
		cmd:     cmd,
		ctx:     ctx,
		cancel:  cancel,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

// Pid returns the OS process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Done is closed exactly once, when the terminal Exit is available.
func (p *Process) Done() <-chan struct{} { return p.done }

// Wait blocks until the process has exited and returns its outcome. It may be
// called any number of times and always returns the same value.
func (p *Process) Wait() Exit {
	<-p.done
	return p.exit
}

// Stop requests termination with the same escalation as a deadline and
// waits for the process to exit. Safe to call repeatedly and after exit.
func (p *Process) Stop() Exit {
	select {
	case <-p.done:
		return p.exit
	default:
	}
	p.stopping.Store(true)
	p.cancel()
	return p.Wait()
}

func (p *Process) wait() {
	defer p.cancel()
	err := p.cmd.Wait()

	exit := Exit{Code: -1, Duration: time.Since(p.started)}
	if p.cmd.ProcessState != nil {
		exit.Code = p.cmd.ProcessState.ExitCode()
	}

	// A clean exit wins any race with the deadline.
	if err != nil {
		switch {
		case p.stopping.Load():
			exit.Canceled = true
		case errors.Is(p.ctx.Err(), context.DeadlineExceeded):
			exit.TimedOut = true
		case p.ctx.Err() != nil:
			exit.Canceled = true
		}

		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) && !errors.Is(err, exec.ErrWaitDelay) && !exit.TimedOut && !exit.Canceled {
			exit.Err = err
		}
	}

	p.exit = exit
	close(p.done)
}

// chunkWriter adapts a chunk consumer to io.Writer, handing over a copy of
// every write.
type chunkWriter func([]byte)

func (w chunkWriter) Write(p []byte) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)
	w(buf)
	return len(p), nil
}

// Result is the collected outcome of Run.
type Result struct {
	Exit
	Stdout []byte
	Stderr []byte
}

// Run starts the command, collects its output and waits for it to exit.
// The only error returned is a start failure; exit status, deadline expiry
// and cancellation are reported in the Result.
func Run(ctx context.Context, name string, args []string, opts Options) (*Result, error) {
	var stdout, stderr bytes.Buffer

	userOut, userErr := opts.Stdout, opts.Stderr
	opts.Stdout = func(p []byte) {
		stdout.Write(p)
		if userOut != nil {
			userOut(p)
		}
	}
	opts.Stderr = func(p []byte) {
		stderr.Write(p)
		if userErr != nil {
			userErr(p)
		}
	}

	p, err := Start(ctx, name, args, opts)
	if err != nil {
		return nil, err
	}
	exit := p.Wait()

	return &Result{Exit: exit, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, nil
}

// Lines adapts a line consumer to a chunk consumer. Partial lines are held
// until their newline arrives; a trailing carriage return is stripped.
func Lines(fn func(line string)) func([]byte) {
	var pending []byte
	return func(p []byte) {
		pending = append(pending, p...)
		for {
			i := bytes.IndexByte(pending, '\n')
			if i < 0 {
				return
			}
			fn(strings.TrimRight(string(pending[:i]), "\r"))
			pending = append(pending[:0], pending[i+1:]...)
		}
	}
}
