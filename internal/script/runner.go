// Package script executes the external lifecycle commands. The commands are
// opaque: non-zero exit is a normal outcome interpreted by the caller, and a
// run in flight cannot be cancelled by the user, only by its timeout.
package script

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"slices"
	"sync"
	"time"
)

// Command describes one lifecycle script invocation.
type Command struct {
	Path    string
	Args    []string
	Env     []string
	Dir     string
	Timeout time.Duration
}

// Outcome is the terminal result of a run. Code is the exit code, or -1
// when the process never started or was killed by the timeout. Err is set
// only for launch failures; a non-zero exit is not an error.
type Outcome struct {
	Path     string
	Args     []string
	Started  time.Time
	Stopped  time.Time
	Code     int
	TimedOut bool
	Output   string
	Err      error
}

// Run blocks the calling goroutine until the command exits or its timeout
// fires. On timeout the process is signalled and never silently left
// running. Combined stdout/stderr is streamed line by line into the log
// and captured into Outcome.Output.
func Run(ctx context.Context, c Command) Outcome {
	out := Outcome{
		Path: c.Path,
		Args: slices.Clone(c.Args),
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	} else {
		slog.WarnContext(ctx, "script has no timeout", "path", c.Path)
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	// give the process a grace period between SIGKILL and Wait returning
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		out.Err = err
		out.Code = -1
		return out
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		out.Err = err
		out.Code = -1
		return out
	}

	var buf bytes.Buffer
	var mx sync.Mutex
	var wg sync.WaitGroup
	stream := func(r io.Reader, level slog.Level) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := scanner.Text()
			mx.Lock()
			buf.WriteString(line)
			buf.WriteByte('\n')
			mx.Unlock()
			slog.Log(ctx, level, "script output", "path", c.Path, "line", line)
		}
		if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
			slog.ErrorContext(ctx, "reading script output", "path", c.Path, "error", err)
		}
	}

	out.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		out.Stopped = time.Now().UTC()
		out.Err = err
		out.Code = -1
		return out
	}

	wg.Add(2)
	go stream(stdout, slog.LevelInfo)
	go stream(stderr, slog.LevelWarn)
	wg.Wait()

	waitErr := cmd.Wait()
	out.Stopped = time.Now().UTC()
	out.Output = buf.String()
	out.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)

	switch {
	case waitErr == nil:
		out.Code = 0
	case out.TimedOut:
		out.Code = -1
	default:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			out.Code = exitErr.ExitCode()
		} else {
			out.Code = -1
			out.Err = waitErr
		}
	}
	return out
}
