package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBusy rejects a start/stop request while another transition is in
	// flight. Requests are never queued.
	ErrBusy = errors.New("lifecycle transition already in flight")

	// ErrServiceNotRunning rejects a job submission unless the service is
	// confirmed running.
	ErrServiceNotRunning = errors.New("service is not running")

	// ErrUnknownJob is returned for callbacks referencing a job id the
	// tracker never issued.
	ErrUnknownJob = errors.New("unknown job id")

	// ErrProbeTimeout means the liveness probe never confirmed the service
	// after a start script reported success.
	ErrProbeTimeout = errors.New("liveness not confirmed after start")

	// ErrJobTimeout means no callback arrived before the job's deadline.
	ErrJobTimeout = errors.New("no callback received before deadline")
)

// ScriptError reports a lifecycle script which could not be launched or
// exited with an unexpected code. Code is -1 when the process never ran.
type ScriptError struct {
	Op     string // "start" or "stop"
	Code   int
	Output string
	Err    error
}

func (e *ScriptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s script: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s script exited with code %d", e.Op, e.Code)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// PathError reports a callback result path which escapes the shared data
// root. Jobs carrying such a path are failed, never copied.
type PathError struct {
	Path string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("result path escapes shared data root: %q", e.Path)
}

// PartialCopyError reports artifact placement where some files copied and
// some did not. The job itself still counts as succeeded; the per-file
// split stays visible so the user can act on it.
type PartialCopyError struct {
	Copied []string
	Failed map[string]error
}

func (e *PartialCopyError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for name := range e.Failed {
		names = append(names, name)
	}
	return fmt.Sprintf("copied %d of %d artifacts, failed: %s",
		len(e.Copied), len(e.Copied)+len(e.Failed), strings.Join(names, ", "))
}
