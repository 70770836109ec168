package ui

import (
	"log/slog"

	"github.com/sheetflow/sheetflow/internal/model"
)

type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

// Surface is the abstract toolkit boundary. Implementations render buttons
// and dialogs; the core only pushes state. Every call arrives from the
// adapter's single event loop goroutine, so implementations need no
// locking of their own.
type Surface interface {
	// SetServiceState redraws the lifecycle controls. busy means a
	// transition is in flight: start/stop controls must be disabled, and
	// job submission is only enabled while state is running.
	SetServiceState(state model.ServiceState, busy bool)

	// JobFinished announces one job's terminal outcome.
	JobFinished(outcome model.JobOutcome)

	// Notify surfaces an out-of-band message to the user.
	Notify(level Level, msg string)
}

// LogSurface is the headless default: it renders nothing and logs
// everything.
type LogSurface struct{}

func (LogSurface) SetServiceState(state model.ServiceState, busy bool) {
	slog.Info("ui: service state", "state", state.String(), "busy", busy)
}

func (LogSurface) JobFinished(outcome model.JobOutcome) {
	slog.Info("ui: job finished",
		"job_id", outcome.Job.ID,
		"status", outcome.Job.Status.String(),
		"copied", len(outcome.Copied),
		"copy_error", outcome.CopyErr)
}

func (LogSurface) Notify(level Level, msg string) {
	switch level {
	case LevelError:
		slog.Error("ui: " + msg)
	case LevelWarn:
		slog.Warn("ui: " + msg)
	default:
		slog.Info("ui: " + msg)
	}
}

var _ Surface = LogSurface{}
