// Package tracker is the single source of truth for outstanding jobs. Each
// job resolves exactly once, under a per-job lock, no matter how many
// callbacks, timeouts or races try to resolve it.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sheetflow/sheetflow/internal/model"
)

// StateFunc reports the supervisor's current belief. Submissions are only
// accepted while the service is running.
type StateFunc func() model.ServiceState

// StageFunc copies the user's spreadsheet into the engine's shared data
// area and returns the staged filename used in the trigger body.
type StageFunc func(path string) (string, error)

// TriggerFunc asks the engine to process a staged file under the given job
// id. The id travels with the trigger and must be echoed by the callback;
// that is the whole submission handshake.
type TriggerFunc func(ctx context.Context, jobID, filename string) error

// PlaceFunc copies resolved artifacts into the job's output directory.
type PlaceFunc func(job model.Job) ([]string, error)

type Config struct {
	State   StateFunc
	Stage   StageFunc
	Trigger TriggerFunc
	Place   PlaceFunc
	// Timeout bounds how long a job may stay pending; the engine may never
	// answer if it crashes mid-run.
	Timeout time.Duration
	// RetainCompleted bounds the number of terminal jobs kept in memory.
	RetainCompleted int
	Events          chan<- model.JobOutcome
}

type entry struct {
	mx    sync.Mutex
	job   model.Job
	timer *time.Timer
}

type Tracker struct {
	mx        sync.Mutex
	jobs      map[string]*entry
	completed []string // resolution order, oldest first

	state   StateFunc
	stage   StageFunc
	trigger TriggerFunc
	place   PlaceFunc
	timeout time.Duration
	retain  int
	events  chan<- model.JobOutcome
}

func New(cfg Config) *Tracker {
	retain := cfg.RetainCompleted
	if retain <= 0 {
		retain = 32
	}
	return &Tracker{
		jobs:    make(map[string]*entry),
		state:   cfg.State,
		stage:   cfg.Stage,
		trigger: cfg.Trigger,
		place:   cfg.Place,
		timeout: cfg.Timeout,
		retain:  retain,
		events:  cfg.Events,
	}
}

// Submit stages sourceFile, records a pending job and triggers the engine.
// The job is registered before the trigger fires so a fast callback can
// never reference an unknown id.
func (t *Tracker) Submit(ctx context.Context, sourceFile, outputDir string) (model.Job, error) {
	if t.state() != model.StateRunning {
		return model.Job{}, model.ErrServiceNotRunning
	}

	staged, err := t.stage(sourceFile)
	if err != nil {
		return model.Job{}, fmt.Errorf("staging %s: %w", sourceFile, err)
	}

	job := model.Job{
		ID:          uuid.NewString(),
		SourceFile:  sourceFile,
		OutputDir:   outputDir,
		SubmittedAt: time.Now().UTC(),
		Status:      model.JobPending,
	}

	// the entry must be registered before the expiry timer is armed, or a
	// deadline firing in the gap would answer ErrUnknownJob and leave the
	// job pending forever
	e := &entry{job: job}
	t.mx.Lock()
	t.jobs[job.ID] = e
	t.mx.Unlock()
	if t.timeout > 0 {
		e.mx.Lock()
		if e.job.Status == model.JobPending {
			e.timer = time.AfterFunc(t.timeout, func() { t.expire(job.ID) })
		}
		e.mx.Unlock()
	}

	slog.InfoContext(ctx, "job submitted",
		"job_id", job.ID, "source", sourceFile, "staged", staged, "output_dir", outputDir)

	if err := t.trigger(ctx, job.ID, staged); err != nil {
		_ = t.Resolve(ctx, job.ID, model.Resolution{
			Status:       model.JobFailed,
			ErrorCode:    "TriggerFailed",
			ErrorMessage: err.Error(),
		})
		return model.Job{}, fmt.Errorf("triggering engine for job %s: %w", job.ID, err)
	}
	return job, nil
}

// Resolve commits a terminal outcome. Re-delivery for an already resolved
// job is a logged no-op returning nil, because at-least-once delivery from
// the engine must be assumed.
func (t *Tracker) Resolve(ctx context.Context, jobID string, res model.Resolution) error {
	t.mx.Lock()
	e, ok := t.jobs[jobID]
	t.mx.Unlock()
	if !ok {
		return model.ErrUnknownJob
	}

	e.mx.Lock()
	defer e.mx.Unlock()
	if e.job.Status != model.JobPending {
		slog.InfoContext(ctx, "duplicate resolution ignored",
			"job_id", jobID, "status", e.job.Status.String())
		return nil
	}
	if e.timer != nil {
		e.timer.Stop()
	}

	e.job.Status = res.Status
	outcome := model.JobOutcome{}
	switch res.Status {
	case model.JobSucceeded:
		e.job.ResultFiles = append([]string(nil), res.Files...)
		copied, copyErr := t.place(e.job)
		outcome.Copied = copied
		outcome.CopyErr = copyErr
		if copyErr != nil {
			slog.WarnContext(ctx, "artifact placement incomplete",
				"job_id", jobID, "copied", len(copied), "error", copyErr)
		}
	case model.JobFailed:
		e.job.ErrorDetail = res.ErrorMessage
		if res.ErrorCode != "" {
			e.job.ErrorDetail = res.ErrorCode + ": " + res.ErrorMessage
		}
	default:
		return fmt.Errorf("resolution for job %s is not terminal", jobID)
	}
	outcome.Job = e.job

	slog.InfoContext(ctx, "job resolved",
		"job_id", jobID, "status", e.job.Status.String(), "files", len(e.job.ResultFiles))

	t.retire(jobID)
	t.emit(ctx, outcome)
	return nil
}

// Job returns a snapshot of one tracked job.
func (t *Tracker) Job(jobID string) (model.Job, bool) {
	t.mx.Lock()
	e, ok := t.jobs[jobID]
	t.mx.Unlock()
	if !ok {
		return model.Job{}, false
	}
	e.mx.Lock()
	defer e.mx.Unlock()
	return e.job, true
}

// Pending counts jobs still waiting for a callback.
func (t *Tracker) Pending() int {
	t.mx.Lock()
	entries := make([]*entry, 0, len(t.jobs))
	for _, e := range t.jobs {
		entries = append(entries, e)
	}
	t.mx.Unlock()

	n := 0
	for _, e := range entries {
		e.mx.Lock()
		if e.job.Status == model.JobPending {
			n++
		}
		e.mx.Unlock()
	}
	return n
}

func (t *Tracker) expire(jobID string) {
	ctx := context.Background()
	err := t.Resolve(ctx, jobID, model.Resolution{
		Status:       model.JobFailed,
		ErrorCode:    "Timeout",
		ErrorMessage: model.ErrJobTimeout.Error(),
	})
	if err != nil {
		slog.ErrorContext(ctx, "expiring job", "job_id", jobID, "error", err)
	}
}

// retire records a terminal job and evicts the oldest completed ones beyond
// the retention bound. Pending jobs are never evicted.
func (t *Tracker) retire(jobID string) {
	t.mx.Lock()
	defer t.mx.Unlock()
	t.completed = append(t.completed, jobID)
	for len(t.completed) > t.retain {
		oldest := t.completed[0]
		t.completed = t.completed[1:]
		delete(t.jobs, oldest)
	}
}

func (t *Tracker) emit(ctx context.Context, outcome model.JobOutcome) {
	if t.events == nil {
		return
	}
	select {
	case t.events <- outcome:
	default:
		slog.WarnContext(ctx, "job outcome event dropped, consumer lagging",
			"job_id", outcome.Job.ID)
	}
}
