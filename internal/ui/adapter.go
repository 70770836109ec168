// Package ui bridges the orchestration core and the toolkit surface. The
// adapter loop is the only code path touching the Surface; user actions are
// thin calls into the lifecycle supervisor and job tracker, each running on
// its own goroutine so the surface never blocks on scripts or HTTP.
package ui

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/browser"

	"github.com/sheetflow/sheetflow/internal/model"
)

type Lifecycle interface {
	State() model.ServiceState
	RequestStart(ctx context.Context) error
	RequestStop(ctx context.Context) error
}

type Submitter interface {
	Submit(ctx context.Context, sourceFile, outputDir string) (model.Job, error)
}

type notice struct {
	level Level
	msg   string
}

type Config struct {
	Surface   Surface
	Lifecycle Lifecycle
	Submitter Submitter
	States    <-chan model.StateChange
	Jobs      <-chan model.JobOutcome

	WebURL string
	// OpenURL defaults to the system browser.
	OpenURL func(url string) error

	// FetchSheet downloads a Google Sheets export; DownloadDir is where it
	// lands before submission.
	FetchSheet  func(ctx context.Context, docURL, destDir string) (string, error)
	DownloadDir string

	// ExportData/ImportData archive the engine's data directory. Optional.
	ExportData func() (string, error)
	ImportData func(archive string) error
}

type Adapter struct {
	cfg     Config
	notices chan notice
	wg      sync.WaitGroup
}

func NewAdapter(cfg Config) *Adapter {
	if cfg.Surface == nil {
		cfg.Surface = LogSurface{}
	}
	if cfg.OpenURL == nil {
		cfg.OpenURL = browser.OpenURL
	}
	return &Adapter{
		cfg:     cfg,
		notices: make(chan notice, 16),
	}
}

// Loop consumes state changes, job outcomes and notices and forwards them
// to the surface. It is the UI event loop: it must never block on I/O, and
// nothing else may call the surface.
func (a *Adapter) Loop(ctx context.Context) error {
	a.cfg.Surface.SetServiceState(a.cfg.Lifecycle.State(), false)

	for {
		select {
		case <-ctx.Done():
			a.wg.Wait()
			return nil
		case ev := <-a.cfg.States:
			a.cfg.Surface.SetServiceState(ev.To, ev.To.Transitioning())
			if ev.Err != nil {
				a.cfg.Surface.Notify(LevelError, fmt.Sprintf("service %s: %v", ev.To, ev.Err))
			}
		case outcome := <-a.cfg.Jobs:
			a.cfg.Surface.JobFinished(outcome)
		case n := <-a.notices:
			a.cfg.Surface.Notify(n.level, n.msg)
		}
	}
}

// Start requests a container start. Returns immediately; progress arrives
// as state events.
func (a *Adapter) Start(ctx context.Context) {
	a.async(func() {
		if err := a.cfg.Lifecycle.RequestStart(ctx); err != nil {
			a.notify(LevelError, fmt.Sprintf("start failed: %v", err))
		}
	})
}

// Stop requests a container stop.
func (a *Adapter) Stop(ctx context.Context) {
	a.async(func() {
		if err := a.cfg.Lifecycle.RequestStop(ctx); err != nil {
			a.notify(LevelError, fmt.Sprintf("stop failed: %v", err))
		}
	})
}

// SubmitFile submits a local spreadsheet for processing.
func (a *Adapter) SubmitFile(ctx context.Context, path, outputDir string) {
	a.async(func() {
		job, err := a.cfg.Submitter.Submit(ctx, path, outputDir)
		if err != nil {
			a.notify(LevelError, fmt.Sprintf("submission failed: %v", err))
			return
		}
		a.notify(LevelInfo, fmt.Sprintf("job %s submitted, waiting for results", job.ID))
	})
}

// SubmitSheetURL downloads a Google Sheets export and submits it.
func (a *Adapter) SubmitSheetURL(ctx context.Context, docURL, outputDir string) {
	if a.cfg.FetchSheet == nil {
		a.notify(LevelError, "sheet download is not configured")
		return
	}
	a.async(func() {
		path, err := a.cfg.FetchSheet(ctx, docURL, a.cfg.DownloadDir)
		if err != nil {
			a.notify(LevelError, fmt.Sprintf("sheet download failed: %v", err))
			return
		}
		job, err := a.cfg.Submitter.Submit(ctx, path, outputDir)
		if err != nil {
			a.notify(LevelError, fmt.Sprintf("submission failed: %v", err))
			return
		}
		a.notify(LevelInfo, fmt.Sprintf("job %s submitted, waiting for results", job.ID))
	})
}

// OpenWebUI opens the engine's browser interface. Pure side effect.
func (a *Adapter) OpenWebUI() {
	if err := a.cfg.OpenURL(a.cfg.WebURL); err != nil {
		a.notify(LevelError, fmt.Sprintf("opening web ui: %v", err))
	}
}

// ExportData archives the engine data directory. Refused unless the
// container is stopped, since the engine may hold its files open.
func (a *Adapter) ExportData() {
	if a.cfg.ExportData == nil {
		a.notify(LevelError, "data export is not configured")
		return
	}
	if s := a.cfg.Lifecycle.State(); s != model.StateStopped {
		a.notify(LevelWarn, fmt.Sprintf("cannot export while service is %s, stop it first", s))
		return
	}
	a.async(func() {
		archive, err := a.cfg.ExportData()
		if err != nil {
			a.notify(LevelError, fmt.Sprintf("export failed: %v", err))
			return
		}
		a.notify(LevelInfo, "exported engine data to "+archive)
	})
}

// ImportData restores an archive produced by ExportData.
func (a *Adapter) ImportData(archive string) {
	if a.cfg.ImportData == nil {
		a.notify(LevelError, "data import is not configured")
		return
	}
	if s := a.cfg.Lifecycle.State(); s != model.StateStopped {
		a.notify(LevelWarn, fmt.Sprintf("cannot import while service is %s, stop it first", s))
		return
	}
	a.async(func() {
		if err := a.cfg.ImportData(archive); err != nil {
			a.notify(LevelError, fmt.Sprintf("import failed: %v", err))
			return
		}
		a.notify(LevelInfo, "imported engine data from "+archive)
	})
}

func (a *Adapter) async(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

func (a *Adapter) notify(level Level, msg string) {
	select {
	case a.notices <- notice{level: level, msg: msg}:
	default: // loop gone or lagging, the log still has it
	}
}
