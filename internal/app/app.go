// Package app wires the orchestration core together: supervisor, callback
// listener, job tracker, artifact placer and the UI adapter, sharing one
// task group and one shutdown path.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/sheetflow/sheetflow/internal/artifact"
	"github.com/sheetflow/sheetflow/internal/callback"
	"github.com/sheetflow/sheetflow/internal/config"
	"github.com/sheetflow/sheetflow/internal/datapack"
	"github.com/sheetflow/sheetflow/internal/engine"
	"github.com/sheetflow/sheetflow/internal/intake"
	"github.com/sheetflow/sheetflow/internal/lifecycle"
	"github.com/sheetflow/sheetflow/internal/model"
	"github.com/sheetflow/sheetflow/internal/script"
	"github.com/sheetflow/sheetflow/internal/tracker"
	"github.com/sheetflow/sheetflow/internal/ui"
)

type App struct {
	cfg      config.Config
	sup      *lifecycle.Supervisor
	trk      *tracker.Tracker
	listener *callback.Server
	adapter  *ui.Adapter
	placer   *artifact.Placer
	stager   *intake.Stager
}

func New(cfg config.Config, surface ui.Surface) (*App, error) {
	if err := os.MkdirAll(cfg.Data.SharedRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating shared data root: %w", err)
	}

	stateEvents := make(chan model.StateChange, 64)
	jobEvents := make(chan model.JobOutcome, 64)

	sup := lifecycle.NewSupervisor(lifecycle.Config{
		Start:          script.Command{Path: cfg.Scripts.Start, Timeout: cfg.Scripts.Timeout},
		Stop:           script.Command{Path: cfg.Scripts.Stop, Timeout: cfg.Scripts.Timeout},
		Probe:          lifecycle.TCPProbe{Addr: cfg.Probe.Addr},
		ConfirmTimeout: cfg.Probe.ConfirmTimeout,
		PollInterval:   cfg.Probe.PollInterval,
		Events:         stateEvents,
	})

	placer, err := artifact.NewPlacer(cfg.Data.SharedRoot)
	if err != nil {
		return nil, err
	}
	stager, err := intake.NewStager(cfg.Data.SharedRoot, cfg.Data.SheetsDir)
	if err != nil {
		_ = placer.Close()
		return nil, err
	}

	eng, err := engine.NewClient(cfg.Engine, cfg.CallbackURL())
	if err != nil {
		_ = placer.Close()
		_ = stager.Close()
		return nil, err
	}

	trk := tracker.New(tracker.Config{
		State:           sup.State,
		Stage:           stager.Stage,
		Trigger:         eng.Trigger,
		Place:           placer.Place,
		Timeout:         cfg.Jobs.Timeout,
		RetainCompleted: cfg.Jobs.RetainCompleted,
		Events:          jobEvents,
	})

	listener := callback.NewServer(cfg.Callback.Port, trk)

	adapter := ui.NewAdapter(ui.Config{
		Surface:     surface,
		Lifecycle:   sup,
		Submitter:   trk,
		States:      stateEvents,
		Jobs:        jobEvents,
		WebURL:      eng.WebURL(),
		FetchSheet:  intake.FetchSheet,
		DownloadDir: filepath.Join(cfg.Data.SharedRoot, "downloads"),
		ExportData: func() (string, error) {
			return datapack.Export(cfg.Data.EngineData, cfg.Data.EnvFile,
				filepath.Join(cfg.Data.SharedRoot, "user-data"))
		},
		ImportData: func(archive string) error {
			return datapack.Import(archive, cfg.Data.EngineData, cfg.Data.EnvFile)
		},
	})

	return &App{
		cfg:      cfg,
		sup:      sup,
		trk:      trk,
		listener: listener,
		adapter:  adapter,
		placer:   placer,
		stager:   stager,
	}, nil
}

// Adapter exposes the user-action entry points for whichever surface hosts
// the app.
func (a *App) Adapter() *ui.Adapter { return a.adapter }

// Tracker exposes job lookups for the surface.
func (a *App) Tracker() *tracker.Tracker { return a.trk }

// Run blocks until ctx is cancelled. The callback listener and the UI loop
// stay available even when individual transitions or jobs fail; only a
// listener bind failure or cancellation ends the run.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.listener.Run(ctx) })
	g.Go(func() error { return a.adapter.Loop(ctx) })

	sched, err := a.sup.HealthPoll(ctx)
	if err != nil {
		return err
	}
	if sched != nil {
		sched.Start()
		defer func() {
			if err := sched.Shutdown(); err != nil {
				slog.ErrorContext(ctx, "shutting down health poll", "error", err)
			}
		}()
	}

	// settle the initial Unknown belief before the user acts on it
	a.sup.Reconcile(ctx)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) close() {
	if err := a.placer.Close(); err != nil {
		slog.Error("closing artifact placer", "error", err)
	}
	if err := a.stager.Close(); err != nil {
		slog.Error("closing stager", "error", err)
	}
}
