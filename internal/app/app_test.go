package app_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sheetflow/sheetflow/internal/app"
	"github.com/sheetflow/sheetflow/internal/config"
	"github.com/sheetflow/sheetflow/internal/ui"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Callback.Port = 0 // ephemeral
	cfg.Probe.PollInterval = 0
	cfg.Data.SharedRoot = filepath.Join(t.TempDir(), "engine-files")
	cfg.Data.EngineData = t.TempDir()
	cfg.Data.EnvFile = ""
	return cfg
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("creates the shared data root", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig(t)
		a, err := app.New(cfg, ui.LogSurface{})
		require.NoError(t, err)
		require.NotNil(t, a.Adapter())
		require.NotNil(t, a.Tracker())
		require.DirExists(t, cfg.Data.SharedRoot)
	})

	t.Run("rejects a bad webhook url", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig(t)
		cfg.Engine.WebhookURL = "/no-host"
		_, err := app.New(cfg, ui.LogSurface{})
		require.Error(t, err)
	})
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	a, err := app.New(testConfig(t), ui.LogSurface{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop on cancel")
	}
}
