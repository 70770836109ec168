package sheetflow_test

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	sheetflowPath string

	// tmpDir is a function used to create a tempdir
	// -test.keepdir flag says test to use os.MkdirTemp
	// default is t.TempDir, which will be cleaned up
	tmpDir func(t *testing.T) string
)

func TestMain(m *testing.M) {
	var keepTestDir bool
	flag.BoolVar(&keepTestDir, "test.keepdir", false, "use os.TempDir instead of t.TempDir to keep test artifacts")
	flag.Parse()

	if testing.Short() {
		slog.Warn("integration tests with -short are ignored")
		os.Exit(0)
	}

	if !keepTestDir {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			return t.TempDir()
		}
	} else {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			dir, err := os.MkdirTemp("", t.Name()+"*")
			require.NoError(t, err)
			t.Logf("TEMPDIR %s: -test.keepdir used, so it won't be automatically deleted", dir)
			return dir
		}
	}

	if !isExecutable("sheetflow-ci") {
		slog.Error("cannot locate sheetflow-ci binary: run go build -race -cover -covermode=atomic -o sheetflow-ci ./cmd/sheetflow/ first")
		os.Exit(1)
	}

	var err error
	sheetflowPath, err = filepath.Abs("sheetflow-ci")
	if err != nil {
		slog.Error("can't get abspath for sheetflow-ci", "error", err)
		os.Exit(1)
	}
	coverDir, err := filepath.Abs("coverage")
	if err != nil {
		slog.Error("can't get value for GOCOVERDIR for sheetflow-ci", "error", err)
		os.Exit(1)
	}
	err = rmRfMkdirp(coverDir)
	if err != nil {
		slog.Error("can't reset GOCOVERDIR for sheetflow-ci", "error", err, "coverdir", coverDir)
		os.Exit(1)
	}
	err = os.Setenv("GOCOVERDIR", coverDir)
	if err != nil {
		slog.Error("can't set GOCOVERDIR env variable", "error", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func TestVersion(t *testing.T) {
	var stdout bytes.Buffer
	cmd := exec.CommandContext(t.Context(), sheetflowPath, "version")
	cmd.Stdout = &stdout
	require.NoError(t, cmd.Run())
	require.Contains(t, stdout.String(), "sheetflow:")
	require.Contains(t, stdout.String(), "go:")
}

// TestRun boots the binary against a fake engine, checks the callback
// listener answers, then asks for a graceful shutdown.
func TestRun(t *testing.T) {
	dir := tmpDir(t)

	// a listener standing in for the engine: its address is the probe target
	engine, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = engine.Close()
	})
	go func() {
		for {
			conn, err := engine.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	callbackPort := freePort(t)
	script := filepath.Join(dir, "noop.sh")
	creat(t, script, []byte("#!/bin/sh\nexit 0\n"))
	require.NoError(t, os.Chmod(script, 0o755))

	config := fmt.Sprintf(`
engine:
    webhook_url: http://%s/webhook/trigger
    web_url: http://%s
callback:
    port: %d
scripts:
    start: %s
    stop: %s
    timeout: 10s
probe:
    addr: %s
    confirm_timeout: 5s
    poll_interval: 0s
jobs:
    timeout: 1m
data:
    shared_root: %s
    sheets_dir: sheets
    engine_data: %s
`,
		engine.Addr(), engine.Addr(), callbackPort,
		script, script, engine.Addr(),
		filepath.Join(dir, "engine-files"), filepath.Join(dir, "engine-data"))
	configPath := filepath.Join(dir, "sheetflow.yaml")
	creat(t, configPath, []byte(config))

	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	t.Cleanup(cancel)
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, sheetflowPath, "run", "--config", configPath)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	require.NoError(t, cmd.Start())

	// wait for the callback listener, then poke it with an unknown job
	url := fmt.Sprintf("http://127.0.0.1:%d/callback/results", callbackPort)
	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Post(url, "application/json",
			strings.NewReader(`{"jobId":"ghost","status":"error"}`))
		return err == nil
	}, 15*time.Second, 100*time.Millisecond)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	require.NoError(t, cmd.Process.Signal(os.Interrupt))
	err = cmd.Wait()
	if err != nil {
		t.Logf("%s", stderr.String())
		require.NoError(t, err)
	}
	require.Contains(t, stderr.String(), "callback listener ready")
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}

func rmRfMkdirp(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

func creat(t *testing.T, path string, content []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()
	_, err = f.Write(content)
	require.NoError(t, err)
	err = f.Sync()
	require.NoError(t, err)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}
