// Package callback hosts the localhost-only HTTP endpoint the workflow
// engine posts job results to. Delivery is at-least-once: duplicates are
// accepted idempotently, and requests for different jobs never block each
// other.
package callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/sheetflow/sheetflow/internal/model"
)

const (
	// ResultsPath is the fixed endpoint path, part of the callback
	// contract advertised to the engine at submission time.
	ResultsPath = "/callback/results"

	// contractVersion stamps responses so the engine side can detect a
	// contract mismatch.
	contractVersion = "1"

	versionHeader = "X-Sheetflow-Callback-Version"
)

// Notification is the engine-to-app callback body.
type Notification struct {
	JobID        string   `json:"jobId"`
	Status       string   `json:"status"`
	Files        []string `json:"files,omitempty"`
	ErrorCode    string   `json:"errorCode,omitempty"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
}

// Resolver commits a terminal outcome for a tracked job. A nil return for
// an already-resolved job is how idempotent re-delivery is implemented.
type Resolver interface {
	Resolve(ctx context.Context, jobID string, res model.Resolution) error
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type Server struct {
	port     int
	resolver Resolver
	srv      *http.Server
}

func NewServer(port int, resolver Resolver) *Server {
	s := &Server{port: port, resolver: resolver}
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+ResultsPath, s.handleResults)
	s.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the mux for httptest-driven tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run binds 127.0.0.1 (never any other interface), serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return fmt.Errorf("binding callback listener: %w", err)
	}
	slog.InfoContext(ctx, "callback listener ready", "addr", ln.Addr().String())

	serveErr := make(chan error, 1)
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("callback listener failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("callback listener shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	w.Header().Set(versionHeader, contractVersion)

	var n Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		writeError(w, http.StatusBadRequest, "MALFORMED_BODY", "request body is not valid JSON")
		return
	}
	if n.JobID == "" {
		writeError(w, http.StatusBadRequest, "MISSING_JOB_ID", "jobId is required")
		return
	}

	var res model.Resolution
	switch n.Status {
	case "success":
		files := make([]string, 0, len(n.Files))
		for _, f := range n.Files {
			rel, err := normalizeResultPath(f)
			if err != nil {
				// security-relevant: fail the job, never copy
				slog.WarnContext(ctx, "callback result path rejected",
					"job_id", n.JobID, "path", f)
				s.failJob(ctx, n.JobID, "PathViolation", err.Error())
				writeError(w, http.StatusBadRequest, "PATH_VIOLATION", err.Error())
				return
			}
			files = append(files, rel)
		}
		res = model.Resolution{Status: model.JobSucceeded, Files: files}
	case "error":
		res = model.Resolution{
			Status:       model.JobFailed,
			ErrorCode:    n.ErrorCode,
			ErrorMessage: n.ErrorMessage,
		}
	default:
		writeError(w, http.StatusBadRequest, "INVALID_STATUS",
			fmt.Sprintf("status must be success or error, got %q", n.Status))
		return
	}

	if err := s.resolver.Resolve(ctx, n.JobID, res); err != nil {
		if errors.Is(err, model.ErrUnknownJob) {
			writeError(w, http.StatusNotFound, "UNKNOWN_JOB", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "RESOLVE_FAILED", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

func (s *Server) failJob(ctx context.Context, jobID, code, msg string) {
	err := s.resolver.Resolve(ctx, jobID, model.Resolution{
		Status:       model.JobFailed,
		ErrorCode:    code,
		ErrorMessage: msg,
	})
	if err != nil && !errors.Is(err, model.ErrUnknownJob) {
		slog.ErrorContext(ctx, "failing job after path violation", "job_id", jobID, "error", err)
	}
}

// normalizeResultPath validates one engine-reported result path against the
// shared data root contract. The engine historically prefixes paths with
// /files/, which maps onto the root itself.
func normalizeResultPath(p string) (string, error) {
	p = strings.TrimPrefix(p, "/files/")
	if p == "" {
		return "", &model.PathError{Path: p}
	}
	if filepath.IsAbs(p) || !filepath.IsLocal(p) {
		return "", &model.PathError{Path: p}
	}
	return filepath.Clean(p), nil
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:   http.StatusText(status),
		Code:    code,
		Message: msg,
	})
}
