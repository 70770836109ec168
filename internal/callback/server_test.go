package callback_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sheetflow/sheetflow/internal/callback"
	"github.com/sheetflow/sheetflow/internal/model"
)

type fakeResolver struct {
	mx       sync.Mutex
	resolved map[string][]model.Resolution
	err      error
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{resolved: make(map[string][]model.Resolution)}
}

func (f *fakeResolver) Resolve(_ context.Context, jobID string, res model.Resolution) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	if f.err != nil {
		return f.err
	}
	f.resolved[jobID] = append(f.resolved[jobID], res)
	return nil
}

func (f *fakeResolver) calls(jobID string) []model.Resolution {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.resolved[jobID]
}

func post(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := srv.Client().Post(srv.URL+callback.ResultsPath, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = resp.Body.Close()
	})
	return resp
}

func TestHandleResults(t *testing.T) {
	t.Parallel()

	t.Run("success resolution", func(t *testing.T) {
		t.Parallel()
		resolver := newFakeResolver()
		srv := httptest.NewServer(callback.NewServer(0, resolver).Handler())
		t.Cleanup(srv.Close)

		resp := post(t, srv, `{"jobId":"j1","status":"success","files":["/files/out/report.docx"]}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "1", resp.Header.Get("X-Sheetflow-Callback-Version"))

		calls := resolver.calls("j1")
		require.Len(t, calls, 1)
		require.Equal(t, model.JobSucceeded, calls[0].Status)
		require.Equal(t, []string{"out/report.docx"}, calls[0].Files)
	})

	t.Run("error resolution", func(t *testing.T) {
		t.Parallel()
		resolver := newFakeResolver()
		srv := httptest.NewServer(callback.NewServer(0, resolver).Handler())
		t.Cleanup(srv.Close)

		resp := post(t, srv, `{"jobId":"j2","status":"error","errorCode":"WorkflowFailed","errorMessage":"node crashed"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		calls := resolver.calls("j2")
		require.Len(t, calls, 1)
		require.Equal(t, model.JobFailed, calls[0].Status)
		require.Equal(t, "WorkflowFailed", calls[0].ErrorCode)
		require.Equal(t, "node crashed", calls[0].ErrorMessage)
	})

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()
		resolver := newFakeResolver()
		srv := httptest.NewServer(callback.NewServer(0, resolver).Handler())
		t.Cleanup(srv.Close)

		resp := post(t, srv, `{not json`)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Empty(t, resolver.resolved)
	})

	t.Run("missing job id", func(t *testing.T) {
		t.Parallel()
		resolver := newFakeResolver()
		srv := httptest.NewServer(callback.NewServer(0, resolver).Handler())
		t.Cleanup(srv.Close)

		resp := post(t, srv, `{"status":"success","files":[]}`)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("invalid status", func(t *testing.T) {
		t.Parallel()
		resolver := newFakeResolver()
		srv := httptest.NewServer(callback.NewServer(0, resolver).Handler())
		t.Cleanup(srv.Close)

		resp := post(t, srv, `{"jobId":"j3","status":"maybe"}`)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Empty(t, resolver.calls("j3"))
	})

	t.Run("unknown job", func(t *testing.T) {
		t.Parallel()
		resolver := newFakeResolver()
		resolver.err = model.ErrUnknownJob
		srv := httptest.NewServer(callback.NewServer(0, resolver).Handler())
		t.Cleanup(srv.Close)

		resp := post(t, srv, `{"jobId":"ghost","status":"error"}`)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("path traversal fails the job", func(t *testing.T) {
		t.Parallel()
		resolver := newFakeResolver()
		srv := httptest.NewServer(callback.NewServer(0, resolver).Handler())
		t.Cleanup(srv.Close)

		resp := post(t, srv, `{"jobId":"j4","status":"success","files":["../../etc/passwd"]}`)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		calls := resolver.calls("j4")
		require.Len(t, calls, 1)
		require.Equal(t, model.JobFailed, calls[0].Status)
		require.Equal(t, "PathViolation", calls[0].ErrorCode)
	})

	t.Run("absolute path outside files prefix fails the job", func(t *testing.T) {
		t.Parallel()
		resolver := newFakeResolver()
		srv := httptest.NewServer(callback.NewServer(0, resolver).Handler())
		t.Cleanup(srv.Close)

		resp := post(t, srv, `{"jobId":"j5","status":"success","files":["/etc/passwd"]}`)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Len(t, resolver.calls("j5"), 1)
	})

	t.Run("duplicate delivery is accepted twice", func(t *testing.T) {
		t.Parallel()
		resolver := newFakeResolver()
		srv := httptest.NewServer(callback.NewServer(0, resolver).Handler())
		t.Cleanup(srv.Close)

		body := `{"jobId":"j6","status":"success","files":["a.docx"]}`
		require.Equal(t, http.StatusOK, post(t, srv, body).StatusCode)
		require.Equal(t, http.StatusOK, post(t, srv, body).StatusCode)
		require.Len(t, resolver.calls("j6"), 2)
	})

	t.Run("get is rejected", func(t *testing.T) {
		t.Parallel()
		resolver := newFakeResolver()
		srv := httptest.NewServer(callback.NewServer(0, resolver).Handler())
		t.Cleanup(srv.Close)

		resp, err := srv.Client().Get(srv.URL + callback.ResultsPath)
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = resp.Body.Close()
		})
		require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestRunServesAndShutsDown(t *testing.T) {
	t.Parallel()
	resolver := newFakeResolver()
	srv := callback.NewServer(0, resolver)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	cancel()
	require.NoError(t, <-done)
}
