package engine_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sheetflow/sheetflow/internal/config"
	"github.com/sheetflow/sheetflow/internal/engine"
)

func TestNewClient(t *testing.T) {
	t.Parallel()

	t.Run("rejects url without host", func(t *testing.T) {
		t.Parallel()
		_, err := engine.NewClient(config.Engine{WebhookURL: "/webhook/trigger"}, "http://127.0.0.1:5679/callback/results")
		require.Error(t, err)
	})

	t.Run("keeps the web url", func(t *testing.T) {
		t.Parallel()
		c, err := engine.NewClient(config.Engine{
			WebhookURL: "http://localhost:5678/webhook/trigger",
			WebURL:     "http://localhost:5678",
		}, "http://127.0.0.1:5679/callback/results")
		require.NoError(t, err)
		require.Equal(t, "http://localhost:5678", c.WebURL())
	})
}

func TestTrigger(t *testing.T) {
	t.Parallel()

	t.Run("posts the handshake body", func(t *testing.T) {
		t.Parallel()
		var got engine.TriggerRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "application/json", r.Header.Get("Content-Type"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusOK)
		}))
		t.Cleanup(srv.Close)

		c, err := engine.NewClient(config.Engine{
			WebhookURL: srv.URL + "/webhook/trigger",
			Template:   "report.docx",
		}, "http://127.0.0.1:5679/callback/results")
		require.NoError(t, err)

		require.NoError(t, c.Trigger(t.Context(), "job-1", "sheet_42.xlsx"))
		require.Equal(t, engine.TriggerRequest{
			JobID:       "job-1",
			Filename:    "sheet_42.xlsx",
			Template:    "report.docx",
			CallbackURL: "http://127.0.0.1:5679/callback/results",
		}, got)
	})

	t.Run("retries transient server errors", func(t *testing.T) {
		t.Parallel()
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		t.Cleanup(srv.Close)

		c, err := engine.NewClient(config.Engine{WebhookURL: srv.URL}, "http://127.0.0.1:5679/callback/results")
		require.NoError(t, err)

		require.NoError(t, c.Trigger(t.Context(), "job-2", "sheet.xlsx"))
		require.Equal(t, int32(2), hits.Load())
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		t.Parallel()
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			http.Error(w, "no such workflow", http.StatusNotFound)
		}))
		t.Cleanup(srv.Close)

		c, err := engine.NewClient(config.Engine{WebhookURL: srv.URL}, "http://127.0.0.1:5679/callback/results")
		require.NoError(t, err)

		err = c.Trigger(t.Context(), "job-3", "sheet.xlsx")
		require.ErrorContains(t, err, "404")
		require.ErrorContains(t, err, "no such workflow")
		require.Equal(t, int32(1), hits.Load())
	})
}
