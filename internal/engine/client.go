// Package engine talks to the workflow engine's trigger webhook. The
// submission handshake lives here: the tracker-generated job id and the
// callback URL travel in the trigger body, and the engine must echo that
// same id in its completion callback.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/sheetflow/sheetflow/internal/config"
)

// TriggerRequest is the versioned body POSTed to the engine webhook.
type TriggerRequest struct {
	JobID       string `json:"jobId"`
	Filename    string `json:"filename"`
	Template    string `json:"template,omitempty"`
	CallbackURL string `json:"callbackUrl"`
}

type Client struct {
	webhookURL  string
	webURL      string
	template    string
	callbackURL string
	http        *retryablehttp.Client
}

func NewClient(cfg config.Engine, callbackURL string) (*Client, error) {
	parsed, err := url.Parse(cfg.WebhookURL)
	if err != nil {
		return nil, fmt.Errorf("parsing engine webhook url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.New("engine webhook url needs a scheme and host, e.g. http://localhost:5678/webhook/trigger")
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil

	return &Client{
		webhookURL:  parsed.String(),
		webURL:      cfg.WebURL,
		template:    cfg.Template,
		callbackURL: callbackURL,
		http:        rc,
	}, nil
}

// Trigger asks the engine to process a staged file under jobID.
func (c *Client) Trigger(ctx context.Context, jobID, filename string) error {
	body, err := json.Marshal(TriggerRequest{
		JobID:       jobID,
		Filename:    filename,
		Template:    c.template,
		CallbackURL: c.callbackURL,
	})
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("triggering engine webhook: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("engine webhook answered %d: %s", resp.StatusCode, string(detail))
	}

	slog.DebugContext(ctx, "engine triggered", "job_id", jobID, "filename", filename)
	return nil
}

// WebURL is the engine's own browser interface, opened as a pure side
// effect with no state feedback into the core.
func (c *Client) WebURL() string {
	return c.webURL
}
