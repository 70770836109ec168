package intake

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

var sheetIDRx = regexp.MustCompile(`^https://docs\.google\.com/spreadsheets/d/([a-zA-Z0-9-_]+)`)

// ExportURL turns a Google Sheets document URL into its xlsx export URL.
func ExportURL(docURL string) (string, error) {
	m := sheetIDRx.FindStringSubmatch(docURL)
	if m == nil {
		return "", fmt.Errorf("not a Google Sheets document URL: %q", docURL)
	}
	return fmt.Sprintf("https://docs.google.com/spreadsheets/d/%s/export?format=xlsx", m[1]), nil
}

// FetchSheet downloads the xlsx export of a Google Sheets document into
// destDir and returns the written path. Sheets behind an auth wall answer
// with an HTML or JSON body, which is rejected; the manual browser flow is
// outside the core.
func FetchSheet(ctx context.Context, docURL, destDir string) (string, error) {
	exportURL, err := ExportURL(docURL)
	if err != nil {
		return "", err
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.Logger = nil

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, exportURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := rc.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading sheet export: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("sheet export answered %d", resp.StatusCode)
	}
	ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch ct {
	case "text/html", "application/json":
		return "", fmt.Errorf("sheet requires authentication (got %s body)", ct)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("creating download directory: %w", err)
	}
	dest := filepath.Join(destDir, fmt.Sprintf("sheet_%d.xlsx", time.Now().UnixNano()))
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("creating download file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("writing download: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return dest, nil
}
