// Package artifact copies engine-generated result files out of the shared
// data root into the user's output directory. The shared data root is
// engine-owned: sources are opened through an os.Root so no path, however
// crafted, can reach outside it, and nothing is ever deleted from it.
package artifact

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sheetflow/sheetflow/internal/model"
	"github.com/sheetflow/sheetflow/internal/parallel"
)

// copyLimit bounds concurrent file copies per job.
const copyLimit = 4

type Placer struct {
	root *os.Root
}

func NewPlacer(sharedRoot string) (*Placer, error) {
	root, err := os.OpenRoot(sharedRoot)
	if err != nil {
		return nil, fmt.Errorf("opening shared data root: %w", err)
	}
	return &Placer{root: root}, nil
}

func (p *Placer) Close() error {
	if p.root == nil {
		return nil
	}
	err := p.root.Close()
	p.root = nil
	return err
}

type copyResult struct {
	name string
	err  error
}

// Place copies every result file of a resolved job into job.OutputDir,
// creating it if absent. Partial failure is reported per file via
// PartialCopyError instead of rolling back: partial delivery stays visible
// and actionable.
func (p *Placer) Place(job model.Job) ([]string, error) {
	if len(job.ResultFiles) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory %s: %w", job.OutputDir, err)
	}

	results, err := parallel.Map(context.Background(), copyLimit, job.ResultFiles,
		func(_ context.Context, rel string) (copyResult, error) {
			return copyResult{name: rel, err: p.copyOut(rel, job.OutputDir)}, nil
		})
	if err != nil {
		return nil, err
	}

	var copied []string
	failed := make(map[string]error)
	for _, r := range results {
		if r.err != nil {
			slog.Warn("artifact copy failed", "job_id", job.ID, "path", r.name, "error", r.err)
			failed[r.name] = r.err
			continue
		}
		copied = append(copied, filepath.Base(r.name))
	}

	if len(failed) > 0 {
		return copied, &model.PartialCopyError{Copied: copied, Failed: failed}
	}
	return copied, nil
}

// copyOut copies one root-relative file into destDir under its base name.
// The os.Root open fails for any path escaping the shared data root, which
// backstops the listener-side validation.
func (p *Placer) copyOut(rel, destDir string) error {
	src, err := p.root.Open(rel)
	if err != nil {
		return fmt.Errorf("opening result file: %w", err)
	}
	defer func() {
		_ = src.Close()
	}()

	dst, err := os.Create(filepath.Join(destDir, filepath.Base(rel)))
	if err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("copying: %w", err)
	}
	return dst.Close()
}
