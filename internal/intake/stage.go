// Package intake moves user spreadsheets into the engine's shared data
// area, either from a local file or downloaded from a Google Sheets export
// URL.
package intake

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"
)

// Stager copies spreadsheets into the sheets directory under the shared
// data root. Writes go through an os.Root so a hostile source path cannot
// place files outside the root.
type Stager struct {
	root *os.Root
	dir  string
}

func NewStager(sharedRoot, sheetsDir string) (*Stager, error) {
	root, err := os.OpenRoot(sharedRoot)
	if err != nil {
		return nil, fmt.Errorf("opening shared data root: %w", err)
	}
	return &Stager{root: root, dir: sheetsDir}, nil
}

func (s *Stager) Close() error {
	if s.root == nil {
		return nil
	}
	err := s.root.Close()
	s.root = nil
	return err
}

// Stage copies the spreadsheet at srcPath into the sheets directory under a
// fresh timestamped name and returns that name, which is what the engine
// trigger body references. The source is left in place.
func (s *Stager) Stage(srcPath string) (string, error) {
	if !strings.EqualFold(path.Ext(srcPath), ".xlsx") {
		return "", fmt.Errorf("%s: only .xlsx spreadsheets are accepted", srcPath)
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("opening spreadsheet: %w", err)
	}
	defer func() {
		_ = src.Close()
	}()

	if err := s.root.Mkdir(s.dir, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return "", fmt.Errorf("creating sheets directory: %w", err)
	}

	name := fmt.Sprintf("sheet_%d.xlsx", time.Now().UnixNano())
	dst, err := s.root.Create(path.Join(s.dir, name))
	if err != nil {
		return "", fmt.Errorf("creating staged spreadsheet: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return "", fmt.Errorf("copying spreadsheet: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	return name, nil
}
