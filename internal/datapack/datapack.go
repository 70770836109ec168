// Package datapack exports and imports the engine's own data directory as
// zip archives, so users can back up or move workflow definitions between
// machines. Both operations require the container to be stopped; the
// caller enforces that.
package datapack

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const dataPrefix = "engine-data"

// skip decides which engine data files stay out of exports: the first-run
// marker and installed community nodes (reinstalled on the target side).
func skip(rel string) bool {
	if filepath.Base(rel) == ".first_run_done" {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == "nodes" {
			return true
		}
	}
	return false
}

// Export zips dataDir (and envFile, when present) into destDir under a
// timestamped name and returns the archive path.
func Export(dataDir, envFile, destDir string) (string, error) {
	if _, err := os.Stat(dataDir); err != nil {
		return "", fmt.Errorf("engine data directory: %w", err)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("creating export directory: %w", err)
	}

	name := fmt.Sprintf("engine_export_%s.zip", time.Now().Format("20060102_150405"))
	archivePath := filepath.Join(destDir, name)
	f, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("creating archive: %w", err)
	}
	zw := zip.NewWriter(f)

	fail := func(err error) (string, error) {
		_ = zw.Close()
		_ = f.Close()
		_ = os.Remove(archivePath)
		return "", err
	}

	count := 0
	err = filepath.WalkDir(dataDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dataDir, p)
		if err != nil {
			return err
		}
		if skip(rel) {
			return nil
		}
		count++
		return addFile(zw, p, path.Join(dataPrefix, filepath.ToSlash(rel)))
	})
	if err != nil {
		return fail(fmt.Errorf("archiving engine data: %w", err))
	}
	if count == 0 {
		return fail(errors.New("no files found in engine data directory"))
	}

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := addFile(zw, envFile, ".env"); err != nil {
				return fail(fmt.Errorf("archiving .env: %w", err))
			}
		}
	}

	if err := zw.Close(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	slog.Info("engine data exported", "archive", archivePath, "files", count)
	return archivePath, nil
}

// Import extracts an archive produced by Export back into dataDir and
// envFile. Member names escaping the data prefix are rejected.
func Import(archivePath, dataDir, envFile string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer func() {
		_ = zr.Close()
	}()

	for _, member := range zr.File {
		name := member.Name
		switch {
		case name == ".env":
			if envFile == "" {
				continue
			}
			if err := extractFile(member, envFile); err != nil {
				return err
			}
		case strings.HasPrefix(name, dataPrefix+"/"):
			rel := strings.TrimPrefix(name, dataPrefix+"/")
			if !filepath.IsLocal(rel) { // zip-slip guard
				return fmt.Errorf("archive member escapes data directory: %q", member.Name)
			}
			if member.FileInfo().IsDir() {
				continue
			}
			if err := extractFile(member, filepath.Join(dataDir, filepath.FromSlash(rel))); err != nil {
				return err
			}
		default:
			slog.Warn("skipping unexpected archive member", "name", member.Name)
		}
	}
	return nil
}

func addFile(zw *zip.Writer, srcPath, arcName string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = src.Close()
	}()

	w, err := zw.Create(arcName)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}

func extractFile(member *zip.File, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	src, err := member.Open()
	if err != nil {
		return err
	}
	defer func() {
		_ = src.Close()
	}()

	dst, err := os.Create(destPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}
