package main

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hannes/kiji-ner/ner/detectors"
)

// prepareModelDir returns the directory to load the labeling model from.
// When dir does not hold a usable model and the binary was built with the
// embed tag, the embedded model is extracted into dir first.
func prepareModelDir(dir string, logger *slog.Logger) (string, error) {
	if _, err := detectors.ResolveModelFiles(dir); err == nil {
		return dir, nil
	}

	n, err := extractModelFiles(modelFiles, embeddedModelRoot, dir)
	if err != nil {
		return "", fmt.Errorf("failed to extract embedded model: %w", err)
	}
	if n > 0 {
		logger.Info("[App] Extracted embedded model files", "directory", dir, "files", n)
	}
	return dir, nil
}

// extractModelFiles copies the regular files below root in fsys into
// target, flattening subdirectories. It returns the number of files written.
func extractModelFiles(fsys fs.FS, root, target string) (int, error) {
	if _, err := fs.Stat(fsys, root); err != nil {
		return 0, nil
	}
	if err := os.MkdirAll(target, 0750); err != nil {
		return 0, err
	}

	written := 0
	err := fs.WalkDir(fsys, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		content, err := fs.ReadFile(fsys, path)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(target, filepath.Base(path)), content, 0600); err != nil {
			return err
		}
		written++
		return nil
	})
	return written, err
}
