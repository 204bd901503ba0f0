// Package store provides whole-document JSON persistence. Each component
// owns a directory of documents, one file per concern; every flush rewrites
// the full document and reload repopulates in-memory state from it.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// Files persists JSON documents under one directory.
type Files struct {
	dir    string
	logger *slog.Logger
}

// New creates the directory if needed and returns a Files store.
func New(dir string, logger *slog.Logger) (*Files, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir %s: %w", dir, err)
	}
	return &Files{dir: dir, logger: logger}, nil
}

// Dir returns the directory backing this store.
func (f *Files) Dir() string { return f.dir }

// Save marshals v and atomically replaces the named document. The write goes
// to a temp file first so a crash mid-write never corrupts the document.
func (f *Files) Save(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	path := filepath.Join(f.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// Load unmarshals the named document into v. A missing document is not an
// error: v is left untouched so the caller starts fresh. A corrupt document
// is logged and also treated as a fresh start, since losing history beats
// refusing to boot.
func (f *Files) Load(name string, v any) error {
	path := filepath.Join(f.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		f.logger.Warn("discarding corrupt document",
			slog.String("path", path), slog.Any("error", err))
		return nil
	}
	return nil
}
