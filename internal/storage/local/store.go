// Package local keeps the snapshot table in a JSON file on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ashmod/panels/internal/snapshot"
)

// Config captures the location of the table file.
type Config struct {
	// BaseDir is the directory holding the file. It is created when missing.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	// File is the table file name inside BaseDir.
	File   string `mapstructure:"file" yaml:"file"`
	Logger *zap.Logger
}

// Store reads and writes the table file.
type Store struct {
	path   string
	logger *zap.Logger
}

// New validates the directory and returns a Store for BaseDir/File.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if strings.TrimSpace(cfg.File) == "" {
		return nil, fmt.Errorf("file name is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	cleanBase := filepath.Clean(cfg.BaseDir)
	path := filepath.Clean(filepath.Join(cleanBase, cfg.File))
	if filepath.Dir(path) != cleanBase {
		return nil, fmt.Errorf("file %q must name a file directly inside %s", cfg.File, cfg.BaseDir)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger.With(zap.String("store", "file"), zap.String("path", path))}, nil
}

// Path is the table file location.
func (s *Store) Path() string { return s.path }

// Load reads the table. A missing file is an empty table.
func (s *Store) Load(_ context.Context) (map[string]snapshot.Entry, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]snapshot.Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot table: %w", err)
	}
	entries, err := snapshot.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return entries, nil
}

// Save writes the table to a temporary file and renames it over the old one, so a
// reader never observes a partial table.
func (s *Store) Save(_ context.Context, entries map[string]snapshot.Entry) error {
	raw, err := snapshot.Encode(entries)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace snapshot table: %w", err)
	}
	s.logger.Debug("snapshot table saved", zap.Int("entries", len(entries)))
	return nil
}

// Watch reloads table whenever the file is written or replaced, until ctx is done.
// The directory is watched rather than the file so atomic renames are seen.
func (s *Store) Watch(ctx context.Context, table *snapshot.Table) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %q: %w", filepath.Dir(s.path), err)
	}
	go s.watchLoop(ctx, w, table)
	return nil
}

func (s *Store) watchLoop(ctx context.Context, w *fsnotify.Watcher, table *snapshot.Table) {
	defer func() { _ = w.Close() }()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != s.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := table.Reload(ctx, s); err != nil {
				s.logger.Warn("snapshot table reload failed", zap.Error(err))
				continue
			}
			s.logger.Info("snapshot table reloaded", zap.Int("entries", table.Len()))
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("snapshot table watcher error", zap.Error(err))
		}
	}
}
