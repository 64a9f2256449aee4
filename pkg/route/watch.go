// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package route

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher reloads a routes file into a Store whenever the file changes.
// A reload that fails to parse or build leaves the current table in place.
type Watcher struct {
	path     string
	store    *Store
	logger   *slog.Logger
	debounce time.Duration

	// OnReload, if set, is called after every reload attempt.
	OnReload func(t *Table, err error)
}

// NewWatcher creates a Watcher for the routes file at path.
func NewWatcher(path string, store *Store, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		store:    store,
		logger:   logger,
		debounce: defaultDebounce,
	}
}

// Reload loads the routes file and swaps it into the store.
func (w *Watcher) Reload() error {
	t, err := LoadFile(w.path)
	if err != nil {
		w.logger.Error("failed to reload routes, keeping current table",
			slog.String("file", w.path),
			slog.String("error", err.Error()))
	} else {
		old := w.store.Swap(t)
		w.logger.Info("routes reloaded",
			slog.String("file", w.path),
			slog.Int("previous", old.Len()),
			slog.Int("routes", t.Len()))
	}
	if w.OnReload != nil {
		w.OnReload(t, err)
	}
	return err
}

// Run watches the directory holding the routes file until ctx is cancelled.
// The directory is watched rather than the file so that editors replacing the
// file by rename are still observed.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}
	w.logger.Info("watching routes file", slog.String("file", w.path))

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				timer.Reset(w.debounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("routes watcher error", slog.String("error", err.Error()))

		case <-timer.C:
			_ = w.Reload()
		}
	}
}
