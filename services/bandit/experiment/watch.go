// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a config file must stay quiet before a
// change is reported.
const DefaultDebounce = 250 * time.Millisecond

// ConfigWatcher reports changes to a single config file.
//
// The file's directory is watched rather than the file, so editors that
// save by writing a temporary file and renaming it over the original are
// still seen.
//
// Thread Safety: Watch must not be called concurrently.
type ConfigWatcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
}

// NewConfigWatcher starts watching the directory holding path.
//
// Inputs:
//
//	path - Config file. It need not exist yet.
//	debounce - Quiet period before a change is reported. Zero uses
//	  DefaultDebounce.
//	logger - Nil uses slog.Default().
func NewConfigWatcher(path string, debounce time.Duration, logger *slog.Logger) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &ConfigWatcher{path: abs, debounce: debounce, watcher: watcher, logger: logger}, nil
}

// Path returns the absolute path of the watched file.
func (w *ConfigWatcher) Path() string {
	return w.path
}

// Watch calls onChange once per burst of writes to the file until ctx is
// done or the watcher is closed.
//
// onChange runs on the calling goroutine. Changes that arrive while it runs
// are batched into the next call.
func (w *ConfigWatcher) Watch(ctx context.Context, onChange func(context.Context)) error {
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.logger.Debug("config file changed", slog.String("path", w.path), slog.String("op", event.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", slog.String("error", err.Error()))

		case <-timerC:
			timer, timerC = nil, nil
			onChange(ctx)
		}
	}
}

// Close stops the watcher. A blocked Watch returns nil.
func (w *ConfigWatcher) Close() error {
	return w.watcher.Close()
}
