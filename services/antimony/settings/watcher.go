// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package settings

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mastevb/vscode-antimony/pkg/logging"
)

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// SettleWindow collapses the burst of filesystem events one save
	// produces. This is not the restart debounce.
	SettleWindow time.Duration

	// BufferSize is the capacity of the Events channel.
	BufferSize int

	// OnInvalid receives the error when the file changes to content that
	// fails validation. The previous settings stay in effect. Optional.
	OnInvalid func(error)
}

// DefaultWatcherOptions returns sensible defaults.
func DefaultWatcherOptions() WatcherOptions {
	return WatcherOptions{
		SettleWindow: 100 * time.Millisecond,
		BufferSize:   16,
	}
}

// Watcher reloads a Store when its file changes and emits one ChangeEvent
// per reload that changed at least one section.
//
// The parent directory is watched rather than the file so that editors
// which save by rename are seen.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Watcher struct {
	store   *Store
	watcher *fsnotify.Watcher
	logger  *logging.Logger
	settle  time.Duration
	invalid func(error)

	events   chan ChangeEvent
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	watching bool
}

// NewWatcher creates a watcher for store. Call Start to begin.
func NewWatcher(store *Store, logger *logging.Logger, opts *WatcherOptions) (*Watcher, error) {
	if opts == nil {
		defaults := DefaultWatcherOptions()
		opts = &defaults
	}
	if logger == nil {
		logger = logging.Nop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		store:   store,
		watcher: w,
		logger:  logger,
		settle:  opts.SettleWindow,
		invalid: opts.OnInvalid,
		events:  make(chan ChangeEvent, opts.BufferSize),
		done:    make(chan struct{}),
	}, nil
}

// Events delivers change events. It is closed when the watch loop ends.
func (w *Watcher) Events() <-chan ChangeEvent {
	return w.events
}

// Start begins watching until ctx ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.store.Path())); err != nil {
		return err
	}
	go w.loop(ctx)
	return nil
}

// Stop ends watching. Idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.events)

	target := filepath.Clean(w.store.Path())
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.settle)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.settle)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Settings watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	changed, err := w.store.Reload()
	if err != nil {
		w.logger.Warn("Settings reload failed, keeping previous values",
			"path", w.store.Path(), "error", err)
		if w.invalid != nil {
			w.invalid(err)
		}
		return
	}
	if len(changed) == 0 {
		return
	}
	w.logger.Debug("Settings changed", "sections", changed)
	select {
	case w.events <- ChangeEvent{Sections: changed, Time: time.Now()}:
	default:
		w.logger.Warn("Settings event dropped, consumer is behind", "sections", changed)
	}
}
