// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fswatch wraps fsnotify with the event model used by the log
// dispatcher and the runs directory reconciler.
package fswatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tombee/gridwatch/internal/log"
)

// opOrder maps fsnotify operations to watcher operations, in the order a
// combined fsnotify event is split.
var opOrder = []struct {
	fs fsnotify.Op
	op Op
}{
	{fsnotify.Create, OpCreated},
	{fsnotify.Write, OpModified},
	{fsnotify.Remove, OpDeleted},
	{fsnotify.Rename, OpRenamed},
}

// Watcher wraps fsnotify.Watcher and reports events below a root directory.
// Only directories added explicitly are watched; there is no implicit recursion.
type Watcher struct {
	name      string
	root      string
	ops       map[Op]bool
	watcher   *fsnotify.Watcher
	eventChan chan *Event
	logger    *slog.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once

	mu   sync.Mutex
	dirs map[string]bool
}

// NewWatcher creates a watcher named name for the directory root.
// ops selects the reported operations; empty means all.
func NewWatcher(name, root string, ops []Op, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	opMap := make(map[Op]bool)
	if len(ops) == 0 {
		ops = AllOps
	}
	for _, op := range ops {
		opMap[op] = true
	}

	w := &Watcher{
		name:      name,
		root:      absRoot,
		ops:       opMap,
		watcher:   fsw,
		eventChan: make(chan *Event, 256),
		logger:    logger.With(slog.String("watcher", name), slog.String(log.PathKey, absRoot)),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		dirs:      make(map[string]bool),
	}

	if err := w.AddPath(absRoot); err != nil {
		fsw.Close()
		return nil, err
	}

	return w, nil
}

// Root returns the absolute root directory.
func (w *Watcher) Root() string {
	return w.root
}

// AddPath starts watching an additional directory.
func (w *Watcher) AddPath(path string) error {
	if err := w.watcher.Add(path); err != nil {
		return fmt.Errorf("failed to watch path %s: %w", path, err)
	}
	w.mu.Lock()
	w.dirs[path] = true
	n := len(w.dirs)
	w.mu.Unlock()
	watchedDirs.WithLabelValues(w.name).Set(float64(n))
	return nil
}

// RemovePath stops watching a directory. Removing a directory that was
// deleted from disk is not an error.
func (w *Watcher) RemovePath(path string) {
	w.mu.Lock()
	known := w.dirs[path]
	delete(w.dirs, path)
	n := len(w.dirs)
	w.mu.Unlock()
	watchedDirs.WithLabelValues(w.name).Set(float64(n))

	if known {
		// fsnotify drops watches of deleted directories itself
		_ = w.watcher.Remove(path)
	}
}

// Watching reports whether path is a watched directory.
func (w *Watcher) Watching(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dirs[path]
}

// Start begins watching for events.
func (w *Watcher) Start(ctx context.Context) error {
	go w.eventLoop(ctx)
	w.logger.Info("file watcher started")
	return nil
}

// Stop stops the watcher and releases resources. It is safe to call more
// than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		err = w.watcher.Close()
	})
	return err
}

// Done is closed once the event loop has exited and Events is closed.
func (w *Watcher) Done() <-chan struct{} {
	return w.doneCh
}

// Events returns the channel of filesystem events. It is closed when the
// watcher stops.
func (w *Watcher) Events() <-chan *Event {
	return w.eventChan
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer close(w.doneCh)
	defer close(w.eventChan)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("file watcher stopped (context cancelled)")
			return
		case <-w.stopCh:
			w.logger.Info("file watcher stopped")
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				w.logger.Debug("file watcher event channel closed")
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				w.logger.Debug("file watcher error channel closed")
				return
			}
			recordError(w.name, "fsnotify")
			w.logger.Error("file watcher error", log.Error(err))
		}
	}
}

// handleEvent splits a fsnotify event into watcher events and forwards them.
// Sends block rather than drop: a lost creation would lose a whole log file.
func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	for _, m := range opOrder {
		if !event.Op.Has(m.fs) || !w.ops[m.op] {
			continue
		}

		var (
			size  int64
			mtime time.Time
			isDir bool
		)
		switch m.op {
		case OpDeleted, OpRenamed:
			isDir = w.Watching(event.Name)
		default:
			if info, err := os.Stat(event.Name); err == nil {
				size = info.Size()
				mtime = info.ModTime()
				isDir = info.IsDir()
			} else {
				// removed between event and stat
				w.logger.Debug("failed to stat file", log.PathKey, event.Name, log.Error(err))
			}
		}

		ev := NewEvent(event.Name, m.op, isDir, size, mtime)
		recordEvent(w.name, string(m.op))

		select {
		case w.eventChan <- ev:
			w.logger.Debug("file event", "op", m.op, log.PathKey, event.Name)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}
