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

// Package reconciler keeps the run database in line with the runs directory
// when records are added, moved or removed from outside the process.
package reconciler

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/tombee/gridwatch/internal/fswatch"
	"github.com/tombee/gridwatch/internal/log"
	"github.com/tombee/gridwatch/internal/rundb"
)

// Reloader rebuilds the non-QC part of a run database from a directory.
type Reloader interface {
	ReloadRuns(dir string, opts rundb.ImportOptions) (rundb.ImportResult, error)
}

// Notifier is told when the database changed.
type Notifier interface {
	Set()
}

// Options configures a Reconciler.
type Options struct {
	// Debounce collapses bursts of changes into one reload
	Debounce time.Duration

	// Rewrite persists experiment and sample corrections to record files
	Rewrite bool

	// RetryInterval is the pause before retrying a failed watch
	RetryInterval time.Duration
}

// Reconciler watches <runs>/<experiment>/<sample>/ and reloads the database
// when directories at depth 1 or 2, or record files at depth 3, appear or
// disappear.
type Reconciler struct {
	dir     string
	db      Reloader
	refresh Notifier
	opts    Options
	logger  *slog.Logger

	watcher   *fswatch.Watcher
	debouncer *fswatch.Debouncer

	newWatcher func(name, root string, ops []fswatch.Op, logger *slog.Logger) (*fswatch.Watcher, error)
}

// New creates a reconciler for the runs directory dir.
func New(dir string, db Reloader, refresh Notifier, opts Options, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = log.Discard()
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = time.Second
	}
	return &Reconciler{
		dir:        dir,
		db:         db,
		refresh:    refresh,
		opts:       opts,
		logger:     log.WithComponent(logger, "reconciler").With(slog.String(log.PathKey, dir)),
		newWatcher: fswatch.NewWatcher,
	}
}

// Run watches the directory until ctx is cancelled. A watch that cannot be
// installed is retried every RetryInterval.
func (r *Reconciler) Run(ctx context.Context) error {
	r.debouncer = fswatch.NewDebouncer(r.opts.Debounce, true, fswatch.ByWatcher, func(events []*fswatch.Event) {
		r.logger.Debug("runs directory changed", slog.Int("events", len(events)))
		r.Reload()
	})
	defer r.debouncer.Stop()

	for {
		w, err := r.watch(ctx)
		if err == nil {
			r.consume(ctx, w)
			w.Stop()
			return nil
		}
		r.logger.Warn("failed to watch runs directory, retrying", log.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.opts.RetryInterval):
		}
	}
}

func (r *Reconciler) watch(ctx context.Context) (*fswatch.Watcher, error) {
	w, err := r.newWatcher("runs", r.dir, nil, r.logger)
	if err != nil {
		return nil, err
	}
	r.watcher = w
	r.addTree(w.Root())
	if err := w.Start(ctx); err != nil {
		w.Stop()
		r.watcher = nil
		return nil, err
	}
	return w, nil
}

func (r *Reconciler) consume(ctx context.Context, w *fswatch.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			if r.Handle(ev) {
				r.debouncer.Add(ev)
			}
		}
	}
}

// Reload deletes the tracked sequencing runs and reimports the directory,
// then signals a refresh.
func (r *Reconciler) Reload() {
	r.logger.Info("deleting and re-importing all runs due to changes in the run directory")
	res, err := r.db.ReloadRuns(r.dir, rundb.ImportOptions{Rewrite: r.opts.Rewrite})
	if err != nil {
		r.logger.Error("failed to reload runs", log.Error(err))
		return
	}
	r.logger.Debug("reloaded runs", slog.Int("added", res.Added), slog.Int("skipped", res.Skipped))
	if r.refresh != nil {
		r.refresh.Set()
	}
}

// Handle updates directory watches for ev and reports whether it requires a
// reload.
func (r *Reconciler) Handle(ev *fswatch.Event) bool {
	root := r.dir
	if r.watcher != nil {
		root = r.watcher.Root()
	}
	depth := fswatch.Depth(root, ev.Path)

	if ev.IsDir {
		switch ev.Op {
		case fswatch.OpCreated:
			if depth >= 1 && depth <= 2 {
				r.addTree(ev.Path)
			}
		case fswatch.OpDeleted, fswatch.OpRenamed:
			if r.watcher != nil {
				r.watcher.RemovePath(ev.Path)
			}
		default:
			return false
		}
		return depth >= 1 && depth <= 2
	}

	if depth != 3 || !strings.HasSuffix(ev.Name, ".json") {
		return false
	}
	switch ev.Op {
	case fswatch.OpCreated, fswatch.OpDeleted, fswatch.OpRenamed:
		return true
	}
	return false
}

// addTree watches path and its subdirectories down to depth 2 of the root.
func (r *Reconciler) addTree(path string) {
	if r.watcher == nil {
		return
	}
	depth := fswatch.Depth(r.watcher.Root(), path)
	if depth < 0 || depth > 2 {
		return
	}
	dirs, err := fswatch.WalkDirectory(path, 2-depth)
	if err != nil {
		r.logger.Debug("failed to walk directory", slog.String(log.PathKey, path), log.Error(err))
	}
	for _, d := range dirs {
		if r.watcher.Watching(d) {
			continue
		}
		if info, err := os.Stat(d); err != nil || !info.IsDir() {
			continue
		}
		if err := r.watcher.AddPath(d); err != nil {
			r.logger.Warn("failed to watch directory", slog.String(log.PathKey, d), log.Error(err))
		}
	}
}
