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

// Package logwatch routes filesystem events of a channel log directory to
// the tailer and feeds parsed lines into the channel's event queue.
package logwatch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tombee/gridwatch/internal/eventqueue"
	"github.com/tombee/gridwatch/internal/fswatch"
	"github.com/tombee/gridwatch/internal/log"
	"github.com/tombee/gridwatch/internal/logline"
	"github.com/tombee/gridwatch/internal/tailer"
)

// Options configures a Dispatcher.
type Options struct {
	// Sources classifies files; nil means DefaultSources
	Sources []Source

	// IgnoreModifications disables treating modified untracked files as
	// newly created. Files present before startup are then never tailed.
	IgnoreModifications bool

	// RetryInterval is how often Run checks for a missing directory
	RetryInterval time.Duration
}

// Dispatcher watches one channel's log directory non-recursively. At most
// one file per origin is current at a time.
type Dispatcher struct {
	name   string
	dir    string
	queue  *eventqueue.Queue
	tail   *tailer.Tailer
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	current map[logline.Origin]string

	newWatcher func(name, root string, ops []fswatch.Op, logger *slog.Logger) (*fswatch.Watcher, error)
}

// New creates a dispatcher for dir feeding q.
func New(name, dir string, q *eventqueue.Queue, opts Options, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Discard()
	}
	if opts.Sources == nil {
		opts.Sources = DefaultSources()
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = time.Second
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	logger = log.WithComponent(logger, "logwatch")
	return &Dispatcher{
		name:    name,
		dir:     dir,
		queue:   q,
		tail:    tailer.New(logger),
		opts:    opts,
		logger:  logger.With(slog.String(log.PathKey, dir)),
		current: make(map[logline.Origin]string),

		newWatcher: fswatch.NewWatcher,
	}
}

// Dir returns the watched directory.
func (d *Dispatcher) Dir() string {
	return d.dir
}

// Current returns the current file of an origin, empty if none.
func (d *Dispatcher) Current(origin logline.Origin) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current[origin]
}

// Run watches the directory until ctx is cancelled. A missing directory is
// waited for and a failed watch is retried; neither ends Run.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.tail.CloseAll()

	for {
		if err := d.waitForDir(ctx); err != nil {
			return nil
		}
		w, err := d.watch(ctx)
		if err == nil {
			d.logger.Info("watcher ready")
			d.consume(ctx, w)
			w.Stop()
			return nil
		}
		d.logger.Warn("failed to watch log directory, retrying", log.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d.opts.RetryInterval):
		}
	}
}

func (d *Dispatcher) watch(ctx context.Context) (*fswatch.Watcher, error) {
	w, err := d.newWatcher(d.name, d.dir, nil, d.logger)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return nil, err
	}
	return w, nil
}

func (d *Dispatcher) consume(ctx context.Context, w *fswatch.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			d.Handle(ev)
		}
	}
}

func (d *Dispatcher) waitForDir(ctx context.Context) error {
	warned := false
	for {
		if info, err := os.Stat(d.dir); err == nil && info.IsDir() {
			return nil
		}
		if !warned {
			d.logger.Warn("log directory does not exist yet, waiting")
			warned = true
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.opts.RetryInterval):
		}
	}
}

// Handle processes one filesystem event. It is called from a single
// goroutine.
func (d *Dispatcher) Handle(ev *fswatch.Event) {
	if ev.IsDir || filepath.Dir(ev.Path) != d.dir {
		return
	}
	switch ev.Op {
	case fswatch.OpCreated:
		d.created(ev.Path)
	case fswatch.OpModified:
		d.modified(ev.Path)
	case fswatch.OpDeleted, fswatch.OpRenamed:
		d.deleted(ev.Path)
	}
}

func (d *Dispatcher) classify(path string) (Source, bool) {
	name := filepath.Base(path)
	for _, s := range d.opts.Sources {
		if s.Matches(name) {
			return s, true
		}
	}
	return Source{}, false
}

func (d *Dispatcher) created(path string) {
	src, ok := d.classify(path)
	if !ok {
		d.logger.Debug("file is not a channel log", log.PathKey, path)
		return
	}

	d.mu.Lock()
	previous := d.current[src.Origin]
	d.current[src.Origin] = path
	d.mu.Unlock()

	first := previous == ""
	if !first {
		d.tail.Close(previous)
		d.logger.Info("replacing current log file",
			log.OriginKey, src.Origin, "previous", previous, log.PathKey, path)
	} else {
		d.logger.Info("new log file", log.OriginKey, src.Origin, log.PathKey, path)
	}

	if err := d.tail.Open(path); err != nil {
		// removed before it could be opened; the next event retries
		d.logger.Warn("failed to open log file", log.PathKey, path, log.Error(err))
		d.mu.Lock()
		if d.current[src.Origin] == path {
			delete(d.current, src.Origin)
		}
		d.mu.Unlock()
		return
	}
	filesOpened.WithLabelValues(d.name, string(src.Origin)).Inc()

	d.drain(src, path)

	if src.Activates && d.queue.Activate() {
		d.logger.Info("activating event queue", "queued", d.queue.Len())
	}
}

func (d *Dispatcher) modified(path string) {
	if d.tail.IsOpen(path) {
		if src, ok := d.sourceOf(path); ok {
			d.drain(src, path)
			return
		}
		d.logger.Warn("modified file is open but not current", log.PathKey, path)
		return
	}
	if d.opts.IgnoreModifications {
		d.logger.Debug("file existed before startup, ignoring", log.PathKey, path)
		return
	}
	d.created(path)
}

func (d *Dispatcher) deleted(path string) {
	d.mu.Lock()
	var origin logline.Origin
	for o, p := range d.current {
		if p == path {
			origin = o
			delete(d.current, o)
			break
		}
	}
	d.mu.Unlock()

	if origin != "" {
		d.logger.Warn("current log file was deleted", log.OriginKey, origin, log.PathKey, path)
	}
	d.tail.Close(path)
}

func (d *Dispatcher) sourceOf(path string) (Source, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.opts.Sources {
		if d.current[s.Origin] == path {
			return s, true
		}
	}
	return Source{}, false
}

func (d *Dispatcher) drain(src Source, path string) {
	n, err := d.tail.Drain(path, func(raw string) {
		line, err := logline.Parse(src.Origin, src.Extract, raw)
		if err != nil {
			linesDropped.WithLabelValues(d.name, string(src.Origin)).Inc()
			d.logger.Debug("dropping line without timestamp",
				log.OriginKey, src.Origin, "line", raw, log.Error(err))
			return
		}
		d.queue.Push(line)
	})
	if err != nil {
		d.logger.Warn("failed to read log file", log.PathKey, path, log.Error(err))
	}
	if n > 0 {
		log.Trace(d.logger, "drained lines", slog.String(log.PathKey, path), slog.Int("lines", n))
	}
}
