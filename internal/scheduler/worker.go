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

// Package scheduler supervises the external post-processing and report
// generation tools bound to a sequencing run.
//
// Every scheduler is a worker with two stop signals. Abort is the abrupt
// stop used on shutdown. Finish is the graceful stop used when a protocol
// ends; it lets a pending action complete before the worker exits.
package scheduler

import (
	"context"
	"sync"
	"time"
)

type worker struct {
	abort  chan struct{}
	finish chan struct{}
	done   chan struct{}

	abortOnce  sync.Once
	finishOnce sync.Once
}

func newWorker() *worker {
	return &worker{
		abort:  make(chan struct{}),
		finish: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Abort requests an immediate stop.
func (w *worker) Abort() {
	w.abortOnce.Do(func() { close(w.abort) })
}

// Finish requests a graceful stop.
func (w *worker) Finish() {
	w.finishOnce.Do(func() { close(w.finish) })
}

// Join with a zero timeout aborts the worker and blocks until it exits. With
// a positive timeout it requests a graceful stop and waits at most that
// long. It reports whether the worker has exited.
func (w *worker) Join(timeout time.Duration) bool {
	if timeout <= 0 {
		w.Abort()
		<-w.done
		return true
	}
	w.Finish()
	select {
	case <-w.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Alive reports whether the worker has not exited yet.
func (w *worker) Alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Done is closed when the worker exits.
func (w *worker) Done() <-chan struct{} {
	return w.done
}

func (w *worker) aborted() bool {
	select {
	case <-w.abort:
		return true
	default:
		return false
	}
}

func (w *worker) finished() bool {
	select {
	case <-w.finish:
		return true
	default:
		return false
	}
}

func (w *worker) stopping() bool {
	return w.aborted() || w.finished()
}

// sleep waits for d. It returns false early on abort, and on finish when
// finishWakes is set.
func (w *worker) sleep(d time.Duration, finishWakes bool) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	finish := w.finish
	if !finishWakes {
		finish = nil
	}
	select {
	case <-t.C:
		return true
	case <-w.abort:
		return false
	case <-finish:
		return false
	}
}

// abortContext returns a context cancelled when the worker is aborted.
func (w *worker) abortContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-w.abort:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
