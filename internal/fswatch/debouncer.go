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

package fswatch

import (
	"sync"
	"time"
)

// KeyFunc groups events for debouncing. Events with the same key share a
// timer.
type KeyFunc func(*Event) string

// ByPath debounces each path separately.
func ByPath(ev *Event) string { return ev.Path }

// ByWatcher collapses every event into one group.
func ByWatcher(*Event) string { return "" }

// Debouncer delays event delivery until no new event arrives for a group
// within the window. In batch mode every event of the window is delivered,
// otherwise only the last one.
type Debouncer struct {
	mu        sync.Mutex
	window    time.Duration
	batch     bool
	key       KeyFunc
	timers    map[string]*debounceTimer
	onFlush   func([]*Event)
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

type debounceTimer struct {
	timer  *time.Timer
	events []*Event
}

// NewDebouncer creates a debouncer. A nil key debounces per path. A zero
// window still defers delivery to a timer goroutine, so onFlush never runs
// on the caller's stack.
func NewDebouncer(window time.Duration, batch bool, key KeyFunc, onFlush func([]*Event)) *Debouncer {
	if key == nil {
		key = ByPath
	}
	return &Debouncer{
		window:    window,
		batch:     batch,
		key:       key,
		timers:    make(map[string]*debounceTimer),
		onFlush:   onFlush,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Add adds an event and restarts its group's timer.
func (d *Debouncer) Add(ev *Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	select {
	case <-d.stopCh:
		return
	default:
	}

	k := d.key(ev)
	dt, exists := d.timers[k]
	if exists {
		dt.timer.Stop()
		if d.batch {
			dt.events = append(dt.events, ev)
		} else {
			dt.events = []*Event{ev}
		}
	} else {
		dt = &debounceTimer{events: []*Event{ev}}
		d.timers[k] = dt
	}

	dt.timer = time.AfterFunc(d.window, func() {
		d.flush(k)
	})
}

func (d *Debouncer) flush(k string) {
	d.mu.Lock()
	dt, exists := d.timers[k]
	if !exists {
		d.mu.Unlock()
		return
	}
	events := dt.events
	delete(d.timers, k)
	d.mu.Unlock()

	// outside the lock, onFlush may call Add
	if d.onFlush != nil && len(events) > 0 {
		d.onFlush(events)
	}
}

// Stop stops the debouncer and flushes all pending events.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	select {
	case <-d.stopCh:
		d.mu.Unlock()
		return
	default:
		close(d.stopCh)
	}

	var allEvents []*Event
	for k, dt := range d.timers {
		dt.timer.Stop()
		if d.batch {
			allEvents = append(allEvents, dt.events...)
		} else if len(dt.events) > 0 {
			allEvents = append(allEvents, dt.events[len(dt.events)-1])
		}
		delete(d.timers, k)
	}
	d.mu.Unlock()

	if d.onFlush != nil && len(allEvents) > 0 {
		d.onFlush(allEvents)
	}

	close(d.stoppedCh)
}

// Wait blocks until the debouncer has fully stopped.
func (d *Debouncer) Wait() {
	<-d.stoppedCh
}

// Pending returns the number of groups with pending timers.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}
