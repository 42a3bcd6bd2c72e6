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

// Package eventqueue merges timestamped lines from any number of log origins
// into one ordered stream per channel.
package eventqueue

import (
	"slices"
	"sync"

	"github.com/tombee/gridwatch/internal/logline"
)

// Queue is an ordered merge point for log lines. Lines are kept ascending by
// logline.Compare: timestamp first, then origin label, then raw text.
//
// A new Queue is staging: pushed lines are held back until Activate is called,
// which moves them into the consumer queue in order. Afterwards lines go to
// the consumer queue directly.
type Queue struct {
	name string

	mu      sync.Mutex
	active  bool
	staging []logline.Line
	shared  []logline.Line
}

// New creates a staging queue. name labels its metrics.
func New(name string) *Queue {
	return &Queue{name: name}
}

// Push inserts a line in order.
func (q *Queue) Push(line logline.Line) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active {
		q.shared = insert(q.shared, line)
		queueDepth.WithLabelValues(q.name).Set(float64(len(q.shared)))
	} else {
		q.staging = insert(q.staging, line)
	}
	linesQueued.WithLabelValues(q.name, string(line.Origin)).Inc()
}

// Activate switches the queue to active mode and moves staged lines into the
// consumer queue. It reports whether this call performed the transition.
func (q *Queue) Activate() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active {
		return false
	}
	q.active = true
	for _, line := range q.staging {
		q.shared = insert(q.shared, line)
	}
	q.staging = nil
	queueDepth.WithLabelValues(q.name).Set(float64(len(q.shared)))
	return true
}

// Active reports whether the queue has been activated.
func (q *Queue) Active() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Drain removes and returns every line currently in the consumer queue, in
// order. It never blocks; staged lines are not returned.
func (q *Queue) Drain() []logline.Line {
	q.mu.Lock()
	defer q.mu.Unlock()

	lines := q.shared
	q.shared = nil
	queueDepth.WithLabelValues(q.name).Set(0)
	return lines
}

// Len returns the number of lines ready for the consumer.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.shared)
}

// StagedLen returns the number of lines held back before activation.
func (q *Queue) StagedLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.staging)
}

// insert places line after every entry that does not sort after it. Lines
// mostly arrive in order, so appending is checked first.
func insert(lines []logline.Line, line logline.Line) []logline.Line {
	n := len(lines)
	if n == 0 || logline.Compare(lines[n-1], line) <= 0 {
		return append(lines, line)
	}
	i, _ := slices.BinarySearchFunc(lines, line, func(e, target logline.Line) int {
		if logline.Compare(e, target) <= 0 {
			return -1
		}
		return 1
	})
	return slices.Insert(lines, i, line)
}
