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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// watcherEvents tracks filesystem events by watcher and operation
	watcherEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridwatch_fswatch_events_total",
			Help: "Total filesystem events by watcher name and operation",
		},
		[]string{"watcher", "op"},
	)

	// watcherErrors tracks fsnotify errors
	watcherErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridwatch_fswatch_errors_total",
			Help: "Total filesystem watcher errors by watcher name and error type",
		},
		[]string{"watcher", "error_type"},
	)

	// watchedDirs tracks the number of watched directories per watcher
	watchedDirs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridwatch_fswatch_watched_directories",
			Help: "Number of directories currently watched by each watcher",
		},
		[]string{"watcher"},
	)
)

func recordEvent(watcher, op string) {
	watcherEvents.WithLabelValues(watcher, op).Inc()
}

func recordError(watcher, errorType string) {
	watcherErrors.WithLabelValues(watcher, errorType).Inc()
}
