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

package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	linesHandled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridwatch_lines_handled_total",
		Help: "Total number of log lines applied to channel state",
	})

	stepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gridwatch_step_duration_seconds",
		Help:    "Time spent handling the queued lines of all channels in one step",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
	})
)
