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

package eventqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	linesQueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridwatch_eventqueue_lines_total",
			Help: "Total log lines pushed to channel event queues by origin",
		},
		[]string{"queue", "origin"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridwatch_eventqueue_depth",
			Help: "Number of lines waiting for the channel consumer",
		},
		[]string{"queue"},
	)
)
