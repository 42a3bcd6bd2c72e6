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

package overview

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	renders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridwatch_overview_renders_total",
			Help: "Overview page renders by result",
		},
		[]string{"result"},
	)

	renderDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gridwatch_overview_render_duration_seconds",
			Help:    "Time spent rendering and writing the overview page",
			Buckets: prometheus.DefBuckets,
		},
	)
)
