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

package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	launches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridwatch_scheduler_launches_total",
			Help: "External tool launches by scheduler kind and result",
		},
		[]string{"kind", "result"},
	)

	activeWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridwatch_scheduler_active_workers",
			Help: "Schedulers currently running by kind",
		},
		[]string{"kind"},
	)
)

const (
	kindPostProcessor = "postprocessor"
	kindReport        = "report"
)
