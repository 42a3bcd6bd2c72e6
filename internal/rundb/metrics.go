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

package rundb

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridwatch_rundb_runs",
		Help: "Number of run records in the run database",
	})

	duplicateRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridwatch_rundb_duplicate_runs_total",
		Help: "Run records rejected because their key was taken by another run",
	})

	reloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridwatch_rundb_reloads_total",
		Help: "Wholesale reloads of the runs directory",
	})

	corruptFiles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridwatch_rundb_corrupt_files_total",
		Help: "Record files skipped because they could not be parsed",
	})
)
