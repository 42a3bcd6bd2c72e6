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

package logwatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	filesOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridwatch_logwatch_files_opened_total",
			Help: "Log files opened for tailing by channel and origin",
		},
		[]string{"channel", "origin"},
	)

	linesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridwatch_logwatch_lines_dropped_total",
			Help: "Log lines dropped because their timestamp could not be parsed",
		},
		[]string{"channel", "origin"},
	)
)
