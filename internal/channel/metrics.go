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

package channel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	events = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridwatch_channel_events_total",
			Help: "Recognized protocol events by channel and event",
		},
		[]string{"channel", "event"},
	)

	saves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridwatch_channel_saves_total",
			Help: "Run data save attempts by channel and result",
		},
		[]string{"channel", "result"},
	)
)

func countEvent(channel string, ev Event) {
	events.WithLabelValues(channel, string(ev)).Inc()
}
