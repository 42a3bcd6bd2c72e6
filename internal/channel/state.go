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
	"log/slog"

	"github.com/tombee/gridwatch/internal/record"
)

// Attr is one attribute extracted from a log line.
type Attr struct {
	Key   string
	Value string
}

// State is the flowcell, run and mux scans currently known for one channel.
// It is owned by the channel's consumer and never shared.
type State struct {
	Name       string
	Flowcell   record.Flowcell
	Run        record.Run
	MuxScans   []record.MuxScan
	Sequencing bool

	logger *slog.Logger
}

// NewState creates an empty state for the named channel.
func NewState(name string, logger *slog.Logger) *State {
	s := &State{Name: name, logger: logger}
	s.ResetFlowcell()
	return s
}

// Update merges attrs in order. A flowcell field or a run attribute that
// already holds a value is replaced only when overwrite is set. Every key
// that is not a flowcell field is stored on the run.
func (s *State) Update(attrs []Attr, overwrite bool) {
	for _, a := range attrs {
		if p := s.Flowcell.Field(a.Key); p != nil {
			s.merge("flowcell", p, a, overwrite)
			continue
		}
		if current := s.Run.Get(a.Key); current != "" {
			if !overwrite {
				s.logger.Debug("keeping run value",
					slog.String("key", a.Key), slog.String("current", current), slog.String("discarded", a.Value))
				continue
			}
			s.logger.Info("changing run value",
				slog.String("key", a.Key), slog.String("from", current), slog.String("to", a.Value))
			s.Run.Set(a.Key, a.Value)
			continue
		}
		s.Run.Set(a.Key, a.Value)
		s.logger.Info("new run value", slog.String("key", a.Key), slog.String("value", a.Value))
	}
}

func (s *State) merge(kind string, field *string, a Attr, overwrite bool) {
	switch {
	case *field == "":
		*field = a.Value
		s.logger.Info("new "+kind+" value", slog.String("key", a.Key), slog.String("value", a.Value))
	case overwrite:
		s.logger.Info("changing "+kind+" value",
			slog.String("key", a.Key), slog.String("from", *field), slog.String("to", a.Value))
		*field = a.Value
	default:
		s.logger.Debug("keeping "+kind+" value",
			slog.String("key", a.Key), slog.String("current", *field), slog.String("discarded", a.Value))
	}
}

// Get returns a flowcell field or run attribute.
func (s *State) Get(key string) string {
	if p := s.Flowcell.Field(key); p != nil {
		return *p
	}
	return s.Run.Get(key)
}

// Missing returns the first key without a value, or "" when all are set.
func (s *State) Missing(keys ...string) string {
	for _, k := range keys {
		if s.Get(k) == "" {
			return k
		}
	}
	return ""
}

// AddMuxScan appends a scan to the current run.
func (s *State) AddMuxScan(timestamp, total, inUse string) record.MuxScan {
	scan := record.MuxScan{
		Timestamp: timestamp,
		Total:     record.Count(total),
		InUse:     record.Count(inUse),
	}
	s.MuxScans = append(s.MuxScans, scan)
	return scan
}

// ResetFlowcell forgets the flowcell and the run, as when a flowcell is
// removed or replaced.
func (s *State) ResetFlowcell() {
	s.Flowcell = record.Flowcell{}
	s.ResetRun()
}

// ResetRun forgets the run and its mux scans but keeps the flowcell.
func (s *State) ResetRun() {
	s.Run = record.Run{MinionID: s.Name}
	s.MuxScans = nil
	s.Sequencing = false
}

// Record returns a copy of the state as a persistable record.
func (s *State) Record() record.Record {
	return record.Record{Flowcell: s.Flowcell, Run: s.Run, MuxScans: s.MuxScans}.Clone()
}

// Snapshot returns a deep copy without the logger.
func (s *State) Snapshot() State {
	rec := s.Record()
	return State{
		Name:       s.Name,
		Flowcell:   rec.Flowcell,
		Run:        rec.Run,
		MuxScans:   rec.MuxScans,
		Sequencing: s.Sequencing,
	}
}
