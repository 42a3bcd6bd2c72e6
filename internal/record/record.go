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

// Package record defines the flowcell, run and mux scan descriptors of a
// sequencing run and their persisted JSON form.
package record

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
)

// Flowcell attribute keys.
const (
	KeyFlowcellID   = "flowcell_id"
	KeyAsicID       = "asic_id"
	KeyAsicIDEeprom = "asic_id_eeprom"
	KeyFlowcell     = "flowcell"
)

// Run attribute keys.
const (
	KeyRunID         = "run_id"
	KeyMinionID      = "minion_id"
	KeySequencingKit = "sequencing_kit"
	KeyProtocolStart = "protocol_start"
	KeyProtocolEnd   = "protocol_end"
	KeyRelativePath  = "relative_path"
	KeySample        = "sample"
	KeyExperiment    = "experiment"

	KeyExperimentType      = "experiment_type"
	KeyReadsPerFile        = "fastq_reads_per_file"
	KeyUserFilenameInput   = "user_filename_input"
	KeySequencingStartTime = "sequencing_start_time"
	KeyOutputPath          = "output_path"
)

// FlowcellKeys lists the declared flowcell fields in persisted order.
var FlowcellKeys = []string{KeyFlowcellID, KeyAsicID, KeyAsicIDEeprom, KeyFlowcell}

// RunKeys lists the declared run fields in persisted order.
var RunKeys = []string{
	KeyRunID, KeyMinionID, KeySequencingKit, KeyProtocolStart,
	KeyProtocolEnd, KeyRelativePath, KeySample, KeyExperiment,
}

// Flowcell describes one physically inserted flowcell. AsicIDEeprom is the
// stable serial used as the top-level database key.
type Flowcell struct {
	FlowcellID   string
	AsicID       string
	AsicIDEeprom string
	Flowcell     string

	// Extra holds attributes read from files that are not declared fields
	Extra map[string]string
}

// Field returns a pointer to a declared field, nil for any other key.
func (f *Flowcell) Field(key string) *string {
	switch key {
	case KeyFlowcellID:
		return &f.FlowcellID
	case KeyAsicID:
		return &f.AsicID
	case KeyAsicIDEeprom:
		return &f.AsicIDEeprom
	case KeyFlowcell:
		return &f.Flowcell
	}
	return nil
}

// Get returns the value of a declared or extra attribute.
func (f *Flowcell) Get(key string) string {
	if p := f.Field(key); p != nil {
		return *p
	}
	return f.Extra[key]
}

// Clone returns a deep copy.
func (f Flowcell) Clone() Flowcell {
	f.Extra = maps.Clone(f.Extra)
	return f
}

// MarshalJSON writes declared fields in order, then extras sorted by key.
func (f Flowcell) MarshalJSON() ([]byte, error) {
	return encodeObject(FlowcellKeys, f.Get, f.Extra)
}

// UnmarshalJSON reads a flowcell object; unknown keys go to Extra.
func (f *Flowcell) UnmarshalJSON(data []byte) error {
	attrs, err := decodeObject(data)
	if err != nil {
		return fmt.Errorf("flowcell: %w", err)
	}
	*f = Flowcell{}
	for k, v := range attrs {
		if p := f.Field(k); p != nil {
			*p = v
			continue
		}
		if f.Extra == nil {
			f.Extra = make(map[string]string)
		}
		f.Extra[k] = v
	}
	return nil
}

// Run describes one protocol execution on a channel.
type Run struct {
	RunID         string
	MinionID      string
	SequencingKit string
	ProtocolStart string
	ProtocolEnd   string
	RelativePath  string
	Sample        string
	Experiment    string

	// Extra holds every other run attribute, e.g. experiment_type or
	// fastq_reads_per_file
	Extra map[string]string
}

// Field returns a pointer to a declared field, nil for any other key.
func (r *Run) Field(key string) *string {
	switch key {
	case KeyRunID:
		return &r.RunID
	case KeyMinionID:
		return &r.MinionID
	case KeySequencingKit:
		return &r.SequencingKit
	case KeyProtocolStart:
		return &r.ProtocolStart
	case KeyProtocolEnd:
		return &r.ProtocolEnd
	case KeyRelativePath:
		return &r.RelativePath
	case KeySample:
		return &r.Sample
	case KeyExperiment:
		return &r.Experiment
	}
	return nil
}

// Get returns the value of a declared or extra attribute.
func (r *Run) Get(key string) string {
	if p := r.Field(key); p != nil {
		return *p
	}
	return r.Extra[key]
}

// Has reports whether key is a declared field or a previously stored extra.
func (r *Run) Has(key string) bool {
	if r.Field(key) != nil {
		return true
	}
	_, ok := r.Extra[key]
	return ok
}

// Set stores a value in the declared field or in Extra.
func (r *Run) Set(key, value string) {
	if p := r.Field(key); p != nil {
		*p = value
		return
	}
	if r.Extra == nil {
		r.Extra = make(map[string]string)
	}
	r.Extra[key] = value
}

// ExperimentType returns the experiment_type attribute.
func (r *Run) ExperimentType() string {
	return r.Extra[KeyExperimentType]
}

// IsQC reports whether the run is a platform QC run.
func (r *Run) IsQC() bool {
	return strings.Contains(strings.ToLower(r.ExperimentType()), "qc")
}

// Clone returns a deep copy.
func (r Run) Clone() Run {
	r.Extra = maps.Clone(r.Extra)
	return r
}

// MarshalJSON writes declared fields in order, then extras sorted by key.
func (r Run) MarshalJSON() ([]byte, error) {
	return encodeObject(RunKeys, r.Get, r.Extra)
}

// UnmarshalJSON reads a run object; unknown keys go to Extra.
func (r *Run) UnmarshalJSON(data []byte) error {
	attrs, err := decodeObject(data)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	*r = Run{}
	for k, v := range attrs {
		r.Set(k, v)
	}
	return nil
}

// Record is the persisted state of one run: flowcell, run and the run's mux
// scans. It is stored as a three element JSON array.
type Record struct {
	Flowcell Flowcell
	Run      Run
	MuxScans []MuxScan
}

// Clone returns a deep copy.
func (rec Record) Clone() Record {
	scans := make([]MuxScan, len(rec.MuxScans))
	copy(scans, rec.MuxScans)
	return Record{Flowcell: rec.Flowcell.Clone(), Run: rec.Run.Clone(), MuxScans: scans}
}

// MarshalJSON writes the record as [flowcell, run, mux_scans].
func (rec Record) MarshalJSON() ([]byte, error) {
	scans := rec.MuxScans
	if scans == nil {
		scans = []MuxScan{}
	}
	return json.Marshal([3]any{rec.Flowcell, rec.Run, scans})
}

// UnmarshalJSON reads a [flowcell, run, mux_scans] array.
func (rec *Record) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	if len(parts) != 3 {
		return fmt.Errorf("record: expected 3 elements, got %d", len(parts))
	}
	var out Record
	if err := json.Unmarshal(parts[0], &out.Flowcell); err != nil {
		return err
	}
	if err := json.Unmarshal(parts[1], &out.Run); err != nil {
		return err
	}
	if err := json.Unmarshal(parts[2], &out.MuxScans); err != nil {
		return fmt.Errorf("mux scans: %w", err)
	}
	*rec = out
	return nil
}

// Encode returns the indented file form of a record.
func Encode(rec Record) ([]byte, error) {
	data, err := json.MarshalIndent(rec, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Decode parses the file form of a record.
func Decode(data []byte) (Record, error) {
	var rec Record
	err := json.Unmarshal(data, &rec)
	return rec, err
}
