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

package record

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/tombee/gridwatch/internal/logline"
)

// Count is a pore count. It is persisted as a JSON string and read from a
// string or a number.
type Count string

// Int returns the numeric value, zero if the count is empty or malformed.
func (c Count) Int() int {
	n, err := strconv.Atoi(string(c))
	if err != nil {
		return 0
	}
	return n
}

// MarshalJSON writes the count as a string, null when empty.
func (c Count) MarshalJSON() ([]byte, error) {
	if c == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(c))
}

// UnmarshalJSON accepts a string, a number or null.
func (c *Count) UnmarshalJSON(data []byte) error {
	s, err := scalar(data)
	if err != nil {
		return err
	}
	*c = Count(s)
	return nil
}

// MuxScan is one measurement of available pores on a flowcell.
type MuxScan struct {
	Timestamp string `json:"timestamp"`
	Total     Count  `json:"total,omitempty"`
	InUse     Count  `json:"in_use,omitempty"`

	// LegacyTotal is the total of records written by older software
	LegacyTotal Count `json:"group * total,omitempty"`

	// FlowcellID is set on entries of the mux scan index
	FlowcellID string `json:"flowcell_id,omitempty"`
}

// Time parses the scan timestamp.
func (m MuxScan) Time() (time.Time, error) {
	return logline.ParseTimestamp(m.Timestamp)
}

// Normalized returns the scan with Total taken from LegacyTotal when missing.
// ok is false when neither is set.
func (m MuxScan) Normalized() (MuxScan, bool) {
	if m.Total == "" {
		if m.LegacyTotal == "" {
			return m, false
		}
		m.Total = m.LegacyTotal
	}
	m.LegacyTotal = ""
	return m, true
}
