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
	"slices"
	"sync"
	"time"

	"github.com/tombee/gridwatch/internal/record"
)

type muxEntry struct {
	at   time.Time
	scan record.MuxScan
}

// MuxIndex maps ASIC serial id to the flowcell's mux scans ordered by
// timestamp. Insertion keeps the order; exact duplicates are dropped.
type MuxIndex struct {
	mu    sync.RWMutex
	scans map[string][]muxEntry
}

// NewMuxIndex creates an empty index.
func NewMuxIndex() *MuxIndex {
	return &MuxIndex{scans: make(map[string][]muxEntry)}
}

// Add inserts scans of a flowcell and returns how many were added. Scans
// without a total or with an unparseable timestamp are skipped.
func (ix *MuxIndex) Add(fc record.Flowcell, scans ...record.MuxScan) int {
	if fc.AsicIDEeprom == "" {
		return 0
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	added := 0
	for _, s := range scans {
		s, ok := s.Normalized()
		if !ok {
			continue
		}
		s.FlowcellID = fc.FlowcellID
		at, err := s.Time()
		if err != nil {
			continue
		}
		list := ix.scans[fc.AsicIDEeprom]
		if slices.ContainsFunc(list, func(e muxEntry) bool { return e.scan == s }) {
			continue
		}
		i := slices.IndexFunc(list, func(e muxEntry) bool { return at.Before(e.at) })
		if i < 0 {
			i = len(list)
		}
		list = slices.Insert(list, i, muxEntry{at: at, scan: s})
		ix.scans[fc.AsicIDEeprom] = list
		added++
	}
	return added
}

// Latest returns the scan with the greatest timestamp.
func (ix *MuxIndex) Latest(asic string) (record.MuxScan, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	list := ix.scans[asic]
	if len(list) == 0 {
		return record.MuxScan{}, false
	}
	return list[len(list)-1].scan, true
}

// History returns all scans of a flowcell in timestamp order.
func (ix *MuxIndex) History(asic string) []record.MuxScan {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	list := ix.scans[asic]
	out := make([]record.MuxScan, len(list))
	for i, e := range list {
		out[i] = e.scan
	}
	return out
}

// Len returns the number of flowcells with scans.
func (ix *MuxIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.scans)
}
