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

// Package rundb holds the process-wide run database and mux scan index and
// mirrors run records to and from disk.
package rundb

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/tombee/gridwatch/internal/log"
	"github.com/tombee/gridwatch/internal/record"
	pkgerrors "github.com/tombee/gridwatch/pkg/errors"
)

// ErrDuplicateRun is returned when a run key is already taken by another run.
var ErrDuplicateRun = pkgerrors.New("run already exists in database")

// DuplicateRunError names both records of a key collision.
type DuplicateRunError struct {
	AsicIDEeprom string
	RunID        string
	ExistingPath string
	NewPath      string
}

func (e *DuplicateRunError) Error() string {
	return fmt.Sprintf("run %s on flowcell %s exists multiple times: %s, %s",
		e.RunID, e.AsicIDEeprom, e.ExistingPath, e.NewPath)
}

// Is makes errors.Is(err, ErrDuplicateRun) match.
func (e *DuplicateRunError) Is(target error) bool {
	return target == ErrDuplicateRun
}

// DB maps ASIC serial id to run id to run record. The map is never exposed;
// every accessor returns copies.
type DB struct {
	mu     sync.RWMutex
	runs   map[string]map[string]record.Record
	mux    *MuxIndex
	logger *slog.Logger
}

// New creates an empty database with its own mux scan index.
func New(logger *slog.Logger) *DB {
	if logger == nil {
		logger = log.Discard()
	}
	return &DB{
		runs:   make(map[string]map[string]record.Record),
		mux:    NewMuxIndex(),
		logger: log.WithComponent(logger, "rundb"),
	}
}

// MuxScans returns the mux scan index fed by this database's imports.
func (db *DB) MuxScans() *MuxIndex {
	return db.mux
}

func key(rec record.Record) (string, string, error) {
	asic, run := rec.Flowcell.AsicIDEeprom, rec.Run.RunID
	if asic == "" {
		return "", "", &pkgerrors.ValidationError{Field: record.KeyAsicIDEeprom, Message: "is empty"}
	}
	if run == "" {
		return "", "", &pkgerrors.ValidationError{Field: record.KeyRunID, Message: "is empty"}
	}
	return asic, run, nil
}

// Add inserts a new record. Any existing entry for the same key is kept and
// ErrDuplicateRun returned.
func (db *DB) Add(rec record.Record) error {
	asic, run, err := key(rec)
	if err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.addLocked(asic, run, rec); err != nil {
		return err
	}
	runsGauge.Set(float64(db.countLocked()))
	return nil
}

func (db *DB) addLocked(asic, run string, rec record.Record) error {
	if existing, ok := db.runs[asic][run]; ok {
		err := &DuplicateRunError{
			AsicIDEeprom: asic,
			RunID:        run,
			ExistingPath: existing.Run.RelativePath,
			NewPath:      rec.Run.RelativePath,
		}
		db.warnDuplicate(err)
		return err
	}
	if db.runs[asic] == nil {
		db.runs[asic] = make(map[string]record.Record)
	}
	db.runs[asic][run] = rec.Clone()
	return nil
}

// Check reports whether Save would accept rec.
func (db *DB) Check(rec record.Record) error {
	asic, run, err := key(rec)
	if err != nil {
		return err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	if dup := db.checkLocked(asic, run, rec); dup != nil {
		return dup
	}
	return nil
}

func (db *DB) warnDuplicate(err *DuplicateRunError) {
	duplicateRuns.Inc()
	db.logger.Warn("conflicting runs in database",
		slog.String(log.RunIDKey, err.RunID),
		slog.String("existing", err.ExistingPath),
		slog.String("rejected", err.NewPath))
}

func (db *DB) checkLocked(asic, run string, rec record.Record) *DuplicateRunError {
	existing, ok := db.runs[asic][run]
	if !ok || existing.Run.RelativePath == "" || existing.Run.RelativePath == rec.Run.RelativePath {
		return nil
	}
	return &DuplicateRunError{
		AsicIDEeprom: asic,
		RunID:        run,
		ExistingPath: existing.Run.RelativePath,
		NewPath:      rec.Run.RelativePath,
	}
}

// Save inserts or overwrites a record. A stored record of the same key whose
// relative path differs is kept and ErrDuplicateRun returned.
func (db *DB) Save(rec record.Record) error {
	asic, run, err := key(rec)
	if err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkLocked(asic, run, rec); err != nil {
		db.warnDuplicate(err)
		return err
	}
	db.storeLocked(asic, run, rec)
	return nil
}

func (db *DB) storeLocked(asic, run string, rec record.Record) {
	if db.runs[asic] == nil {
		db.runs[asic] = make(map[string]record.Record)
	}
	db.runs[asic][run] = rec.Clone()
	runsGauge.Set(float64(db.countLocked()))
}

// Get returns one record.
func (db *DB) Get(asic, runID string) (record.Record, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	rec, ok := db.runs[asic][runID]
	if !ok {
		return record.Record{}, &pkgerrors.NotFoundError{Resource: "run", ID: asic + "/" + runID}
	}
	return rec.Clone(), nil
}

// ByFlowcell returns the non-QC runs of a flowcell ordered by protocol start.
func (db *DB) ByFlowcell(asic string) []record.Record {
	db.mu.RLock()
	var out []record.Record
	for _, rec := range db.runs[asic] {
		if !rec.Run.IsQC() {
			out = append(out, rec.Clone())
		}
	}
	db.mu.RUnlock()
	sortByStart(out)
	return out
}

// All returns every record ordered by protocol start, then key.
func (db *DB) All() []record.Record {
	db.mu.RLock()
	out := make([]record.Record, 0, db.countLocked())
	for _, runs := range db.runs {
		for _, rec := range runs {
			out = append(out, rec.Clone())
		}
	}
	db.mu.RUnlock()
	sortByStart(out)
	return out
}

// Snapshot returns a deep copy of the database contents.
func (db *DB) Snapshot() map[string]map[string]record.Record {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make(map[string]map[string]record.Record, len(db.runs))
	for asic, runs := range db.runs {
		m := make(map[string]record.Record, len(runs))
		for id, rec := range runs {
			m[id] = rec.Clone()
		}
		out[asic] = m
	}
	return out
}

// Len returns the number of records.
func (db *DB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.countLocked()
}

func (db *DB) countLocked() int {
	n := 0
	for _, runs := range db.runs {
		n += len(runs)
	}
	return n
}

// Replace removes every non-QC record and adds recs, as one update. It
// returns the records that were added; colliding ones are skipped and logged.
func (db *DB) Replace(recs []record.Record) []record.Record {
	db.mu.Lock()
	defer db.mu.Unlock()

	var added []record.Record
	for asic, runs := range db.runs {
		for id, rec := range runs {
			if !rec.Run.IsQC() {
				delete(runs, id)
			}
		}
		if len(runs) == 0 {
			delete(db.runs, asic)
		}
	}
	for _, rec := range recs {
		asic, run, err := key(rec)
		if err != nil {
			db.logger.Warn("skipping record without key", log.Error(err))
			continue
		}
		if err := db.addLocked(asic, run, rec); err != nil {
			continue
		}
		added = append(added, rec)
	}
	runsGauge.Set(float64(db.countLocked()))
	return added
}

func sortByStart(recs []record.Record) {
	slices.SortStableFunc(recs, func(a, b record.Record) int {
		return cmp.Or(
			cmp.Compare(a.Run.ProtocolStart, b.Run.ProtocolStart),
			cmp.Compare(a.Flowcell.AsicIDEeprom, b.Flowcell.AsicIDEeprom),
			cmp.Compare(a.Run.RunID, b.Run.RunID),
		)
	})
}
