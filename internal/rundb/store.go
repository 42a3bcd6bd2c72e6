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
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/tombee/gridwatch/internal/record"
	pkgerrors "github.com/tombee/gridwatch/pkg/errors"
)

// Directory names below the output directory.
const (
	RunsDirName = "runs"
	QCDirName   = "qc"
	LogsDirName = "logs"
)

// RunsDir returns <output>/runs.
func RunsDir(output string) string { return filepath.Join(output, RunsDirName) }

// QCDir returns <output>/qc.
func QCDir(output string) string { return filepath.Join(output, QCDirName) }

// LogsDir returns <output>/logs.
func LogsDir(output string) string { return filepath.Join(output, LogsDirName) }

// SampleDir returns <output>/runs/<experiment>/<sample>.
func SampleDir(output, experiment, sample string) string {
	return filepath.Join(RunsDir(output), experiment, sample)
}

// RecordPath returns where a record is persisted: QC runs under
// qc/<FLOWCELL>_<RUN>.json, other runs under
// runs/<experiment>/<sample>/<run>_logdata.json.
func RecordPath(output string, rec record.Record) (string, error) {
	if rec.Run.IsQC() {
		if rec.Flowcell.FlowcellID == "" || rec.Run.RunID == "" {
			return "", &pkgerrors.ValidationError{Field: record.KeyFlowcellID, Message: "QC record needs flowcell and run id"}
		}
		return filepath.Join(QCDir(output), fmt.Sprintf("%s_%s.json", rec.Flowcell.FlowcellID, rec.Run.RunID)), nil
	}
	if rec.Run.Experiment == "" || rec.Run.Sample == "" || rec.Run.RunID == "" {
		return "", &pkgerrors.ValidationError{Field: record.KeyExperiment, Message: "run record needs experiment, sample and run id"}
	}
	return filepath.Join(SampleDir(output, rec.Run.Experiment, rec.Run.Sample), rec.Run.RunID+"_logdata.json"), nil
}

// WriteRecord writes a record file atomically, creating parent directories.
func WriteRecord(path string, rec record.Record) error {
	data, err := record.Encode(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return WriteFileAtomic(path, data, 0o644)
}

// WriteFileAtomic writes data to a temporary file next to path and renames it.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// ReadRecord reads and parses a record file.
func ReadRecord(path string) (record.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return record.Record{}, err
	}
	rec, err := record.Decode(data)
	if err != nil {
		return record.Record{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return rec, nil
}

// Persist writes rec below output and saves it in the database. Nothing is
// written when the database would reject the record. The check, the write
// and the insert happen under one lock, so concurrent saves of the same key
// cannot leave a file the database rejected.
func (db *DB) Persist(output string, rec record.Record) (string, error) {
	path, err := RecordPath(output, rec)
	if err != nil {
		return "", err
	}
	asic, run, err := key(rec)
	if err != nil {
		return "", err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if dup := db.checkLocked(asic, run, rec); dup != nil {
		db.warnDuplicate(dup)
		return "", dup
	}
	if err := WriteRecord(path, rec); err != nil {
		return "", err
	}
	db.storeLocked(asic, run, rec)
	return path, nil
}
