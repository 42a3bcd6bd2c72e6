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
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/gridwatch/internal/log"
	"github.com/tombee/gridwatch/internal/record"
	pkgerrors "github.com/tombee/gridwatch/pkg/errors"
)

func testRecord(asic, runID, experiment, sample string) record.Record {
	return record.Record{
		Flowcell: record.Flowcell{FlowcellID: "FC-" + asic, AsicIDEeprom: asic},
		Run: record.Run{
			RunID:         runID,
			Experiment:    experiment,
			Sample:        sample,
			RelativePath:  experiment + "/" + sample + "/" + runID,
			ProtocolStart: "2024-03-01 12:00:00.000",
			Extra:         map[string]string{record.KeyExperimentType: "genomic_dna"},
		},
		MuxScans: []record.MuxScan{{Timestamp: "2024-03-01 12:05:00.000", Total: "1400"}},
	}
}

func qcRecord(asic, runID string) record.Record {
	rec := testRecord(asic, runID, "", "")
	rec.Run.RelativePath = runID
	rec.Run.Extra[record.KeyExperimentType] = "platform_qc"
	return rec
}

func TestDB_AddRejectsExisting(t *testing.T) {
	db := New(log.Discard())
	rec := testRecord("EE1", "r1", "exp", "s1")
	require.NoError(t, db.Add(rec))

	err := db.Add(rec)
	require.ErrorIs(t, err, ErrDuplicateRun)
	assert.Equal(t, 1, db.Len())
}

func TestDB_SaveCollision(t *testing.T) {
	db := New(log.Discard())
	first := testRecord("EE1", "r1", "exp", "s1")
	require.NoError(t, db.Save(first))

	// same path overwrites
	updated := first.Clone()
	updated.Run.ProtocolEnd = "2024-03-01 14:00:00.000"
	require.NoError(t, db.Save(updated))

	second := testRecord("EE1", "r1", "exp", "s2")
	err := db.Save(second)
	require.ErrorIs(t, err, ErrDuplicateRun)

	var dup *DuplicateRunError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "exp/s1/r1", dup.ExistingPath)
	assert.Equal(t, "exp/s2/r1", dup.NewPath)

	got, err := db.Get("EE1", "r1")
	require.NoError(t, err)
	assert.Equal(t, "exp/s1/r1", got.Run.RelativePath)
	assert.Equal(t, "2024-03-01 14:00:00.000", got.Run.ProtocolEnd)
}

func TestDB_KeyValidation(t *testing.T) {
	db := New(log.Discard())
	var verr *pkgerrors.ValidationError
	require.ErrorAs(t, db.Save(record.Record{}), &verr)
	assert.Equal(t, record.KeyAsicIDEeprom, verr.Field)

	_, err := db.Get("nope", "nope")
	var nf *pkgerrors.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestDB_ByFlowcellExcludesQC(t *testing.T) {
	db := New(log.Discard())
	later := testRecord("EE1", "r2", "exp", "s1")
	later.Run.ProtocolStart = "2024-03-02 09:00:00.000"
	require.NoError(t, db.Save(later))
	require.NoError(t, db.Save(testRecord("EE1", "r1", "exp", "s1")))
	require.NoError(t, db.Save(qcRecord("EE1", "qc1")))
	require.NoError(t, db.Save(testRecord("EE2", "r3", "exp", "s1")))

	runs := db.ByFlowcell("EE1")
	require.Len(t, runs, 2)
	assert.Equal(t, "r1", runs[0].Run.RunID)
	assert.Equal(t, "r2", runs[1].Run.RunID)
	assert.Len(t, db.All(), 4)
}

func TestDB_SnapshotIsCopy(t *testing.T) {
	db := New(log.Discard())
	require.NoError(t, db.Save(testRecord("EE1", "r1", "exp", "s1")))

	snap := db.Snapshot()
	rec := snap["EE1"]["r1"]
	rec.Run.Extra["mutated"] = "yes"

	got, err := db.Get("EE1", "r1")
	require.NoError(t, err)
	assert.NotContains(t, got.Run.Extra, "mutated")
}

func writeRun(t *testing.T, runsDir string, rec record.Record, dirExp, dirSample string) string {
	t.Helper()
	path := filepath.Join(runsDir, dirExp, dirSample, rec.Run.RunID+"_logdata.json")
	require.NoError(t, WriteRecord(path, rec))
	return path
}

func TestDB_ReloadRunsIdempotent(t *testing.T) {
	out := t.TempDir()
	runs := RunsDir(out)
	writeRun(t, runs, testRecord("EE1", "r1", "exp", "s1"), "exp", "s1")
	writeRun(t, runs, testRecord("EE1", "r2", "exp", "s2"), "exp", "s2")
	writeRun(t, runs, testRecord("EE2", "r3", "other", "s1"), "other", "s1")
	require.NoError(t, os.WriteFile(filepath.Join(runs, "exp", "s1", "broken.json"), []byte("{"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(runs, "exp", "s1", "notes.txt"), []byte("x"), 0o644))

	db := New(log.Discard())
	require.NoError(t, db.Save(qcRecord("EE1", "qc1")))

	res, err := db.ReloadRuns(runs, ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Files)
	assert.Equal(t, 3, res.Added)
	assert.Equal(t, 1, res.Skipped)

	first := db.Snapshot()
	firstMux := db.MuxScans().History("EE1")

	_, err = db.ReloadRuns(runs, ImportOptions{})
	require.NoError(t, err)

	if diff := cmp.Diff(first, db.Snapshot()); diff != "" {
		t.Errorf("reload changed database (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(firstMux, db.MuxScans().History("EE1")); diff != "" {
		t.Errorf("reload changed mux index (-first +second):\n%s", diff)
	}
	_, err = db.Get("EE1", "qc1")
	assert.NoError(t, err, "QC records survive a reload")
}

func TestDB_ReloadRunsDropsRemoved(t *testing.T) {
	out := t.TempDir()
	runs := RunsDir(out)
	path := writeRun(t, runs, testRecord("EE1", "r1", "exp", "s1"), "exp", "s1")

	db := New(log.Discard())
	_, err := db.ReloadRuns(runs, ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, db.Len())

	require.NoError(t, os.Remove(path))
	_, err = db.ReloadRuns(runs, ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, db.Len())
}

func TestDB_ReloadRunsReconcilesNames(t *testing.T) {
	out := t.TempDir()
	runs := RunsDir(out)
	// record moved to another sample directory by hand
	path := writeRun(t, runs, testRecord("EE1", "r1", "exp", "old"), "exp", "new")

	db := New(log.Discard())
	res, err := db.ReloadRuns(runs, ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Rewritten)
	got, err := db.Get("EE1", "r1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Run.Sample)

	onDisk, err := ReadRecord(path)
	require.NoError(t, err)
	assert.Equal(t, "old", onDisk.Run.Sample)

	res, err = db.ReloadRuns(runs, ImportOptions{Rewrite: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rewritten)
	onDisk, err = ReadRecord(path)
	require.NoError(t, err)
	assert.Equal(t, "new", onDisk.Run.Sample)
}

func TestDB_ReloadRunsMissingDir(t *testing.T) {
	db := New(log.Discard())
	_, err := db.ReloadRuns(filepath.Join(t.TempDir(), "missing"), ImportOptions{})
	assert.Error(t, err)
}

func TestDB_ImportQC(t *testing.T) {
	out := t.TempDir()
	rec := qcRecord("EE9", "qc1")
	rec.MuxScans = []record.MuxScan{
		{Timestamp: "2024-03-01 10:00:00.000", Total: "1500"},
		{Timestamp: "2024-03-01 09:00:00.000", LegacyTotal: "1450"},
		{Timestamp: "2024-03-01 08:00:00.000"},
	}
	path, err := RecordPath(out, rec)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "qc", "FC-EE9_qc1.json"), path)
	require.NoError(t, WriteRecord(path, rec))

	db := New(log.Discard())
	res, err := db.ImportQC(QCDir(out))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Files)
	assert.Equal(t, 0, db.Len(), "QC files only feed the mux index")

	hist := db.MuxScans().History("EE9")
	require.Len(t, hist, 2)
	assert.Equal(t, record.Count("1450"), hist[0].Total)
	assert.Equal(t, "FC-EE9", hist[0].FlowcellID)

	latest, ok := db.MuxScans().Latest("EE9")
	require.True(t, ok)
	assert.Equal(t, record.Count("1500"), latest.Total)
}

func TestDB_Persist(t *testing.T) {
	out := t.TempDir()
	db := New(log.Discard())

	rec := testRecord("EE1", "r1", "exp", "s1")
	path, err := db.Persist(out, rec)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "runs", "exp", "s1", "r1_logdata.json"), path)

	onDisk, err := ReadRecord(path)
	require.NoError(t, err)
	assert.Equal(t, "r1", onDisk.Run.RunID)

	clash := testRecord("EE1", "r1", "exp", "s2")
	_, err = db.Persist(out, clash)
	require.ErrorIs(t, err, ErrDuplicateRun)
	_, statErr := os.Stat(filepath.Join(out, "runs", "exp", "s2", "r1_logdata.json"))
	assert.True(t, os.IsNotExist(statErr), "rejected record is not written")

	leftovers, err := filepath.Glob(filepath.Join(out, "runs", "exp", "s1", "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestDB_PersistConcurrentSameKey(t *testing.T) {
	out := t.TempDir()
	db := New(log.Discard())
	samples := []string{"s1", "s2", "s3", "s4", "s5", "s6", "s7", "s8"}

	var wg sync.WaitGroup
	errs := make([]error, len(samples))
	for i, sample := range samples {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = db.Persist(out, testRecord("EE1", "r1", "exp", sample))
		}()
	}
	wg.Wait()

	saved := ""
	for i, err := range errs {
		if err == nil {
			require.Empty(t, saved, "only one record may win the key")
			saved = samples[i]
			continue
		}
		assert.ErrorIs(t, err, ErrDuplicateRun)
	}
	require.NotEmpty(t, saved)

	files, err := filepath.Glob(filepath.Join(out, "runs", "exp", "*", "r1_logdata.json"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(out, "runs", "exp", saved, "r1_logdata.json")}, files)

	stored, err := db.Get("EE1", "r1")
	require.NoError(t, err)
	assert.Equal(t, saved, stored.Run.Sample)
}
