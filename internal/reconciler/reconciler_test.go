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

package reconciler

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/gridwatch/internal/fswatch"
	"github.com/tombee/gridwatch/internal/log"
	"github.com/tombee/gridwatch/internal/record"
	"github.com/tombee/gridwatch/internal/rundb"
)

type fakeReloader struct {
	mu    sync.Mutex
	calls int
	dirs  []string
}

func (f *fakeReloader) ReloadRuns(dir string, _ rundb.ImportOptions) (rundb.ImportResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.dirs = append(f.dirs, dir)
	return rundb.ImportResult{}, nil
}

func (f *fakeReloader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type flag struct{ n atomic.Int32 }

func (f *flag) Set() { f.n.Add(1) }

func TestHandle_Triggers(t *testing.T) {
	root := "/out/runs"
	r := New(root, &fakeReloader{}, nil, Options{}, log.Discard())

	dir := func(path string, op fswatch.Op) *fswatch.Event {
		return fswatch.NewEvent(path, op, true, 0, time.Time{})
	}
	file := func(path string, op fswatch.Op) *fswatch.Event {
		return fswatch.NewEvent(path, op, false, 0, time.Time{})
	}

	tests := []struct {
		name string
		ev   *fswatch.Event
		want bool
	}{
		{"experiment created", dir(root+"/exp", fswatch.OpCreated), true},
		{"sample deleted", dir(root+"/exp/s1", fswatch.OpDeleted), true},
		{"sample renamed", dir(root+"/exp/s1", fswatch.OpRenamed), true},
		{"too deep directory", dir(root+"/exp/s1/sub", fswatch.OpCreated), false},
		{"directory modified", dir(root+"/exp", fswatch.OpModified), false},
		{"record created", file(root+"/exp/s1/r1_logdata.json", fswatch.OpCreated), true},
		{"record deleted", file(root+"/exp/s1/r1_logdata.json", fswatch.OpDeleted), true},
		{"record moved", file(root+"/exp/s1/r1_logdata.json", fswatch.OpRenamed), true},
		{"record modified", file(root+"/exp/s1/r1_logdata.json", fswatch.OpModified), false},
		{"stats file", file(root+"/exp/s1/r1_stats.csv", fswatch.OpCreated), false},
		{"json too shallow", file(root+"/exp/r1.json", fswatch.OpCreated), false},
		{"outside root", file("/elsewhere/a/b/c.json", fswatch.OpCreated), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := tt.ev
			ev.Path = filepath.FromSlash(ev.Path)
			assert.Equal(t, tt.want, r.Handle(ev))
		})
	}
}

func TestReconciler_ReloadsOnChanges(t *testing.T) {
	runs := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(runs, "exp", "s1"), 0o755))

	db := &fakeReloader{}
	refresh := &flag{}
	r := New(runs, db, refresh, Options{Debounce: 20 * time.Millisecond}, log.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// pre-existing sample directory is watched from the start
	rec := record.Record{
		Flowcell: record.Flowcell{AsicIDEeprom: "EE1"},
		Run:      record.Run{RunID: "r1", Experiment: "exp", Sample: "s1"},
	}
	require.Eventually(t, func() bool {
		_ = rundb.WriteRecord(filepath.Join(runs, "exp", "s1", "r1_logdata.json"), rec)
		return db.count() >= 1
	}, 5*time.Second, 100*time.Millisecond)
	assert.GreaterOrEqual(t, refresh.n.Load(), int32(1))

	// a new experiment with a nested sample is picked up as well
	before := db.count()
	require.NoError(t, os.MkdirAll(filepath.Join(runs, "exp2", "s2"), 0o755))
	require.Eventually(t, func() bool { return db.count() > before }, 5*time.Second, 20*time.Millisecond)

	before = db.count()
	require.Eventually(t, func() bool {
		_ = rundb.WriteRecord(filepath.Join(runs, "exp2", "s2", "r2_logdata.json"), rec)
		return db.count() > before
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("reconciler did not stop")
	}
}

func TestReconciler_RetriesMissingRunsDirectory(t *testing.T) {
	runs := filepath.Join(t.TempDir(), "runs")
	db := &fakeReloader{}
	r := New(runs, db, &flag{}, Options{Debounce: 20 * time.Millisecond, RetryInterval: 20 * time.Millisecond}, log.Discard())

	var attempts atomic.Int32
	r.newWatcher = func(name, root string, ops []fswatch.Op, logger *slog.Logger) (*fswatch.Watcher, error) {
		attempts.Add(1)
		return fswatch.NewWatcher(name, root, ops, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return attempts.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("reconciler stopped after a failed watch: %v", err)
	default:
	}

	require.NoError(t, os.MkdirAll(runs, 0o755))
	n := 0
	require.Eventually(t, func() bool {
		n++
		_ = os.Mkdir(filepath.Join(runs, "exp"+strconv.Itoa(n)), 0o755)
		return db.count() >= 1
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("reconciler did not stop")
	}
}

func TestReconciler_IntegrationWithDB(t *testing.T) {
	runs := t.TempDir()
	db := rundb.New(log.Discard())
	r := New(runs, db, nil, Options{}, log.Discard())

	rec := record.Record{
		Flowcell: record.Flowcell{AsicIDEeprom: "EE1"},
		Run:      record.Run{RunID: "r1", Experiment: "exp", Sample: "s1"},
	}
	require.NoError(t, rundb.WriteRecord(filepath.Join(runs, "exp", "s1", "r1_logdata.json"), rec))

	r.Reload()
	assert.Equal(t, 1, db.Len())
}
