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

package monitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/gridwatch/internal/config"
	"github.com/tombee/gridwatch/internal/lifecycle"
	"github.com/tombee/gridwatch/internal/log"
	"github.com/tombee/gridwatch/internal/logline"
	"github.com/tombee/gridwatch/internal/overview"
	"github.com/tombee/gridwatch/internal/record"
	"github.com/tombee/gridwatch/internal/rundb"
	"github.com/tombee/gridwatch/internal/scheduler"
)

type nopProcess struct{ done chan struct{} }

func (p *nopProcess) Terminate(time.Duration) error { close(p.done); return nil }
func (p *nopProcess) Done() <-chan struct{}         { return p.done }

type nopRunner struct{}

func (nopRunner) Start(string, []string) (scheduler.Process, error) {
	return &nopProcess{done: make(chan struct{})}, nil
}

func (nopRunner) Run(context.Context, string, []string) (int, error) { return 0, nil }

type recordingOpener struct {
	mu    sync.Mutex
	paths []string
}

func (o *recordingOpener) Open(path string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paths = append(o.paths, path)
	return nil
}

func (o *recordingOpener) opened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.paths...)
}

const (
	discovered = "2018-05-14 09:00:00.000 INFO: [engine/info]: : flowcell_discovered (engine) asic_id = 123, asic_id_eeprom = E100, flowcell_id = FAH1"
	started    = "2018-05-14 09:10:00.000 INFO: protocol_started (user_messages) run_id = r1, experiment_type = genomic_dna, output_path = /data/./expA/sample1/20180514_0910_GA10000_FAH1_abc"
	muxScan    = "2018-05-14 09:12:00.000 INFO: mux scan has 800 pores available for sequencing"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.OutputDir = filepath.Join(base, "out")
	cfg.Paths.DataBasedir = filepath.Join(base, "data")
	cfg.Paths.LogBasedir = filepath.Join(base, "logs")
	cfg.Channels.Count = 2
	cfg.MainLoop.PollInterval = 20 * time.Millisecond
	cfg.Overview.MinInterval = time.Millisecond
	cfg.Reconciler.Debounce = 20 * time.Millisecond
	return cfg
}

func newMonitor(t *testing.T, cfg *config.Config, opener scheduler.Opener) *Monitor {
	t.Helper()
	m, err := New(cfg, Options{
		Version: "test",
		Host:    "gridion",
		Logger:  log.Discard(),
		Runner:  nopRunner{},
		Opener:  opener,
	})
	require.NoError(t, err)
	return m
}

func TestMonitor_ChannelNames(t *testing.T) {
	m := newMonitor(t, testConfig(t), &recordingOpener{})
	require.Len(t, m.Channels(), 2)
	assert.Equal(t, "GA10000", m.Channels()[0].Name())
	assert.Equal(t, "GA20000", m.Channels()[1].Name())
	require.Len(t, m.dispatchers, 2)
	assert.Equal(t, "GA20000", filepath.Base(m.dispatchers[1].Dir()))
}

func TestMonitor_PrepareImportsOutputDirectory(t *testing.T) {
	cfg := testConfig(t)
	output := cfg.Paths.OutputDir

	run := record.Record{
		Flowcell: record.Flowcell{FlowcellID: "FAH1", AsicIDEeprom: "E100"},
		Run: record.Run{
			RunID: "r1", Experiment: "expA", Sample: "s1",
			ProtocolStart: "2018-05-14 09:10:00.000",
			Extra:         map[string]string{record.KeyExperimentType: "genomic_dna"},
		},
	}
	path, err := rundb.RecordPath(output, run)
	require.NoError(t, err)
	require.NoError(t, rundb.WriteRecord(path, run))

	qc := record.Record{
		Flowcell: record.Flowcell{FlowcellID: "FAH2", AsicIDEeprom: "E200"},
		Run:      record.Run{RunID: "q1", Extra: map[string]string{record.KeyExperimentType: "platform_qc"}},
		MuxScans: []record.MuxScan{{Timestamp: "2018-05-13 08:00:00.000", Total: "1400"}},
	}
	path, err = rundb.RecordPath(output, qc)
	require.NoError(t, err)
	require.NoError(t, rundb.WriteRecord(path, qc))

	m := newMonitor(t, cfg, &recordingOpener{})
	require.NoError(t, m.Prepare())

	assert.DirExists(t, rundb.LogsDir(output))
	assert.Equal(t, 1, m.DB().Len())
	scan, ok := m.DB().MuxScans().Latest("E200")
	require.True(t, ok)
	assert.Equal(t, record.Count("1400"), scan.Total)
}

func TestMonitor_StepSavesRunAndRendersOverview(t *testing.T) {
	cfg := testConfig(t)
	m := newMonitor(t, cfg, &recordingOpener{})
	require.NoError(t, m.Prepare())

	q := m.queues[0]
	q.Activate()
	for _, raw := range []string{discovered, started, muxScan} {
		line, err := logline.Parse(logline.OriginServer, logline.ServerTimestamp, raw)
		require.NoError(t, err)
		q.Push(line)
	}

	m.Step()

	st := m.Channels()[0].State()
	assert.Equal(t, "FAH1", st.Flowcell.FlowcellID)
	assert.Equal(t, "expA", st.Run.Experiment)
	require.Equal(t, 1, m.DB().Len())
	assert.FileExists(t, filepath.Join(rundb.SampleDir(cfg.Paths.OutputDir, "expA", "sample1"), "r1_logdata.json"))

	page, err := os.ReadFile(filepath.Join(cfg.Paths.OutputDir, overview.FileName("gridion")))
	require.NoError(t, err)
	assert.Contains(t, string(page), "FAH1")
	assert.Contains(t, string(page), "expA")
}

func TestMonitor_OverviewDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Overview.Enabled = false
	m := newMonitor(t, cfg, &recordingOpener{})
	require.NoError(t, m.Prepare())
	m.Step()
	assert.NoFileExists(t, filepath.Join(cfg.Paths.OutputDir, overview.FileName("gridion")))
}

func TestMonitor_Run(t *testing.T) {
	cfg := testConfig(t)
	chanDir := filepath.Join(cfg.Paths.LogBasedir, "GA10000")
	require.NoError(t, os.MkdirAll(chanDir, 0o755))

	opener := &recordingOpener{}
	m := newMonitor(t, cfg, opener)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	// the overview is written and opened once at startup
	overviewPath := filepath.Join(cfg.Paths.OutputDir, overview.FileName("gridion"))
	require.Eventually(t, func() bool {
		return len(opener.opened()) == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, overviewPath, opener.opened()[0])
	assert.FileExists(t, filepath.Join(cfg.Paths.OutputDir, LockFileName))

	// give the dispatchers time to set up their watches
	time.Sleep(100 * time.Millisecond)
	server := filepath.Join(chanDir, "control_server_log-0.txt")
	require.NoError(t, os.WriteFile(server, []byte(strings.Join([]string{discovered, started, muxScan}, "\n")+"\n"), 0o644))

	require.Eventually(t, func() bool {
		_, err := m.DB().Get("E100", "r1")
		if err != nil {
			f, ferr := os.OpenFile(server, os.O_APPEND|os.O_WRONLY, 0o644)
			if ferr == nil {
				f.WriteString("2018-05-14 09:12:30.000 INFO: heartbeat\n")
				f.Close()
			}
		}
		return err == nil
	}, 10*time.Second, 100*time.Millisecond)

	// a second instance on the same output directory is refused
	other := newMonitor(t, cfg, &recordingOpener{})
	assert.True(t, errors.Is(other.Run(context.Background()), lifecycle.ErrLocked))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop")
	}
	assert.NoFileExists(t, filepath.Join(cfg.Paths.OutputDir, LockFileName))
}
