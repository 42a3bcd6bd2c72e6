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

package overview

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/gridwatch/internal/log"
	"github.com/tombee/gridwatch/internal/record"
	"github.com/tombee/gridwatch/internal/rundb"
)

func run(asic, id, experiment, sample, start, end string) record.Record {
	r := record.Record{
		Flowcell: record.Flowcell{AsicIDEeprom: asic, FlowcellID: "FC_" + asic},
		Run: record.Run{
			RunID:         id,
			Experiment:    experiment,
			Sample:        sample,
			SequencingKit: "SQK-LSK109",
			ProtocolStart: start,
			ProtocolEnd:   end,
			RelativePath:  experiment + "/" + sample + "/" + id,
		},
	}
	r.Run.Set(record.KeyExperimentType, "genomic_dna")
	return r
}

func TestGroup(t *testing.T) {
	rows := []Run{
		{Experiment: "A", Sample: "s1"},
		{Experiment: "A", Sample: "s1"},
		{Experiment: "A", Sample: "s2"},
		{Experiment: "B", Sample: "s1"},
		{Experiment: "A", Sample: "s1"},
	}
	groups := Group(rows)
	require.Len(t, groups, 3)

	assert.Equal(t, "A", groups[0].Experiment)
	assert.Equal(t, 3, groups[0].NumRuns)
	require.Len(t, groups[0].Samples, 2)
	assert.Len(t, groups[0].Samples[0].Runs, 2)
	assert.Len(t, groups[0].Samples[1].Runs, 1)

	assert.Equal(t, "B", groups[1].Experiment)
	assert.Equal(t, "A", groups[2].Experiment, "non-contiguous runs are not merged")

	assert.Empty(t, Group(nil))
}

func TestFormatDuration(t *testing.T) {
	cases := map[time.Duration]string{
		0:                                 "0:00:00",
		90*time.Minute + 5*time.Second:    "1:30:05",
		26*time.Hour + 1500*time.Millisecond: "1 day, 2:00:01",
		50 * time.Hour:                    "2 days, 2:00:00",
		-time.Minute:                      "-0:01:00",
	}
	for d, want := range cases {
		assert.Equal(t, want, FormatDuration(d), d.String())
	}
}

func TestBuilder_Build(t *testing.T) {
	db := rundb.New(log.Discard())
	require.NoError(t, db.Add(run("E1", "r1", "expA", "s1", "2018-05-14 09:00:00.000", "2018-05-14 10:30:00.000")))
	require.NoError(t, db.Add(run("E1", "r2", "expA", "s1", "2018-05-15 09:00:00.000", "")))
	require.NoError(t, db.Add(run("E2", "r3", "expB", "", "2018-05-16 09:00:00.000", "")))
	qc := run("E1", "q1", "", "", "2018-05-13 09:00:00.000", "")
	qc.Run.Set(record.KeyExperimentType, "platform_qc")
	require.NoError(t, db.Add(qc))

	db.MuxScans().Add(record.Flowcell{AsicIDEeprom: "E1", FlowcellID: "FAH1"},
		record.MuxScan{Timestamp: "2018-05-14 09:05:00.000", Total: "800", InUse: "700"})

	output := t.TempDir()
	b := &Builder{Host: "grid", Version: "dev", OutputDir: output, Runs: db, MuxScans: db.MuxScans()}
	now := time.Date(2018, 5, 16, 12, 0, 0, 0, time.Local)
	page := b.Build(now, []ChannelStatus{
		{Name: "GA10000", Flowcell: record.Flowcell{AsicIDEeprom: "E1"}, Sequencing: true},
		{Name: "GA20000", Flowcell: record.Flowcell{AsicIDEeprom: "E2"}},
		{Name: "GA30000"},
	})

	assert.Equal(t, "2018-05-16_12:00", page.Generated)
	require.Len(t, page.Channels, 3)

	ch1 := page.Channels[0]
	assert.Equal(t, "one", ch1.CSS)
	assert.Equal(t, "FAH1", ch1.FlowcellID)
	require.NotNil(t, ch1.LatestScan)
	assert.Equal(t, Scan{Date: "2018-05-14", Total: "800", InUse: "700"}, *ch1.LatestScan)
	require.Len(t, ch1.Runs, 2, "QC runs are not linked")
	assert.Equal(t, filepath.Join(output, "runs", "expA", "s1", ReportFileName), ch1.Runs[0].Link)

	ch2 := page.Channels[1]
	assert.Equal(t, noRecords, ch2.FlowcellID)
	assert.Nil(t, ch2.LatestScan)
	require.Len(t, ch2.Runs, 1)
	assert.Equal(t, filepath.Join(output, "runs", "expB", "expB", ReportFileName), ch2.Runs[0].Link, "sample falls back to experiment")

	assert.Equal(t, noFlowcell, page.Channels[2].FlowcellID)

	require.Len(t, page.Experiments, 2)
	assert.Equal(t, "expB", page.Experiments[0].Experiment, "newest first")
	assert.Equal(t, "expA", page.Experiments[1].Experiment)
	assert.Equal(t, 2, page.Experiments[1].NumRuns)
	runs := page.Experiments[1].Samples[0].Runs
	assert.Equal(t, noDuration, runs[0].Duration)
	assert.Equal(t, "1:30:00", runs[1].Duration)
	assert.Equal(t, "2018-05-14 09:00:00", runs[1].Start)
}

func TestBuilder_InUseOnlyWhileSequencing(t *testing.T) {
	db := rundb.New(log.Discard())
	db.MuxScans().Add(record.Flowcell{AsicIDEeprom: "E1", FlowcellID: "FAH1"},
		record.MuxScan{Timestamp: "2018-05-14 09:05:00.000", Total: "800", InUse: "700"})
	b := &Builder{OutputDir: t.TempDir(), Runs: db, MuxScans: db.MuxScans()}

	page := b.Build(time.Now(), []ChannelStatus{{Name: "GA10000", Flowcell: record.Flowcell{AsicIDEeprom: "E1"}}})
	require.NotNil(t, page.Channels[0].LatestScan)
	assert.Empty(t, page.Channels[0].LatestScan.InUse)
}
