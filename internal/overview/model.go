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

// Package overview builds and renders the status page of all channels and
// recorded runs.
package overview

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/tombee/gridwatch/internal/log"
	"github.com/tombee/gridwatch/internal/logline"
	"github.com/tombee/gridwatch/internal/record"
	"github.com/tombee/gridwatch/internal/rundb"
)

// ReportFileName is the per-sample report linked from the page.
const ReportFileName = "report.html"

const (
	noFlowcell = "-"
	noRecords  = "NO RECORDS"
	noDuration = "N/A"
)

var slotClasses = []string{"one", "two", "three", "four", "five", "six", "seven", "eight", "nine"}

// Runs is the run database as seen by the overview.
type Runs interface {
	ByFlowcell(asic string) []record.Record
	All() []record.Record
}

// MuxScans is the mux scan history as seen by the overview.
type MuxScans interface {
	Latest(asic string) (record.MuxScan, bool)
}

// ChannelStatus is the live state of one channel.
type ChannelStatus struct {
	Name       string
	Flowcell   record.Flowcell
	Sequencing bool
}

// Page is the data rendered into the overview template.
type Page struct {
	Host        string
	Version     string
	Generated   string
	Channels    []Channel
	Experiments []Experiment
}

// Channel is one channel box of the page.
type Channel struct {
	CSS        string
	Name       string
	AsicID     string
	FlowcellID string
	Sequencing bool
	LatestScan *Scan
	Runs       []RunLink
}

// Scan is the latest mux scan of a flowcell.
type Scan struct {
	Date  string
	Total string
	InUse string
}

// RunLink links a run of the inserted flowcell to its sample report.
type RunLink struct {
	Experiment string
	Link       string
}

// Experiment groups contiguous runs of one experiment.
type Experiment struct {
	Experiment string
	NumRuns    int
	Samples    []Sample
}

// Sample groups contiguous runs of one sample.
type Sample struct {
	Sample string
	Link   string
	Runs   []Run
}

// Run is one row of the experiment listing.
type Run struct {
	Experiment string
	Sample     string
	Kit        string
	Link       string
	Start      string
	Duration   string

	started time.Time
}

// Builder assembles pages.
type Builder struct {
	Host      string
	Version   string
	OutputDir string
	Runs      Runs
	MuxScans  MuxScans
	Logger    *slog.Logger
}

// Build assembles the page for the given channels.
func (b *Builder) Build(now time.Time, channels []ChannelStatus) Page {
	logger := b.Logger
	if logger == nil {
		logger = log.Discard()
	}
	page := Page{
		Host:      b.Host,
		Version:   b.Version,
		Generated: now.Format("2006-01-02_15:04"),
	}
	for i, ch := range channels {
		page.Channels = append(page.Channels, b.channel(i, ch, logger))
	}
	page.Experiments = Group(b.rows())
	return page
}

func (b *Builder) channel(slot int, ch ChannelStatus, logger *slog.Logger) Channel {
	asic := ch.Flowcell.AsicIDEeprom
	view := Channel{
		Name:       ch.Name,
		AsicID:     asic,
		FlowcellID: noFlowcell,
		Sequencing: ch.Sequencing,
	}
	if slot < len(slotClasses) {
		view.CSS = slotClasses[slot]
	}
	if asic == "" {
		return view
	}

	view.FlowcellID = noRecords
	if scan, ok := b.MuxScans.Latest(asic); ok {
		view.FlowcellID = scan.FlowcellID
		s := &Scan{Date: scan.Timestamp, Total: string(scan.Total)}
		if at, err := scan.Time(); err == nil {
			s.Date = at.Format(time.DateOnly)
		}
		if ch.Sequencing {
			s.InUse = string(scan.InUse)
		}
		view.LatestScan = s
	}

	for _, rec := range b.Runs.ByFlowcell(asic) {
		experiment := rec.Run.Experiment
		if experiment == "" {
			experiment = rec.Run.Get(record.KeyUserFilenameInput)
		}
		if experiment == "" {
			logger.Warn("run without experiment name left out of overview", slog.String(log.RunIDKey, rec.Run.RunID))
			continue
		}
		view.Runs = append(view.Runs, RunLink{
			Experiment: experiment,
			Link:       b.reportLink(experiment, rec.Run.Sample),
		})
	}
	return view
}

func (b *Builder) reportLink(experiment, sample string) string {
	if sample == "" {
		sample = experiment
	}
	link, err := filepath.Abs(filepath.Join(rundb.SampleDir(b.OutputDir, experiment, sample), ReportFileName))
	if err != nil {
		return filepath.Join(rundb.SampleDir(b.OutputDir, experiment, sample), ReportFileName)
	}
	return link
}

// rows lists every non-QC run, newest first.
func (b *Builder) rows() []Run {
	var rows []Run
	for _, rec := range b.Runs.All() {
		if rec.Run.IsQC() {
			continue
		}
		sample := rec.Run.Sample
		if sample == "" {
			sample = rec.Run.Experiment
		}
		row := Run{
			Experiment: rec.Run.Experiment,
			Sample:     sample,
			Kit:        rec.Run.SequencingKit,
			Link:       b.reportLink(rec.Run.Experiment, sample),
			Start:      rec.Run.ProtocolStart,
			Duration:   noDuration,
		}
		if start, err := logline.ParseTimestamp(rec.Run.ProtocolStart); err == nil {
			row.started = start
			row.Start = start.Format(time.DateTime)
			if end, err := logline.ParseTimestamp(rec.Run.ProtocolEnd); err == nil {
				row.Duration = FormatDuration(end.Sub(start))
			}
		}
		rows = append(rows, row)
	}
	slices.SortStableFunc(rows, func(a, b Run) int {
		return b.started.Compare(a.started)
	})
	return rows
}

// Group folds rows into experiments and samples. Only contiguous rows are
// grouped, so an experiment interrupted by another one appears twice.
func Group(rows []Run) []Experiment {
	var groups []Experiment
	for _, row := range rows {
		n := len(groups)
		if n == 0 || groups[n-1].Experiment != row.Experiment {
			groups = append(groups, Experiment{Experiment: row.Experiment})
			n++
		}
		exp := &groups[n-1]
		m := len(exp.Samples)
		if m == 0 || exp.Samples[m-1].Sample != row.Sample {
			exp.Samples = append(exp.Samples, Sample{Sample: row.Sample, Link: row.Link})
			m++
		}
		exp.Samples[m-1].Runs = append(exp.Samples[m-1].Runs, row)
		exp.NumRuns++
	}
	return groups
}

// FormatDuration writes d as H:MM:SS, prefixed with the number of days when
// longer than one day.
func FormatDuration(d time.Duration) string {
	neg := d < 0
	if neg {
		d = -d
	}
	d = d.Truncate(time.Second)
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)

	out := fmt.Sprintf("%d:%02d:%02d", h, m, s)
	switch {
	case days == 1:
		out = "1 day, " + out
	case days > 1:
		out = fmt.Sprintf("%d days, %s", days, out)
	}
	if neg {
		out = "-" + out
	}
	return out
}
