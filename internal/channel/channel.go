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

// Package channel drives the state machine of one instrument channel from
// its ordered log lines.
package channel

import (
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/tombee/gridwatch/internal/log"
	"github.com/tombee/gridwatch/internal/logline"
	"github.com/tombee/gridwatch/internal/record"
	"github.com/tombee/gridwatch/internal/rundb"
	"github.com/tombee/gridwatch/internal/scheduler"
)

// DefaultStopTimeout bounds the graceful join of a scheduler when a protocol
// ends or a flowcell changes.
const DefaultStopTimeout = 1200 * time.Millisecond

// QCPolicy decides when a QC run is persisted.
type QCPolicy string

const (
	// QCPolicyObserved skips QC runs that carry both experiment and sample,
	// taking them for runs that are not QC runs after all.
	QCPolicyObserved QCPolicy = "observed"
	// QCPolicyRequireFields saves QC runs only when experiment and sample
	// are present.
	QCPolicyRequireFields QCPolicy = "require-fields"
)

// Attributes that must be present before the corresponding action.
var (
	saveKeys          = []string{record.KeyExperimentType, record.KeyRunID, record.KeyFlowcellID, record.KeyAsicIDEeprom}
	postProcessorKeys = []string{
		record.KeyExperiment, record.KeySample, record.KeySequencingKit,
		record.KeyRunID, record.KeyReadsPerFile, record.KeyRelativePath,
	}
	reportKeys = []string{record.KeyExperiment, record.KeySample}
)

// LineSource yields the lines queued since the last call in order.
type LineSource interface {
	Drain() []logline.Line
}

// Store persists run records.
type Store interface {
	Persist(output string, rec record.Record) (string, error)
}

// MuxRecorder keeps the mux scan history of every flowcell.
type MuxRecorder interface {
	Add(fc record.Flowcell, scans ...record.MuxScan) int
}

// Notifier is told that the overview is out of date.
type Notifier interface {
	Set()
}

type nopNotifier struct{}

func (nopNotifier) Set() {}

// Worker is a supervised scheduler.
type Worker interface {
	Start()
	Join(timeout time.Duration) bool
	Alive() bool
}

// Schedulers creates the schedulers bound to a run. A nil constructor
// disables that scheduler.
type Schedulers struct {
	PostProcessor func(job scheduler.PostProcessJob) Worker
	Report        func(sampleDir string) Worker
}

// Options configures a Channel.
type Options struct {
	OutputDir   string
	DataBasedir string
	QCPolicy    QCPolicy
	StopTimeout time.Duration
	Schedulers  Schedulers
}

// Channel consumes the ordered lines of one channel and keeps its state.
// All methods must be called from a single goroutine.
type Channel struct {
	name    string
	source  LineSource
	store   Store
	mux     MuxRecorder
	refresh Notifier
	opts    Options
	logger  *slog.Logger

	state *State

	// superseded post-processors keep running until Shutdown so late
	// starts can complete
	post   []Worker
	report Worker
}

// New creates a channel. source may be nil when lines are passed to Handle
// directly.
func New(name string, source LineSource, store Store, mux MuxRecorder, refresh Notifier, opts Options, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = log.Discard()
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.QCPolicy == "" {
		opts.QCPolicy = QCPolicyObserved
	}
	if refresh == nil {
		refresh = nopNotifier{}
	}
	logger = log.WithChannel(logger, name)
	return &Channel{
		name:    name,
		source:  source,
		store:   store,
		mux:     mux,
		refresh: refresh,
		opts:    opts,
		logger:  logger,
		state:   NewState(name, log.WithComponent(logger, "state")),
	}
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.name
}

// State returns a copy of the current state.
func (c *Channel) State() State {
	return c.state.Snapshot()
}

// Step handles every line queued since the last call and returns how many
// there were.
func (c *Channel) Step() int {
	if c.source == nil {
		return 0
	}
	lines := c.source.Drain()
	for _, line := range lines {
		c.Handle(line)
	}
	return len(lines)
}

// Handle applies one line to the channel state.
func (c *Channel) Handle(line logline.Line) {
	log.Trace(c.logger, "received line",
		slog.String(log.OriginKey, string(line.Origin)), slog.Time("timestamp", line.Timestamp), slog.String("line", line.Raw))

	switch line.Origin {
	case logline.OriginServer:
		c.handleServer(line.Raw)
	case logline.OriginBream:
		c.handleBream(line.Raw)
	default:
		c.logger.Debug("line of unknown origin ignored", slog.String(log.OriginKey, string(line.Origin)))
	}
}

func (c *Channel) handleServer(line string) {
	ev := ClassifyServer(line)
	if ev == EventNone {
		return
	}
	countEvent(c.name, ev)
	timestamp, _ := logline.ServerTimestamp(line)

	var attrs []Attr
	overwrite := false

	switch ev {
	case EventProtocolStarted:
		attrs = Pairs(line)
		overwrite = true
		attrs = append(attrs, c.location(attrs)...)
		c.logger.Info("protocol started", slog.String(log.EventKey, string(ev)))
		c.refresh.Set()
		c.state.Run.ProtocolStart = timestamp

	case EventProtocolFinished:
		c.logger.Info("protocol finished", slog.String(log.EventKey, string(ev)))
		c.refresh.Set()
		c.state.Run.ProtocolEnd = timestamp
		if len(c.state.MuxScans) > 0 {
			c.save()
		}
		c.state.ResetRun()
		c.stopReport(c.opts.StopTimeout)
		c.stopPostProcessor(c.opts.StopTimeout)

	case EventFlowcellDiscovered:
		attrs = Pairs(line)
		overwrite = true
		c.logger.Info("flowcell discovered", slog.String(log.EventKey, string(ev)))
		c.refresh.Set()
		c.state.ResetFlowcell()
		c.stopReport(c.opts.StopTimeout)
		c.stopPostProcessor(c.opts.StopTimeout)

	case EventDataAcquisitionStarted:
		attrs = Pairs(line)
		overwrite = true

	case EventFlowcellDisconnected:
		c.logger.Info("flowcell disconnected", slog.String(log.EventKey, string(ev)))
		c.refresh.Set()
		c.state.ResetFlowcell()

	case EventMuxScan:
		total, inUse := MuxCounts(line)
		c.logger.Info("new mux scan result", slog.String("active", total), slog.String("in_use", inUse))
		if total == "" {
			c.logger.Warn("mux scan without pore count ignored")
			return
		}
		scan := c.state.AddMuxScan(timestamp, total, inUse)
		if c.mux != nil {
			c.mux.Add(c.state.Flowcell, scan)
		}
		c.refresh.Set()
		c.save()
	}

	if len(attrs) > 0 {
		c.state.Update(attrs, overwrite)
	}
}

// location derives the run location from the output_path attribute.
func (c *Channel) location(attrs []Attr) []Attr {
	var outputPath string
	for _, a := range attrs {
		if a.Key == record.KeyOutputPath {
			outputPath = a.Value
		}
	}
	if outputPath == "" {
		c.logger.Warn("protocol started without output path")
		return nil
	}
	loc, ok := ParseOutputPath(outputPath)
	if !ok {
		c.logger.Warn("cannot derive run location from output path", slog.String(log.PathKey, outputPath))
		return nil
	}
	return loc.Attrs()
}

func (c *Channel) handleBream(line string) {
	ev := ClassifyBream(line)
	if ev == EventNone {
		return
	}
	countEvent(c.name, ev)
	timestamp, _ := logline.BreamTimestamp(line)

	var attrs []Attr
	overwrite := false

	switch ev {
	case EventAttributeSet:
		attrs = SetTo(line)

	case EventProtocolRequest:
		attrs = CLIArgs(line)
		overwrite = true

	case EventContextTags:
		attrs = ContextTags(line)

	case EventQCReport:
		c.logger.Info("QC finished", slog.String(log.EventKey, string(ev)))

	case EventSequencingStart:
		attrs = []Attr{{Key: record.KeySequencingStartTime, Value: timestamp}}
		c.logger.Info("sequencing starts", slog.String(log.EventKey, string(ev)))
		c.state.Sequencing = true
		c.refresh.Set()
		c.startPostProcessor()
		c.startReport()
	}

	if len(attrs) > 0 {
		c.state.Update(attrs, overwrite)
	}
}

// Save persists the current run if its mandatory attributes are present.
func (c *Channel) Save() (string, error) {
	if err := requireAttrs(c.state, "save", saveKeys...); err != nil {
		return "", err
	}
	if c.state.Run.IsQC() {
		missing := c.state.Missing(record.KeyExperiment, record.KeySample)
		switch c.opts.QCPolicy {
		case QCPolicyRequireFields:
			if missing != "" {
				return "", &MissingAttributeError{Action: "save", Key: missing}
			}
		default:
			if missing == "" {
				return "", ErrUncertainQC
			}
		}
	} else if err := requireAttrs(c.state, "save", record.KeyExperiment, record.KeySample); err != nil {
		return "", err
	}

	return c.store.Persist(c.opts.OutputDir, c.state.Record())
}

func (c *Channel) save() {
	logger := log.WithRunContext(c.logger, c.state.Run.RunID, c.state.Flowcell.FlowcellID)
	path, err := c.Save()
	if err != nil {
		saves.WithLabelValues(c.name, "skipped").Inc()
		logger.Warn("not saving run data", log.Error(err))
		return
	}
	saves.WithLabelValues(c.name, "saved").Inc()
	logger.Info("saved run data", slog.String(log.PathKey, path))
}

func (c *Channel) startPostProcessor() {
	if c.opts.Schedulers.PostProcessor == nil {
		return
	}
	if err := requireAttrs(c.state, "post-processor", postProcessorKeys...); err != nil {
		c.logger.Warn("not starting post-processor", log.Error(err))
		return
	}
	c.stopPostProcessor(c.opts.StopTimeout)
	c.post = slices.DeleteFunc(c.post, func(w Worker) bool { return !w.Alive() })

	run := c.state.Run
	job := scheduler.PostProcessJob{
		RunDir:        filepath.Join(c.opts.DataBasedir, run.RelativePath),
		Experiment:    run.Experiment,
		SequencingKit: run.SequencingKit,
		ReadsPerFile:  run.Get(record.KeyReadsPerFile),
		StatsPath:     filepath.Join(rundb.SampleDir(c.opts.OutputDir, run.Experiment, run.Sample), run.RunID+"_stats.csv"),
	}
	w := c.opts.Schedulers.PostProcessor(job)
	c.post = append(c.post, w)
	w.Start()
}

func (c *Channel) stopPostProcessor(timeout time.Duration) {
	if len(c.post) == 0 {
		return
	}
	if w := c.post[len(c.post)-1]; w.Alive() {
		w.Join(timeout)
	}
}

func (c *Channel) startReport() {
	if c.opts.Schedulers.Report == nil {
		return
	}
	if err := requireAttrs(c.state, "report", reportKeys...); err != nil {
		c.logger.Warn("not starting report scheduler", log.Error(err))
		return
	}
	c.stopReport(c.opts.StopTimeout)

	dir := rundb.SampleDir(c.opts.OutputDir, c.state.Run.Experiment, c.state.Run.Sample)
	c.logger.Info("scheduling report updates", slog.String(log.PathKey, dir))
	c.report = c.opts.Schedulers.Report(dir)
	c.report.Start()
}

func (c *Channel) stopReport(timeout time.Duration) {
	if c.report != nil && c.report.Alive() {
		c.report.Join(timeout)
	}
}

// Shutdown aborts every scheduler of the channel and waits for them.
func (c *Channel) Shutdown() {
	for _, w := range c.post {
		w.Join(0)
	}
	c.post = nil
	if c.report != nil {
		c.report.Join(0)
		c.report = nil
	}
}
