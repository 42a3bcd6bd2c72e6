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

// Package monitor wires the channels of one instrument together: log
// dispatchers, the ordered queues, channel state machines, the runs
// directory reconciler and the overview page.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tombee/gridwatch/internal/channel"
	"github.com/tombee/gridwatch/internal/config"
	"github.com/tombee/gridwatch/internal/eventqueue"
	"github.com/tombee/gridwatch/internal/lifecycle"
	"github.com/tombee/gridwatch/internal/log"
	"github.com/tombee/gridwatch/internal/logwatch"
	"github.com/tombee/gridwatch/internal/overview"
	"github.com/tombee/gridwatch/internal/reconciler"
	"github.com/tombee/gridwatch/internal/rundb"
	"github.com/tombee/gridwatch/internal/scheduler"
	pkgerrors "github.com/tombee/gridwatch/pkg/errors"
)

// LockFileName is the instance lock kept in the output directory.
const LockFileName = "gridwatch.pid"

// Options holds the collaborators of a Monitor. Zero values select the
// production implementations.
type Options struct {
	Version string
	Host    string
	Logger  *slog.Logger

	// Runner launches the post-processor and report generator
	Runner scheduler.Runner

	// Opener opens reports and the overview page
	Opener scheduler.Opener

	Now func() time.Time
}

// Monitor runs every channel of one instrument.
type Monitor struct {
	cfg     *config.Config
	opts    Options
	logger  *slog.Logger
	session string

	db          *rundb.DB
	flag        *overview.Flag
	builder     *overview.Builder
	renderer    *overview.Renderer
	claims      *scheduler.ClaimRegistry
	queues      []*eventqueue.Queue
	dispatchers []*logwatch.Dispatcher
	channels    []*channel.Channel
	reconciler  *reconciler.Reconciler
	lock        *lifecycle.InstanceLock
}

// New builds a monitor from cfg. Nothing is started and nothing is written
// until Run is called.
func New(cfg *config.Config, opts Options) (*Monitor, error) {
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.Host == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "localhost"
		}
		opts.Host = host
	}
	if opts.Runner == nil {
		opts.Runner = scheduler.NewSpawnRunner(cfg.PostProcessor.Niceness)
	}
	if opts.Opener == nil {
		opts.Opener = scheduler.BrowserOpener
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	session := uuid.NewString()
	logger := opts.Logger.With(slog.String("session", session))

	m := &Monitor{
		cfg:     cfg,
		opts:    opts,
		logger:  log.WithComponent(logger, "monitor"),
		session: session,
		db:      rundb.New(log.WithComponent(logger, "rundb")),
		flag:    overview.NewFlag(true),
		claims:  scheduler.NewClaimRegistry(),
		lock:    lifecycle.NewInstanceLock(filepath.Join(cfg.Paths.OutputDir, LockFileName)),
	}

	m.builder = &overview.Builder{
		Host:      opts.Host,
		Version:   opts.Version,
		OutputDir: cfg.Paths.OutputDir,
		Runs:      m.db,
		MuxScans:  m.db.MuxScans(),
		Logger:    log.WithComponent(logger, "overview"),
	}
	if cfg.Overview.Enabled {
		r, err := overview.NewRenderer(cfg.Paths.OutputDir, opts.Host, m.flag, cfg.Overview.MinInterval, logger)
		if err != nil {
			return nil, fmt.Errorf("create overview renderer: %w", err)
		}
		m.renderer = r
	}

	watchOpts := logwatch.Options{IgnoreModifications: cfg.Channels.IgnoreFileModifications}
	chanOpts := channel.Options{
		OutputDir:   cfg.Paths.OutputDir,
		DataBasedir: cfg.Paths.DataBasedir,
		QCPolicy:    channel.QCPolicy(cfg.Persistence.QCSavePolicy),
	}
	for _, name := range cfg.ChannelNames() {
		q := eventqueue.New(name)
		dir := filepath.Join(cfg.Paths.LogBasedir, name)
		m.queues = append(m.queues, q)
		m.dispatchers = append(m.dispatchers, logwatch.New(name, dir, q, watchOpts, logger))

		co := chanOpts
		co.Schedulers = m.schedulersFor(name)
		m.channels = append(m.channels, channel.New(name, q, m.db, m.db.MuxScans(), m.flag, co, logger))
	}

	m.reconciler = reconciler.New(rundb.RunsDir(cfg.Paths.OutputDir), m.db, m.flag, reconciler.Options{
		Debounce: cfg.Reconciler.Debounce,
		Rewrite:  cfg.Reconciler.RewriteRecords,
	}, logger)

	return m, nil
}

// schedulersFor binds the scheduler constructors to the named channel.
func (m *Monitor) schedulersFor(name string) channel.Schedulers {
	pp := m.cfg.PostProcessor
	ppCfg := scheduler.PostProcessConfig{
		Executable:      pp.Executable,
		Interpreter:     pp.Interpreter,
		DataSubdir:      pp.DataSubdir,
		DataExtension:   pp.DataExtension,
		PollInterval:    pp.PollInterval,
		LateStartDelay:  pp.LateStartDelay,
		LateRunLimit:    pp.LateRunLimit,
		MinLength:       pp.MinLength,
		MinLengthRNA:    pp.MinLengthRNA,
		BarcodeKeywords: pp.BarcodeKeywords,
		PassThrough:     pp.PassThrough(),
	}
	reportCfg := scheduler.ReportConfig{
		Executable:  m.cfg.Report.Executable,
		Args:        m.cfg.Report.Args,
		Interval:    m.cfg.Report.UpdateInterval,
		StatsSuffix: m.cfg.Report.StatsSuffix,
		OpenReport:  m.cfg.Report.OpenBrowser,
	}
	logger := log.WithChannel(m.opts.Logger, name)

	return channel.Schedulers{
		PostProcessor: func(job scheduler.PostProcessJob) channel.Worker {
			return scheduler.NewPostProcessor(ppCfg, job, m.opts.Runner, logger)
		},
		Report: func(sampleDir string) channel.Worker {
			return scheduler.NewReportScheduler(reportCfg, sampleDir, name, m.claims, m.opts.Runner, m.opts.Opener, logger)
		},
	}
}

// DB returns the run database.
func (m *Monitor) DB() *rundb.DB {
	return m.db
}

// Channels returns the channels in slot order.
func (m *Monitor) Channels() []*channel.Channel {
	return m.channels
}

// Prepare creates the output layout and imports the records found there.
func (m *Monitor) Prepare() error {
	output := m.cfg.Paths.OutputDir
	for _, dir := range []string{rundb.RunsDir(output), rundb.QCDir(output), rundb.LogsDir(output)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return pkgerrors.Wrapf(err, "create %s", dir)
		}
	}

	qc, err := m.db.ImportQC(rundb.QCDir(output))
	if err != nil {
		return pkgerrors.Wrap(err, "import QC runs")
	}
	runs, err := m.db.ReloadRuns(rundb.RunsDir(output), rundb.ImportOptions{Rewrite: m.cfg.Reconciler.RewriteRecords})
	if err != nil {
		return pkgerrors.Wrap(err, "import runs")
	}
	m.logger.Info("imported existing records",
		slog.Int("qc_runs", qc.Added), slog.Int("runs", runs.Added), slog.Int("skipped", qc.Skipped+runs.Skipped))
	m.flag.Set()
	return nil
}

// Run holds the instance lock, imports the output directory and watches
// every channel until ctx is cancelled. Running schedulers are aborted on
// return.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.lock.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := m.lock.Release(); err != nil {
			m.logger.Warn("failed to release instance lock", log.Error(err))
		}
	}()

	if err := m.Prepare(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range m.dispatchers {
		g.Go(func() error { return d.Run(gctx) })
	}
	g.Go(func() error { return m.reconciler.Run(gctx) })
	if m.cfg.Metrics.Addr != "" {
		m.serveMetrics(gctx, g)
	}

	m.logger.Info("watching channels",
		slog.Int("channels", len(m.channels)), slog.String("log_basedir", m.cfg.Paths.LogBasedir))
	m.initialOverview()

	g.Go(func() error { return m.loop(gctx) })

	err := g.Wait()
	m.shutdown()
	if pkgerrors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (m *Monitor) serveMetrics(ctx context.Context, g *errgroup.Group) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              m.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		m.logger.Info("serving metrics", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !pkgerrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func (m *Monitor) initialOverview() {
	if m.renderer == nil {
		return
	}
	if _, err := m.renderer.Update(m.page); err != nil {
		m.logger.Error("failed to write overview", log.Error(err))
		return
	}
	if !m.cfg.Overview.OpenBrowser {
		return
	}
	m.logger.Info("opening overview", slog.String(log.PathKey, m.renderer.Path()))
	if err := m.opts.Opener.Open(m.renderer.Path()); err != nil {
		m.logger.Debug("failed to open overview", log.Error(err))
	}
}

// loop drains the channel queues and refreshes the overview until ctx is
// cancelled.
func (m *Monitor) loop(ctx context.Context) error {
	poll := time.NewTicker(m.cfg.MainLoop.PollInterval)
	defer poll.Stop()
	refresh := time.NewTicker(m.cfg.MainLoop.PeriodicRefresh)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-refresh.C:
			m.flag.Set()
		case <-poll.C:
			m.Step()
		}
	}
}

// Step handles the lines queued for every channel, then rewrites the
// overview when it is out of date.
func (m *Monitor) Step() {
	start := m.opts.Now()
	lines := 0
	for _, ch := range m.channels {
		lines += ch.Step()
	}
	if lines > 0 {
		linesHandled.Add(float64(lines))
		stepDuration.Observe(m.opts.Now().Sub(start).Seconds())
	}

	if m.renderer == nil {
		return
	}
	if _, err := m.renderer.Update(m.page); err != nil {
		m.logger.Error("failed to write overview", log.Error(err))
	}
}

func (m *Monitor) page() overview.Page {
	status := make([]overview.ChannelStatus, len(m.channels))
	for i, ch := range m.channels {
		s := ch.State()
		status[i] = overview.ChannelStatus{Name: s.Name, Flowcell: s.Flowcell, Sequencing: s.Sequencing}
	}
	return m.builder.Build(m.opts.Now(), status)
}

func (m *Monitor) shutdown() {
	m.logger.Info("stopping schedulers")
	for _, ch := range m.channels {
		ch.Shutdown()
	}
	m.logger.Info("all channels stopped")
}
