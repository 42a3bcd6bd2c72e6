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

package scheduler

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/gridwatch/internal/log"
)

// ReportFileName is the report written into the sample directory.
const ReportFileName = "report.html"

// ReportConfig holds the report generator settings.
type ReportConfig struct {
	Executable  string
	Args        []string
	Interval    time.Duration
	StatsSuffix string

	// OpenReport opens the report after the first successful generation
	OpenReport bool
}

// ReportScheduler regenerates the report of one sample directory at a fixed
// interval while the directory holds statistics and this scheduler holds
// the directory's claim.
type ReportScheduler struct {
	*worker

	cfg       ReportConfig
	sampleDir string
	owner     string
	holder    string
	claims    *ClaimRegistry
	runner    Runner
	opener    Opener
	logger    *slog.Logger

	opened      bool
	generations atomic.Int32
}

// NewReportScheduler creates a scheduler for sampleDir on behalf of owner.
// A nil opener disables opening the report.
func NewReportScheduler(cfg ReportConfig, sampleDir, owner string, claims *ClaimRegistry, runner Runner, opener Opener, logger *slog.Logger) *ReportScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.StatsSuffix == "" {
		cfg.StatsSuffix = "stats.csv"
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &ReportScheduler{
		worker:    newWorker(),
		cfg:       cfg,
		sampleDir: sampleDir,
		owner:     owner,
		holder:    uuid.NewString(),
		claims:    claims,
		runner:    runner,
		opener:    opener,
		logger:    log.WithComponent(logger, kindReport).With(slog.String(log.PathKey, sampleDir)),
	}
}

// SampleDir returns the directory the scheduler reports on.
func (s *ReportScheduler) SampleDir() string {
	return s.sampleDir
}

// Generations returns how many times the generator ran.
func (s *ReportScheduler) Generations() int {
	return int(s.generations.Load())
}

// Start runs the scheduler in its own goroutine.
func (s *ReportScheduler) Start() {
	activeWorkers.WithLabelValues(kindReport).Inc()
	go func() {
		defer close(s.done)
		defer activeWorkers.WithLabelValues(kindReport).Dec()
		defer s.claims.Release(s.sampleDir, s.holder)
		s.run()
	}()
}

func (s *ReportScheduler) run() {
	s.logger.Info("scheduling report updates", slog.Duration("interval", s.cfg.Interval))
	for {
		if s.conditionsMet() {
			s.update()
		}
		if !s.sleep(s.cfg.Interval, true) {
			break
		}
	}
	if !s.aborted() && s.conditionsMet() {
		s.logger.Info("final report update")
		s.update()
	}
}

// conditionsMet claims the directory on first sight and reports whether it
// holds statistics and belongs to this scheduler.
func (s *ReportScheduler) conditionsMet() bool {
	held := s.claims.Claim(s.sampleDir, s.owner, s.holder)
	if !held {
		if owner, ok := s.claims.Owner(s.sampleDir); ok {
			log.Trace(s.logger, "sample directory claimed by another channel", slog.String("owner", owner))
		}
		return false
	}
	entries, err := os.ReadDir(s.sampleDir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), s.cfg.StatsSuffix) {
			return true
		}
	}
	return false
}

func (s *ReportScheduler) update() {
	s.logger.Info("updating report")
	args := append([]string{s.sampleDir, "-q"}, s.cfg.Args...)

	ctx, cancel := s.abortContext()
	defer cancel()
	code, err := s.runner.Run(ctx, s.cfg.Executable, args)
	s.generations.Add(1)
	if err != nil {
		launches.WithLabelValues(kindReport, "error").Inc()
		s.logger.Warn("report generator failed", log.Error(err))
		return
	}
	if code != 0 {
		launches.WithLabelValues(kindReport, "failed").Inc()
		s.logger.Warn("report generator returned an error", slog.Int("exit_code", code))
		return
	}
	launches.WithLabelValues(kindReport, "ok").Inc()

	if s.opened || !s.cfg.OpenReport || s.opener == nil {
		return
	}
	s.opened = true
	report := filepath.Join(s.sampleDir, ReportFileName)
	s.logger.Info("opening report", slog.String("report", report))
	if err := s.opener.Open(report); err != nil {
		s.logger.Debug("failed to open report", log.Error(err))
	}
}
