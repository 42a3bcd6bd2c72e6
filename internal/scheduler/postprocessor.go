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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tombee/gridwatch/internal/log"
	pkgerrors "github.com/tombee/gridwatch/pkg/errors"
)

// PostProcessConfig holds the settings shared by all post-processor runs.
type PostProcessConfig struct {
	Executable  string
	Interpreter string

	DataSubdir    string
	DataExtension string

	PollInterval     time.Duration
	LateStartDelay   time.Duration
	LateRunLimit     time.Duration
	TerminateTimeout time.Duration

	MinLength       int
	MinLengthRNA    int
	BarcodeKeywords []string

	// PassThrough is appended after the reads per file argument
	PassThrough []string
}

func (c *PostProcessConfig) applyDefaults() {
	if c.DataSubdir == "" {
		c.DataSubdir = "fastq_pass"
	}
	if c.DataExtension == "" {
		c.DataExtension = ".fastq"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.LateStartDelay <= 0 {
		c.LateStartDelay = 60 * time.Second
	}
	if c.LateRunLimit <= 0 {
		c.LateRunLimit = 300 * time.Second
	}
	if c.TerminateTimeout <= 0 {
		c.TerminateTimeout = 10 * time.Second
	}
}

// PostProcessJob describes the run a post-processor is bound to.
type PostProcessJob struct {
	// RunDir is <data_basedir>/<relative_path>
	RunDir        string
	Experiment    string
	SequencingKit string
	ReadsPerFile  string
	StatsPath     string
}

// PostProcessor launches the post-processing tool once the run's data
// directory holds raw data, and terminates it when stopped.
type PostProcessor struct {
	*worker

	cfg     PostProcessConfig
	job     PostProcessJob
	runner  Runner
	logger  *slog.Logger
	watched string
	binary  string
	args    []string

	mu      sync.Mutex
	started bool
	err     error
}

// NewPostProcessor creates a post-processor. Call Start to run it.
func NewPostProcessor(cfg PostProcessConfig, job PostProcessJob, runner Runner, logger *slog.Logger) *PostProcessor {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.Discard()
	}
	p := &PostProcessor{
		worker:  newWorker(),
		cfg:     cfg,
		job:     job,
		runner:  runner,
		logger:  log.WithComponent(logger, kindPostProcessor),
		watched: filepath.Join(job.RunDir, cfg.DataSubdir),
	}
	p.binary, p.args = p.command()
	return p
}

// Command returns the full command line.
func (p *PostProcessor) Command() []string {
	return append([]string{p.binary}, p.args...)
}

// WatchedDir returns the directory polled for raw data.
func (p *PostProcessor) WatchedDir() string {
	return p.watched
}

func (p *PostProcessor) command() (string, []string) {
	var args []string
	binary := p.cfg.Executable
	if p.cfg.Interpreter != "" {
		binary = p.cfg.Interpreter
		args = append(args, p.cfg.Executable)
	}
	args = append(args, "-o", p.job.StatsPath, "-f", p.job.ReadsPerFile)
	args = append(args, p.cfg.PassThrough...)

	experiment := strings.ToLower(p.job.Experiment)
	kit := strings.ToLower(p.job.SequencingKit)
	for _, kw := range p.cfg.BarcodeKeywords {
		kw = strings.ToLower(kw)
		if kw != "" && (strings.Contains(experiment, kw) || strings.Contains(kit, kw)) {
			args = append(args, "-b")
			break
		}
	}

	minLength := p.cfg.MinLength
	if strings.Contains(experiment, "rna") || strings.Contains(kit, "rna") {
		minLength = p.cfg.MinLengthRNA
	}
	args = append(args, "-l", strconv.Itoa(minLength))

	return binary, append(args, p.job.RunDir+string(filepath.Separator))
}

// Start runs the scheduler in its own goroutine.
func (p *PostProcessor) Start() {
	activeWorkers.WithLabelValues(kindPostProcessor).Inc()
	go func() {
		defer close(p.done)
		defer activeWorkers.WithLabelValues(kindPostProcessor).Dec()
		p.run()
	}()
}

// Started reports whether the tool was launched.
func (p *PostProcessor) Started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// Err returns why the scheduler gave up, nil if it did not.
func (p *PostProcessor) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *PostProcessor) fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// ConditionsMet reports whether the watched directory holds raw data.
func (p *PostProcessor) ConditionsMet() bool {
	entries, err := os.ReadDir(p.watched)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), p.cfg.DataExtension) {
			return true
		}
	}
	return false
}

func (p *PostProcessor) launch() Process {
	proc, err := p.runner.Start(p.binary, p.args)
	if err != nil {
		launches.WithLabelValues(kindPostProcessor, "error").Inc()
		p.logger.Error("failed to start post-processor", slog.String("command", strings.Join(p.Command(), " ")), log.Error(err))
		p.fail(fmt.Errorf("start post-processor: %w", err))
		return nil
	}
	launches.WithLabelValues(kindPostProcessor, "started").Inc()
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	p.logger.Info("started post-processor", slog.String("command", strings.Join(p.Command(), " ")))
	return proc
}

func (p *PostProcessor) terminate(proc Process) {
	if err := proc.Terminate(p.cfg.TerminateTimeout); err != nil {
		p.logger.Error("terminating post-processor failed", log.Error(err))
		return
	}
	p.logger.Info("terminated post-processor")
}

func (p *PostProcessor) run() {
	p.logger.Info("started post-processor scheduler", slog.String(log.PathKey, p.watched))

	var proc Process
	for !p.stopping() {
		if p.ConditionsMet() {
			proc = p.launch()
			if proc == nil {
				return
			}
			break
		}
		p.sleep(p.cfg.PollInterval, true)
	}

	if proc != nil {
		select {
		case <-p.abort:
		case <-p.finish:
		}
		p.terminate(proc)
		return
	}

	if p.aborted() {
		p.logger.Error("post-processor was never started: stopped before its data appeared")
		return
	}

	// Late start for runs with very little output: data may only appear
	// after the protocol ended.
	p.logger.Info("waiting for data to start post-processor late",
		slog.Duration("delay", p.cfg.LateStartDelay), slog.Duration("limit", p.cfg.LateRunLimit))
	deadline := time.Now().Add(p.cfg.LateStartDelay)
	for !p.ConditionsMet() {
		if time.Now().After(deadline) {
			err := &pkgerrors.TimeoutError{Operation: "post-processor start", Duration: p.cfg.LateStartDelay}
			p.fail(err)
			p.logger.Error("post-processor not started: directory still does not exist or contains no data",
				slog.String(log.PathKey, p.watched), log.Error(err))
			return
		}
		if !p.sleep(p.cfg.PollInterval, false) {
			p.logger.Error("post-processor was never started: aborted during late start")
			return
		}
	}

	proc = p.launch()
	if proc == nil {
		return
	}
	t := time.NewTimer(p.cfg.LateRunLimit)
	defer t.Stop()
	select {
	case <-t.C:
	case <-p.abort:
	case <-proc.Done():
	}
	p.terminate(proc)
}
