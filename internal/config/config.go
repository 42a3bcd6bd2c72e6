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

// Package config loads the gridwatch configuration from defaults, an
// optional YAML file and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	pkgerrors "github.com/tombee/gridwatch/pkg/errors"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = pkgerrors.New("config: invalid configuration")

// QC persistence policies.
const (
	QCPolicyObserved      = "observed"
	QCPolicyRequireFields = "require-fields"
)

// Config is the complete gridwatch configuration.
type Config struct {
	Log           LogConfig           `yaml:"log"`
	Paths         PathsConfig         `yaml:"paths"`
	Channels      ChannelsConfig      `yaml:"channels"`
	MainLoop      MainLoopConfig      `yaml:"main_loop"`
	PostProcessor PostProcessorConfig `yaml:"post_processor"`
	Report        ReportConfig        `yaml:"report"`
	Overview      OverviewConfig      `yaml:"overview"`
	Reconciler    ReconcilerConfig    `yaml:"reconciler"`
	Persistence   PersistenceConfig   `yaml:"persistence"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	// Environment: LOG_LEVEL
	// Default: info
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	// Environment: LOG_FORMAT
	// Default: text
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	AddSource bool `yaml:"add_source"`

	// File receives a copy of the log output.
	File string `yaml:"file"`

	// ToFile writes to a dated file below <output_dir>/logs when File is empty.
	// Default: true
	ToFile bool `yaml:"to_file"`
}

// PathsConfig locates the instrument logs, its data and gridwatch's output.
type PathsConfig struct {
	// OutputDir receives run records, reports and the overview page.
	// Environment: GRIDWATCH_OUTPUT_DIR
	OutputDir string `yaml:"output_dir"`

	// DataBasedir is where the instrument writes basecalled data.
	// Environment: GRIDWATCH_DATA_BASEDIR
	DataBasedir string `yaml:"data_basedir"`

	// LogBasedir holds one log directory per channel.
	// Environment: GRIDWATCH_LOG_BASEDIR
	LogBasedir string `yaml:"log_basedir"`
}

// ChannelsConfig describes the instrument's channels.
type ChannelsConfig struct {
	Count int `yaml:"count"`

	// NameFormat is a fmt pattern receiving the 1-based channel number.
	NameFormat string `yaml:"name_format"`

	// IgnoreFileModifications only reacts to log file creation when
	// choosing the current log file of a channel.
	// Environment: GRIDWATCH_IGNORE_FILE_MODIFICATIONS
	IgnoreFileModifications bool `yaml:"ignore_file_modifications"`
}

// MainLoopConfig paces the consumer loop.
type MainLoopConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	PeriodicRefresh time.Duration `yaml:"periodic_refresh"`
}

// PostProcessorConfig configures the per-run post-processing tool.
type PostProcessorConfig struct {
	// Executable is the tool to run.
	// Environment: GRIDWATCH_POSTPROCESSOR
	Executable  string `yaml:"executable"`
	Interpreter string `yaml:"interpreter"`

	DataSubdir     string        `yaml:"data_subdir"`
	DataExtension  string        `yaml:"data_extension"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	LateStartDelay time.Duration `yaml:"late_start_delay"`
	LateRunLimit   time.Duration `yaml:"late_run_limit"`

	MinLength       int      `yaml:"min_length"`
	MinLengthRNA    int      `yaml:"min_length_rna"`
	MinQuality      int      `yaml:"min_quality"`
	BarcodeKeywords []string `yaml:"barcode_keywords"`

	NoTransfer   bool   `yaml:"no_transfer"`
	AllFast5     bool   `yaml:"all_fast5"`
	PassOnly     bool   `yaml:"pass_only"`
	RsyncDest    string `yaml:"rsync_dest"`
	IdentityFile string `yaml:"identity_file"`

	// Niceness is added to the scheduling priority of the tool.
	Niceness int `yaml:"niceness"`
}

// PassThrough returns the tool flags derived from the transfer and filter
// settings.
func (p PostProcessorConfig) PassThrough() []string {
	var args []string
	if p.NoTransfer {
		args = append(args, "-n")
	}
	if p.AllFast5 {
		args = append(args, "-a")
	}
	if p.PassOnly {
		args = append(args, "-p")
	}
	args = append(args, "-q", strconv.Itoa(p.MinQuality))
	if p.RsyncDest != "" {
		args = append(args, "-d", p.RsyncDest)
	}
	if p.IdentityFile != "" {
		args = append(args, "-i", p.IdentityFile)
	}
	return args
}

// ReportConfig configures the per-sample report generator.
type ReportConfig struct {
	// Executable is the report generator.
	// Environment: GRIDWATCH_REPORT_GENERATOR
	Executable string   `yaml:"executable"`
	Args       []string `yaml:"args"`

	// UpdateInterval is the pause between report updates.
	// Environment: GRIDWATCH_UPDATE_INTERVAL
	UpdateInterval time.Duration `yaml:"update_interval"`
	StatsSuffix    string        `yaml:"stats_suffix"`
	OpenBrowser    bool          `yaml:"open_browser"`
}

// OverviewConfig configures the status page.
type OverviewConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MinInterval time.Duration `yaml:"min_interval"`
	OpenBrowser bool          `yaml:"open_browser"`
}

// ReconcilerConfig configures the runs directory watcher.
type ReconcilerConfig struct {
	Debounce       time.Duration `yaml:"debounce"`
	RewriteRecords bool          `yaml:"rewrite_records"`
}

// PersistenceConfig configures run record saving.
type PersistenceConfig struct {
	QCSavePolicy string `yaml:"qc_save_policy"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr enables /metrics on this address when set, e.g. ":9107".
	// Environment: GRIDWATCH_METRICS_ADDR
	Addr string `yaml:"addr"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			ToFile: true,
		},
		Paths: PathsConfig{
			OutputDir:   "/data/dominION",
			DataBasedir: "/data",
			LogBasedir:  "/var/log/MinKNOW",
		},
		Channels: ChannelsConfig{
			Count:      5,
			NameFormat: "GA%d0000",
		},
		MainLoop: MainLoopConfig{
			PollInterval:    200 * time.Millisecond,
			PeriodicRefresh: 20 * time.Second,
		},
		PostProcessor: PostProcessorConfig{
			Executable:      "watchnchop",
			Interpreter:     "perl",
			DataSubdir:      "fastq_pass",
			DataExtension:   ".fastq",
			PollInterval:    time.Second,
			LateStartDelay:  60 * time.Second,
			LateRunLimit:    300 * time.Second,
			MinLength:       1000,
			MinLengthRNA:    50,
			MinQuality:      5,
			BarcodeKeywords: []string{"RBK", "NBD", "RAB", "LWB", "PBK", "RPB", "arcod"},
			Niceness:        19,
		},
		Report: ReportConfig{
			Executable:     "statsparser",
			UpdateInterval: 300 * time.Second,
			StatsSuffix:    "stats.csv",
			OpenBrowser:    true,
		},
		Overview: OverviewConfig{
			Enabled:     true,
			MinInterval: time.Second,
			OpenBrowser: true,
		},
		Reconciler: ReconcilerConfig{
			Debounce: 250 * time.Millisecond,
		},
		Persistence: PersistenceConfig{
			QCSavePolicy: QCPolicyObserved,
		},
	}
}

// Load loads configuration from an optional YAML file and the environment.
// Environment variables take precedence over the file.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &pkgerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &pkgerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}
	return cfg, nil
}

// applyDefaults fills in zero values so that partial files work.
func (c *Config) applyDefaults() {
	d := Default()

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}

	if c.Paths.OutputDir == "" {
		c.Paths.OutputDir = d.Paths.OutputDir
	}
	if c.Paths.DataBasedir == "" {
		c.Paths.DataBasedir = d.Paths.DataBasedir
	}
	if c.Paths.LogBasedir == "" {
		c.Paths.LogBasedir = d.Paths.LogBasedir
	}

	if c.Channels.Count == 0 {
		c.Channels.Count = d.Channels.Count
	}
	if c.Channels.NameFormat == "" {
		c.Channels.NameFormat = d.Channels.NameFormat
	}

	if c.MainLoop.PollInterval == 0 {
		c.MainLoop.PollInterval = d.MainLoop.PollInterval
	}
	if c.MainLoop.PeriodicRefresh == 0 {
		c.MainLoop.PeriodicRefresh = d.MainLoop.PeriodicRefresh
	}

	pp, dp := &c.PostProcessor, d.PostProcessor
	if pp.Executable == "" {
		pp.Executable = dp.Executable
	}
	if pp.DataSubdir == "" {
		pp.DataSubdir = dp.DataSubdir
	}
	if pp.DataExtension == "" {
		pp.DataExtension = dp.DataExtension
	}
	if pp.PollInterval == 0 {
		pp.PollInterval = dp.PollInterval
	}
	if pp.LateStartDelay == 0 {
		pp.LateStartDelay = dp.LateStartDelay
	}
	if pp.LateRunLimit == 0 {
		pp.LateRunLimit = dp.LateRunLimit
	}
	if pp.MinLength == 0 {
		pp.MinLength = dp.MinLength
	}
	if pp.MinLengthRNA == 0 {
		pp.MinLengthRNA = dp.MinLengthRNA
	}
	if pp.BarcodeKeywords == nil {
		pp.BarcodeKeywords = dp.BarcodeKeywords
	}

	if c.Report.Executable == "" {
		c.Report.Executable = d.Report.Executable
	}
	if c.Report.UpdateInterval == 0 {
		c.Report.UpdateInterval = d.Report.UpdateInterval
	}
	if c.Report.StatsSuffix == "" {
		c.Report.StatsSuffix = d.Report.StatsSuffix
	}

	if c.Overview.MinInterval == 0 {
		c.Overview.MinInterval = d.Overview.MinInterval
	}
	if c.Reconciler.Debounce == 0 {
		c.Reconciler.Debounce = d.Reconciler.Debounce
	}
	if c.Persistence.QCSavePolicy == "" {
		c.Persistence.QCSavePolicy = d.Persistence.QCSavePolicy
	}
}

// loadFromFile merges a YAML file over the current values.
func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// loadFromEnv applies environment overrides. Unparseable values are
// ignored.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("GRIDWATCH_OUTPUT_DIR"); val != "" {
		c.Paths.OutputDir = val
	}
	if val := os.Getenv("GRIDWATCH_DATA_BASEDIR"); val != "" {
		c.Paths.DataBasedir = val
	}
	if val := os.Getenv("GRIDWATCH_LOG_BASEDIR"); val != "" {
		c.Paths.LogBasedir = val
	}
	if val := os.Getenv("GRIDWATCH_IGNORE_FILE_MODIFICATIONS"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Channels.IgnoreFileModifications = b
		}
	}
	if val := os.Getenv("GRIDWATCH_UPDATE_INTERVAL"); val != "" {
		if d, err := parseSeconds(val); err == nil {
			c.Report.UpdateInterval = d
		}
	}
	if val := os.Getenv("GRIDWATCH_METRICS_ADDR"); val != "" {
		c.Metrics.Addr = val
	}
	if val := os.Getenv("GRIDWATCH_POSTPROCESSOR"); val != "" {
		c.PostProcessor.Executable = val
	}
	if val := os.Getenv("GRIDWATCH_REPORT_GENERATOR"); val != "" {
		c.Report.Executable = val
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}
}

// parseSeconds accepts a Go duration or a plain number of seconds.
func parseSeconds(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// ChannelNames returns the names of all channels.
func (c *Config) ChannelNames() []string {
	names := make([]string, c.Channels.Count)
	for i := range names {
		names[i] = fmt.Sprintf(c.Channels.NameFormat, i+1)
	}
	return names
}

// SetUpdateInterval sets the report update interval from a number of
// seconds or a duration string.
func (c *Config) SetUpdateInterval(s string) error {
	d, err := parseSeconds(s)
	if err != nil {
		return &pkgerrors.ValidationError{Field: "report.update_interval", Message: err.Error(), Suggestion: "use seconds or a duration such as 5m"}
	}
	c.Report.UpdateInterval = d
	return nil
}
