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

package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	pkgerrors "github.com/tombee/gridwatch/pkg/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Channels.Count != 5 {
		t.Errorf("Channels.Count = %d, want 5", cfg.Channels.Count)
	}
	if cfg.MainLoop.PollInterval != 200*time.Millisecond {
		t.Errorf("MainLoop.PollInterval = %v, want 200ms", cfg.MainLoop.PollInterval)
	}
	if cfg.Report.UpdateInterval != 5*time.Minute {
		t.Errorf("Report.UpdateInterval = %v, want 5m", cfg.Report.UpdateInterval)
	}
	if cfg.Persistence.QCSavePolicy != QCPolicyObserved {
		t.Errorf("Persistence.QCSavePolicy = %q, want %q", cfg.Persistence.QCSavePolicy, QCPolicyObserved)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestChannelNames(t *testing.T) {
	want := []string{"GA10000", "GA20000", "GA30000", "GA40000", "GA50000"}
	if got := Default().ChannelNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("ChannelNames() = %v, want %v", got, want)
	}
}

func TestPassThrough(t *testing.T) {
	tests := []struct {
		name string
		cfg  PostProcessorConfig
		want []string
	}{
		{
			name: "quality only",
			cfg:  PostProcessorConfig{MinQuality: 5},
			want: []string{"-q", "5"},
		},
		{
			name: "all flags",
			cfg: PostProcessorConfig{
				NoTransfer:   true,
				AllFast5:     true,
				PassOnly:     true,
				MinQuality:   7,
				RsyncDest:    "user@host:/data",
				IdentityFile: "/home/user/.ssh/id",
			},
			want: []string{"-n", "-a", "-p", "-q", "7", "-d", "user@host:/data", "-i", "/home/user/.ssh/id"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.PassThrough(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("PassThrough() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
paths:
  output_dir: /tmp/out
channels:
  count: 3
report:
  update_interval: 90s
post_processor:
  rsync_dest: host:/x
persistence:
  qc_save_policy: require-fields
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Paths.OutputDir != "/tmp/out" {
		t.Errorf("OutputDir = %q", cfg.Paths.OutputDir)
	}
	if cfg.Paths.LogBasedir != "/var/log/MinKNOW" {
		t.Errorf("LogBasedir = %q, want default", cfg.Paths.LogBasedir)
	}
	if cfg.Channels.Count != 3 {
		t.Errorf("Channels.Count = %d, want 3", cfg.Channels.Count)
	}
	if cfg.Report.UpdateInterval != 90*time.Second {
		t.Errorf("UpdateInterval = %v, want 90s", cfg.Report.UpdateInterval)
	}
	if cfg.PostProcessor.Executable != "watchnchop" {
		t.Errorf("PostProcessor.Executable = %q, want default", cfg.PostProcessor.Executable)
	}
	if cfg.Persistence.QCSavePolicy != QCPolicyRequireFields {
		t.Errorf("QCSavePolicy = %q", cfg.Persistence.QCSavePolicy)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	var cfgErr *pkgerrors.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Load() error = %v, want ConfigError", err)
	}
	if cfgErr.Key != "config_file" {
		t.Errorf("ConfigError.Key = %q, want config_file", cfgErr.Key)
	}
}

func TestLoadInvalid(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("channels:\n  count: 12\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if !IsInvalid(err) {
		t.Fatalf("Load() error = %v, want invalid configuration", err)
	}
	if !strings.Contains(err.Error(), "channels.count") {
		t.Errorf("error %q does not name channels.count", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("GRIDWATCH_OUTPUT_DIR", "/env/out")
	t.Setenv("GRIDWATCH_IGNORE_FILE_MODIFICATIONS", "true")
	t.Setenv("GRIDWATCH_UPDATE_INTERVAL", "60")
	t.Setenv("GRIDWATCH_METRICS_ADDR", ":9107")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Paths.OutputDir != "/env/out" {
		t.Errorf("OutputDir = %q", cfg.Paths.OutputDir)
	}
	if !cfg.Channels.IgnoreFileModifications {
		t.Error("IgnoreFileModifications not set from env")
	}
	if cfg.Report.UpdateInterval != time.Minute {
		t.Errorf("UpdateInterval = %v, want 1m", cfg.Report.UpdateInterval)
	}
	if cfg.Metrics.Addr != ":9107" {
		t.Errorf("Metrics.Addr = %q", cfg.Metrics.Addr)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestSetUpdateInterval(t *testing.T) {
	cfg := Default()
	if err := cfg.SetUpdateInterval("120"); err != nil {
		t.Fatal(err)
	}
	if cfg.Report.UpdateInterval != 2*time.Minute {
		t.Errorf("UpdateInterval = %v, want 2m", cfg.Report.UpdateInterval)
	}
	if err := cfg.SetUpdateInterval("90s"); err != nil {
		t.Fatal(err)
	}
	if cfg.Report.UpdateInterval != 90*time.Second {
		t.Errorf("UpdateInterval = %v, want 90s", cfg.Report.UpdateInterval)
	}
	var verr *pkgerrors.ValidationError
	if err := cfg.SetUpdateInterval("soon"); !errors.As(err, &verr) {
		t.Errorf("SetUpdateInterval(soon) error = %v, want ValidationError", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"no channels", func(c *Config) { c.Channels.Count = 0 }, "channels.count"},
		{"name format", func(c *Config) { c.Channels.NameFormat = "GA" }, "channels.name_format"},
		{"zero poll interval", func(c *Config) { c.MainLoop.PollInterval = 0 }, "main_loop.poll_interval"},
		{"negative debounce", func(c *Config) { c.Reconciler.Debounce = -time.Second }, "reconciler.debounce"},
		{"post-processor", func(c *Config) { c.PostProcessor.Executable = "" }, "post_processor.executable"},
		{"report", func(c *Config) { c.Report.Executable = "" }, "report.executable"},
		{"niceness", func(c *Config) { c.PostProcessor.Niceness = 40 }, "post_processor.niceness"},
		{"qc policy", func(c *Config) { c.Persistence.QCSavePolicy = "always" }, "persistence.qc_save_policy"},
		{"output dir", func(c *Config) { c.Paths.OutputDir = "" }, "paths.output_dir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() succeeded, want error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error %v does not wrap ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name %s", err, tt.field)
			}
		})
	}
}

func TestConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path, err := ConfigPath()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "gridwatch", "config.yaml"); path != want {
		t.Errorf("ConfigPath() = %q, want %q", path, want)
	}
	if got := DefaultPath(); got != "" {
		t.Errorf("DefaultPath() = %q before the file exists", got)
	}
	if err := WriteConfig(Default(), path); err != nil {
		t.Fatal(err)
	}
	if got := DefaultPath(); got != path {
		t.Errorf("DefaultPath() = %q, want %q", got, path)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GRIDWATCH_OUTPUT_DIR", "GRIDWATCH_DATA_BASEDIR", "GRIDWATCH_LOG_BASEDIR",
		"GRIDWATCH_IGNORE_FILE_MODIFICATIONS", "GRIDWATCH_UPDATE_INTERVAL", "GRIDWATCH_METRICS_ADDR",
		"GRIDWATCH_POSTPROCESSOR", "GRIDWATCH_REPORT_GENERATOR", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
}
