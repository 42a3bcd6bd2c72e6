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

package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got %q", cfg.Level)
	}
	if cfg.Format != FormatText {
		t.Errorf("expected default format 'text', got %q", cfg.Format)
	}
	if cfg.Output != os.Stderr {
		t.Errorf("expected default output to be os.Stderr")
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name      string
		envVars   map[string]string
		level     string
		format    Format
		addSource bool
	}{
		{name: "defaults when no env vars", envVars: map[string]string{}, level: "info", format: FormatText},
		{name: "LOG_LEVEL=DEBUG (case insensitive)", envVars: map[string]string{"LOG_LEVEL": "DEBUG"}, level: "debug", format: FormatText},
		{name: "GRIDWATCH_LOG_LEVEL wins over LOG_LEVEL", envVars: map[string]string{"LOG_LEVEL": "error", "GRIDWATCH_LOG_LEVEL": "warn"}, level: "warn", format: FormatText},
		{name: "GRIDWATCH_DEBUG enables source", envVars: map[string]string{"GRIDWATCH_DEBUG": "1", "LOG_LEVEL": "error"}, level: "debug", format: FormatText, addSource: true},
		{name: "LOG_FORMAT=json", envVars: map[string]string{"LOG_FORMAT": "JSON"}, level: "info", format: FormatJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"GRIDWATCH_DEBUG", "GRIDWATCH_LOG_LEVEL", "LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE"} {
				t.Setenv(key, "")
			}
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := FromEnv()
			if cfg.Level != tt.level {
				t.Errorf("Level = %q, want %q", cfg.Level, tt.level)
			}
			if cfg.Format != tt.format {
				t.Errorf("Format = %q, want %q", cfg.Format, tt.format)
			}
			if cfg.AddSource != tt.addSource {
				t.Errorf("AddSource = %v, want %v", cfg.AddSource, tt.addSource)
			}
		})
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})

	WithChannel(logger, "GA10000").Info("mux scan", slog.Int("total", 800), Error(errors.New("boom")))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v", err)
	}
	if entry[ChannelKey] != "GA10000" {
		t.Errorf("channel = %v, want GA10000", entry[ChannelKey])
	}
	if entry["error"] != "boom" {
		t.Errorf("error = %v, want boom", entry["error"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "warn", Format: FormatText, Output: &buf})

	logger.Info("hidden")
	Trace(logger, "hidden too")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("expected info/trace to be filtered, got %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("expected warn to be logged, got %q", out)
	}
}

func TestNewWithFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "run.log")

	logger, closer, err := NewWithFile(&Config{Level: "info", Format: FormatText, Output: &buf}, path)
	if err != nil {
		t.Fatalf("NewWithFile failed: %v", err)
	}
	logger.Info("hello file")
	if err := closer.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello file") || !strings.Contains(buf.String(), "hello file") {
		t.Errorf("expected message in both sinks")
	}
}

func TestDefaultFileName(t *testing.T) {
	now := time.Date(2018, 5, 14, 10, 21, 0, 0, time.UTC)
	if got := DefaultFileName(now, "gridion", "INFO"); got != "2018-05-14_10:21_gridion_info.log" {
		t.Errorf("DefaultFileName = %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"trace": LevelTrace, "debug": slog.LevelDebug, "warning": slog.LevelWarn,
		"error": slog.LevelError, "bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
