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
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/tombee/gridwatch/pkg/errors"
)

var validLevels = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []string

	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	for key, val := range map[string]string{
		"paths.output_dir":   c.Paths.OutputDir,
		"paths.data_basedir": c.Paths.DataBasedir,
		"paths.log_basedir":  c.Paths.LogBasedir,
	} {
		if val == "" {
			errs = append(errs, key+" must not be empty")
		}
	}

	if c.Channels.Count < 1 || c.Channels.Count > 9 {
		errs = append(errs, fmt.Sprintf("channels.count must be between 1 and 9, got %d", c.Channels.Count))
	}
	if !strings.Contains(c.Channels.NameFormat, "%d") {
		errs = append(errs, fmt.Sprintf("channels.name_format must contain %%d, got %q", c.Channels.NameFormat))
	}

	for key, d := range map[string]time.Duration{
		"main_loop.poll_interval":         c.MainLoop.PollInterval,
		"main_loop.periodic_refresh":      c.MainLoop.PeriodicRefresh,
		"post_processor.poll_interval":    c.PostProcessor.PollInterval,
		"post_processor.late_start_delay": c.PostProcessor.LateStartDelay,
		"post_processor.late_run_limit":   c.PostProcessor.LateRunLimit,
		"report.update_interval":          c.Report.UpdateInterval,
		"overview.min_interval":           c.Overview.MinInterval,
		"reconciler.debounce":             c.Reconciler.Debounce,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be positive, got %v", key, d))
		}
	}

	if c.PostProcessor.Executable == "" {
		errs = append(errs, "post_processor.executable must not be empty")
	}
	if c.PostProcessor.MinLength < 0 || c.PostProcessor.MinLengthRNA < 0 {
		errs = append(errs, "post_processor minimum lengths must not be negative")
	}
	if c.PostProcessor.Niceness < 0 || c.PostProcessor.Niceness > 19 {
		errs = append(errs, fmt.Sprintf("post_processor.niceness must be between 0 and 19, got %d", c.PostProcessor.Niceness))
	}
	if c.Report.Executable == "" {
		errs = append(errs, "report.executable must not be empty")
	}

	switch c.Persistence.QCSavePolicy {
	case QCPolicyObserved, QCPolicyRequireFields:
	default:
		errs = append(errs, fmt.Sprintf("persistence.qc_save_policy must be one of [%s, %s], got %q",
			QCPolicyObserved, QCPolicyRequireFields, c.Persistence.QCSavePolicy))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// IsInvalid reports whether err is a validation failure.
func IsInvalid(err error) bool {
	return pkgerrors.Is(err, ErrInvalidConfig)
}
