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

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/gridwatch/internal/config"
	"github.com/tombee/gridwatch/internal/lifecycle"
	"github.com/tombee/gridwatch/internal/log"
	"github.com/tombee/gridwatch/internal/monitor"
	"github.com/tombee/gridwatch/internal/rundb"
)

// NewRootCommand creates the root command. Run without a subcommand it
// watches the instrument until interrupted.
func NewRootCommand() *cobra.Command {
	g := &globalFlags{}
	w := &watchFlags{}

	cmd := &cobra.Command{
		Use:   "gridwatch",
		Short: "gridwatch - GridION run monitor",
		Long: `gridwatch follows the log files of every GridION channel, records QC
and sequencing runs, starts per-run post-processing and report
generation, and keeps an HTML overview of mounted flowcells and past
experiments up to date.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, g, w)
		},
	}

	g.register(cmd.PersistentFlags())
	w.register(cmd.Flags())

	cmd.AddCommand(
		newRunsCommand(g),
		newConfigCommand(g),
		newVersionCommand(g),
	)
	return cmd
}

func runWatch(cmd *cobra.Command, g *globalFlags, w *watchFlags) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	if err := w.apply(cmd.Flags(), cfg); err != nil {
		return configError(err)
	}
	if err := cfg.Validate(); err != nil {
		return configError(err)
	}
	if err := checkIdentityFile(cfg); err != nil {
		return err
	}

	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	logger, closer, err := newLogger(cfg, host)
	if err != nil {
		return &ExitError{Code: ExitFailed, Message: "failed to set up logging", Cause: err}
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(logger)
	logger.Info("starting gridwatch", slog.String("version", version), slog.String("host", host))

	m, err := monitor.New(cfg, monitor.Options{Version: version, Host: host, Logger: logger})
	if err != nil {
		return &ExitError{Code: ExitFailed, Message: "failed to create monitor", Cause: err}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = m.Run(ctx)
	switch {
	case errors.Is(err, lifecycle.ErrLocked):
		return &ExitError{Code: ExitLocked, Message: "another gridwatch instance uses " + cfg.Paths.OutputDir, Cause: err}
	case err != nil && !errors.Is(err, context.Canceled):
		logger.Error("monitor failed", log.Error(err))
		return &ExitError{Code: ExitFailed, Message: "monitor failed", Cause: err}
	}
	logger.Info("gridwatch stopped")
	return nil
}

// newLogger builds the process logger from the environment and cfg. The
// returned closer is nil when no log file is written.
func newLogger(cfg *config.Config, host string) (*slog.Logger, io.Closer, error) {
	logCfg := log.FromEnv()
	logCfg.Level = cfg.Log.Level
	logCfg.Format = log.Format(cfg.Log.Format)
	logCfg.AddSource = logCfg.AddSource || cfg.Log.AddSource

	path := cfg.Log.File
	if path == "" && cfg.Log.ToFile {
		path = filepath.Join(rundb.LogsDir(cfg.Paths.OutputDir), log.DefaultFileName(time.Now(), host, cfg.Log.Level))
	}
	if path == "" {
		return log.New(logCfg), nil, nil
	}
	logger, closer, err := log.NewWithFile(logCfg, path)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return logger, closer, nil
}
