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
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/gridwatch/internal/config"
)

// Build-time version information.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// GetVersion returns version information.
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	verbose    bool
	quiet      bool
	json       bool
}

func (g *globalFlags) register(fs *pflag.FlagSet) {
	fs.BoolVarP(&g.verbose, "verbose", "v", false, "Print debug messages")
	fs.BoolVar(&g.quiet, "quiet", false, "Only print warnings and errors")
	fs.BoolVar(&g.json, "json", false, "Output in JSON format")
	fs.StringVar(&g.configPath, "config", "", "Path to config file (default: ~/.config/gridwatch/config.yaml)")
}

// watchFlags override configuration values for the watcher.
type watchFlags struct {
	outputDir      string
	dataBasedir    string
	logBasedir     string
	logFile        string
	ignoreMods     bool
	updateInterval string
	metricsAddr    string
	noBrowser      bool

	noTransfer      bool
	allFast5        bool
	passOnly        bool
	minLength       int
	minLengthRNA    int
	minQuality      int
	rsyncDest       string
	identityFile    string
	barcodeKeywords []string
	reportArgs      string
}

func (w *watchFlags) register(fs *pflag.FlagSet) {
	d := config.Default()

	fs.StringVarP(&w.outputDir, "output_dir", "o", d.Paths.OutputDir, "Base directory for run records, reports and the overview page")
	fs.StringVar(&w.dataBasedir, "data_basedir", d.Paths.DataBasedir, "Directory where basecalled data is saved")
	fs.StringVar(&w.logBasedir, "minknow_log_basedir", d.Paths.LogBasedir, "Base directory of the instrument's log files")
	fs.StringVar(&w.logFile, "logfile", "", "File receiving a copy of the log (default: OUTPUT_DIR/logs/YYYY-MM-DD_hh:mm_HOST_LEVEL.log)")
	fs.BoolVarP(&w.ignoreMods, "ignore_file_modifications", "m", false, "Only consider file creations when choosing the latest log files")
	fs.StringVarP(&w.updateInterval, "update_interval", "u", "300", "Minimum interval between report updates, in seconds or as a duration")
	fs.StringVar(&w.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9107")
	fs.BoolVar(&w.noBrowser, "no-browser", false, "Do not open the overview and reports in a browser")

	fs.BoolVarP(&w.noTransfer, "no_transfer", "n", false, "No data transfer to the remote host")
	fs.BoolVarP(&w.allFast5, "all_fast5", "a", false, "Also bin fast5 files of reads removed by filtering")
	fs.BoolVarP(&w.passOnly, "pass_only", "p", false, "Use data from fastq_pass only")
	fs.IntVarP(&w.minLength, "min_length", "l", d.PostProcessor.MinLength, "Minimal read length to pass the filter")
	fs.IntVarP(&w.minLengthRNA, "min_length_rna", "r", d.PostProcessor.MinLengthRNA, "Minimal read length to pass the filter for RNA libraries")
	fs.IntVarP(&w.minQuality, "min_quality", "q", d.PostProcessor.MinQuality, "Minimal quality to pass the filter")
	fs.StringVarP(&w.rsyncDest, "rsync_dest", "d", "", "Destination for data transfer with rsync, USER@HOST[:DEST]")
	fs.StringVarP(&w.identityFile, "identity_file", "i", "", "Private key used to authenticate the data transfer")
	fs.StringSliceVar(&w.barcodeKeywords, "bc_kws", d.PostProcessor.BarcodeKeywords, "Run name substrings that enable demultiplexing")
	fs.StringVar(&w.reportArgs, "statsparser_args", "", "Arguments passed to the report generator")
}

// apply copies every explicitly set flag into cfg.
func (w *watchFlags) apply(fs *pflag.FlagSet, cfg *config.Config) error {
	set := func(name string) bool { return fs.Changed(name) }

	if set("output_dir") {
		cfg.Paths.OutputDir = w.outputDir
	}
	if set("data_basedir") {
		cfg.Paths.DataBasedir = w.dataBasedir
	}
	if set("minknow_log_basedir") {
		cfg.Paths.LogBasedir = w.logBasedir
	}
	if set("logfile") {
		cfg.Log.File = w.logFile
	}
	if set("ignore_file_modifications") {
		cfg.Channels.IgnoreFileModifications = w.ignoreMods
	}
	if set("update_interval") {
		if err := cfg.SetUpdateInterval(w.updateInterval); err != nil {
			return err
		}
	}
	if set("metrics-addr") {
		cfg.Metrics.Addr = w.metricsAddr
	}
	if w.noBrowser {
		cfg.Overview.OpenBrowser = false
		cfg.Report.OpenBrowser = false
	}

	pp := &cfg.PostProcessor
	if set("no_transfer") {
		pp.NoTransfer = w.noTransfer
	}
	if set("all_fast5") {
		pp.AllFast5 = w.allFast5
	}
	if set("pass_only") {
		pp.PassOnly = w.passOnly
	}
	if set("min_length") {
		pp.MinLength = w.minLength
	}
	if set("min_length_rna") {
		pp.MinLengthRNA = w.minLengthRNA
	}
	if set("min_quality") {
		pp.MinQuality = w.minQuality
	}
	if set("rsync_dest") {
		pp.RsyncDest = w.rsyncDest
	}
	if set("identity_file") {
		pp.IdentityFile = w.identityFile
	}
	if set("bc_kws") {
		pp.BarcodeKeywords = w.barcodeKeywords
	}
	if set("statsparser_args") {
		cfg.Report.Args = strings.Fields(w.reportArgs)
	}
	return nil
}

// loadConfig loads the config file named by --config, or the default file
// when it exists, and applies the verbosity flags.
func loadConfig(g *globalFlags) (*config.Config, error) {
	path := g.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, configError(err)
	}
	switch {
	case g.verbose:
		cfg.Log.Level = "debug"
	case g.quiet:
		cfg.Log.Level = "warn"
	}
	return cfg, nil
}

// checkIdentityFile refuses to start when the transfer key is missing.
func checkIdentityFile(cfg *config.Config) error {
	path := cfg.PostProcessor.IdentityFile
	if path == "" || cfg.PostProcessor.NoTransfer {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return configError(fmt.Errorf("identity file %s does not exist, check key authentication or pass a different key with -i", path))
	}
	return nil
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
