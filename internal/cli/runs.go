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
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/gridwatch/internal/log"
	"github.com/tombee/gridwatch/internal/logline"
	"github.com/tombee/gridwatch/internal/overview"
	"github.com/tombee/gridwatch/internal/record"
	"github.com/tombee/gridwatch/internal/rundb"
)

// RunInfo is one line of the run listing.
type RunInfo struct {
	Start      string `json:"start"`
	Duration   string `json:"duration"`
	Experiment string `json:"experiment"`
	Sample     string `json:"sample"`
	Kit        string `json:"sequencing_kit"`
	Flowcell   string `json:"flowcell_id"`
	Channel    string `json:"minion_id"`
	RunID      string `json:"run_id"`
}

func newRunsCommand(g *globalFlags) *cobra.Command {
	var outputDir string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded sequencing runs",
		Long: `Import the run records below OUTPUT_DIR/runs and list them, oldest first.
Records that cannot be read are reported on stderr and skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("output_dir") {
				cfg.Paths.OutputDir = outputDir
			}

			logger := log.Discard()
			if g.verbose {
				logger = log.New(log.FromEnv())
			}
			db := rundb.New(logger)
			if _, err := db.ReloadRuns(rundb.RunsDir(cfg.Paths.OutputDir), rundb.ImportOptions{}); err != nil {
				return &ExitError{Code: ExitFailed, Message: "failed to import runs", Cause: err}
			}
			return printRuns(cmd, db.All(), g.json)
		},
	}
	cmd.Flags().StringVarP(&outputDir, "output_dir", "o", "", "Base directory holding the runs directory")
	return cmd
}

func runInfo(rec record.Record) RunInfo {
	info := RunInfo{
		Start:      rec.Run.ProtocolStart,
		Duration:   "N/A",
		Experiment: rec.Run.Experiment,
		Sample:     rec.Run.Sample,
		Kit:        rec.Run.SequencingKit,
		Flowcell:   rec.Flowcell.FlowcellID,
		Channel:    rec.Run.MinionID,
		RunID:      rec.Run.RunID,
	}
	start, err1 := logline.ParseTimestamp(rec.Run.ProtocolStart)
	end, err2 := logline.ParseTimestamp(rec.Run.ProtocolEnd)
	if err1 == nil && err2 == nil {
		info.Duration = overview.FormatDuration(end.Sub(start))
	}
	return info
}

func printRuns(cmd *cobra.Command, recs []record.Record, asJSON bool) error {
	runs := make([]RunInfo, 0, len(recs))
	for _, rec := range recs {
		runs = append(runs, runInfo(rec))
	}

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	if len(runs) == 0 {
		printf(cmd, "No runs recorded.\n")
		return nil
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "START\tDURATION\tEXPERIMENT\tSAMPLE\tKIT\tFLOWCELL\tCHANNEL\tRUN ID")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Start, r.Duration, r.Experiment, r.Sample, r.Kit, r.Flowcell, r.Channel, r.RunID)
	}
	return tw.Flush()
}
