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

package rundb

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tombee/gridwatch/internal/log"
	"github.com/tombee/gridwatch/internal/record"
)

// ImportOptions controls directory imports.
type ImportOptions struct {
	// Rewrite persists experiment and sample corrections to the record file
	Rewrite bool
}

// ImportResult summarises one import.
type ImportResult struct {
	Files     int
	Added     int
	Skipped   int
	Rewritten int
}

// ReloadRuns rescans <dir>/<experiment>/<sample>/*.json and replaces every
// non-QC record with what was found. Files are read before the database lock
// is taken; the swap itself is one locked update. Experiment and sample are
// taken from the directory names.
func (db *DB) ReloadRuns(dir string, opts ImportOptions) (ImportResult, error) {
	var res ImportResult

	experiments, err := os.ReadDir(dir)
	if err != nil {
		return res, fmt.Errorf("read runs directory: %w", err)
	}

	var recs []record.Record
	for _, exp := range experiments {
		if !exp.IsDir() {
			continue
		}
		expDir := filepath.Join(dir, exp.Name())
		samples, err := os.ReadDir(expDir)
		if err != nil {
			db.logger.Debug("skipping unreadable directory", slog.String(log.PathKey, expDir), log.Error(err))
			continue
		}
		for _, sample := range samples {
			if !sample.IsDir() {
				continue
			}
			sampleDir := filepath.Join(expDir, sample.Name())
			for _, path := range jsonFiles(sampleDir) {
				res.Files++
				rec, err := ReadRecord(path)
				if err != nil {
					res.Skipped++
					corruptFiles.Inc()
					db.logger.Warn("failed to parse record file, json format or data structure corrupt",
						slog.String(log.PathKey, path), log.Error(err))
					continue
				}
				if rec.Run.Experiment != exp.Name() || rec.Run.Sample != sample.Name() {
					rec.Run.Experiment = exp.Name()
					rec.Run.Sample = sample.Name()
					if opts.Rewrite {
						if err := WriteRecord(path, rec); err != nil {
							db.logger.Warn("failed to rewrite record file", slog.String(log.PathKey, path), log.Error(err))
						} else {
							res.Rewritten++
							db.logger.Info("wrote experiment and sample attributes to record file", slog.String(log.PathKey, path))
						}
					}
				}
				recs = append(recs, rec)
			}
		}
	}

	added := db.Replace(recs)
	res.Added = len(added)
	res.Skipped += len(recs) - len(added)
	for _, rec := range added {
		db.mux.Add(rec.Flowcell, rec.MuxScans...)
	}
	reloads.Inc()

	db.logger.Info("imported sequencing runs",
		slog.String(log.PathKey, dir),
		slog.Int("files", res.Files),
		slog.Int("added", res.Added),
		slog.Int("skipped", res.Skipped))
	return res, nil
}

// ImportQC feeds the mux scans of every QC record in dir into the index.
func (db *DB) ImportQC(dir string) (ImportResult, error) {
	var res ImportResult
	if _, err := os.Stat(dir); err != nil {
		return res, fmt.Errorf("read qc directory: %w", err)
	}
	for _, path := range jsonFiles(dir) {
		res.Files++
		rec, err := ReadRecord(path)
		if err != nil {
			res.Skipped++
			corruptFiles.Inc()
			db.logger.Warn("failed to parse record file, json format or data structure corrupt",
				slog.String(log.PathKey, path), log.Error(err))
			continue
		}
		db.mux.Add(rec.Flowcell, rec.MuxScans...)
		res.Added++
	}
	db.logger.Info("imported platform qc entries", slog.String(log.PathKey, dir), slog.Int("files", res.Files))
	return res, nil
}

func jsonFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".json") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out
}
