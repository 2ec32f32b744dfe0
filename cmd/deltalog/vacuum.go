// Copyright 2026 Dolthub, Inc.
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


package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/attic-labs/kingpin"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/goccy/go-json"

	"github.com/dolthub/deltalog/store/vacuum"
)

func vacuumCommand(app *kingpin.Application) (*kingpin.CmdClause, handler) {
	cmd := app.Command("vacuum", `Deletes data files that are no longer part of the table
A file is deleted when it is not live and either its tombstone is older than the retention
period or the log never referenced it and it was last modified before the retention period.
Runs are dry runs unless --no-dry-run is given.`)

	retention := cmd.Flag("retention-period", "how long removed files are kept, e.g. 168h").String()
	dryRun := &optionalBool{}
	cmd.Flag("dry-run", "list the files that would be deleted without deleting them (default true)").SetValue(dryRun)
	enforce := &optionalBool{}
	cmd.Flag("enforce-retention-duration", "refuse retention periods under 168h (default true)").SetValue(enforce)
	parallelism := cmd.Flag("parallelism", "number of concurrent deletes").Int()
	report := cmd.Flag("report", "write the run's metrics as json to this file").String()
	asJSON := cmd.Flag("json", "print the run's metrics as json").Bool()

	return cmd, func(ctx context.Context, e *env) error {
		if *retention != "" {
			e.cfg.Vacuum.RetentionPeriod = *retention
		}
		dryRun.apply(e.cfg.Vacuum.DryRun)
		enforce.apply(e.cfg.Vacuum.EnforceRetention)
		if *parallelism > 0 {
			e.cfg.Vacuum.Parallelism = *parallelism
		}

		cfg, err := e.cfg.ToVacuumConfig()
		if err != nil {
			return err
		}

		plan, metrics, err := e.tbl.Vacuum(ctx, cfg)
		if metrics == nil {
			return err
		}

		if *report != "" {
			if rerr := writeReport(*report, metrics); rerr != nil && err == nil {
				err = rerr
			}
		}
		if *asJSON {
			if jerr := printJSON(e.stdout, metrics); jerr != nil && err == nil {
				err = jerr
			}
		} else {
			printVacuum(e.stdout, plan, metrics)
		}
		return err
	}
}

func writeReport(path string, metrics *vacuum.Metrics) error {
	data, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printVacuum(w io.Writer, plan *vacuum.Plan, metrics *vacuum.Metrics) {
	bold := color.New(color.Bold)
	if metrics.DryRun {
		bold.Fprintf(w, "Dry run at version %d: %d files (%s) would be deleted\n",
			metrics.SnapshotVersion, len(metrics.FilesDeleted), humanize.Bytes(uint64(metrics.BytesReclaimed)))
		for _, c := range plan.FilesToDelete {
			fmt.Fprintf(w, "  %s\t%s\t%s\n", c.Path, humanize.Bytes(uint64(c.Size)), c.Reason)
		}
		fmt.Fprintf(w, "Retention threshold %s\n", plan.Threshold.UTC().Format(time.RFC3339))
		return
	}

	bold.Fprintf(w, "Deleted %d of %d files at version %d, reclaimed %s\n",
		len(metrics.FilesDeleted), metrics.FilesPlanned, metrics.SnapshotVersion, humanize.Bytes(uint64(metrics.BytesReclaimed)))
	for _, path := range metrics.FilesDeleted {
		fmt.Fprintf(w, "  %s\n", path)
	}
	if len(metrics.Failures) > 0 {
		red := color.New(color.FgRed)
		red.Fprintf(w, "%d files could not be deleted:\n", len(metrics.Failures))
		for _, f := range metrics.Failures {
			red.Fprintf(w, "  %s: %s\n", f.Path, f.Reason)
		}
	}
}
