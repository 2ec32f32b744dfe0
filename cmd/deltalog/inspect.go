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
	"time"

	"github.com/attic-labs/kingpin"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/dolthub/deltalog/store/txlog"
	"github.com/dolthub/deltalog/store/vacuum"
)

func logCommand(app *kingpin.Application) (*kingpin.CmdClause, handler) {
	cmd := app.Command("log", "Lists the commits of the table")
	from := cmd.Flag("from", "first version to list").Default("0").Int64()
	to := cmd.Flag("to", "last version to list, -1 for the latest").Default("-1").Int64()

	return cmd, func(ctx context.Context, e *env) error {
		latest, err := e.tbl.LatestVersion(ctx)
		if err != nil {
			return err
		}
		if latest < 0 {
			return vacuum.ErrNotATable.New(e.tbl.Path())
		}

		yellow := color.New(color.FgYellow)
		return e.tbl.History(ctx, *from, *to, func(c *txlog.Commit) error {
			var adds, removes int
			for _, a := range c.Actions {
				switch {
				case a.Add != nil:
					adds++
				case a.Remove != nil:
					removes++
				}
			}
			op := "UNKNOWN"
			if info := c.Info(); info != nil {
				op = info.Operation
			}
			yellow.Fprintf(e.stdout, "version %d", c.Version)
			fmt.Fprintf(e.stdout, "  %s  %-14s +%d -%d\n", c.Timestamp.UTC().Format(time.RFC3339), op, adds, removes)
			return nil
		})
	}
}

func stateCommand(app *kingpin.Application) (*kingpin.CmdClause, handler) {
	cmd := app.Command("state", "Prints the live files of the table at a version")
	version := cmd.Flag("version", "version to reconstruct, -1 for the latest").Default("-1").Int64()

	return cmd, func(ctx context.Context, e *env) error {
		state, err := e.tbl.State(ctx, *version)
		if err != nil {
			return err
		}
		if state.Version < 0 {
			return vacuum.ErrNotATable.New(e.tbl.Path())
		}

		color.New(color.Bold).Fprintf(e.stdout, "version %d: %d live files, %s, %d tombstones\n",
			state.Version, len(state.Files), humanize.Bytes(uint64(state.SizeInBytes())), len(state.Tombstones))
		for _, f := range state.LiveFiles() {
			fmt.Fprintf(e.stdout, "  %s\t%s\n", f.Path, humanize.Bytes(uint64(f.Size)))
		}
		return nil
	}
}

func checkpointCommand(app *kingpin.Application) (*kingpin.CmdClause, handler) {
	cmd := app.Command("checkpoint", "Writes a checkpoint of the latest version")

	return cmd, func(ctx context.Context, e *env) error {
		v, err := e.tbl.Checkpoint(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "checkpoint written at version %d\n", v)
		return nil
	}
}
