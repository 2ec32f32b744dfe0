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

	"github.com/attic-labs/kingpin"
	"github.com/pkg/errors"

	"github.com/dolthub/deltalog/store/commit"
	"github.com/dolthub/deltalog/store/txlog"
)

const latestBase = -2

func commitCommand(app *kingpin.Application) (*kingpin.CmdClause, handler) {
	cmd := app.Command("commit", `Appends a commit adding or removing data files
The first commit to a location creates the table.`)
	adds := cmd.Flag("add", "path:size of a data file to add, repeatable").Strings()
	removes := cmd.Flag("remove", "path of a data file to remove, repeatable").Strings()
	base := cmd.Flag("base", "version the commit is based on, -1 for an empty table; defaults to the latest").Default("-2").Int64()
	operation := cmd.Flag("operation", "operation recorded in the commit").Default("WRITE").String()
	name := cmd.Flag("name", "table name when creating the table").String()

	return cmd, func(ctx context.Context, e *env) error {
		if len(*adds) == 0 && len(*removes) == 0 {
			return errors.New("nothing to commit: pass --add or --remove")
		}

		now := nowFunc()
		actions := make([]txlog.Action, 0, len(*adds)+len(*removes))
		for _, spec := range *adds {
			path, size, err := parseAddSpec(spec)
			if err != nil {
				return err
			}
			actions = append(actions, txlog.NewAdd(path, size, now, true))
		}
		for _, path := range *removes {
			actions = append(actions, txlog.NewRemove(path, now, true))
		}

		b := *base
		if b == latestBase {
			latest, err := e.tbl.LatestVersion(ctx)
			if err != nil {
				return err
			}
			b = latest
		}

		var v int64
		var err error
		if b < 0 {
			if len(*removes) > 0 {
				return errors.New("cannot remove files while creating a table")
			}
			v, err = e.tbl.Create(ctx, txlog.Metadata{Name: *name}, actions)
		} else {
			v, err = e.tbl.Commit(ctx, b, actions, commit.Options{Operation: *operation})
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(e.stdout, "committed version %d\n", v)
		return nil
	}
}
