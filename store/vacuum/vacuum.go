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


// Package vacuum reclaims storage from data files that are no longer part of a table.
//
// A vacuum plans against the latest table state: a file is deleted only when it is not
// live and either its tombstone is older than the retention threshold or the log never
// referenced it and it was last modified before the threshold. Files of the log itself are
// never deleted.
package vacuum

import (
	"context"
	"time"
)

// Run plans a vacuum with |cfg| at time |now| and executes it. The plan is returned even
// when execution fails.
func Run(ctx context.Context, planner *Planner, executor *Executor, cfg Config, now time.Time) (*Plan, *Metrics, error) {
	plan, err := planner.WithHistoryLookback(cfg.HistoryLookback).Plan(ctx, cfg.Window(), now)
	if err != nil {
		return nil, nil, err
	}

	metrics, err := executor.WithConfig(cfg).Execute(ctx, plan, cfg.DryRun)
	return plan, metrics, err
}
