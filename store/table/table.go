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


// Package table opens a table by URL and wires its log, snapshot builder, commit
// coordinator and vacuum together.
package table

import (
	"context"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/dolthub/deltalog/libraries/utils/filesys"
	"github.com/dolthub/deltalog/store/blobstore"
	"github.com/dolthub/deltalog/store/commit"
	"github.com/dolthub/deltalog/store/snapshot"
	"github.com/dolthub/deltalog/store/txlog"
	"github.com/dolthub/deltalog/store/vacuum"
)

// LeaseKey is the key of the lock file held by vacuums of local tables.
const LeaseKey = txlog.LogPrefix + ".vacuum.lock"

// Options configures Open. Zero values select defaults.
type Options struct {
	Storage blobstore.OpenOptions
	// DynamoTable coordinates commits to s3:// tables through a DynamoDB table when set.
	DynamoTable string
	// Commit defaults to commit.DefaultConfig().
	Commit   *commit.Config
	Snapshot snapshot.Options
	Now      func() time.Time

	Logger     *logrus.Entry
	Registerer prometheus.Registerer
}

// Table is an open table.
type Table struct {
	url      string
	bs       blobstore.Blobstore
	builder  *snapshot.Builder
	coord    *commit.Coordinator
	planner  *vacuum.Planner
	executor *vacuum.Executor
	now      func() time.Time
	lgr      *logrus.Entry
}

// Open opens the table at |tableURL|. Opening never writes; a location without a log opens
// as an empty table.
func Open(ctx context.Context, tableURL string, opts Options) (*Table, error) {
	bs, err := blobstore.OpenURL(ctx, tableURL, opts.Storage)
	if err != nil {
		return nil, err
	}

	var ls txlog.LogStore
	if opts.DynamoTable != "" {
		if _, ok := bs.(*blobstore.S3Blobstore); !ok {
			return nil, errors.Errorf("dynamo_table requires an s3:// table, got %s", tableURL)
		}
		cfg, err := blobstore.LoadAWSConfig(ctx, opts.Storage)
		if err != nil {
			return nil, err
		}
		ls = txlog.NewDynamoLogStore(bs, dynamodb.NewFromConfig(cfg), opts.DynamoTable, opts.Logger)
	} else {
		ls = txlog.NewBlobLogStore(bs, opts.Logger)
	}

	var lease filesys.FilesysLock
	if local, ok := bs.(*blobstore.LocalBlobstore); ok {
		lease = filesys.NewLocalFileLock(filepath.Join(local.Path(), filepath.FromSlash(LeaseKey)))
	} else {
		lease = filesys.NewInMemFileLock(tableURL)
	}

	return New(ls, lease, opts)
}

// New returns a Table over |ls|. |lease|, when non-nil, serializes vacuums.
func New(ls txlog.LogStore, lease filesys.FilesysLock, opts Options) (*Table, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	snapOpts := opts.Snapshot
	snapOpts.Logger = opts.Logger
	snapOpts.Registerer = opts.Registerer
	builder, err := snapshot.NewBuilder(ls, snapOpts)
	if err != nil {
		return nil, err
	}

	commitCfg := commit.DefaultConfig()
	if opts.Commit != nil {
		commitCfg = *opts.Commit
	}
	commitCfg.Now = opts.Now
	commitCfg.Logger = opts.Logger
	commitCfg.Registerer = opts.Registerer
	coord := commit.NewCoordinator(builder, commitCfg)

	bs := ls.Blobstore()
	return &Table{
		url:     bs.Path(),
		bs:      bs,
		builder: builder,
		coord:   coord,
		planner: vacuum.NewPlanner(builder, opts.Logger),
		executor: vacuum.NewExecutor(bs, vacuum.ExecutorOptions{
			Audit:      coord,
			Lease:      lease,
			Now:        opts.Now,
			Logger:     opts.Logger,
			Registerer: opts.Registerer,
		}),
		now: opts.Now,
		lgr: opts.Logger.WithField("table", bs.Path()),
	}, nil
}

// Path returns the location of the table.
func (t *Table) Path() string {
	return t.url
}

func (t *Table) Blobstore() blobstore.Blobstore {
	return t.bs
}

// LatestVersion returns the newest version, or -1 for an empty table.
func (t *Table) LatestVersion(ctx context.Context) (int64, error) {
	return t.builder.LatestVersion(ctx)
}

// State returns the table state at |version|, or the latest state if |version| is negative.
func (t *Table) State(ctx context.Context, version int64) (*snapshot.TableState, error) {
	if version < 0 {
		return t.builder.Latest(ctx)
	}
	return t.builder.BuildState(ctx, version)
}

// History calls |cb| for each commit from |from| through |to|. A negative |to| means latest.
func (t *Table) History(ctx context.Context, from, to int64, cb func(*txlog.Commit) error) error {
	return t.builder.History(ctx, from, to, cb)
}

// Create writes version 0 of the table.
func (t *Table) Create(ctx context.Context, md txlog.Metadata, files []txlog.Action) (int64, error) {
	return t.coord.CreateTable(ctx, md, nil, files)
}

// Commit publishes |actions| on top of |base|.
func (t *Table) Commit(ctx context.Context, base int64, actions []txlog.Action, opts commit.Options) (int64, error) {
	return t.coord.Commit(ctx, base, actions, opts)
}

// Checkpoint writes a checkpoint of the latest version and returns that version.
func (t *Table) Checkpoint(ctx context.Context) (int64, error) {
	state, err := t.builder.Latest(ctx)
	if err != nil {
		return -1, err
	}
	if state.Version < 0 {
		return -1, vacuum.ErrNotATable.New(t.url)
	}
	if err := t.builder.WriteCheckpoint(ctx, state); err != nil {
		return -1, err
	}
	t.lgr.Infof("table/checkpoint: wrote checkpoint at version %d", state.Version)
	return state.Version, nil
}

// Plan computes what a vacuum with |cfg| would delete now without deleting anything.
func (t *Table) Plan(ctx context.Context, cfg vacuum.Config) (*vacuum.Plan, error) {
	return t.planner.WithHistoryLookback(cfg.HistoryLookback).Plan(ctx, cfg.Window(), t.now())
}

// Vacuum plans and executes a vacuum with |cfg|.
func (t *Table) Vacuum(ctx context.Context, cfg vacuum.Config) (*vacuum.Plan, *vacuum.Metrics, error) {
	return vacuum.Run(ctx, t.planner, t.executor, cfg, t.now())
}
