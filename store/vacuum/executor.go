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


package vacuum

import (
	"context"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/dolthub/deltalog/libraries/utils/filesys"
	"github.com/dolthub/deltalog/libraries/utils/promutil"
	"github.com/dolthub/deltalog/libraries/utils/tracing"
	"github.com/dolthub/deltalog/store/blobstore"
	"github.com/dolthub/deltalog/store/commit"
	"github.com/dolthub/deltalog/store/txlog"
)

const (
	opVacuumStart = "VACUUM START"
	opVacuumEnd   = "VACUUM END"

	statusCompleted = "COMPLETED"
	statusFailed    = "FAILED"

	reasonCancelled = "cancelled"
)

// Failure is a planned file that could not be deleted.
type Failure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Metrics reports the outcome of one vacuum.
type Metrics struct {
	DryRun          bool      `json:"dryRun"`
	SnapshotVersion int64     `json:"snapshotVersion"`
	FilesPlanned    int       `json:"filesPlanned"`
	FilesDeleted    []string  `json:"filesDeleted"`
	BytesReclaimed  int64     `json:"bytesReclaimed"`
	Failures        []Failure `json:"failures"`
	AuditErrors     []string  `json:"auditErrors,omitempty"`
	StartedAt       time.Time `json:"startedAt"`
	FinishedAt      time.Time `json:"finishedAt"`
}

// ExecutorOptions configures an Executor. Zero values select defaults.
type ExecutorOptions struct {
	// Parallelism bounds concurrent deletes.
	Parallelism int
	// Audit records VACUUM START and VACUUM END commits around real runs when non-nil.
	Audit *commit.Coordinator
	// Lease, when set, is held for the duration of a real run.
	Lease filesys.FilesysLock
	Now   func() time.Time

	Logger     *logrus.Entry
	Registerer prometheus.Registerer
}

type executorMetrics struct {
	filesDeleted   prometheus.Counter
	bytesReclaimed prometheus.Counter
	failures       prometheus.Counter
}

func newExecutorMetrics(reg prometheus.Registerer) *executorMetrics {
	return &executorMetrics{
		filesDeleted: promutil.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deltalog_vacuum_files_deleted_total",
			Help: "Count of files deleted by vacuum",
		})),
		bytesReclaimed: promutil.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deltalog_vacuum_bytes_reclaimed_total",
			Help: "Bytes of storage reclaimed by vacuum",
		})),
		failures: promutil.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deltalog_vacuum_delete_failures_total",
			Help: "Count of planned files vacuum failed to delete",
		})),
	}
}

// Executor deletes the files of a Plan.
type Executor struct {
	bs      blobstore.Blobstore
	opts    ExecutorOptions
	metrics *executorMetrics
	lgr     *logrus.Entry
}

// NewExecutor returns an Executor deleting from |bs|.
func NewExecutor(bs blobstore.Blobstore, opts ExecutorOptions) *Executor {
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultConfig().Parallelism
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Executor{
		bs:      bs,
		opts:    opts,
		metrics: newExecutorMetrics(opts.Registerer),
		lgr:     opts.Logger.WithField("table", bs.Path()),
	}
}

// WithConfig returns an Executor using the parallelism of |cfg| and, unless |cfg| disables
// audit, the audit coordinator of |e|.
func (e *Executor) WithConfig(cfg Config) *Executor {
	cp := *e
	if cfg.Parallelism > 0 {
		cp.opts.Parallelism = cfg.Parallelism
	}
	if !cfg.RecordAudit {
		cp.opts.Audit = nil
	}
	return &cp
}

// deleteResult is the outcome for one planned file. An empty reason is success.
type deleteResult struct {
	done   bool
	reason string
}

// Execute deletes the files of |plan|, or only reports them when |dryRun| is set. Per file
// failures are collected in the returned metrics and never stop the run. Files not
// attempted because |ctx| ended are reported as cancelled failures and the context error
// is returned with the metrics.
func (e *Executor) Execute(ctx context.Context, plan *Plan, dryRun bool) (metrics *Metrics, err error) {
	span, ctx := tracing.StartSpan(ctx, "vacuum.Execute",
		attribute.Bool("dryRun", dryRun), attribute.Int("files", len(plan.FilesToDelete)))
	defer func() { tracing.EndSpan(span, err) }()

	metrics = &Metrics{
		DryRun:          dryRun,
		SnapshotVersion: plan.SnapshotVersion,
		FilesPlanned:    len(plan.FilesToDelete),
		FilesDeleted:    []string{},
		Failures:        []Failure{},
		StartedAt:       e.opts.Now(),
	}

	if dryRun {
		for _, c := range plan.FilesToDelete {
			metrics.FilesDeleted = append(metrics.FilesDeleted, c.Path)
			metrics.BytesReclaimed += c.Size
		}
		metrics.FinishedAt = e.opts.Now()
		e.lgr.Infof("vacuum/execute: dry run found %d files (%s) to delete", len(metrics.FilesDeleted), humanize.Bytes(uint64(metrics.BytesReclaimed)))
		return metrics, nil
	}

	if e.opts.Lease != nil {
		ok, err := e.opts.Lease.TryLock()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrVacuumInProgress.New(e.bs.Path())
		}
		defer func() {
			if err := e.opts.Lease.Unlock(); err != nil {
				e.lgr.Warnf("vacuum/execute: unable to release lease: %v", err)
			}
		}()
	}

	e.audit(ctx, metrics, opVacuumStart, plan, map[string]string{
		"numFilesToDelete":   strconv.Itoa(len(plan.FilesToDelete)),
		"sizeOfDataToDelete": strconv.FormatInt(plan.TotalBytes(), 10),
	}, nil)

	results := e.deleteAll(ctx, plan)
	for i, c := range plan.FilesToDelete {
		r := results[i]
		if r.done {
			metrics.FilesDeleted = append(metrics.FilesDeleted, c.Path)
			metrics.BytesReclaimed += c.Size
		} else {
			metrics.Failures = append(metrics.Failures, Failure{Path: c.Path, Reason: r.reason})
		}
	}
	e.metrics.filesDeleted.Add(float64(len(metrics.FilesDeleted)))
	e.metrics.bytesReclaimed.Add(float64(metrics.BytesReclaimed))
	e.metrics.failures.Add(float64(len(metrics.Failures)))

	status := statusCompleted
	if len(metrics.Failures) > 0 {
		status = statusFailed
	}
	// recorded even when ctx has ended
	e.audit(context.WithoutCancel(ctx), metrics, opVacuumEnd, plan, map[string]string{
		"numDeletedFiles":        strconv.Itoa(len(metrics.FilesDeleted)),
		"numVacuumedDirectories": "0",
	}, map[string]string{"status": status})

	metrics.FinishedAt = e.opts.Now()
	e.lgr.Infof("vacuum/execute: deleted %d of %d files, reclaimed %s, %d failures",
		len(metrics.FilesDeleted), len(plan.FilesToDelete), humanize.Bytes(uint64(metrics.BytesReclaimed)), len(metrics.Failures))

	if err := txlog.CheckContext(ctx, "vacuum"); err != nil {
		return metrics, err
	}
	return metrics, nil
}

// deleteAll deletes the planned files with bounded parallelism and returns one result per
// file in plan order.
func (e *Executor) deleteAll(ctx context.Context, plan *Plan) []deleteResult {
	results := make([]deleteResult, len(plan.FilesToDelete))
	var eg errgroup.Group
	eg.SetLimit(e.opts.Parallelism)

	for i, c := range plan.FilesToDelete {
		if ctx.Err() != nil {
			results[i] = deleteResult{reason: reasonCancelled}
			continue
		}
		eg.Go(func() error {
			results[i] = e.deleteOne(ctx, c.Path)
			return nil
		})
	}
	_ = eg.Wait()
	return results
}

func (e *Executor) deleteOne(ctx context.Context, path string) deleteResult {
	if ctx.Err() != nil {
		return deleteResult{reason: reasonCancelled}
	}

	err := e.bs.Delete(ctx, path)
	switch {
	case err == nil:
		e.lgr.Tracef("vacuum/execute: deleted %s", path)
		return deleteResult{done: true}
	case blobstore.IsNotFoundError(err):
		e.lgr.Tracef("vacuum/execute: %s was already gone", path)
		return deleteResult{done: true}
	case ctx.Err() != nil:
		return deleteResult{reason: reasonCancelled}
	default:
		e.lgr.Warnf("vacuum/execute: unable to delete %s: %v", path, err)
		return deleteResult{reason: err.Error()}
	}
}

// audit records a commitInfo only commit describing the vacuum. Failures are logged and
// reported in |metrics|; they never affect deletion.
func (e *Executor) audit(ctx context.Context, metrics *Metrics, op string, plan *Plan, opMetrics, params map[string]string) {
	if e.opts.Audit == nil {
		return
	}

	if params == nil {
		params = map[string]string{
			"retentionCheckEnabled":    strconv.FormatBool(plan.Window.EnforceMinimum),
			"specifiedRetentionMillis": strconv.FormatInt(plan.Window.Period.Milliseconds(), 10),
			"defaultRetentionMillis":   strconv.FormatInt(MinRetention.Milliseconds(), 10),
		}
	}

	base, err := e.opts.Audit.LatestVersion(ctx)
	if err == nil {
		_, err = e.opts.Audit.Commit(ctx, base, nil, commit.Options{
			Operation:  op,
			Parameters: params,
			Metrics:    opMetrics,
		})
	}
	if err != nil {
		e.lgr.Warnf("vacuum/audit: unable to record %s: %v", op, err)
		metrics.AuditErrors = append(metrics.AuditErrors, op+": "+err.Error())
	}
}
