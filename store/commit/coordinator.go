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


package commit

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/src-d/go-errors.v1"

	"github.com/dolthub/deltalog/libraries/utils/promutil"
	"github.com/dolthub/deltalog/libraries/utils/tracing"
	"github.com/dolthub/deltalog/store/snapshot"
	"github.com/dolthub/deltalog/store/txlog"
)

var (
	// ErrConcurrentModification is returned when a commit conflicts with one that won its
	// version, or when retries are exhausted.
	ErrConcurrentModification = errors.NewKind("concurrent modification at version %d: %s")

	// ErrTableExists is returned by CreateTable when the log already has a version 0.
	ErrTableExists = errors.NewKind("table %s already exists")
)

const (
	DefaultMaxRetries         = 10
	DefaultCheckpointInterval = 10

	engineInfo = "deltalog"
)

// Config configures a Coordinator.
type Config struct {
	// MaxRetries bounds the number of append attempts of one Commit call.
	MaxRetries int
	// CheckpointInterval writes a checkpoint after every CheckpointInterval versions. Zero
	// disables checkpointing.
	CheckpointInterval int
	// NewBackOff returns the delay policy between attempts of one Commit call.
	NewBackOff func() backoff.BackOff
	// Now stamps commits.
	Now func() time.Time

	Logger     *logrus.Entry
	Registerer prometheus.Registerer
}

// DefaultConfig returns the configuration used for tables without explicit settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:         DefaultMaxRetries,
		CheckpointInterval: DefaultCheckpointInterval,
		NewBackOff:         defaultBackOff,
		Now:                time.Now,
	}
}

func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = 0
	return bo
}

// Options describes one commit.
type Options struct {
	// Operation names the commit in its commitInfo, e.g. WRITE or VACUUM START.
	Operation  string
	Parameters map[string]string
	Metrics    map[string]string
	// MaxRetries overrides Config.MaxRetries when positive.
	MaxRetries int
}

type coordinatorMetrics struct {
	commits   prometheus.Counter
	conflicts prometheus.Counter
	retries   prometheus.Counter
}

func newCoordinatorMetrics(reg prometheus.Registerer) *coordinatorMetrics {
	return &coordinatorMetrics{
		commits: promutil.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deltalog_commits_total",
			Help: "Count of commits published",
		})),
		conflicts: promutil.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deltalog_commit_conflicts_total",
			Help: "Count of commits rejected because a concurrent commit conflicted",
		})),
		retries: promutil.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deltalog_commit_retries_total",
			Help: "Count of commits rebased onto a newer version after losing a race",
		})),
	}
}

// Coordinator appends commits to a table with optimistic concurrency. Writers that lose
// the race for a version rebase onto the winner when their changes do not overlap.
type Coordinator struct {
	ls      txlog.LogStore
	builder *snapshot.Builder
	cfg     Config
	metrics *coordinatorMetrics
	lgr     *logrus.Entry
}

// NewCoordinator returns a Coordinator for the log replayed by |builder|. Zero fields of
// |cfg| other than CheckpointInterval take their defaults.
func NewCoordinator(builder *snapshot.Builder, cfg Config) *Coordinator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = defaultBackOff
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	ls := builder.LogStore()
	return &Coordinator{
		ls:      ls,
		builder: builder,
		cfg:     cfg,
		metrics: newCoordinatorMetrics(cfg.Registerer),
		lgr:     cfg.Logger.WithField("table", ls.Blobstore().Path()),
	}
}

// Commit publishes |actions| as the version after |base|, which must exist, or be -1 for
// an empty table. It returns the committed version. A commitInfo action describing the
// operation is appended to the commit.
func (c *Coordinator) Commit(ctx context.Context, base int64, actions []txlog.Action, opts Options) (version int64, err error) {
	span, ctx := tracing.StartSpan(ctx, "commit.Commit",
		attribute.Int64("base", base), attribute.String("operation", opts.Operation))
	defer func() { tracing.EndSpan(span, err) }()

	for i, a := range actions {
		if a.CommitInfo != nil {
			return -1, fmt.Errorf("action %d: commitInfo is written by the coordinator", i)
		}
	}
	if err := c.checkBase(ctx, base); err != nil {
		return -1, err
	}

	maxRetries := c.cfg.MaxRetries
	if opts.MaxRetries > 0 {
		maxRetries = opts.MaxRetries
	}
	bo := c.cfg.NewBackOff()
	txnID := uuid.New().String()

	// known is the newest version seen to exist; versions at or below it are checked for
	// conflicts without attempting an append
	known := base
	attempts := 0
	for version = base + 1; ; version++ {
		collided := version > known
		if collided {
			attempts++
			commit := &txlog.Commit{Version: version, Actions: c.withCommitInfo(actions, base, txnID, opts)}
			err = c.ls.Append(ctx, version, commit)
			if err == nil {
				break
			}
			if !txlog.ErrVersionExists.Is(err) {
				return -1, err
			}
		}

		winner, err := c.ls.Read(ctx, version)
		if err != nil {
			return -1, err
		}
		if conflict := detectConflict(actions, winner); !conflict.empty() {
			c.metrics.conflicts.Inc()
			c.lgr.Debugf("commit/commit: version %d conflicts with txn %s: %s", version, txnID, conflict)
			return -1, ErrConcurrentModification.New(version, conflict.String())
		}

		if version >= known {
			latest, err := c.builder.LatestVersion(ctx)
			if err != nil {
				return -1, err
			}
			if latest > known {
				known = latest
			}
		}
		if version < known {
			c.lgr.Tracef("commit/commit: rebasing txn %s past version %d", txnID, version)
			continue
		}

		if attempts >= maxRetries {
			c.metrics.conflicts.Inc()
			return -1, ErrConcurrentModification.New(version, fmt.Sprintf("gave up after %d attempts", attempts))
		}
		// colliding on a version not yet seen in the log means a writer is racing us
		if collided {
			if err := sleep(ctx, bo.NextBackOff()); err != nil {
				return -1, err
			}
		}
		c.metrics.retries.Inc()
		c.lgr.Debugf("commit/commit: version %d taken, retrying txn %s at %d", version, txnID, version+1)
	}

	c.builder.Observe(version)
	c.metrics.commits.Inc()
	c.lgr.Tracef("commit/commit: committed %s as version %d", opts.Operation, version)
	c.maybeCheckpoint(ctx, version)
	return version, nil
}

// LatestVersion returns the newest committed version, or -1 for an empty table.
func (c *Coordinator) LatestVersion(ctx context.Context) (int64, error) {
	return c.builder.LatestVersion(ctx)
}

// CreateTable commits version 0 with the table's protocol, metadata and initial files.
func (c *Coordinator) CreateTable(ctx context.Context, md txlog.Metadata, proto *txlog.Protocol, files []txlog.Action) (int64, error) {
	if proto == nil {
		p := txlog.DefaultProtocol
		proto = &p
	}
	if md.ID == "" {
		md.ID = uuid.New().String()
	}
	if md.CreatedTime == nil {
		created := c.cfg.Now().UnixMilli()
		md.CreatedTime = &created
	}
	if md.PartitionColumns == nil {
		md.PartitionColumns = []string{}
	}

	actions := append([]txlog.Action{{Protocol: proto}, {Metadata: &md}}, files...)
	v, err := c.Commit(ctx, -1, actions, Options{Operation: "CREATE TABLE", MaxRetries: 1})
	if ErrConcurrentModification.Is(err) {
		return -1, ErrTableExists.New(c.ls.Blobstore().Path())
	}
	return v, err
}

func (c *Coordinator) checkBase(ctx context.Context, base int64) error {
	if base < -1 {
		return fmt.Errorf("invalid base version %d", base)
	}
	if base == -1 {
		return nil
	}
	_, err := c.ls.Read(ctx, base)
	if txlog.ErrVersionNotFound.Is(err) {
		return txlog.ErrIntegrity.New(base, "base version of commit does not exist")
	}
	return err
}

func (c *Coordinator) withCommitInfo(actions []txlog.Action, base int64, txnID string, opts Options) []txlog.Action {
	blind := true
	for _, a := range actions {
		if a.Remove != nil || a.Metadata != nil || a.Protocol != nil {
			blind = false
		}
	}

	info := &txlog.CommitInfo{
		Timestamp:           c.cfg.Now().UnixMilli(),
		Operation:           opts.Operation,
		OperationParameters: opts.Parameters,
		IsBlindAppend:       &blind,
		TxnID:               txnID,
		EngineInfo:          engineInfo,
		OperationMetrics:    opts.Metrics,
	}
	if base >= 0 {
		readVersion := base
		info.ReadVersion = &readVersion
	}

	out := make([]txlog.Action, 0, len(actions)+1)
	out = append(out, actions...)
	return append(out, txlog.Action{CommitInfo: info})
}

// maybeCheckpoint writes a checkpoint when |version| falls on the interval. Failures are
// logged; the commit already succeeded.
func (c *Coordinator) maybeCheckpoint(ctx context.Context, version int64) {
	interval := int64(c.cfg.CheckpointInterval)
	if interval <= 0 || version == 0 || version%interval != 0 {
		return
	}
	state, err := c.builder.BuildState(ctx, version)
	if err == nil {
		err = c.builder.WriteCheckpoint(ctx, state)
	}
	if err != nil {
		c.lgr.Warnf("commit/checkpoint: unable to checkpoint version %d: %v", version, err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d == backoff.Stop {
		return nil
	}
	if d <= 0 {
		return txlog.CheckContext(ctx, "commit")
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return txlog.CheckContext(ctx, "commit")
	}
}
