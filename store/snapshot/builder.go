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


package snapshot

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/dolthub/deltalog/libraries/utils/promutil"
	"github.com/dolthub/deltalog/libraries/utils/tracing"
	"github.com/dolthub/deltalog/store/txlog"
)

const (
	defaultCacheSize = 16
	defaultPrefetch  = 8
)

// Options configures a Builder. Zero values select defaults.
type Options struct {
	// CacheSize is the number of reconstructed states kept in memory.
	CacheSize int
	// Prefetch is the number of commits read concurrently while replaying.
	Prefetch int

	Logger     *logrus.Entry
	Registerer prometheus.Registerer
}

type builderMetrics struct {
	replayDur       prometheus.Histogram
	commitsReplayed prometheus.Counter
	cacheHits       prometheus.Counter
}

func newBuilderMetrics(reg prometheus.Registerer) *builderMetrics {
	return &builderMetrics{
		replayDur: promutil.Register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "deltalog_snapshot_replay_seconds",
			Help:    "Time spent reconstructing table states",
			Buckets: []float64{0.001, 0.01, 0.1, 1.0, 10.0, 100.0},
		})),
		commitsReplayed: promutil.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deltalog_snapshot_commits_replayed_total",
			Help: "Count of commits folded into table states",
		})),
		cacheHits: promutil.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deltalog_snapshot_cache_hits_total",
			Help: "Count of table states served from the cache without replay",
		})),
	}
}

// Builder reconstructs TableStates by replaying the log, resuming from the closest cached
// state or checkpoint. It is safe for concurrent use.
type Builder struct {
	ls       txlog.LogStore
	cache    *lru.Cache[int64, *TableState]
	prefetch int
	lgr      *logrus.Entry
	metrics  *builderMetrics

	mu       sync.Mutex
	observed int64
}

// NewBuilder returns a Builder reading commits from |ls|.
func NewBuilder(ls txlog.LogStore, opts Options) (*Builder, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = defaultPrefetch
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	cache, err := lru.New[int64, *TableState](opts.CacheSize)
	if err != nil {
		return nil, err
	}

	return &Builder{
		ls:       ls,
		cache:    cache,
		prefetch: opts.Prefetch,
		lgr:      opts.Logger.WithField("table", ls.Blobstore().Path()),
		metrics:  newBuilderMetrics(opts.Registerer),
		observed: -1,
	}, nil
}

// LogStore returns the log the builder replays.
func (b *Builder) LogStore() txlog.LogStore {
	return b.ls
}

// Observe records that |version| is known to exist, typically because this process just
// committed it. Later calls to Latest never resolve to an older version.
func (b *Builder) Observe(version int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if version > b.observed {
		b.observed = version
	}
}

// LatestVersion returns the newest version visible now, or -1 for a table with no commits.
func (b *Builder) LatestVersion(ctx context.Context) (int64, error) {
	listed, _, err := txlog.LatestVersion(ctx, b.ls)
	if err != nil {
		return -1, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.observed > listed {
		// listings may lag behind a commit this process already saw
		return b.observed, nil
	}
	b.observed = listed
	return listed, nil
}

// Latest returns the state at the newest visible version.
func (b *Builder) Latest(ctx context.Context) (*TableState, error) {
	version, err := b.LatestVersion(ctx)
	if err != nil {
		return nil, err
	}
	return b.buildState(ctx, version)
}

// BuildState returns the state at |version|. Version -1 is the empty table. A version past
// the end of the log is ErrVersionNotFound; a gap or unreadable commit before it is
// ErrIntegrity.
func (b *Builder) BuildState(ctx context.Context, version int64) (state *TableState, err error) {
	if version < -1 {
		return nil, txlog.ErrVersionNotFound.New(version)
	}
	if err := txlog.CheckContext(ctx, "build state"); err != nil {
		return nil, err
	}
	if version == -1 {
		return EmptyState(), nil
	}
	if cached, ok := b.cache.Get(version); ok {
		b.metrics.cacheHits.Inc()
		return cached, nil
	}

	latest, err := b.LatestVersion(ctx)
	if err != nil {
		return nil, err
	}
	if version > latest {
		return nil, txlog.ErrVersionNotFound.New(version)
	}
	return b.buildState(ctx, version)
}

// buildState replays the log up to |version|, which must not be past the end of the log.
func (b *Builder) buildState(ctx context.Context, version int64) (state *TableState, err error) {
	if version == -1 {
		return EmptyState(), nil
	}
	if cached, ok := b.cache.Get(version); ok {
		b.metrics.cacheHits.Inc()
		return cached, nil
	}

	span, ctx := tracing.StartSpan(ctx, "snapshot.BuildState", attribute.Int64("version", version))
	defer func() { tracing.EndSpan(span, err) }()

	start := time.Now()
	base, err := b.startingState(ctx, version)
	if err != nil {
		return nil, err
	}

	working := base.clone()
	replayed := 0
	for lo := base.Version + 1; lo <= version; lo += int64(b.prefetch) {
		hi := lo + int64(b.prefetch) - 1
		if hi > version {
			hi = version
		}

		commits, err := b.readRange(ctx, lo, hi, version)
		if err != nil {
			return nil, err
		}
		for _, c := range commits {
			if err := txlog.CheckContext(ctx, "build state"); err != nil {
				return nil, err
			}
			working.apply(c)
			replayed++
		}
	}

	b.cache.Add(version, working)
	b.metrics.commitsReplayed.Add(float64(replayed))
	b.metrics.replayDur.Observe(time.Since(start).Seconds())
	b.lgr.Debugf("snapshot/build: replayed %d commits from version %d to %d", replayed, base.Version, version)
	return working, nil
}

// startingState returns the closest known state at or below |version|: a cached state, a
// checkpoint, or the empty table.
func (b *Builder) startingState(ctx context.Context, version int64) (*TableState, error) {
	best := EmptyState()
	for _, v := range b.cache.Keys() {
		if v <= version && v > best.Version {
			if s, ok := b.cache.Peek(v); ok {
				best = s
			}
		}
	}

	cpVersion, ok, err := txlog.FindCheckpoint(ctx, b.ls.Blobstore(), version)
	if err != nil {
		return nil, err
	}
	if ok && cpVersion > best.Version {
		cp, err := txlog.ReadCheckpoint(ctx, b.ls.Blobstore(), cpVersion)
		if err != nil {
			return nil, err
		}
		best = stateFromCheckpoint(cp)
		b.cache.Add(cpVersion, best)
		b.lgr.Tracef("snapshot/build: starting from checkpoint %d", cpVersion)
	}
	return best, nil
}

// readRange reads commits |lo| through |hi| concurrently and returns them in version order.
func (b *Builder) readRange(ctx context.Context, lo, hi, target int64) ([]*txlog.Commit, error) {
	commits := make([]*txlog.Commit, hi-lo+1)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(b.prefetch)
	for v := lo; v <= hi; v++ {
		eg.Go(func() error {
			c, err := b.ls.Read(egCtx, v)
			if err != nil {
				if txlog.ErrVersionNotFound.Is(err) && v != target {
					return txlog.ErrIntegrity.New(v, "commit is missing but later versions exist")
				}
				return err
			}
			commits[v-lo] = c
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return commits, nil
}

// History calls |cb| with each commit from |from| through |to| in order. A negative |to|
// means the latest version.
func (b *Builder) History(ctx context.Context, from, to int64, cb func(*txlog.Commit) error) error {
	if from < 0 {
		from = 0
	}
	latest, err := b.LatestVersion(ctx)
	if err != nil {
		return err
	}
	if to < 0 {
		to = latest
	} else if to > latest {
		return txlog.ErrVersionNotFound.New(to)
	}

	for lo := from; lo <= to; lo += int64(b.prefetch) {
		hi := lo + int64(b.prefetch) - 1
		if hi > to {
			hi = to
		}
		commits, err := b.readRange(ctx, lo, hi, to)
		if err != nil {
			return err
		}
		for _, c := range commits {
			if err := cb(c); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteCheckpoint persists |state| as a checkpoint so later builds can start from it.
func (b *Builder) WriteCheckpoint(ctx context.Context, state *TableState) error {
	if state.Version < 0 {
		return nil
	}
	if err := txlog.WriteCheckpoint(ctx, b.ls.Blobstore(), state.Checkpoint()); err != nil {
		return err
	}
	b.lgr.Debugf("snapshot/checkpoint: wrote checkpoint at version %d", state.Version)
	return nil
}
