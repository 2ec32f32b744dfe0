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
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dolthub/deltalog/libraries/utils/filesys"
	"github.com/dolthub/deltalog/store/blobstore"
	"github.com/dolthub/deltalog/store/commit"
	"github.com/dolthub/deltalog/store/snapshot"
	"github.com/dolthub/deltalog/store/txlog"
)

const day = 24 * time.Hour

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

type fixture struct {
	clock    *testClock
	bs       *blobstore.InMemoryBlobstore
	builder  *snapshot.Builder
	coord    *commit.Coordinator
	planner  *Planner
	executor *Executor
}

func newFixture(t *testing.T) *fixture {
	clock := &testClock{now: t0}
	bs := blobstore.NewInMemoryBlobstoreWithClock("mem://t", clock.Now)
	builder, err := snapshot.NewBuilder(txlog.NewBlobLogStore(bs, nil), snapshot.Options{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	coord := commit.NewCoordinator(builder, commit.Config{
		NewBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
		Now:        clock.Now,
		Registerer: prometheus.NewRegistry(),
	})
	return &fixture{
		clock:   clock,
		bs:      bs,
		builder: builder,
		coord:   coord,
		planner: NewPlanner(builder, nil),
		executor: NewExecutor(bs, ExecutorOptions{
			Audit:      coord,
			Now:        clock.Now,
			Registerer: prometheus.NewRegistry(),
		}),
	}
}

func (f *fixture) writeFile(t *testing.T, path string, size int) {
	require.NoError(t, blobstore.PutBytes(context.Background(), f.bs, path, make([]byte, size)))
}

func (f *fixture) add(t *testing.T, path string, size int) txlog.Action {
	f.writeFile(t, path, size)
	return txlog.NewAdd(path, int64(size), f.clock.now, true)
}

func (f *fixture) remove(path string) txlog.Action {
	return txlog.NewRemove(path, f.clock.now, true)
}

func (f *fixture) commit(t *testing.T, actions ...txlog.Action) {
	ctx := context.Background()
	base, err := f.coord.LatestVersion(ctx)
	require.NoError(t, err)
	if base < 0 {
		_, err = f.coord.CreateTable(ctx, txlog.Metadata{Name: "t"}, nil, actions)
	} else {
		_, err = f.coord.Commit(ctx, base, actions, commit.Options{Operation: "WRITE"})
	}
	require.NoError(t, err)
}

func (f *fixture) exists(t *testing.T, path string) bool {
	ok, err := f.bs.Exists(context.Background(), path)
	require.NoError(t, err)
	return ok
}

func enforced(period time.Duration) Window {
	return Window{Period: period, EnforceMinimum: true}
}

// scenarioAB adds A and B at t0 and removes A a day later.
func scenarioAB(t *testing.T) *fixture {
	f := newFixture(t)
	f.commit(t, f.add(t, "A.parquet", 100), f.add(t, "B.parquet", 200))
	f.clock.now = t0.Add(day)
	f.commit(t, f.remove("A.parquet"))
	return f
}

func TestVacuumScenarioAB(t *testing.T) {
	ctx := context.Background()
	f := scenarioAB(t)

	plan, err := f.planner.Plan(ctx, enforced(7*day), t0.Add(9*day))
	require.NoError(t, err)
	assert.Equal(t, []string{"A.parquet"}, plan.Paths())
	assert.Equal(t, ReasonTombstone, plan.FilesToDelete[0].Reason)
	assert.Equal(t, int64(100), plan.TotalBytes())
	assert.Equal(t, int64(1), plan.SnapshotVersion)
	assert.True(t, t0.Add(2*day).Equal(plan.Threshold))
}

func TestTombstoneKeptUntilRetentionElapses(t *testing.T) {
	ctx := context.Background()
	f := scenarioAB(t)

	plan, err := f.planner.Plan(ctx, enforced(7*day), t0.Add(8*day))
	require.NoError(t, err)
	assert.Empty(t, plan.FilesToDelete)

	plan, err = f.planner.Plan(ctx, enforced(7*day), t0.Add(8*day+time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, []string{"A.parquet"}, plan.Paths())
}

func TestOrphanFiles(t *testing.T) {
	ctx := context.Background()
	f := scenarioAB(t)

	f.clock.now = t0
	f.writeFile(t, "orphan-old.parquet", 10)
	f.writeFile(t, "year=2024/orphan-partitioned.parquet", 10)
	f.writeFile(t, "_staging/part-0001.parquet", 10)
	f.writeFile(t, ".hidden.parquet", 10)
	f.clock.now = t0.Add(8 * day)
	f.writeFile(t, "orphan-new.parquet", 10)

	plan, err := f.planner.Plan(ctx, enforced(7*day), t0.Add(9*day))
	require.NoError(t, err)
	assert.Equal(t, []string{"A.parquet", "orphan-old.parquet", "year=2024/orphan-partitioned.parquet"}, plan.Paths())
	assert.Equal(t, ReasonOrphan, plan.FilesToDelete[1].Reason)
}

func TestVacuumNeverDeletesLiveFiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.commit(t, f.add(t, "A.parquet", 1), f.add(t, "B.parquet", 1), f.add(t, "C.parquet", 1))
	f.clock.now = t0.Add(day)
	f.commit(t, f.remove("A.parquet"), f.remove("B.parquet"))
	f.clock.now = t0.Add(2 * day)
	// B is rewritten with the same path and becomes live again
	f.commit(t, f.add(t, "B.parquet", 1))

	plan, err := f.planner.Plan(ctx, Window{Period: 0}, t0.Add(30*day))
	require.NoError(t, err)

	state, err := f.builder.Latest(ctx)
	require.NoError(t, err)
	for _, p := range plan.Paths() {
		assert.False(t, state.IsLive(p), "plan includes live file %s", p)
	}
	assert.Equal(t, []string{"A.parquet"}, plan.Paths())
}

func TestLogFilesAreNeverCandidates(t *testing.T) {
	ctx := context.Background()
	f := scenarioAB(t)
	require.NoError(t, f.builder.WriteCheckpoint(ctx, mustLatest(t, f)))

	plan, err := f.planner.Plan(ctx, Window{Period: 0}, t0.Add(365*day))
	require.NoError(t, err)
	for _, p := range plan.Paths() {
		assert.False(t, txlog.IsLogKey(p), "plan includes log file %s", p)
	}
}

func mustLatest(t *testing.T, f *fixture) *snapshot.TableState {
	s, err := f.builder.Latest(context.Background())
	require.NoError(t, err)
	return s
}

type failingLister struct {
	blobstore.Blobstore
}

func (failingLister) List(ctx context.Context, prefix string) ([]blobstore.FileInfo, error) {
	return nil, errors.New("listing should not happen")
}

func TestRetentionSafety(t *testing.T) {
	ctx := context.Background()
	f := scenarioAB(t)
	builder, err := snapshot.NewBuilder(txlog.NewBlobLogStore(failingLister{f.bs}, nil), snapshot.Options{})
	require.NoError(t, err)

	_, err = NewPlanner(builder, nil).Plan(ctx, enforced(0), t0.Add(9*day))
	require.Error(t, err)
	assert.True(t, ErrRetentionSafety.Is(err), "unexpected error %v", err)

	_, err = f.planner.Plan(ctx, enforced(7*day-time.Second), t0.Add(9*day))
	assert.True(t, ErrRetentionSafety.Is(err))

	plan, err := f.planner.Plan(ctx, Window{Period: 0, EnforceMinimum: false}, t0.Add(9*day))
	require.NoError(t, err)
	assert.Equal(t, []string{"A.parquet"}, plan.Paths())

	_, err = f.planner.Plan(ctx, Window{Period: -time.Hour}, t0)
	assert.Error(t, err)
}

func TestPlanOfEmptyLocation(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, "data.parquet", 1)
	_, err := f.planner.Plan(context.Background(), enforced(7*day), t0.Add(30*day))
	require.Error(t, err)
	assert.True(t, ErrNotATable.Is(err))
}

func TestDryRunMatchesRealRun(t *testing.T) {
	ctx := context.Background()
	f := scenarioAB(t)
	f.clock.now = t0
	f.writeFile(t, "orphan.parquet", 7)
	f.clock.now = t0.Add(9 * day)

	plan, err := f.planner.Plan(ctx, enforced(7*day), f.clock.now)
	require.NoError(t, err)

	dry, err := f.executor.Execute(ctx, plan, true)
	require.NoError(t, err)
	assert.True(t, dry.DryRun)
	assert.True(t, f.exists(t, "A.parquet"))
	assert.True(t, f.exists(t, "orphan.parquet"))
	latest, err := f.coord.LatestVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), latest, "dry runs are not audited")

	applied, err := f.executor.Execute(ctx, plan, false)
	require.NoError(t, err)
	assert.False(t, applied.DryRun)
	assert.Equal(t, dry.FilesDeleted, applied.FilesDeleted)
	assert.Equal(t, dry.BytesReclaimed, applied.BytesReclaimed)
	assert.Equal(t, []string{"A.parquet", "orphan.parquet"}, applied.FilesDeleted)
	assert.Equal(t, int64(107), applied.BytesReclaimed)
	assert.Empty(t, applied.Failures)
	assert.False(t, f.exists(t, "A.parquet"))
	assert.False(t, f.exists(t, "orphan.parquet"))
	assert.True(t, f.exists(t, "B.parquet"))

	assert.Equal(t, float64(2), testutil.ToFloat64(f.executor.metrics.filesDeleted))
	assert.Equal(t, float64(107), testutil.ToFloat64(f.executor.metrics.bytesReclaimed))
}

func TestRealRunIsAudited(t *testing.T) {
	ctx := context.Background()
	f := scenarioAB(t)
	f.clock.now = t0.Add(9 * day)

	plan, err := f.planner.Plan(ctx, enforced(7*day), f.clock.now)
	require.NoError(t, err)
	metrics, err := f.executor.Execute(ctx, plan, false)
	require.NoError(t, err)
	assert.Empty(t, metrics.AuditErrors)

	ls := f.builder.LogStore()
	start, err := ls.Read(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, opVacuumStart, start.Info().Operation)
	assert.Equal(t, "1", start.Info().OperationMetrics["numFilesToDelete"])
	assert.Equal(t, "100", start.Info().OperationMetrics["sizeOfDataToDelete"])
	assert.Equal(t, "true", start.Info().OperationParameters["retentionCheckEnabled"])
	assert.Len(t, start.Actions, 1)

	end, err := ls.Read(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, opVacuumEnd, end.Info().Operation)
	assert.Equal(t, "1", end.Info().OperationMetrics["numDeletedFiles"])
	assert.Equal(t, statusCompleted, end.Info().OperationParameters["status"])

	// audit commits do not change the table
	state := mustLatest(t, f)
	assert.Equal(t, int64(3), state.Version)
	assert.Equal(t, []string{"B.parquet"}, state.LivePaths())
}

type flakyStore struct {
	blobstore.Blobstore
	fail map[string]error
}

func (s flakyStore) Delete(ctx context.Context, key string) error {
	if err, ok := s.fail[key]; ok {
		return err
	}
	return s.Blobstore.Delete(ctx, key)
}

func TestExecuteCollectsFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.clock.now = t0.Add(-30 * day)
	for _, p := range []string{"a.parquet", "b.parquet", "c.parquet", "d.parquet"} {
		f.writeFile(t, p, 1)
	}
	f.clock.now = t0
	f.commit(t, f.add(t, "live.parquet", 1))

	plan, err := f.planner.Plan(ctx, enforced(7*day), t0)
	require.NoError(t, err)
	require.Equal(t, []string{"a.parquet", "b.parquet", "c.parquet", "d.parquet"}, plan.Paths())

	// c disappears between planning and execution
	require.NoError(t, f.bs.Delete(ctx, "c.parquet"))

	executor := NewExecutor(flakyStore{f.bs, map[string]error{"b.parquet": errors.New("access denied")}}, ExecutorOptions{
		Parallelism: 2,
		Registerer:  prometheus.NewRegistry(),
	})
	metrics, err := executor.Execute(ctx, plan, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.parquet", "c.parquet", "d.parquet"}, metrics.FilesDeleted)
	assert.Equal(t, []Failure{{Path: "b.parquet", Reason: "access denied"}}, metrics.Failures)
	assert.True(t, f.exists(t, "b.parquet"))
	assert.True(t, f.exists(t, "live.parquet"))
}

func TestExecuteCancelled(t *testing.T) {
	f := scenarioAB(t)
	plan, err := f.planner.Plan(context.Background(), enforced(7*day), t0.Add(9*day))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	metrics, err := f.executor.Execute(ctx, plan, false)
	require.Error(t, err)
	assert.True(t, txlog.ErrCancelled.Is(err), "unexpected error %v", err)
	require.NotNil(t, metrics)
	assert.Empty(t, metrics.FilesDeleted)
	assert.Equal(t, []Failure{{Path: "A.parquet", Reason: reasonCancelled}}, metrics.Failures)
	assert.True(t, f.exists(t, "A.parquet"))
	assert.Len(t, metrics.AuditErrors, 1)
}

func TestExecuteHoldsLease(t *testing.T) {
	ctx := context.Background()
	f := scenarioAB(t)
	plan, err := f.planner.Plan(ctx, enforced(7*day), t0.Add(9*day))
	require.NoError(t, err)

	lease := filesys.NewInMemFileLock("mem://lease-test")
	ok, err := lease.TryLock()
	require.NoError(t, err)
	require.True(t, ok)

	executor := NewExecutor(f.bs, ExecutorOptions{Lease: filesys.NewInMemFileLock("mem://lease-test")})
	_, err = executor.Execute(ctx, plan, false)
	require.Error(t, err)
	assert.True(t, ErrVacuumInProgress.Is(err))
	assert.True(t, f.exists(t, "A.parquet"))

	require.NoError(t, lease.Unlock())
	metrics, err := executor.Execute(ctx, plan, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"A.parquet"}, metrics.FilesDeleted)
}

func TestHistoryLookback(t *testing.T) {
	ctx := context.Background()
	f := scenarioAB(t)
	f.clock.now = t0.Add(5 * day)
	f.commit(t, f.add(t, "C.parquet", 1))
	f.clock.now = t0.Add(8 * day)
	f.commit(t, f.add(t, "D.parquet", 1))

	plan, err := f.planner.WithHistoryLookback(1).Plan(ctx, enforced(7*day), t0.Add(9*day))
	require.NoError(t, err)
	assert.Equal(t, []string{"A.parquet"}, plan.Paths())
}

func TestHistoryLookbackUsesLatestTombstone(t *testing.T) {
	ctx := context.Background()
	f := scenarioAB(t)
	f.clock.now = t0.Add(2 * day)
	f.commit(t, f.add(t, "A.parquet", 100))
	f.clock.now = t0.Add(19 * day)
	f.commit(t, f.remove("A.parquet"))

	for _, lookback := range []int64{0, 1, 3, 10} {
		plan, err := f.planner.WithHistoryLookback(lookback).Plan(ctx, enforced(7*day), t0.Add(20*day))
		require.NoError(t, err)
		assert.Empty(t, plan.FilesToDelete, "lookback %d", lookback)
	}

	for _, lookback := range []int64{0, 3} {
		plan, err := f.planner.WithHistoryLookback(lookback).Plan(ctx, enforced(7*day), t0.Add(27*day))
		require.NoError(t, err)
		assert.Equal(t, []string{"A.parquet"}, plan.Paths(), "lookback %d", lookback)
	}
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	f := scenarioAB(t)
	f.clock.now = t0.Add(9 * day)

	cfg := DefaultConfig()
	assert.Equal(t, 7*day, cfg.RetentionPeriod)
	assert.True(t, cfg.DryRun)
	assert.True(t, cfg.EnforceRetentionDuration)
	assert.Equal(t, 8, cfg.Parallelism)
	assert.True(t, cfg.RecordAudit)

	plan, metrics, err := Run(ctx, f.planner, f.executor, cfg, f.clock.now)
	require.NoError(t, err)
	assert.Equal(t, plan.Paths(), metrics.FilesDeleted)
	assert.True(t, f.exists(t, "A.parquet"))

	_, _, err = Run(ctx, f.planner, f.executor, cfg.WithRetentionPeriod(0), f.clock.now)
	assert.True(t, ErrRetentionSafety.Is(err))

	_, metrics, err = Run(ctx, f.planner, f.executor, cfg.WithDryRun(false).WithRecordAudit(false), f.clock.now)
	require.NoError(t, err)
	assert.Equal(t, []string{"A.parquet"}, metrics.FilesDeleted)
	assert.False(t, f.exists(t, "A.parquet"))

	latest, err := f.coord.LatestVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), latest)
	assert.True(t, cfg.DryRun, "With methods never modify the receiver")
}
