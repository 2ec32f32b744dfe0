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
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dolthub/deltalog/store/blobstore"
	"github.com/dolthub/deltalog/store/snapshot"
	"github.com/dolthub/deltalog/store/txlog"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func add(path string) txlog.Action {
	return txlog.NewAdd(path, 10, t0, true)
}

func remove(path string) txlog.Action {
	return txlog.NewRemove(path, t0, true)
}

func testConfig() Config {
	return Config{
		NewBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
		Now:        func() time.Time { return t0 },
		Registerer: prometheus.NewRegistry(),
	}
}

func newTestCoordinator(t *testing.T, cfg Config) (*Coordinator, txlog.LogStore, *blobstore.InMemoryBlobstore) {
	bs := blobstore.NewInMemoryBlobstore("t")
	ls := txlog.NewBlobLogStore(bs, nil)
	b, err := snapshot.NewBuilder(ls, snapshot.Options{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	return NewCoordinator(b, cfg), ls, bs
}

func createTable(t *testing.T, c *Coordinator, files ...txlog.Action) {
	v, err := c.CreateTable(context.Background(), txlog.Metadata{Name: "t"}, nil, files)
	require.NoError(t, err)
	require.Equal(t, int64(0), v)
}

func TestCreateTable(t *testing.T) {
	ctx := context.Background()
	c, ls, _ := newTestCoordinator(t, testConfig())
	createTable(t, c, add("a"))

	commit, err := ls.Read(ctx, 0)
	require.NoError(t, err)
	require.Len(t, commit.Actions, 4)
	assert.Equal(t, txlog.DefaultProtocol, *commit.Actions[0].Protocol)
	assert.NotEmpty(t, commit.Actions[1].Metadata.ID)
	assert.Equal(t, t0.UnixMilli(), *commit.Actions[1].Metadata.CreatedTime)
	assert.Equal(t, "CREATE TABLE", commit.Info().Operation)
	assert.Nil(t, commit.Info().ReadVersion)

	_, err = c.CreateTable(ctx, txlog.Metadata{Name: "t"}, nil, nil)
	require.Error(t, err)
	assert.True(t, ErrTableExists.Is(err), "unexpected error %v", err)
}

func TestCommitAppendsCommitInfo(t *testing.T) {
	ctx := context.Background()
	c, ls, _ := newTestCoordinator(t, testConfig())
	createTable(t, c)

	v, err := c.Commit(ctx, 0, []txlog.Action{add("a")}, Options{
		Operation:  "WRITE",
		Parameters: map[string]string{"mode": "Append"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	commit, err := ls.Read(ctx, 1)
	require.NoError(t, err)
	info := commit.Info()
	require.NotNil(t, info)
	assert.Equal(t, "WRITE", info.Operation)
	assert.Equal(t, "Append", info.OperationParameters["mode"])
	assert.Equal(t, int64(0), *info.ReadVersion)
	assert.True(t, *info.IsBlindAppend)
	assert.NotEmpty(t, info.TxnID)
	assert.True(t, t0.Equal(commit.Timestamp))

	v, err = c.Commit(ctx, 1, []txlog.Action{remove("a")}, Options{Operation: "DELETE"})
	require.NoError(t, err)
	commit, err = ls.Read(ctx, v)
	require.NoError(t, err)
	assert.False(t, *commit.Info().IsBlindAppend)
}

func TestCommitRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator(t, testConfig())
	createTable(t, c)

	_, err := c.Commit(ctx, 0, []txlog.Action{{CommitInfo: &txlog.CommitInfo{}}}, Options{})
	assert.Error(t, err)

	_, err = c.Commit(ctx, 5, []txlog.Action{add("a")}, Options{})
	require.Error(t, err)
	assert.True(t, txlog.ErrIntegrity.Is(err), "unexpected error %v", err)

	_, err = c.Commit(ctx, -3, []txlog.Action{add("a")}, Options{})
	assert.Error(t, err)
}

func TestCommitRebasesPastDisjointWinner(t *testing.T) {
	ctx := context.Background()
	c, ls, _ := newTestCoordinator(t, testConfig())
	createTable(t, c, add("a"))
	require.NoError(t, ls.Append(ctx, 1, &txlog.Commit{Actions: []txlog.Action{add("b")}}))
	require.NoError(t, ls.Append(ctx, 2, &txlog.Commit{Actions: []txlog.Action{add("c")}}))

	v, err := c.Commit(ctx, 0, []txlog.Action{add("d")}, Options{Operation: "WRITE"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	commit, err := ls.Read(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(0), *commit.Info().ReadVersion)

	state, err := c.builder.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, state.LivePaths())
}

// countingBackOff records how many delays a Commit asked for.
type countingBackOff struct {
	mu    sync.Mutex
	calls int
}

func (b *countingBackOff) NextBackOff() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return 0
}

func (b *countingBackOff) Reset() {}

func (b *countingBackOff) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func TestCommitSkipsBackoffForKnownCommits(t *testing.T) {
	ctx := context.Background()
	bo := &countingBackOff{}
	cfg := testConfig()
	cfg.NewBackOff = func() backoff.BackOff { return bo }
	c, ls, _ := newTestCoordinator(t, cfg)
	createTable(t, c, add("a"))
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, ls.Append(ctx, i, &txlog.Commit{Actions: []txlog.Action{add(fmt.Sprintf("f%d", i))}}))
	}

	v, err := c.Commit(ctx, 0, []txlog.Action{add("g")}, Options{Operation: "WRITE", MaxRetries: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(6), v)
	assert.Equal(t, 0, bo.count())

	// a collision with nothing newer in the log is contention and backs off once
	require.NoError(t, ls.Append(ctx, 7, &txlog.Commit{Actions: []txlog.Action{add("h")}}))
	v, err = c.Commit(ctx, 6, []txlog.Action{add("i")}, Options{Operation: "WRITE"})
	require.NoError(t, err)
	assert.Equal(t, int64(8), v)
	assert.Equal(t, 1, bo.count())

	_, err = c.Commit(ctx, 0, []txlog.Action{add("f3")}, Options{Operation: "WRITE"})
	require.Error(t, err)
	assert.True(t, ErrConcurrentModification.Is(err), "unexpected error %v", err)
	assert.Equal(t, 1, bo.count())
}

func TestCommitGivesUpAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	c, ls, _ := newTestCoordinator(t, testConfig())
	createTable(t, c)
	require.NoError(t, ls.Append(ctx, 1, &txlog.Commit{Actions: []txlog.Action{add("b")}}))

	_, err := c.Commit(ctx, 0, []txlog.Action{add("d")}, Options{MaxRetries: 1})
	require.Error(t, err)
	assert.True(t, ErrConcurrentModification.Is(err), "unexpected error %v", err)
}

func TestCommitConflicts(t *testing.T) {
	tests := []struct {
		name     string
		winner   []txlog.Action
		proposed []txlog.Action
	}{
		{"same path removed", []txlog.Action{remove("a")}, []txlog.Action{remove("a")}},
		{"removed path rewritten", []txlog.Action{remove("a")}, []txlog.Action{add("a")}},
		{"same path added", []txlog.Action{add("x")}, []txlog.Action{add("x")}},
		{"protocol change", []txlog.Action{{Protocol: &txlog.Protocol{MinReaderVersion: 2, MinWriterVersion: 5}}}, []txlog.Action{add("x")}},
		{"metadata change", []txlog.Action{{Metadata: &txlog.Metadata{ID: "new"}}}, []txlog.Action{add("x")}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ctx := context.Background()
			c, ls, _ := newTestCoordinator(t, testConfig())
			createTable(t, c, add("a"))
			require.NoError(t, ls.Append(ctx, 1, &txlog.Commit{Actions: test.winner}))

			_, err := c.Commit(ctx, 0, test.proposed, Options{})
			require.Error(t, err)
			assert.True(t, ErrConcurrentModification.Is(err), "unexpected error %v", err)
		})
	}
}

func TestConcurrentDisjointCommitsBothSucceed(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator(t, testConfig())
	createTable(t, c)

	const writers = 4
	versions := make([]int64, writers)
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			versions[i], errs[i] = c.Commit(ctx, 0, []txlog.Action{add(fmt.Sprintf("w%d", i))}, Options{})
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[versions[i]], "version %d committed twice", versions[i])
		seen[versions[i]] = true
	}
	assert.Len(t, seen, writers)

	state, err := c.builder.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(writers), state.Version)
	assert.Len(t, state.Files, writers)
}

func TestConcurrentOverlappingCommitsOneWins(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator(t, testConfig())
	createTable(t, c, add("a"))

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Commit(ctx, 0, []txlog.Action{remove("a"), add(fmt.Sprintf("b%d", i))}, Options{})
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		if err == nil {
			ok++
		} else if ErrConcurrentModification.Is(err) {
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
}

func TestCommitWritesCheckpoints(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.CheckpointInterval = 2
	c, _, bs := newTestCoordinator(t, cfg)
	createTable(t, c)

	for v := int64(0); v < 4; v++ {
		_, err := c.Commit(ctx, v, []txlog.Action{add(fmt.Sprintf("f%d", v))}, Options{})
		require.NoError(t, err)
	}

	for _, v := range []int64{2, 4} {
		ok, err := bs.Exists(ctx, txlog.CheckpointKey(v))
		require.NoError(t, err)
		assert.True(t, ok, "missing checkpoint %d", v)
	}
	ok, err := bs.Exists(ctx, txlog.CheckpointKey(3))
	require.NoError(t, err)
	assert.False(t, ok)

	last, ok, err := txlog.ReadLastCheckpoint(ctx, bs)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(4), last.Version)
}

func TestCommitBackoffHonorsContext(t *testing.T) {
	cfg := testConfig()
	cfg.NewBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Hour) }
	c, ls, _ := newTestCoordinator(t, cfg)
	createTable(t, c)
	require.NoError(t, ls.Append(context.Background(), 1, &txlog.Commit{Actions: []txlog.Action{add("b")}}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Commit(ctx, 0, []txlog.Action{add("c")}, Options{})
	require.Error(t, err)
	assert.True(t, txlog.ErrTimeout.Is(err), "unexpected error %v", err)
}

func TestDetectConflict(t *testing.T) {
	winner := &txlog.Commit{Actions: []txlog.Action{add("b"), remove("a"), add("a"), {CommitInfo: &txlog.CommitInfo{}}}}

	c := detectConflict([]txlog.Action{add("c")}, winner)
	assert.True(t, c.empty())

	c = detectConflict([]txlog.Action{remove("a"), remove("b"), add("z")}, winner)
	assert.Equal(t, []string{"a", "b"}, c.paths)
	assert.Equal(t, "conflicting files [a, b]", c.String())

	c = detectConflict(nil, &txlog.Commit{Actions: []txlog.Action{{Metadata: &txlog.Metadata{}}, {Protocol: &txlog.DefaultProtocol}}})
	assert.True(t, c.metadata)
	assert.True(t, c.protocol)
	assert.Equal(t, "protocol changed; metadata changed", c.String())
}
