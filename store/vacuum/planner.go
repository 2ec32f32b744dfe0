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
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dolthub/deltalog/libraries/utils/tracing"
	"github.com/dolthub/deltalog/store/snapshot"
	"github.com/dolthub/deltalog/store/txlog"
)

// Reason is why a file is eligible for deletion.
type Reason string

const (
	// ReasonTombstone files were removed by a commit older than the retention threshold.
	ReasonTombstone Reason = "tombstone"
	// ReasonOrphan files were never referenced by the log and are older than the threshold.
	ReasonOrphan Reason = "orphan"
)

// Candidate is a physical file the plan deletes.
type Candidate struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	Reason       Reason    `json:"reason"`
}

// Plan is the list of files a vacuum will delete, ordered by path.
type Plan struct {
	Threshold       time.Time   `json:"threshold"`
	Window          Window      `json:"-"`
	SnapshotVersion int64       `json:"snapshotVersion"`
	FilesToDelete   []Candidate `json:"filesToDelete"`
}

// TotalBytes is the size of every file in the plan.
func (p *Plan) TotalBytes() int64 {
	var total int64
	for _, c := range p.FilesToDelete {
		total += c.Size
	}
	return total
}

// Paths returns the planned paths in order.
func (p *Plan) Paths() []string {
	paths := make([]string, len(p.FilesToDelete))
	for i, c := range p.FilesToDelete {
		paths[i] = c.Path
	}
	return paths
}

// Planner decides which files of a table a vacuum may delete. Planning has no side effects.
type Planner struct {
	builder  *snapshot.Builder
	lookback int64
	lgr      *logrus.Entry
}

// NewPlanner returns a Planner for the table replayed by |builder|.
func NewPlanner(builder *snapshot.Builder, lgr *logrus.Entry) *Planner {
	if lgr == nil {
		lgr = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Planner{
		builder: builder,
		lgr:     lgr.WithField("table", builder.LogStore().Blobstore().Path()),
	}
}

// WithHistoryLookback returns a Planner that scans only the newest |commits| commits for
// tombstones. Zero uses the tombstones of the latest state.
func (p *Planner) WithHistoryLookback(commits int64) *Planner {
	cp := *p
	cp.lookback = commits
	return &cp
}

// Plan lists the table and returns every file that is not live in the latest state and
// is either an expired tombstone or an unreferenced file older than the threshold.
func (p *Planner) Plan(ctx context.Context, window Window, now time.Time) (plan *Plan, err error) {
	if err := window.validate(); err != nil {
		return nil, err
	}

	span, ctx := tracing.StartSpan(ctx, "vacuum.Plan", attribute.String("retention", window.Period.String()))
	defer func() { tracing.EndSpan(span, err) }()

	state, err := p.builder.Latest(ctx)
	if err != nil {
		return nil, err
	}
	bs := p.builder.LogStore().Blobstore()
	if state.Version < 0 {
		return nil, ErrNotATable.New(bs.Path())
	}

	threshold := window.Threshold(now)
	expired, err := p.expiredTombstones(ctx, state, threshold)
	if err != nil {
		return nil, err
	}

	infos, err := bs.List(ctx, "")
	if err != nil {
		return nil, txlog.StorageError(err, "list", bs.Path())
	}

	plan = &Plan{Threshold: threshold, Window: window, SnapshotVersion: state.Version}
	for _, info := range infos {
		if err := txlog.CheckContext(ctx, "vacuum plan"); err != nil {
			return nil, err
		}
		if txlog.IsLogKey(info.Key) || state.IsLive(info.Key) {
			continue
		}

		cand := Candidate{Path: info.Key, Size: info.Size, LastModified: info.LastModified}
		if _, ok := expired[info.Key]; ok {
			cand.Reason = ReasonTombstone
		} else if !state.IsReferenced(info.Key) && !isHidden(info.Key) && info.LastModified.Before(threshold) {
			cand.Reason = ReasonOrphan
		} else {
			continue
		}
		plan.FilesToDelete = append(plan.FilesToDelete, cand)
	}
	sort.Slice(plan.FilesToDelete, func(i, j int) bool {
		return plan.FilesToDelete[i].Path < plan.FilesToDelete[j].Path
	})

	p.lgr.Debugf("vacuum/plan: %d of %d files eligible at version %d, threshold %s",
		len(plan.FilesToDelete), len(infos), state.Version, threshold.Format(time.RFC3339))
	return plan, nil
}

// expiredTombstones returns the paths whose current tombstone in |state| took effect before
// |threshold|. With a lookback only paths removed in the scanned history are considered.
func (p *Planner) expiredTombstones(ctx context.Context, state *snapshot.TableState, threshold time.Time) (map[string]struct{}, error) {
	expired := make(map[string]struct{})
	isExpired := func(path string) bool {
		r, ok := state.Tombstones[path]
		return ok && !state.IsLive(path) && r.DeletionTime().Before(threshold)
	}

	if p.lookback <= 0 {
		for path := range state.Tombstones {
			if isExpired(path) {
				expired[path] = struct{}{}
			}
		}
		return expired, nil
	}

	from, err := p.lookbackStart(ctx, state.Version, threshold)
	if err != nil {
		return nil, err
	}
	err = p.builder.History(ctx, from, state.Version, func(c *txlog.Commit) error {
		for _, a := range c.Actions {
			// an older remove of a path that was re-added and removed again does not count
			if a.Remove != nil && isExpired(a.Remove.Path) {
				expired[a.Remove.Path] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

// lookbackStart returns the first version to scan. The window starts |lookback| commits
// back and widens by that much until its oldest commit predates |threshold|.
func (p *Planner) lookbackStart(ctx context.Context, latest int64, threshold time.Time) (int64, error) {
	from := latest - p.lookback + 1
	for from > 0 {
		c, err := p.builder.LogStore().Read(ctx, from)
		if err != nil {
			return -1, err
		}
		if c.Timestamp.Before(threshold) {
			return from, nil
		}
		p.lgr.Tracef("vacuum/plan: widening tombstone lookback past version %d", from)
		from -= p.lookback
	}
	return 0, nil
}

// isHidden reports whether any element of |path| starts with '_' or '.'. Such files belong
// to writers or storage backends and are only deleted when the log tombstoned them.
func isHidden(path string) bool {
	for _, elem := range strings.Split(path, "/") {
		if strings.HasPrefix(elem, "_") || strings.HasPrefix(elem, ".") {
			return true
		}
	}
	return false
}
