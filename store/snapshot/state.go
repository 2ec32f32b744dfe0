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
	"sort"
	"time"

	"github.com/dolthub/deltalog/store/txlog"
)

// TableState is the table as of one version: the files live at that version plus the
// tombstones of files removed at or before it. A TableState returned by a Builder is shared
// and must not be modified.
type TableState struct {
	Version    int64
	Timestamp  time.Time
	Files      map[string]*txlog.AddFile
	Tombstones map[string]*txlog.RemoveFile
	Metadata   *txlog.Metadata
	Protocol   *txlog.Protocol
}

// EmptyState is the state before version 0.
func EmptyState() *TableState {
	return &TableState{
		Version:    -1,
		Files:      make(map[string]*txlog.AddFile),
		Tombstones: make(map[string]*txlog.RemoveFile),
	}
}

// IsLive returns whether |path| is part of the table at this version.
func (s *TableState) IsLive(path string) bool {
	_, ok := s.Files[path]
	return ok
}

// IsReferenced returns whether the log has ever mentioned |path| up to this version.
func (s *TableState) IsReferenced(path string) bool {
	_, live := s.Files[path]
	_, removed := s.Tombstones[path]
	return live || removed
}

// LiveFiles returns the live files ordered by path.
func (s *TableState) LiveFiles() []*txlog.AddFile {
	files := make([]*txlog.AddFile, 0, len(s.Files))
	for _, f := range s.Files {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}

// LivePaths returns the paths of the live files in order.
func (s *TableState) LivePaths() []string {
	paths := make([]string, 0, len(s.Files))
	for p := range s.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// SortedTombstones returns the tombstones ordered by path.
func (s *TableState) SortedTombstones() []*txlog.RemoveFile {
	tombs := make([]*txlog.RemoveFile, 0, len(s.Tombstones))
	for _, r := range s.Tombstones {
		tombs = append(tombs, r)
	}
	sort.Slice(tombs, func(i, j int) bool { return tombs[i].Path < tombs[j].Path })
	return tombs
}

// SizeInBytes is the total size of the live files.
func (s *TableState) SizeInBytes() int64 {
	var total int64
	for _, f := range s.Files {
		total += f.Size
	}
	return total
}

func (s *TableState) clone() *TableState {
	cp := &TableState{
		Version:    s.Version,
		Timestamp:  s.Timestamp,
		Files:      make(map[string]*txlog.AddFile, len(s.Files)),
		Tombstones: make(map[string]*txlog.RemoveFile, len(s.Tombstones)),
		Metadata:   s.Metadata,
		Protocol:   s.Protocol,
	}
	for p, f := range s.Files {
		cp.Files[p] = f
	}
	for p, r := range s.Tombstones {
		cp.Tombstones[p] = r
	}
	return cp
}

// apply folds the actions of |c| into |s| in order. The last action on a path wins.
func (s *TableState) apply(c *txlog.Commit) {
	for _, a := range c.Actions {
		switch {
		case a.Add != nil:
			s.Files[a.Add.Path] = a.Add
			delete(s.Tombstones, a.Add.Path)
		case a.Remove != nil:
			delete(s.Files, a.Remove.Path)
			s.Tombstones[a.Remove.Path] = a.Remove
		case a.Metadata != nil:
			s.Metadata = a.Metadata
		case a.Protocol != nil:
			s.Protocol = a.Protocol
		}
	}
	s.Version = c.Version
	s.Timestamp = c.Timestamp
}

// Checkpoint returns the actions that rebuild this state from nothing.
func (s *TableState) Checkpoint() *txlog.Checkpoint {
	cp := &txlog.Checkpoint{Version: s.Version}
	if !s.Timestamp.IsZero() {
		cp.Timestamp = s.Timestamp.UnixMilli()
	}
	if s.Protocol != nil {
		cp.Actions = append(cp.Actions, txlog.Action{Protocol: s.Protocol})
	}
	if s.Metadata != nil {
		cp.Actions = append(cp.Actions, txlog.Action{Metadata: s.Metadata})
	}
	for _, f := range s.LiveFiles() {
		cp.Actions = append(cp.Actions, txlog.Action{Add: f})
	}
	for _, r := range s.SortedTombstones() {
		cp.Actions = append(cp.Actions, txlog.Action{Remove: r})
	}
	return cp
}

func stateFromCheckpoint(cp *txlog.Checkpoint) *TableState {
	s := EmptyState()
	for _, a := range cp.Actions {
		switch {
		case a.Add != nil:
			s.Files[a.Add.Path] = a.Add
		case a.Remove != nil:
			s.Tombstones[a.Remove.Path] = a.Remove
		case a.Metadata != nil:
			s.Metadata = a.Metadata
		case a.Protocol != nil:
			s.Protocol = a.Protocol
		}
	}
	s.Version = cp.Version
	if cp.Timestamp > 0 {
		s.Timestamp = time.UnixMilli(cp.Timestamp)
	}
	return s
}
