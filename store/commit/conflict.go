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
	"sort"
	"strings"

	"github.com/dolthub/deltalog/store/txlog"
)

// conflict describes why a winning commit invalidates a proposal.
type conflict struct {
	paths    []string
	protocol bool
	metadata bool
}

func (c conflict) empty() bool {
	return len(c.paths) == 0 && !c.protocol && !c.metadata
}

func (c conflict) String() string {
	var reasons []string
	if c.protocol {
		reasons = append(reasons, "protocol changed")
	}
	if c.metadata {
		reasons = append(reasons, "metadata changed")
	}
	if len(c.paths) > 0 {
		reasons = append(reasons, "conflicting files ["+strings.Join(c.paths, ", ")+"]")
	}
	return strings.Join(reasons, "; ")
}

// detectConflict compares the actions of a proposal with a commit that won its version.
// The proposal may be rebased past |winner| only if the winner touched none of the
// proposal's files and changed neither protocol nor metadata.
func detectConflict(proposed []txlog.Action, winner *txlog.Commit) conflict {
	touched := make(map[string]struct{})
	for _, a := range proposed {
		if p, ok := a.Path(); ok {
			touched[p] = struct{}{}
		}
	}

	var c conflict
	seen := make(map[string]struct{})
	for _, a := range winner.Actions {
		switch {
		case a.Protocol != nil:
			c.protocol = true
		case a.Metadata != nil:
			c.metadata = true
		default:
			p, ok := a.Path()
			if !ok {
				continue
			}
			if _, ok := touched[p]; !ok {
				continue
			}
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				c.paths = append(c.paths, p)
			}
		}
	}
	sort.Strings(c.paths)
	return c
}
