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

package txlog

import (
	"bufio"
	"bytes"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

const maxActionLine = 64 * 1024 * 1024

// Commit is the immutable record of the transition from version-1 to version.
type Commit struct {
	Version   int64
	Timestamp time.Time
	Actions   []Action
}

// Info returns the commit's operation metadata, or nil if it has none.
func (c *Commit) Info() *CommitInfo {
	for _, a := range c.Actions {
		if a.CommitInfo != nil {
			return a.CommitInfo
		}
	}
	return nil
}

// EncodeCommit serializes the actions of |c| as newline delimited JSON.
func EncodeCommit(c *Commit) ([]byte, error) {
	var buf bytes.Buffer
	for i, a := range c.Actions {
		if err := a.validate(); err != nil {
			return nil, errors.Wrapf(err, "invalid action %d of commit %d", i, c.Version)
		}
		data, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// DecodeCommit parses a commit record. Any malformed line fails the whole record with
// ErrIntegrity.
func DecodeCommit(version int64, data []byte) (*Commit, error) {
	c := &Commit{Version: version}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxActionLine)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var a Action
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, ErrIntegrity.New(version, errors.Wrapf(err, "line %d", line).Error())
		}
		if err := a.validate(); err != nil {
			return nil, ErrIntegrity.New(version, errors.Wrapf(err, "line %d", line).Error())
		}
		c.Actions = append(c.Actions, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, ErrIntegrity.New(version, err.Error())
	}
	if len(c.Actions) == 0 {
		return nil, ErrIntegrity.New(version, "commit has no actions")
	}

	if info := c.Info(); info != nil && info.Timestamp > 0 {
		c.Timestamp = time.UnixMilli(info.Timestamp)
	}
	return c, nil
}
