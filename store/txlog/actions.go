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
	"fmt"
	"time"
)

// Action is one entry of a commit. Exactly one field is set; on disk each action is a JSON
// object with a single key naming its type.
type Action struct {
	Add        *AddFile    `json:"add,omitempty"`
	Remove     *RemoveFile `json:"remove,omitempty"`
	Metadata   *Metadata   `json:"metaData,omitempty"`
	Protocol   *Protocol   `json:"protocol,omitempty"`
	CommitInfo *CommitInfo `json:"commitInfo,omitempty"`
}

// AddFile records that a data file became part of the table.
type AddFile struct {
	Path             string            `json:"path"`
	Size             int64             `json:"size"`
	ModificationTime int64             `json:"modificationTime"`
	DataChange       bool              `json:"dataChange"`
	PartitionValues  map[string]string `json:"partitionValues,omitempty"`
	Tags             map[string]string `json:"tags,omitempty"`
}

// RemoveFile is a tombstone. DeletionTimestamp is when the removal took effect logically;
// the bytes stay on storage until vacuum reclaims them.
type RemoveFile struct {
	Path              string            `json:"path"`
	DeletionTimestamp int64             `json:"deletionTimestamp"`
	DataChange        bool              `json:"dataChange"`
	Size              *int64            `json:"size,omitempty"`
	PartitionValues   map[string]string `json:"partitionValues,omitempty"`
}

// Metadata carries the table identity and schema.
type Metadata struct {
	ID               string            `json:"id"`
	Name             string            `json:"name,omitempty"`
	Description      string            `json:"description,omitempty"`
	SchemaString     string            `json:"schemaString"`
	PartitionColumns []string          `json:"partitionColumns"`
	Configuration    map[string]string `json:"configuration,omitempty"`
	CreatedTime      *int64            `json:"createdTime,omitempty"`
}

// Protocol is the minimum reader and writer versions required to use the table.
type Protocol struct {
	MinReaderVersion int `json:"minReaderVersion"`
	MinWriterVersion int `json:"minWriterVersion"`
}

// CommitInfo is the operation metadata of a commit.
type CommitInfo struct {
	Timestamp           int64             `json:"timestamp"`
	Operation           string            `json:"operation"`
	OperationParameters map[string]string `json:"operationParameters,omitempty"`
	ReadVersion         *int64            `json:"readVersion,omitempty"`
	IsBlindAppend       *bool             `json:"isBlindAppend,omitempty"`
	TxnID               string            `json:"txnId,omitempty"`
	EngineInfo          string            `json:"engineInfo,omitempty"`
	OperationMetrics    map[string]string `json:"operationMetrics,omitempty"`
}

// DefaultProtocol is written when a table is created without an explicit protocol.
var DefaultProtocol = Protocol{MinReaderVersion: 1, MinWriterVersion: 2}

// NewAdd returns an Add action for a data file.
func NewAdd(path string, size int64, modTime time.Time, dataChange bool) Action {
	return Action{Add: &AddFile{
		Path:             path,
		Size:             size,
		ModificationTime: modTime.UnixMilli(),
		DataChange:       dataChange,
	}}
}

// NewRemove returns a tombstone for |path| effective at |deletedAt|.
func NewRemove(path string, deletedAt time.Time, dataChange bool) Action {
	return Action{Remove: &RemoveFile{
		Path:              path,
		DeletionTimestamp: deletedAt.UnixMilli(),
		DataChange:        dataChange,
	}}
}

// DeletionTime returns the tombstone's logical deletion time.
func (r *RemoveFile) DeletionTime() time.Time {
	return time.UnixMilli(r.DeletionTimestamp)
}

// Path returns the data file path an Add or Remove refers to.
func (a Action) Path() (string, bool) {
	switch {
	case a.Add != nil:
		return a.Add.Path, true
	case a.Remove != nil:
		return a.Remove.Path, true
	}
	return "", false
}

func (a Action) kind() string {
	switch {
	case a.Add != nil:
		return "add"
	case a.Remove != nil:
		return "remove"
	case a.Metadata != nil:
		return "metaData"
	case a.Protocol != nil:
		return "protocol"
	case a.CommitInfo != nil:
		return "commitInfo"
	}
	return ""
}

func (a Action) validate() error {
	n := 0
	for _, set := range []bool{a.Add != nil, a.Remove != nil, a.Metadata != nil, a.Protocol != nil, a.CommitInfo != nil} {
		if set {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("action must have exactly one type, found %d", n)
	}
	if p, ok := a.Path(); ok && p == "" {
		return fmt.Errorf("%s action has an empty path", a.kind())
	}
	return nil
}
