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
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/dolthub/deltalog/store/blobstore"
)

// LogStore persists the ordered sequence of commits of one table.
type LogStore interface {
	// Append publishes |c| as commit |version|. It returns ErrVersionExists if any writer
	// already published that version; it never overwrites.
	Append(ctx context.Context, version int64, c *Commit) error

	// Read returns commit |version|, ErrVersionNotFound if it does not exist, or ErrIntegrity
	// if it cannot be parsed.
	Read(ctx context.Context, version int64) (*Commit, error)

	// ListVersions returns every published version in ascending order.
	ListVersions(ctx context.Context) ([]int64, error)

	// Blobstore returns the store holding the table, used for checkpoints and data files.
	Blobstore() blobstore.Blobstore
}

// LatestVersion returns the newest published version, or false if the log is empty.
func LatestVersion(ctx context.Context, ls LogStore) (int64, bool, error) {
	versions, err := ls.ListVersions(ctx)
	if err != nil {
		return -1, false, err
	}
	if len(versions) == 0 {
		return -1, false, nil
	}
	return versions[len(versions)-1], true, nil
}

// BlobLogStore is a LogStore over a Blobstore with atomic create-if-absent.
type BlobLogStore struct {
	bs  blobstore.Blobstore
	lgr *logrus.Entry
}

var _ LogStore = &BlobLogStore{}

// NewBlobLogStore returns a LogStore writing commits under _delta_log/ in |bs|.
func NewBlobLogStore(bs blobstore.Blobstore, lgr *logrus.Entry) *BlobLogStore {
	if lgr == nil {
		lgr = logrus.NewEntry(logrus.StandardLogger())
	}
	return &BlobLogStore{bs: bs, lgr: lgr.WithField("table", bs.Path())}
}

func (ls *BlobLogStore) Blobstore() blobstore.Blobstore {
	return ls.bs
}

func (ls *BlobLogStore) Append(ctx context.Context, version int64, c *Commit) error {
	if version < 0 {
		return fmt.Errorf("invalid commit version %d", version)
	}
	if err := CheckContext(ctx, "append"); err != nil {
		return err
	}

	data, err := EncodeCommit(c)
	if err != nil {
		return err
	}

	key := CommitKey(version)
	err = blobstore.CreateBytes(ctx, ls.bs, key, data)
	if err != nil {
		if blobstore.IsAlreadyExistsError(err) {
			ls.lgr.Tracef("txlog/append: lost race for version %d", version)
			return ErrVersionExists.New(version)
		}
		return StorageError(err, "append", key)
	}

	ls.lgr.Tracef("txlog/append: wrote version %d with %d actions", version, len(c.Actions))
	return nil
}

func (ls *BlobLogStore) Read(ctx context.Context, version int64) (*Commit, error) {
	if err := CheckContext(ctx, "read"); err != nil {
		return nil, err
	}

	key := CommitKey(version)
	data, err := blobstore.GetBytes(ctx, ls.bs, key)
	if err != nil {
		if blobstore.IsNotFoundError(err) {
			return nil, ErrVersionNotFound.New(version)
		}
		return nil, StorageError(err, "read", key)
	}

	c, err := DecodeCommit(version, data)
	if err != nil {
		return nil, err
	}

	if c.Timestamp.IsZero() {
		// commits written without commitInfo take their time from storage
		info, err := ls.bs.Stat(ctx, key)
		if err != nil {
			return nil, StorageError(err, "stat", key)
		}
		c.Timestamp = info.LastModified
	}
	return c, nil
}

func (ls *BlobLogStore) ListVersions(ctx context.Context) ([]int64, error) {
	infos, err := ls.bs.List(ctx, LogPrefix)
	if err != nil {
		return nil, StorageError(err, "list", LogPrefix)
	}

	versions := make([]int64, 0, len(infos))
	for _, info := range infos {
		if v, ok := ParseCommitKey(info.Key); ok {
			versions = append(versions, v)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}
