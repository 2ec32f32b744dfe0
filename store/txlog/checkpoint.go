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

	"github.com/goccy/go-json"
	"github.com/golang/snappy"

	"github.com/dolthub/deltalog/store/blobstore"
)

// Checkpoint is a compacted table state: the actions that, applied to an empty table,
// reproduce the state at Version.
type Checkpoint struct {
	Version   int64    `json:"version"`
	Timestamp int64    `json:"timestamp"`
	Actions   []Action `json:"actions"`
}

// LastCheckpoint is the content of _last_checkpoint. It is a hint; readers validate it
// against the checkpoint it names.
type LastCheckpoint struct {
	Version int64 `json:"version"`
	Size    int64 `json:"size"`
}

// WriteCheckpoint persists |cp| and advances _last_checkpoint. Writing a checkpoint that
// already exists is not an error, since checkpoints of one version are identical.
func WriteCheckpoint(ctx context.Context, bs blobstore.Blobstore, cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}

	key := CheckpointKey(cp.Version)
	err = blobstore.CreateBytes(ctx, bs, key, snappy.Encode(nil, data))
	if err != nil && !blobstore.IsAlreadyExistsError(err) {
		return StorageError(err, "write checkpoint", key)
	}

	last, ok, err := ReadLastCheckpoint(ctx, bs)
	if err != nil {
		return err
	}
	if ok && last.Version >= cp.Version {
		return nil
	}

	ptr, err := json.Marshal(LastCheckpoint{Version: cp.Version, Size: int64(len(cp.Actions))})
	if err != nil {
		return err
	}
	if err := blobstore.PutBytes(ctx, bs, LastCheckpointKey, ptr); err != nil {
		return StorageError(err, "write", LastCheckpointKey)
	}
	return nil
}

// ReadLastCheckpoint returns the _last_checkpoint pointer, or false if there is none. A
// pointer that cannot be parsed is ignored.
func ReadLastCheckpoint(ctx context.Context, bs blobstore.Blobstore) (LastCheckpoint, bool, error) {
	data, err := blobstore.GetBytes(ctx, bs, LastCheckpointKey)
	if err != nil {
		if blobstore.IsNotFoundError(err) {
			return LastCheckpoint{}, false, nil
		}
		return LastCheckpoint{}, false, StorageError(err, "read", LastCheckpointKey)
	}

	var last LastCheckpoint
	if err := json.Unmarshal(data, &last); err != nil {
		return LastCheckpoint{}, false, nil
	}
	return last, true, nil
}

// ReadCheckpoint loads the checkpoint for |version|. A corrupt checkpoint is ErrIntegrity.
func ReadCheckpoint(ctx context.Context, bs blobstore.Blobstore, version int64) (*Checkpoint, error) {
	key := CheckpointKey(version)
	compressed, err := blobstore.GetBytes(ctx, bs, key)
	if err != nil {
		if blobstore.IsNotFoundError(err) {
			return nil, ErrIntegrity.New(version, "checkpoint not found")
		}
		return nil, StorageError(err, "read checkpoint", key)
	}

	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, ErrIntegrity.New(version, "checkpoint is not valid snappy: "+err.Error())
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, ErrIntegrity.New(version, "checkpoint is not valid json: "+err.Error())
	}
	if cp.Version != version {
		return nil, ErrIntegrity.New(version, "checkpoint records a different version")
	}
	for _, a := range cp.Actions {
		if err := a.validate(); err != nil {
			return nil, ErrIntegrity.New(version, "checkpoint action: "+err.Error())
		}
	}
	return &cp, nil
}

// FindCheckpoint returns the version of the newest checkpoint at or below |maxVersion|.
func FindCheckpoint(ctx context.Context, bs blobstore.Blobstore, maxVersion int64) (int64, bool, error) {
	last, ok, err := ReadLastCheckpoint(ctx, bs)
	if err != nil {
		return -1, false, err
	}
	if ok && last.Version <= maxVersion {
		exists, err := bs.Exists(ctx, CheckpointKey(last.Version))
		if err != nil {
			return -1, false, StorageError(err, "stat", CheckpointKey(last.Version))
		}
		if exists {
			return last.Version, true, nil
		}
	}

	infos, err := bs.List(ctx, LogPrefix)
	if err != nil {
		return -1, false, StorageError(err, "list", LogPrefix)
	}
	best := int64(-1)
	for _, info := range infos {
		if v, ok := ParseCheckpointKey(info.Key); ok && v <= maxVersion && v > best {
			best = v
		}
	}
	return best, best >= 0, nil
}
