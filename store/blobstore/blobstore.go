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

package blobstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"time"
)

// FileInfo describes a single blob as reported by the backing store.
type FileInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Blobstore is the storage capability consumed by the table log and vacuum. Keys are
// slash separated and relative to the table root.
type Blobstore interface {
	// Path returns a human readable location for the store.
	Path() string

	// Exists returns true if a blob keyed by |key| exists.
	Exists(ctx context.Context, key string) (bool, error)

	// Stat returns the size and last modified time of |key|, or NotFound.
	Stat(ctx context.Context, key string) (FileInfo, error)

	// List returns every blob whose key begins with |prefix|, at any depth.
	List(ctx context.Context, prefix string) ([]FileInfo, error)

	// Get returns a reader over the contents of |key|, or NotFound. Callers must close it.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// CreateIfAbsent atomically writes |key| only if no blob exists there. When one does,
	// AlreadyExists is returned and the existing blob is left untouched.
	CreateIfAbsent(ctx context.Context, key string, totalSize int64, reader io.Reader) error

	// Put unconditionally writes |key|.
	Put(ctx context.Context, key string, totalSize int64, reader io.Reader) error

	// Delete removes |key|. A missing key is reported as NotFound; stores that cannot
	// tell the difference report success.
	Delete(ctx context.Context, key string) error
}

// GetBytes reads all of |key|.
func GetBytes(ctx context.Context, bs Blobstore, key string) ([]byte, error) {
	rc, err := bs.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return io.ReadAll(rc)
}

// PutBytes overwrites |key| with |data|.
func PutBytes(ctx context.Context, bs Blobstore, key string, data []byte) error {
	return bs.Put(ctx, key, int64(len(data)), bytes.NewReader(data))
}

// CreateBytes writes |data| at |key| if nothing is there yet.
func CreateBytes(ctx context.Context, bs Blobstore, key string, data []byte) error {
	return bs.CreateIfAbsent(ctx, key, int64(len(data)), bytes.NewReader(data))
}

func sortByKey(infos []FileInfo) {
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Key < infos[j].Key
	})
}

// normalizePrefix removes leading slashes from a prefix
func normalizePrefix(prefix string) string {
	return strings.TrimLeft(prefix, "/")
}

// joinKey joins a store prefix and a relative key without collapsing a trailing
// separator, which List prefixes rely on.
func joinKey(prefix, key string) string {
	key = strings.TrimLeft(key, "/")
	if prefix == "" {
		return key
	}
	return strings.TrimRight(prefix, "/") + "/" + key
}

// relKey strips the store prefix from an absolute key.
func relKey(prefix, absKey string) string {
	if prefix == "" {
		return absKey
	}
	return strings.TrimPrefix(strings.TrimPrefix(absKey, strings.TrimRight(prefix, "/")), "/")
}
