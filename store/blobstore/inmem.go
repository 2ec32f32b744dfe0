// Copyright 2019 Dolthub, Inc.
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
	"strings"
	"sync"
	"time"
)

type memBlob struct {
	data    []byte
	modTime time.Time
}

// InMemoryBlobstore provides an in memory implementation of the Blobstore interface
type InMemoryBlobstore struct {
	path  string
	mutex sync.RWMutex
	blobs map[string]memBlob
	now   func() time.Time
}

var _ Blobstore = &InMemoryBlobstore{}

// NewInMemoryBlobstore creates an instance of an InMemoryBlobstore
func NewInMemoryBlobstore(path string) *InMemoryBlobstore {
	return NewInMemoryBlobstoreWithClock(path, time.Now)
}

// NewInMemoryBlobstoreWithClock creates an InMemoryBlobstore which stamps blobs with
// times from |now| instead of the wall clock.
func NewInMemoryBlobstoreWithClock(path string, now func() time.Time) *InMemoryBlobstore {
	return &InMemoryBlobstore{
		path:  path,
		blobs: make(map[string]memBlob),
		now:   now,
	}
}

func (bs *InMemoryBlobstore) Path() string {
	return bs.path
}

// SetModTime overrides the last modified time of an existing blob.
func (bs *InMemoryBlobstore) SetModTime(key string, t time.Time) bool {
	bs.mutex.Lock()
	defer bs.mutex.Unlock()

	b, ok := bs.blobs[key]
	if ok {
		b.modTime = t
		bs.blobs[key] = b
	}
	return ok
}

// Exists returns true if a blob exists for the given key, and false if it does not.
// For InMemoryBlobstore instances error should never be returned (though other
// implementations of this interface can)
func (bs *InMemoryBlobstore) Exists(ctx context.Context, key string) (bool, error) {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()
	_, ok := bs.blobs[key]
	return ok, nil
}

func (bs *InMemoryBlobstore) Stat(ctx context.Context, key string) (FileInfo, error) {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	b, ok := bs.blobs[key]
	if !ok {
		return FileInfo{}, NotFound{key}
	}
	return FileInfo{Key: key, Size: int64(len(b.data)), LastModified: b.modTime}, nil
}

func (bs *InMemoryBlobstore) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	var infos []FileInfo
	for k, b := range bs.blobs {
		if strings.HasPrefix(k, prefix) {
			infos = append(infos, FileInfo{Key: k, Size: int64(len(b.data)), LastModified: b.modTime})
		}
	}
	sortByKey(infos)
	return infos, nil
}

// Get retrieves a reader over a copy of the blob's contents
func (bs *InMemoryBlobstore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if b, ok := bs.blobs[key]; ok {
		return io.NopCloser(bytes.NewReader(b.data)), nil
	}

	return nil, NotFound{key}
}

// CreateIfAbsent stores the blob if the key is unused. The check and the write happen under
// one lock acquisition.
func (bs *InMemoryBlobstore) CreateIfAbsent(ctx context.Context, key string, totalSize int64, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	bs.mutex.Lock()
	defer bs.mutex.Unlock()

	if _, ok := bs.blobs[key]; ok {
		return AlreadyExists{key}
	}
	bs.put(key, data)
	return nil
}

// Put sets the blob for a key
func (bs *InMemoryBlobstore) Put(ctx context.Context, key string, totalSize int64, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	bs.mutex.Lock()
	defer bs.mutex.Unlock()
	bs.put(key, data)
	return nil
}

func (bs *InMemoryBlobstore) Delete(ctx context.Context, key string) error {
	bs.mutex.Lock()
	defer bs.mutex.Unlock()

	if _, ok := bs.blobs[key]; !ok {
		return NotFound{key}
	}
	delete(bs.blobs, key)
	return nil
}

func (bs *InMemoryBlobstore) put(key string, data []byte) {
	bs.blobs[key] = memBlob{data: data, modTime: bs.now()}
}
