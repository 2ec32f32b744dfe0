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
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// LocalBlobstore stores blobs as files beneath a root directory.
type LocalBlobstore struct {
	root string
}

var _ Blobstore = &LocalBlobstore{}

// NewLocalBlobstore creates a LocalBlobstore rooted at |root|. The directory is created
// if it does not exist.
func NewLocalBlobstore(root string) (*LocalBlobstore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, os.ModePerm); err != nil {
		return nil, errors.Wrapf(err, "unable to create table root %s", abs)
	}
	return &LocalBlobstore{root: abs}, nil
}

func (bs *LocalBlobstore) Path() string {
	return bs.root
}

func (bs *LocalBlobstore) absPath(key string) string {
	return filepath.Join(bs.root, filepath.FromSlash(key))
}

func (bs *LocalBlobstore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(bs.absPath(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (bs *LocalBlobstore) Stat(ctx context.Context, key string) (FileInfo, error) {
	info, err := os.Stat(bs.absPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, NotFound{key}
		}
		return FileInfo{}, err
	}
	return FileInfo{Key: key, Size: info.Size(), LastModified: info.ModTime()}, nil
}

// List walks the whole root and filters by key prefix, since a prefix need not end on a
// directory boundary.
func (bs *LocalBlobstore) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	var infos []FileInfo
	err := filepath.WalkDir(bs.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(bs.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				// deleted while walking
				return nil
			}
			return err
		}
		infos = append(infos, FileInfo{Key: key, Size: info.Size(), LastModified: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortByKey(infos)
	return infos, nil
}

func (bs *LocalBlobstore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(bs.absPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NotFound{key}
		}
		return nil, err
	}
	return f, nil
}

// CreateIfAbsent writes the contents to a temp file beside the destination and hard links it
// into place. link(2) fails when the destination exists, which makes the publish atomic.
func (bs *LocalBlobstore) CreateIfAbsent(ctx context.Context, key string, totalSize int64, reader io.Reader) error {
	dest := bs.absPath(key)
	tmp, err := bs.writeTemp(dest, reader)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, dest); err != nil {
		if os.IsExist(err) {
			return AlreadyExists{key}
		}
		return err
	}
	return nil
}

// Put writes to a temp file and renames it over the destination.
func (bs *LocalBlobstore) Put(ctx context.Context, key string, totalSize int64, reader io.Reader) error {
	dest := bs.absPath(key)
	tmp, err := bs.writeTemp(dest, reader)
	if err != nil {
		return err
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (bs *LocalBlobstore) Delete(ctx context.Context, key string) error {
	err := os.Remove(bs.absPath(key))
	if err != nil && os.IsNotExist(err) {
		return NotFound{key}
	}
	return err
}

func (bs *LocalBlobstore) writeTemp(dest string, reader io.Reader) (string, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", err
	}

	path := filepath.Join(dir, "."+filepath.Base(dest)+"."+uuid.New().String()+".tmp")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", err
	}

	_, err = io.Copy(f, reader)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}
