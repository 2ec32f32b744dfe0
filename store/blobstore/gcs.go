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
	"context"
	"io"
	"net/http"
	"path"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// gcsBucket is the subset of bucket operations GCSBlobstore needs. Object names are absolute.
type gcsBucket interface {
	Attrs(ctx context.Context, name string) (*storage.ObjectAttrs, error)
	NewReader(ctx context.Context, name string) (io.ReadCloser, error)
	Write(ctx context.Context, name string, ifAbsent bool, reader io.Reader) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context, prefix string) ([]*storage.ObjectAttrs, error)
}

type realGCSBucket struct {
	bucket *storage.BucketHandle
}

func (b realGCSBucket) Attrs(ctx context.Context, name string) (*storage.ObjectAttrs, error) {
	return b.bucket.Object(name).Attrs(ctx)
}

func (b realGCSBucket) NewReader(ctx context.Context, name string) (io.ReadCloser, error) {
	return b.bucket.Object(name).NewReader(ctx)
}

// Write with |ifAbsent| uses the DoesNotExist precondition so that the write fails if any
// generation of the object exists.
func (b realGCSBucket) Write(ctx context.Context, name string, ifAbsent bool, reader io.Reader) error {
	oh := b.bucket.Object(name)
	if ifAbsent {
		oh = oh.If(storage.Conditions{DoesNotExist: true})
	}
	return writeObject(ctx, oh, reader)
}

func (b realGCSBucket) Delete(ctx context.Context, name string) error {
	return b.bucket.Object(name).Delete(ctx)
}

func (b realGCSBucket) List(ctx context.Context, prefix string) ([]*storage.ObjectAttrs, error) {
	var objs []*storage.ObjectAttrs
	it := b.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return objs, nil
		}
		if err != nil {
			return nil, err
		}
		objs = append(objs, attrs)
	}
}

// GCSBlobstore provides a GCS implementation of the Blobstore interface
type GCSBlobstore struct {
	bucket     gcsBucket
	bucketName string
	prefix     string
}

var _ Blobstore = &GCSBlobstore{}

// NewGCSBlobstore creates a new instance of a GCSBlobstore
func NewGCSBlobstore(gcs *storage.Client, bucketName, prefix string) *GCSBlobstore {
	return newGCSBlobstoreWithBucket(realGCSBucket{bucket: gcs.Bucket(bucketName)}, bucketName, prefix)
}

func newGCSBlobstoreWithBucket(bucket gcsBucket, bucketName, prefix string) *GCSBlobstore {
	return &GCSBlobstore{bucket: bucket, bucketName: bucketName, prefix: normalizePrefix(prefix)}
}

func (bs *GCSBlobstore) Path() string {
	return "gs://" + path.Join(bs.bucketName, bs.prefix)
}

func (bs *GCSBlobstore) absKey(key string) string {
	return joinKey(bs.prefix, key)
}

// Exists returns true if a blob exists for the given key, and false if it does not.
func (bs *GCSBlobstore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := bs.bucket.Attrs(ctx, bs.absKey(key))
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (bs *GCSBlobstore) Stat(ctx context.Context, key string) (FileInfo, error) {
	attrs, err := bs.bucket.Attrs(ctx, bs.absKey(key))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return FileInfo{}, NotFound{bs.url(key)}
		}
		return FileInfo{}, err
	}
	return FileInfo{Key: key, Size: attrs.Size, LastModified: attrs.Updated}, nil
}

func (bs *GCSBlobstore) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	objs, err := bs.bucket.List(ctx, bs.absKey(prefix))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", bs.Path())
	}

	infos := make([]FileInfo, 0, len(objs))
	for _, attrs := range objs {
		if attrs.Name == "" {
			continue
		}
		infos = append(infos, FileInfo{
			Key:          relKey(bs.prefix, attrs.Name),
			Size:         attrs.Size,
			LastModified: attrs.Updated,
		})
	}

	sortByKey(infos)
	return infos, nil
}

func (bs *GCSBlobstore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	reader, err := bs.bucket.NewReader(ctx, bs.absKey(key))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, NotFound{bs.url(key)}
		}
		return nil, err
	}
	return reader, nil
}

func (bs *GCSBlobstore) CreateIfAbsent(ctx context.Context, key string, totalSize int64, reader io.Reader) error {
	err := bs.bucket.Write(ctx, bs.absKey(key), true, reader)
	if err != nil && isGCSPreconditionFailed(err) {
		return AlreadyExists{bs.url(key)}
	}
	return err
}

func (bs *GCSBlobstore) Put(ctx context.Context, key string, totalSize int64, reader io.Reader) error {
	return bs.bucket.Write(ctx, bs.absKey(key), false, reader)
}

func (bs *GCSBlobstore) Delete(ctx context.Context, key string) error {
	err := bs.bucket.Delete(ctx, bs.absKey(key))
	if errors.Is(err, storage.ErrObjectNotExist) {
		return NotFound{bs.url(key)}
	}
	return err
}

func (bs *GCSBlobstore) url(key string) string {
	return "gs://" + path.Join(bs.bucketName, bs.absKey(key))
}

func writeObject(ctx context.Context, oh *storage.ObjectHandle, reader io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer := oh.NewWriter(ctx)
	if _, err := io.Copy(writer, reader); err != nil {
		// cancelling before Close abandons the upload instead of publishing a partial object
		cancel()
		writer.Close()
		return err
	}
	return writer.Close()
}

func isGCSPreconditionFailed(err error) bool {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code == http.StatusPreconditionFailed
	}
	return false
}
