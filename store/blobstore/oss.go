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
	"net/http"
	"path"
	"strconv"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/pkg/errors"
)

// ossBucket is the subset of *oss.Bucket used by OSSBlobstore.
type ossBucket interface {
	IsObjectExist(objectKey string, options ...oss.Option) (bool, error)
	GetObject(objectKey string, options ...oss.Option) (io.ReadCloser, error)
	GetObjectMeta(objectKey string, options ...oss.Option) (http.Header, error)
	PutObject(objectKey string, reader io.Reader, options ...oss.Option) error
	DeleteObject(objectKey string, options ...oss.Option) error
	ListObjectsV2(options ...oss.Option) (oss.ListObjectsResultV2, error)
}

// OSSBlobstore provides an Aliyun OSS implementation of the Blobstore interface
type OSSBlobstore struct {
	bucket     ossBucket
	bucketName string
	prefix     string
}

var _ Blobstore = &OSSBlobstore{}

// NewOSSBlobstore creates a new instance of a OSSBlobstore
func NewOSSBlobstore(ossClient *oss.Client, bucketName, prefix string) (*OSSBlobstore, error) {
	bucket, err := ossClient.Bucket(bucketName)
	if err != nil {
		return nil, err
	}
	return newOSSBlobstoreWithBucket(bucket, bucketName, prefix), nil
}

func newOSSBlobstoreWithBucket(bucket ossBucket, bucketName, prefix string) *OSSBlobstore {
	return &OSSBlobstore{bucket: bucket, bucketName: bucketName, prefix: normalizePrefix(prefix)}
}

func (ob *OSSBlobstore) Path() string {
	return "oss://" + path.Join(ob.bucketName, ob.prefix)
}

func (ob *OSSBlobstore) Exists(_ context.Context, key string) (bool, error) {
	return ob.bucket.IsObjectExist(ob.absKey(key))
}

func (ob *OSSBlobstore) Stat(_ context.Context, key string) (FileInfo, error) {
	meta, err := ob.bucket.GetObjectMeta(ob.absKey(key))
	if err != nil {
		if isNotFoundErr(err) {
			return FileInfo{}, NotFound{ob.url(key)}
		}
		return FileInfo{}, err
	}

	size, err := strconv.ParseInt(meta.Get(oss.HTTPHeaderContentLength), 10, 64)
	if err != nil {
		return FileInfo{}, err
	}
	modTime, err := http.ParseTime(meta.Get(oss.HTTPHeaderLastModified))
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{Key: key, Size: size, LastModified: modTime}, nil
}

func (ob *OSSBlobstore) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	var infos []FileInfo
	token := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		opts := []oss.Option{oss.Prefix(ob.absKey(prefix)), oss.MaxKeys(1000)}
		if token != "" {
			opts = append(opts, oss.ContinuationToken(token))
		}
		res, err := ob.bucket.ListObjectsV2(opts...)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list %s", ob.Path())
		}
		for _, obj := range res.Objects {
			infos = append(infos, FileInfo{
				Key:          relKey(ob.prefix, obj.Key),
				Size:         obj.Size,
				LastModified: obj.LastModified,
			})
		}
		if !res.IsTruncated {
			break
		}
		token = res.NextContinuationToken
	}

	sortByKey(infos)
	return infos, nil
}

func (ob *OSSBlobstore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	reader, err := ob.bucket.GetObject(ob.absKey(key))
	if err != nil {
		if isNotFoundErr(err) {
			return nil, NotFound{ob.url(key)}
		}
		return nil, err
	}
	return reader, nil
}

// CreateIfAbsent sets x-oss-forbid-overwrite so a second writer receives FileAlreadyExists.
func (ob *OSSBlobstore) CreateIfAbsent(_ context.Context, key string, totalSize int64, reader io.Reader) error {
	err := ob.bucket.PutObject(ob.absKey(key), reader, oss.ForbidOverWrite(true))
	if err != nil && isAlreadyExistsErr(err) {
		return AlreadyExists{ob.url(key)}
	}
	return err
}

func (ob *OSSBlobstore) Put(_ context.Context, key string, totalSize int64, reader io.Reader) error {
	return ob.bucket.PutObject(ob.absKey(key), reader)
}

func (ob *OSSBlobstore) Delete(_ context.Context, key string) error {
	err := ob.bucket.DeleteObject(ob.absKey(key))
	if err != nil && isNotFoundErr(err) {
		return NotFound{ob.url(key)}
	}
	return err
}

func (ob *OSSBlobstore) absKey(key string) string {
	return joinKey(ob.prefix, key)
}

func (ob *OSSBlobstore) url(key string) string {
	return "oss://" + path.Join(ob.bucketName, ob.absKey(key))
}

func ossStatus(err error) (int, string) {
	var svcErr oss.ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.StatusCode, svcErr.Code
	}
	var svcErrPtr *oss.ServiceError
	if errors.As(err, &svcErrPtr) {
		return svcErrPtr.StatusCode, svcErrPtr.Code
	}
	return 0, ""
}

func isNotFoundErr(err error) bool {
	status, _ := ossStatus(err)
	return status == http.StatusNotFound
}

func isAlreadyExistsErr(err error) bool {
	status, code := ossStatus(err)
	return code == "FileAlreadyExists" || status == http.StatusConflict
}
