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
	"net/http"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/pkg/errors"
)

// s3API is the subset of the S3 client used by S3Blobstore.
type s3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Blobstore stores blobs in an S3 (or S3 compatible) bucket. Create-if-absent relies on
// conditional writes with If-None-Match.
type S3Blobstore struct {
	client s3API
	bucket string
	prefix string
}

var _ Blobstore = &S3Blobstore{}

// NewS3Blobstore creates a new instance of a S3Blobstore
func NewS3Blobstore(client *s3.Client, bucket, prefix string) *S3Blobstore {
	return newS3BlobstoreWithClient(client, bucket, prefix)
}

func newS3BlobstoreWithClient(client s3API, bucket, prefix string) *S3Blobstore {
	return &S3Blobstore{client: client, bucket: bucket, prefix: normalizePrefix(prefix)}
}

func (bs *S3Blobstore) Path() string {
	return "s3://" + path.Join(bs.bucket, bs.prefix)
}

func (bs *S3Blobstore) absKey(key string) string {
	return joinKey(bs.prefix, key)
}

func (bs *S3Blobstore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := bs.Stat(ctx, key)
	if err == nil {
		return true, nil
	}
	if IsNotFoundError(err) {
		return false, nil
	}
	return false, err
}

func (bs *S3Blobstore) Stat(ctx context.Context, key string) (FileInfo, error) {
	out, err := bs.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bs.bucket),
		Key:    aws.String(bs.absKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return FileInfo{}, NotFound{bs.url(key)}
		}
		return FileInfo{}, err
	}
	return FileInfo{Key: key, Size: aws.ToInt64(out.ContentLength), LastModified: aws.ToTime(out.LastModified)}, nil
}

func (bs *S3Blobstore) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bs.bucket),
		Prefix: aws.String(bs.absKey(prefix)),
	}

	var infos []FileInfo
	paginator := s3.NewListObjectsV2Paginator(bs.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list %s", bs.Path())
		}
		for _, obj := range page.Contents {
			infos = append(infos, FileInfo{
				Key:          relKey(bs.prefix, aws.ToString(obj.Key)),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	sortByKey(infos)
	return infos, nil
}

func (bs *S3Blobstore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := bs.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bs.bucket),
		Key:    aws.String(bs.absKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, NotFound{bs.url(key)}
		}
		return nil, err
	}
	return out.Body, nil
}

func (bs *S3Blobstore) CreateIfAbsent(ctx context.Context, key string, totalSize int64, reader io.Reader) error {
	err := bs.put(ctx, key, reader, aws.String("*"))
	if err != nil && isS3PreconditionFailed(err) {
		return AlreadyExists{bs.url(key)}
	}
	return err
}

func (bs *S3Blobstore) Put(ctx context.Context, key string, totalSize int64, reader io.Reader) error {
	return bs.put(ctx, key, reader, nil)
}

func (bs *S3Blobstore) put(ctx context.Context, key string, reader io.Reader, ifNoneMatch *string) error {
	// the sdk wants a seekable body to compute checksums and retry
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	_, err = bs.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bs.bucket),
		Key:           aws.String(bs.absKey(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		IfNoneMatch:   ifNoneMatch,
	})
	return err
}

// Delete removes the object. S3 itself reports success for missing keys; some compatible
// stores answer 404, which is mapped to NotFound.
func (bs *S3Blobstore) Delete(ctx context.Context, key string) error {
	_, err := bs.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bs.bucket),
		Key:    aws.String(bs.absKey(key)),
	})
	if err != nil && isS3NotFound(err) {
		return NotFound{bs.url(key)}
	}
	return err
}

func (bs *S3Blobstore) url(key string) string {
	return "s3://" + path.Join(bs.bucket, bs.absKey(key))
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return s3StatusCode(err) == http.StatusNotFound
}

func isS3PreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	code := s3StatusCode(err)
	return code == http.StatusPreconditionFailed || code == http.StatusConflict
}

func s3StatusCode(err error) int {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode()
	}
	return 0
}
