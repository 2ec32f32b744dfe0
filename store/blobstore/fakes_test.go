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
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"google.golang.org/api/googleapi"
)

// fakeObjects is the shared object map behind the fake cloud clients
type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	modTime time.Time
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte), modTime: time.Unix(1700000000, 0).UTC()}
}

func (f *fakeObjects) get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	return data, ok
}

// put returns false if |exclusive| is set and the key exists
func (f *fakeObjects) put(key string, data []byte, exclusive bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[key]; ok && exclusive {
		return false
	}
	f.objects[key] = data
	return true
}

func (f *fakeObjects) remove(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	delete(f.objects, key)
	return ok
}

func (f *fakeObjects) list(prefix string) []FileInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	var infos []FileInfo
	for k, v := range f.objects {
		if strings.HasPrefix(k, prefix) {
			infos = append(infos, FileInfo{Key: k, Size: int64(len(v)), LastModified: f.modTime})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos
}

type fakeS3 struct {
	*fakeObjects
}

var _ s3API = fakeS3{}

func newFakeS3() fakeS3 {
	return fakeS3{newFakeObjects()}
}

func (f fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	data, ok := f.get(aws.ToString(in.Key))
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data))), LastModified: aws.Time(f.modTime)}, nil
}

func (f fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.get(aws.ToString(in.Key))
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	exclusive := aws.ToString(in.IfNoneMatch) == "*"
	if !f.put(aws.ToString(in.Key), data, exclusive) {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
	}
	return &s3.PutObjectOutput{}, nil
}

func (f fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.remove(aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, info := range f.list(aws.ToString(in.Prefix)) {
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(info.Key),
			Size:         aws.Int64(info.Size),
			LastModified: aws.Time(info.LastModified),
		})
	}
	return out, nil
}

type fakeAzClient struct {
	*fakeObjects
}

var _ azureBlobClient = fakeAzClient{}

func newFakeAzClient() fakeAzClient {
	return fakeAzClient{newFakeObjects()}
}

func azStatusErr(code int, errCode string) error {
	return &azcore.ResponseError{StatusCode: code, ErrorCode: errCode}
}

func (f fakeAzClient) GetProperties(ctx context.Context, containerName, blobName string) (int64, time.Time, error) {
	data, ok := f.get(blobName)
	if !ok {
		return 0, time.Time{}, azStatusErr(http.StatusNotFound, "BlobNotFound")
	}
	return int64(len(data)), f.modTime, nil
}

func (f fakeAzClient) DownloadStream(ctx context.Context, containerName, blobName string) (io.ReadCloser, error) {
	data, ok := f.get(blobName)
	if !ok {
		return nil, azStatusErr(http.StatusNotFound, "BlobNotFound")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f fakeAzClient) UploadBuffer(ctx context.Context, containerName, blobName string, data []byte, o *azblob.UploadBufferOptions) error {
	exclusive := o != nil && o.AccessConditions != nil && o.AccessConditions.ModifiedAccessConditions != nil &&
		o.AccessConditions.ModifiedAccessConditions.IfNoneMatch != nil &&
		*o.AccessConditions.ModifiedAccessConditions.IfNoneMatch == azcore.ETagAny
	if !f.put(blobName, data, exclusive) {
		return azStatusErr(http.StatusConflict, "BlobAlreadyExists")
	}
	return nil
}

func (f fakeAzClient) DeleteBlob(ctx context.Context, containerName, blobName string) error {
	if !f.remove(blobName) {
		return azStatusErr(http.StatusNotFound, "BlobNotFound")
	}
	return nil
}

func (f fakeAzClient) ListBlobs(ctx context.Context, containerName, prefix string) ([]FileInfo, error) {
	return f.list(prefix), nil
}

type fakeOSSBucket struct {
	*fakeObjects
}

var _ ossBucket = fakeOSSBucket{}

func newFakeOSSBucket() fakeOSSBucket {
	return fakeOSSBucket{newFakeObjects()}
}

func (f fakeOSSBucket) IsObjectExist(objectKey string, options ...oss.Option) (bool, error) {
	_, ok := f.get(objectKey)
	return ok, nil
}

func (f fakeOSSBucket) GetObject(objectKey string, options ...oss.Option) (io.ReadCloser, error) {
	data, ok := f.get(objectKey)
	if !ok {
		return nil, oss.ServiceError{StatusCode: http.StatusNotFound, Code: "NoSuchKey"}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f fakeOSSBucket) GetObjectMeta(objectKey string, options ...oss.Option) (http.Header, error) {
	data, ok := f.get(objectKey)
	if !ok {
		return nil, oss.ServiceError{StatusCode: http.StatusNotFound, Code: "NoSuchKey"}
	}
	h := http.Header{}
	h.Set(oss.HTTPHeaderContentLength, strconv.Itoa(len(data)))
	h.Set(oss.HTTPHeaderLastModified, f.modTime.Format(http.TimeFormat))
	return h, nil
}

func (f fakeOSSBucket) PutObject(objectKey string, reader io.Reader, options ...oss.Option) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	exclusive, _, _ := oss.IsOptionSet(options, oss.HTTPHeaderOssForbidOverWrite)
	if !f.put(objectKey, data, exclusive) {
		return oss.ServiceError{StatusCode: http.StatusConflict, Code: "FileAlreadyExists"}
	}
	return nil
}

func (f fakeOSSBucket) DeleteObject(objectKey string, options ...oss.Option) error {
	f.remove(objectKey)
	return nil
}

func (f fakeOSSBucket) ListObjectsV2(options ...oss.Option) (oss.ListObjectsResultV2, error) {
	prefix := ""
	if v, err := oss.FindOption(options, "prefix", ""); err == nil {
		prefix, _ = v.(string)
	}
	var res oss.ListObjectsResultV2
	for _, info := range f.list(prefix) {
		res.Objects = append(res.Objects, oss.ObjectProperties{Key: info.Key, Size: info.Size, LastModified: info.LastModified})
	}
	return res, nil
}

// fakeGCSBucket wraps not-found errors the way the GCS client does for some calls,
// so callers must match them with errors.Is.
type fakeGCSBucket struct {
	*fakeObjects
}

var _ gcsBucket = fakeGCSBucket{}

func newFakeGCSBucket() fakeGCSBucket {
	return fakeGCSBucket{newFakeObjects()}
}

func (f fakeGCSBucket) notExist(name string) error {
	return fmt.Errorf("storage: object %s: %w", name, storage.ErrObjectNotExist)
}

func (f fakeGCSBucket) Attrs(_ context.Context, name string) (*storage.ObjectAttrs, error) {
	data, ok := f.get(name)
	if !ok {
		return nil, f.notExist(name)
	}
	return &storage.ObjectAttrs{Name: name, Size: int64(len(data)), Updated: f.modTime}, nil
}

func (f fakeGCSBucket) NewReader(_ context.Context, name string) (io.ReadCloser, error) {
	data, ok := f.get(name)
	if !ok {
		return nil, f.notExist(name)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f fakeGCSBucket) Write(_ context.Context, name string, ifAbsent bool, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	if !f.put(name, data, ifAbsent) {
		return &googleapi.Error{Code: http.StatusPreconditionFailed, Message: "conditionNotMet"}
	}
	return nil
}

func (f fakeGCSBucket) Delete(_ context.Context, name string) error {
	if !f.remove(name) {
		return f.notExist(name)
	}
	return nil
}

func (f fakeGCSBucket) List(_ context.Context, prefix string) ([]*storage.ObjectAttrs, error) {
	var objs []*storage.ObjectAttrs
	for _, info := range f.list(prefix) {
		objs = append(objs, &storage.ObjectAttrs{Name: info.Key, Size: info.Size, Updated: info.LastModified})
	}
	return objs, nil
}
