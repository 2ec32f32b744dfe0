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
	"path"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/pkg/errors"
)

// azureBlobClient is the subset of the Azure SDK used by AzureBlobstore. Blob names are
// absolute within the container.
type azureBlobClient interface {
	GetProperties(ctx context.Context, containerName, blobName string) (size int64, lastModified time.Time, err error)
	DownloadStream(ctx context.Context, containerName, blobName string) (io.ReadCloser, error)
	UploadBuffer(ctx context.Context, containerName, blobName string, data []byte, o *azblob.UploadBufferOptions) error
	DeleteBlob(ctx context.Context, containerName, blobName string) error
	ListBlobs(ctx context.Context, containerName, prefix string) ([]FileInfo, error)
}

var _ Blobstore = &AzureBlobstore{}

type AzureBlobstore struct {
	azClient      azureBlobClient
	containerName string
	prefix        string
}

// NewAzureBlobstore creates a new instance of an AzureBlobstore
func NewAzureBlobstore(client *azblob.Client, containerName, prefix string) *AzureBlobstore {
	return newAzureBlobstoreWithClient(&realAzClient{client: client}, containerName, prefix)
}

// newAzureBlobstoreWithClient creates a new instance with a custom client (for testing)
func newAzureBlobstoreWithClient(azClient azureBlobClient, containerName, prefix string) *AzureBlobstore {
	return &AzureBlobstore{
		azClient:      azClient,
		containerName: containerName,
		prefix:        normalizePrefix(prefix),
	}
}

// Path returns this blobstore's path (i.e. container name + prefix)
func (bs *AzureBlobstore) Path() string {
	return "az://" + path.Join(bs.containerName, bs.prefix)
}

func (bs *AzureBlobstore) absKey(key string) string {
	return joinKey(bs.prefix, key)
}

func (bs *AzureBlobstore) Exists(ctx context.Context, key string) (bool, error) {
	_, _, err := bs.azClient.GetProperties(ctx, bs.containerName, bs.absKey(key))
	if err != nil {
		if isBlobNotFoundError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (bs *AzureBlobstore) Stat(ctx context.Context, key string) (FileInfo, error) {
	size, modTime, err := bs.azClient.GetProperties(ctx, bs.containerName, bs.absKey(key))
	if err != nil {
		return FileInfo{}, bs.errOrNotFound(err, key)
	}
	return FileInfo{Key: key, Size: size, LastModified: modTime}, nil
}

func (bs *AzureBlobstore) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	infos, err := bs.azClient.ListBlobs(ctx, bs.containerName, bs.absKey(prefix))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", bs.Path())
	}
	for i := range infos {
		infos[i].Key = relKey(bs.prefix, infos[i].Key)
	}
	sortByKey(infos)
	return infos, nil
}

func (bs *AzureBlobstore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := bs.azClient.DownloadStream(ctx, bs.containerName, bs.absKey(key))
	if err != nil {
		return nil, bs.errOrNotFound(err, key)
	}
	return rc, nil
}

// CreateIfAbsent uploads with If-None-Match: "*". Azure answers 409 when the blob already exists.
func (bs *AzureBlobstore) CreateIfAbsent(ctx context.Context, key string, totalSize int64, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	opts := &azblob.UploadBufferOptions{
		AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{
				IfNoneMatch: to.Ptr(azcore.ETagAny),
			},
		},
	}
	err = bs.azClient.UploadBuffer(ctx, bs.containerName, bs.absKey(key), data, opts)
	if err != nil && blobAlreadyExists(err) {
		return AlreadyExists{bs.url(key)}
	}
	return err
}

func (bs *AzureBlobstore) Put(ctx context.Context, key string, totalSize int64, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	return bs.azClient.UploadBuffer(ctx, bs.containerName, bs.absKey(key), data, nil)
}

func (bs *AzureBlobstore) Delete(ctx context.Context, key string) error {
	err := bs.azClient.DeleteBlob(ctx, bs.containerName, bs.absKey(key))
	if err != nil {
		return bs.errOrNotFound(err, key)
	}
	return nil
}

func (bs *AzureBlobstore) url(key string) string {
	return "az://" + path.Join(bs.containerName, bs.absKey(key))
}

// errOrNotFound converts Azure errors to NotFound errors when appropriate
func (bs *AzureBlobstore) errOrNotFound(err error, key string) error {
	if isBlobNotFoundError(err) {
		return NotFound{bs.url(key)}
	}
	return err
}

// isBlobNotFoundError checks if an error indicates a blob doesn't exist
func isBlobNotFoundError(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == 404
	}
	return strings.Contains(err.Error(), "BlobNotFound")
}

// blobAlreadyExists reports whether a conditional upload lost to an existing blob (409, or
// 412 from some emulators)
func blobAlreadyExists(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == 409 || respErr.StatusCode == 412
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "BlobAlreadyExists") || strings.Contains(errMsg, "ConditionNotMet")
}

// realAzClient adapts *azblob.Client to azureBlobClient
type realAzClient struct {
	client *azblob.Client
}

func (c *realAzClient) GetProperties(ctx context.Context, containerName, blobName string) (int64, time.Time, error) {
	bc := c.client.ServiceClient().NewContainerClient(containerName).NewBlobClient(blobName)
	props, err := bc.GetProperties(ctx, nil)
	if err != nil {
		return 0, time.Time{}, err
	}
	return deref(props.ContentLength), deref(props.LastModified), nil
}

func (c *realAzClient) DownloadStream(ctx context.Context, containerName, blobName string) (io.ReadCloser, error) {
	resp, err := c.client.DownloadStream(ctx, containerName, blobName, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *realAzClient) UploadBuffer(ctx context.Context, containerName, blobName string, data []byte, o *azblob.UploadBufferOptions) error {
	_, err := c.client.UploadBuffer(ctx, containerName, blobName, data, o)
	return err
}

func (c *realAzClient) DeleteBlob(ctx context.Context, containerName, blobName string) error {
	_, err := c.client.DeleteBlob(ctx, containerName, blobName, nil)
	return err
}

func (c *realAzClient) ListBlobs(ctx context.Context, containerName, prefix string) ([]FileInfo, error) {
	var infos []FileInfo
	pager := c.client.NewListBlobsFlatPager(containerName, &azblob.ListBlobsFlatOptions{Prefix: to.Ptr(prefix)})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			info := FileInfo{Key: *item.Name}
			if item.Properties != nil {
				info.Size = deref(item.Properties.ContentLength)
				info.LastModified = deref(item.Properties.LastModified)
			}
			infos = append(infos, info)
		}
	}
	return infos, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
