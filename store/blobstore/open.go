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
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

const (
	FileScheme  = "file"
	MemScheme   = "mem"
	S3Scheme    = "s3"
	GCSScheme   = "gs"
	AzureScheme = "az"
	OSSScheme   = "oss"
)

// OpenOptions carries the backend settings that cannot be expressed in a table URL.
type OpenOptions struct {
	// Region for S3 and DynamoDB. Empty uses the SDK's default chain.
	Region string
	// Endpoint overrides the service endpoint, e.g. for MinIO or an OSS region.
	Endpoint string
	// PathStyle forces path style S3 addressing.
	PathStyle bool
	// CredentialsFile is a service account file for GCS.
	CredentialsFile string
}

var memStores = struct {
	mu     sync.Mutex
	stores map[string]*InMemoryBlobstore
}{stores: make(map[string]*InMemoryBlobstore)}

// OpenURL returns the Blobstore for a table URL. Supported schemes are file://, mem://,
// s3://bucket/prefix, gs://bucket/prefix, az://container/prefix and oss://bucket/prefix. A
// URL without a scheme is a local path.
func OpenURL(ctx context.Context, tableURL string, opts OpenOptions) (Blobstore, error) {
	scheme, host, prefix, err := parseTableURL(tableURL)
	if err != nil {
		return nil, err
	}

	switch scheme {
	case FileScheme:
		return NewLocalBlobstore(prefix)

	case MemScheme:
		memStores.mu.Lock()
		defer memStores.mu.Unlock()
		name := host + "/" + prefix
		if bs, ok := memStores.stores[name]; ok {
			return bs, nil
		}
		bs := NewInMemoryBlobstore(tableURL)
		memStores.stores[name] = bs
		return bs, nil

	case S3Scheme:
		cfg, err := LoadAWSConfig(ctx, opts)
		if err != nil {
			return nil, err
		}
		client := s3.NewFromConfig(cfg, func(o *s3.Options) {
			if opts.Endpoint != "" {
				o.BaseEndpoint = aws.String(opts.Endpoint)
			}
			o.UsePathStyle = opts.PathStyle
		})
		return NewS3Blobstore(client, host, prefix), nil

	case GCSScheme:
		var clientOpts []option.ClientOption
		if opts.CredentialsFile != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
		}
		if opts.Endpoint != "" {
			clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint), option.WithoutAuthentication())
		}
		client, err := storage.NewClient(ctx, clientOpts...)
		if err != nil {
			return nil, errors.Wrap(err, "unable to create gcs client")
		}
		return NewGCSBlobstore(client, host, prefix), nil

	case AzureScheme:
		connStr := os.Getenv("AZURE_STORAGE_CONNECTION_STRING")
		if connStr == "" {
			return nil, errors.New("AZURE_STORAGE_CONNECTION_STRING must be set for az:// tables")
		}
		client, err := azblob.NewClientFromConnectionString(connStr, nil)
		if err != nil {
			return nil, errors.Wrap(err, "unable to create azure client")
		}
		return NewAzureBlobstore(client, host, prefix), nil

	case OSSScheme:
		endpoint := opts.Endpoint
		if endpoint == "" {
			endpoint = os.Getenv("OSS_ENDPOINT")
		}
		client, err := oss.New(endpoint, os.Getenv("OSS_ACCESS_KEY_ID"), os.Getenv("OSS_ACCESS_KEY_SECRET"))
		if err != nil {
			return nil, errors.Wrap(err, "unable to create oss client")
		}
		return NewOSSBlobstore(client, host, prefix)
	}

	return nil, fmt.Errorf("unsupported table url scheme '%s' in %s", scheme, tableURL)
}

// LoadAWSConfig resolves AWS configuration from the environment and |opts|.
func LoadAWSConfig(ctx context.Context, opts OpenOptions) (aws.Config, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, errors.Wrap(err, "unable to load aws config")
	}
	return cfg, nil
}

func parseTableURL(tableURL string) (scheme, host, prefix string, err error) {
	if !strings.Contains(tableURL, "://") {
		return FileScheme, "", tableURL, nil
	}

	u, err := url.Parse(tableURL)
	if err != nil {
		return "", "", "", errors.Wrapf(err, "invalid table url %s", tableURL)
	}

	scheme = strings.ToLower(u.Scheme)
	if scheme == FileScheme {
		return scheme, "", u.Host + u.Path, nil
	}
	if u.Host == "" {
		return "", "", "", fmt.Errorf("table url %s is missing a bucket or container", tableURL)
	}
	return scheme, u.Host, strings.Trim(u.Path, "/"), nil
}
