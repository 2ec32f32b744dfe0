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
	"bytes"
	"context"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dolthub/deltalog/store/blobstore"
)

const (
	tablePathAttr  = "tablePath"
	fileNameAttr   = "fileName"
	tempPathAttr   = "tempPath"
	completeAttr   = "complete"
	expireTimeAttr = "expireTime"

	// completed entries are only needed until the commit file is visible in listings
	entryTTL = 24 * time.Hour
)

var (
	entryNotExistsExpression = fmt.Sprintf("attribute_not_exists(%s)", fileNameAttr)
	latestEntryExpression    = fmt.Sprintf("%s = :tp", tablePathAttr)
)

// ddbsvc is the subset of the DynamoDB client used by DynamoLogStore.
type ddbsvc interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoLogStore arbitrates commit versions with a conditional put into a DynamoDB table,
// for object stores whose writes cannot be made exclusive. The table's partition key is
// the string attribute `tablePath` and its sort key the string attribute `fileName`.
//
// A commit is first written to a unique temp object, then claimed in DynamoDB, then copied
// to its final key and marked complete. A writer that dies after claiming leaves an
// incomplete entry that any later reader finishes.
type DynamoLogStore struct {
	*BlobLogStore
	table     string
	tablePath string
	ddb       ddbsvc
	now       func() time.Time
}

var _ LogStore = &DynamoLogStore{}

// NewDynamoLogStore returns a LogStore for the table in |bs| coordinated through |table|.
func NewDynamoLogStore(bs blobstore.Blobstore, ddb *dynamodb.Client, table string, lgr *logrus.Entry) *DynamoLogStore {
	return newDynamoLogStore(bs, ddb, table, lgr)
}

func newDynamoLogStore(bs blobstore.Blobstore, ddb ddbsvc, table string, lgr *logrus.Entry) *DynamoLogStore {
	return &DynamoLogStore{
		BlobLogStore: NewBlobLogStore(bs, lgr),
		table:        table,
		tablePath:    bs.Path(),
		ddb:          ddb,
		now:          time.Now,
	}
}

type logEntry struct {
	fileName string
	tempPath string
	complete bool
}

func (ls *DynamoLogStore) Append(ctx context.Context, version int64, c *Commit) error {
	if version < 0 {
		return fmt.Errorf("invalid commit version %d", version)
	}
	if err := CheckContext(ctx, "append"); err != nil {
		return err
	}
	if version > 0 {
		// a crashed predecessor must be visible before its successor is
		if _, err := ls.repairLatest(ctx); err != nil {
			return err
		}
	}

	data, err := EncodeCommit(c)
	if err != nil {
		return err
	}

	// A completed entry may have expired from the table while its commit file remains.
	finalKey := CommitKey(version)
	exists, err := ls.bs.Exists(ctx, finalKey)
	if err != nil {
		return StorageError(err, "stat", finalKey)
	}
	if exists {
		return ErrVersionExists.New(version)
	}

	fileName := path.Base(finalKey)
	tempKey := tempPrefix + fileName + "." + uuid.New().String()
	if err := blobstore.PutBytes(ctx, ls.bs, tempKey, data); err != nil {
		return StorageError(err, "write", tempKey)
	}

	_, err = ls.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(ls.table),
		Item: map[string]types.AttributeValue{
			tablePathAttr: &types.AttributeValueMemberS{Value: ls.tablePath},
			fileNameAttr:  &types.AttributeValueMemberS{Value: fileName},
			tempPathAttr:  &types.AttributeValueMemberS{Value: tempKey},
			completeAttr:  &types.AttributeValueMemberS{Value: "false"},
		},
		ConditionExpression: aws.String(entryNotExistsExpression),
	})
	if err != nil {
		ls.deleteTemp(ctx, tempKey)
		if errIsConditionalCheckFailed(err) {
			ls.lgr.Tracef("txlog/dynamo: lost race for version %d", version)
			return ErrVersionExists.New(version)
		}
		return StorageError(err, "claim", fileName)
	}

	// The version is ours from here on unless another commit file is already in place.
	// Failing to finish otherwise leaves an incomplete entry that readers repair, so the
	// append still succeeded.
	if err := ls.complete(ctx, logEntry{fileName: fileName, tempPath: tempKey}, data); err != nil {
		if ErrVersionExists.Is(err) {
			ls.deleteTemp(ctx, tempKey)
			return err
		}
		ls.lgr.Warnf("txlog/dynamo: version %d claimed but not completed: %v", version, err)
	}
	return nil
}

func (ls *DynamoLogStore) Read(ctx context.Context, version int64) (*Commit, error) {
	c, err := ls.BlobLogStore.Read(ctx, version)
	if err == nil || !ErrVersionNotFound.Is(err) {
		return c, err
	}

	fileName := path.Base(CommitKey(version))
	entry, ok, err := ls.getEntry(ctx, fileName)
	if err != nil {
		return nil, err
	}
	if !ok || entry.complete {
		return nil, ErrVersionNotFound.New(version)
	}
	if err := ls.complete(ctx, entry, nil); err != nil {
		return nil, err
	}
	return ls.BlobLogStore.Read(ctx, version)
}

func (ls *DynamoLogStore) ListVersions(ctx context.Context) ([]int64, error) {
	if _, err := ls.repairLatest(ctx); err != nil {
		return nil, err
	}
	return ls.BlobLogStore.ListVersions(ctx)
}

// repairLatest completes the newest entry of the table if its writer did not.
func (ls *DynamoLogStore) repairLatest(ctx context.Context) (bool, error) {
	out, err := ls.ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(ls.table),
		KeyConditionExpression: aws.String(latestEntryExpression),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":tp": &types.AttributeValueMemberS{Value: ls.tablePath},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
		ConsistentRead:   aws.Bool(true),
	})
	if err != nil {
		return false, StorageError(err, "query", ls.table)
	}
	if len(out.Items) == 0 {
		return false, nil
	}

	entry, err := parseEntry(out.Items[0])
	if err != nil {
		return false, err
	}
	if entry.complete {
		return false, nil
	}
	return true, ls.complete(ctx, entry, nil)
}

// complete copies the temp object of |entry| into place and marks the entry complete.
// Every step tolerates having been done already by a concurrent repairer. When the writer
// completes its own entry it passes its commit as |own|, and a different commit file
// already in place is ErrVersionExists.
func (ls *DynamoLogStore) complete(ctx context.Context, entry logEntry, own []byte) error {
	finalKey := LogPrefix + entry.fileName
	version, ok := ParseCommitKey(finalKey)
	if !ok {
		return ErrIntegrity.New(-1, "malformed log entry "+entry.fileName)
	}

	data, err := blobstore.GetBytes(ctx, ls.bs, entry.tempPath)
	if err != nil {
		if blobstore.IsNotFoundError(err) {
			exists, existsErr := ls.bs.Exists(ctx, finalKey)
			if existsErr != nil {
				return StorageError(existsErr, "stat", finalKey)
			}
			if !exists {
				return ErrIntegrity.New(version, "claimed commit has no temp file "+entry.tempPath)
			}
		} else {
			return StorageError(err, "read", entry.tempPath)
		}
	} else {
		err = blobstore.CreateBytes(ctx, ls.bs, finalKey, data)
		if err != nil {
			if !blobstore.IsAlreadyExistsError(err) {
				return StorageError(err, "write", finalKey)
			}
			if own != nil {
				existing, err := blobstore.GetBytes(ctx, ls.bs, finalKey)
				if err != nil {
					return StorageError(err, "read", finalKey)
				}
				if !bytes.Equal(existing, own) {
					return ErrVersionExists.New(version)
				}
			}
		}
	}

	expire := ls.now().Add(entryTTL).Unix()
	_, err = ls.ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(ls.table),
		Key: map[string]types.AttributeValue{
			tablePathAttr: &types.AttributeValueMemberS{Value: ls.tablePath},
			fileNameAttr:  &types.AttributeValueMemberS{Value: entry.fileName},
		},
		UpdateExpression:         aws.String("SET #c = :c, #e = :e"),
		ExpressionAttributeNames: map[string]string{"#c": completeAttr, "#e": expireTimeAttr},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: "true"},
			":e": &types.AttributeValueMemberN{Value: strconv.FormatInt(expire, 10)},
		},
	})
	if err != nil {
		return StorageError(err, "complete", entry.fileName)
	}

	ls.deleteTemp(ctx, entry.tempPath)
	ls.lgr.Tracef("txlog/dynamo: completed version %d", version)
	return nil
}

func (ls *DynamoLogStore) getEntry(ctx context.Context, fileName string) (logEntry, bool, error) {
	out, err := ls.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(ls.table),
		Key: map[string]types.AttributeValue{
			tablePathAttr: &types.AttributeValueMemberS{Value: ls.tablePath},
			fileNameAttr:  &types.AttributeValueMemberS{Value: fileName},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return logEntry{}, false, StorageError(err, "get", fileName)
	}
	if len(out.Item) == 0 {
		return logEntry{}, false, nil
	}
	entry, err := parseEntry(out.Item)
	return entry, err == nil, err
}

func (ls *DynamoLogStore) deleteTemp(ctx context.Context, key string) {
	if err := ls.bs.Delete(ctx, key); err != nil && !blobstore.IsNotFoundError(err) {
		ls.lgr.Warnf("txlog/dynamo: unable to remove temp file %s: %v", key, err)
	}
}

func parseEntry(item map[string]types.AttributeValue) (logEntry, error) {
	var entry logEntry
	fileName, ok := item[fileNameAttr].(*types.AttributeValueMemberS)
	if !ok {
		return entry, ErrIntegrity.New(-1, "log entry without "+fileNameAttr)
	}
	tempPath, ok := item[tempPathAttr].(*types.AttributeValueMemberS)
	if !ok {
		return entry, ErrIntegrity.New(-1, "log entry "+fileName.Value+" without "+tempPathAttr)
	}
	entry.fileName = fileName.Value
	entry.tempPath = tempPath.Value
	if complete, ok := item[completeAttr].(*types.AttributeValueMemberS); ok {
		entry.complete = complete.Value == "true"
	}
	return entry, nil
}

func errIsConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
