package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/hexcache/blobstore"
)

// PointerName is the blob name the commit store intercepts. Everything
// else passes straight through to S3.
const PointerName = "CURRENT"

// ErrConcurrentCommit is returned when another session committed a newer
// snapshot pointer first.
var ErrConcurrentCommit = errors.New("concurrent snapshot commit detected")

// DynamoDBClient is the subset of the DynamoDB API the commit store uses.
type DynamoDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// CommitStore wraps Store and routes the snapshot pointer through a
// DynamoDB commit log. S3 has no compare-and-swap, so two sessions
// overwriting the pointer directly could silently drop a commit. The
// conditional write on a monotonically increasing version turns that race
// into ErrConcurrentCommit.
//
// Table schema:
//   - Partition key: base_uri (string), the S3 bucket/prefix
//   - Sort key: version (number)
//
// Create with:
//
//	aws dynamodb create-table \
//	  --table-name hexcache-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type CommitStore struct {
	inner     *Store
	ddb       DynamoDBClient
	tableName string
	baseURI   string
}

// Compile-time interface check.
var _ blobstore.BlobStore = (*CommitStore)(nil)

// NewCommitStore creates an S3+DynamoDB commit store. baseURI should be
// the "s3://bucket/prefix" form used as the partition key.
func NewCommitStore(inner *Store, ddb DynamoDBClient, tableName, baseURI string) *CommitStore {
	return &CommitStore{
		inner:     inner,
		ddb:       ddb,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

// Open opens a blob. The pointer is materialized from the latest
// committed version in DynamoDB.
func (s *CommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if name != PointerName {
		return s.inner.Open(ctx, name)
	}
	version, target, err := s.latest(ctx)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, blobstore.ErrNotFound
	}
	body := []byte(target)
	return &s3Blob{
		ReadCloser: io.NopCloser(bytes.NewReader(body)),
		size:       int64(len(body)),
	}, nil
}

// Put writes a blob. Pointer writes become conditional DynamoDB puts.
func (s *CommitStore) Put(ctx context.Context, name string, data []byte) error {
	if name != PointerName {
		return s.inner.Put(ctx, name, data)
	}
	return s.commit(ctx, string(data))
}

// Delete removes a blob. The pointer itself is never deleted from the
// commit log; Clear semantics are handled one level up by writing a new
// empty generation.
func (s *CommitStore) Delete(ctx context.Context, name string) error {
	if name == PointerName {
		return nil
	}
	return s.inner.Delete(ctx, name)
}

// List lists blobs with prefix.
func (s *CommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

func (s *CommitStore) latest(ctx context.Context) (uint64, string, error) {
	resp, err := s.ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("query commit log: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("commit log item has no numeric version")
	}
	targetAttr, ok := item["snapshot_path"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("commit log item has no snapshot_path")
	}
	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("parse commit version: %w", err)
	}
	return version, targetAttr.Value, nil
}

func (s *CommitStore) commit(ctx context.Context, snapshotPath string) error {
	current, _, err := s.latest(ctx)
	if err != nil {
		return err
	}
	next := current + 1

	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri":      &types.AttributeValueMemberS{Value: s.baseURI},
			"version":       &types.AttributeValueMemberN{Value: strconv.FormatUint(next, 10)},
			"snapshot_path": &types.AttributeValueMemberS{Value: snapshotPath},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentCommit
		}
		return fmt.Errorf("commit snapshot pointer: %w", err)
	}
	return nil
}
