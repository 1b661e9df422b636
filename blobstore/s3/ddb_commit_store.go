package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/graphstore/blobstore"
)

// PointerName is the blob that names the active snapshot version.
const PointerName = "current.json"

// DDBCommitStore implements blobstore.BlobStore backed by S3 with DynamoDB
// arbitrating updates of the version pointer. S3 has no compare-and-swap, so
// two exporters publishing the same version could otherwise silently
// overwrite each other's pointer.
//
// Every blob except PointerName goes straight to S3. A pointer write becomes a
// conditional PutItem keyed by the version it names and is mirrored to S3
// afterwards, so plain S3 readers still see it.
//
// Table schema:
//   - Partition key: base_uri (string) - the S3 prefix/path
//   - Sort key: version (number) - the snapshot version named by the pointer
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name graphstore-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBCommitStore struct {
	s3Store   *Store
	ddbClient DDBClient
	tableName string
	baseURI   string
}

// DDBClient is the interface for DynamoDB operations.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

var _ DDBClient = (*dynamodb.Client)(nil)

// ErrConcurrentModification is returned when another writer already published
// the same or a newer version.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// NewDDBCommitStore creates a new S3+DynamoDB commit store.
// The baseURI should be "s3://bucket/prefix" format used as partition key.
func NewDDBCommitStore(s3Store *Store, ddbClient DDBClient, tableName, baseURI string) *DDBCommitStore {
	return &DDBCommitStore{
		s3Store:   s3Store,
		ddbClient: ddbClient,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

// Open opens a blob. The pointer is served from DynamoDB.
func (s *DDBCommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if name != PointerName {
		return s.s3Store.Open(ctx, name)
	}
	version, body, err := s.latest(ctx)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, blobstore.ErrNotFound
	}
	return &pointerBlob{content: body}, nil
}

// Put writes a blob. Pointer writes are conditional on the version being new.
func (s *DDBCommitStore) Put(ctx context.Context, name string, data []byte) error {
	if name != PointerName {
		return s.s3Store.Put(ctx, name, data)
	}

	var ptr struct {
		Version uint64 `json:"version"`
	}
	if err := json.Unmarshal(data, &ptr); err != nil {
		return fmt.Errorf("decode pointer: %w", err)
	}
	if ptr.Version == 0 {
		return errors.New("pointer names version 0")
	}
	if err := s.commitVersion(ctx, ptr.Version, data); err != nil {
		return err
	}
	return s.s3Store.Put(ctx, name, data)
}

// Delete deletes a blob from S3. Pointer history in DynamoDB is kept.
func (s *DDBCommitStore) Delete(ctx context.Context, name string) error {
	return s.s3Store.Delete(ctx, name)
}

// List lists blobs with prefix.
func (s *DDBCommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.s3Store.List(ctx, prefix)
}

// latest queries DynamoDB for the newest published pointer.
func (s *DDBCommitStore) latest(ctx context.Context) (uint64, []byte, error) {
	resp, err := s.ddbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(false), // Descending order
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, nil, fmt.Errorf("failed to query DynamoDB: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, nil, nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, nil, errors.New("invalid version attribute in DynamoDB")
	}
	bodyAttr, ok := item["pointer"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, nil, errors.New("invalid pointer attribute in DynamoDB")
	}
	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to parse version: %w", err)
	}
	return version, []byte(bodyAttr.Value), nil
}

// commitVersion records version with a conditional write. A version that is
// not newer than the latest one fails with ErrConcurrentModification.
func (s *DDBCommitStore) commitVersion(ctx context.Context, version uint64, body []byte) error {
	current, _, err := s.latest(ctx)
	if err != nil {
		return err
	}
	if version <= current {
		return fmt.Errorf("%w: version %d, latest %d", ErrConcurrentModification, version, current)
	}

	_, err = s.ddbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri": &types.AttributeValueMemberS{Value: s.baseURI},
			"version":  &types.AttributeValueMemberN{Value: strconv.FormatUint(version, 10)},
			"pointer":  &types.AttributeValueMemberS{Value: string(body)},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("failed to commit version to DynamoDB: %w", err)
	}
	return nil
}

// pointerBlob serves the pointer body read from DynamoDB.
type pointerBlob struct {
	content []byte
}

func (b *pointerBlob) Close() error { return nil }

func (b *pointerBlob) Size() int64 { return int64(len(b.content)) }

func (b *pointerBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	return bytes.NewReader(b.content).ReadAt(p, off)
}

func (b *pointerBlob) ReadRange(_ context.Context, off, length int64) (io.ReadCloser, error) {
	size := int64(len(b.content))
	if off >= size || length <= 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	return io.NopCloser(bytes.NewReader(b.content[off:min(off+length, size)])), nil
}
