package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/skim/blobstore"
)

// CurrentName is the virtual blob holding the name of the latest committed
// catalog. Reads and writes of it go to DynamoDB, everything else to S3.
const CurrentName = "CURRENT"

// ErrConcurrentCommit is returned when another writer committed a new
// version between read and write.
var ErrConcurrentCommit = errors.New("s3: concurrent commit detected")

// DDBClient is the subset of the DynamoDB API the commit store uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DDBCommitStore implements blobstore.BlobStore backed by S3, with DynamoDB
// providing the compare-and-swap CURRENT pointer that S3 lacks. Concurrent
// archivers can safely race on catalog commits: exactly one wins, the rest
// get ErrConcurrentCommit.
//
// Table schema:
//   - Partition key: base_uri (string), the S3 bucket/prefix
//   - Sort key: version (number), monotonically increasing
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name skim-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBCommitStore struct {
	s3Store   *Store
	ddbClient DDBClient
	tableName string
	baseURI   string
}

// NewDDBCommitStore creates a commit store over an existing S3 store.
// baseURI identifies this store's namespace in the table, conventionally
// "s3://bucket/prefix".
func NewDDBCommitStore(s3Store *Store, ddbClient DDBClient, tableName, baseURI string) *DDBCommitStore {
	return &DDBCommitStore{
		s3Store:   s3Store,
		ddbClient: ddbClient,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

// Open opens a blob for reading. Opening CurrentName resolves the latest
// committed version from DynamoDB.
func (s *DDBCommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if name == CurrentName {
		version, target, err := s.latestVersion(ctx)
		if err != nil {
			return nil, err
		}
		if version == 0 {
			return nil, blobstore.ErrNotFound
		}
		return &currentBlob{content: []byte(target)}, nil
	}
	return s.s3Store.Open(ctx, name)
}

// Put writes a blob. Writing CurrentName commits a new version through a
// DynamoDB conditional write; data is the name of the blob the pointer
// should reference.
func (s *DDBCommitStore) Put(ctx context.Context, name string, data []byte) error {
	if name == CurrentName {
		return s.commit(ctx, string(data))
	}
	return s.s3Store.Put(ctx, name, data)
}

// Create streams through to S3.
func (s *DDBCommitStore) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	return s.s3Store.Create(ctx, name)
}

// Delete removes a blob from S3.
func (s *DDBCommitStore) Delete(ctx context.Context, name string) error {
	return s.s3Store.Delete(ctx, name)
}

// List lists S3 blobs with the given prefix.
func (s *DDBCommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.s3Store.List(ctx, prefix)
}

// latestVersion returns the highest committed version and its target, or
// version 0 when nothing has been committed.
func (s *DDBCommitStore) latestVersion(ctx context.Context) (uint64, string, error) {
	resp, err := s.ddbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("s3: query commit table: %w", err)
	}

	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("s3: commit item missing version attribute")
	}
	targetAttr, ok := item["manifest_path"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("s3: commit item missing manifest_path attribute")
	}

	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("s3: parse commit version: %w", err)
	}
	return version, targetAttr.Value, nil
}

// commit writes version latest+1 with a conditional put. Two writers
// racing on the same version leave exactly one winner.
func (s *DDBCommitStore) commit(ctx context.Context, target string) error {
	current, _, err := s.latestVersion(ctx)
	if err != nil {
		return err
	}

	_, err = s.ddbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri":      &types.AttributeValueMemberS{Value: s.baseURI},
			"version":       &types.AttributeValueMemberN{Value: strconv.FormatUint(current+1, 10)},
			"manifest_path": &types.AttributeValueMemberS{Value: target},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentCommit
		}
		return fmt.Errorf("s3: commit version %d: %w", current+1, err)
	}
	return nil
}

// currentBlob serves the resolved CURRENT pointer content from memory.
type currentBlob struct {
	content []byte
}

func (b *currentBlob) Close() error {
	return nil
}

func (b *currentBlob) Size() int64 {
	return int64(len(b.content))
}

func (b *currentBlob) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b.content)) {
		return 0, io.EOF
	}
	n := copy(p, b.content[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
