package s3

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrConcurrentCommit is returned when another writer published the same
// manifest version first.
var ErrConcurrentCommit = errors.New("concurrent manifest commit detected")

// DDBClient is the subset of the DynamoDB API the commit store uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// CommitStore tracks which manifest is current for one index. Segment data
// lives in S3; the pointer to the live manifest lives in a DynamoDB table
// because publishing a manifest needs the compare-and-swap that S3 lacks.
//
// Table schema: partition key base_uri (S), sort key version (N). Each
// published version is one immutable item, so readers can also pin an
// older manifest.
type CommitStore struct {
	client  DDBClient
	table   string
	baseURI string
}

// NewCommitStore creates a commit store over an existing table. baseURI
// identifies the index, conventionally "s3://bucket/prefix".
func NewCommitStore(client DDBClient, table, baseURI string) *CommitStore {
	return &CommitStore{client: client, table: table, baseURI: baseURI}
}

// Latest returns the newest published version and its manifest key.
// Version zero with an empty key means nothing has been published.
func (c *CommitStore) Latest(ctx context.Context) (uint64, string, error) {
	resp, err := c.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.table),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: c.baseURI},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("query latest manifest: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, "", nil
	}
	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("manifest item has no numeric version")
	}
	keyAttr, ok := item["manifest_key"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("manifest item has no manifest_key")
	}
	var version uint64
	if _, err := fmt.Sscanf(versionAttr.Value, "%d", &version); err != nil {
		return 0, "", fmt.Errorf("parse manifest version: %w", err)
	}
	return version, keyAttr.Value, nil
}

// Publish makes manifestKey the current manifest, as the successor of the
// latest version. A racing writer that claims the same version first wins
// and this call fails with ErrConcurrentCommit.
func (c *CommitStore) Publish(ctx context.Context, manifestKey string) (uint64, error) {
	current, _, err := c.Latest(ctx)
	if err != nil {
		return 0, err
	}
	next := current + 1
	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item: map[string]types.AttributeValue{
			"base_uri":     &types.AttributeValueMemberS{Value: c.baseURI},
			"version":      &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", next)},
			"manifest_key": &types.AttributeValueMemberS{Value: manifestKey},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return 0, ErrConcurrentCommit
		}
		return 0, fmt.Errorf("publish manifest version %d: %w", next, err)
	}
	return next, nil
}
