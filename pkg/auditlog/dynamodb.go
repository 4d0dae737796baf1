package auditlog

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/nimbusops/hiberctl/pkg/schedule"
)

// DynamoDBAPI is the subset of the DynamoDB client the sink depends on.
type DynamoDBAPI interface {
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// item is the on-the-wire DynamoDB shape: partition key is the resource id
// (entries for one resource cluster together, a natural access pattern for
// incident investigation), sort key is timestamp+entry id.
type item struct {
	PK string `dynamodbav:"pk"`
	SK string `dynamodbav:"sk"`
	schedule.AuditEntry
}

// DynamoDBSink writes audit entries to a single DynamoDB table via
// BatchWriteItem.
type DynamoDBSink struct {
	client    DynamoDBAPI
	tableName string
}

// NewDynamoDBSink constructs a DynamoDB-backed audit sink.
func NewDynamoDBSink(client DynamoDBAPI, tableName string) *DynamoDBSink {
	return &DynamoDBSink{client: client, tableName: tableName}
}

func (s *DynamoDBSink) PutBatch(ctx context.Context, entries []schedule.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	requests := make([]types.WriteRequest, 0, len(entries))
	for _, entry := range entries {
		av, err := attributevalue.MarshalMap(item{
			PK:         entry.ResourceID,
			SK:         fmt.Sprintf("%020d#%s", entry.Timestamp.UnixNano(), entry.EntryID),
			AuditEntry: entry,
		})
		if err != nil {
			return fmt.Errorf("marshaling audit entry %s: %w", entry.EntryID, err)
		}
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
	}

	out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{s.tableName: requests},
	})
	if err != nil {
		return fmt.Errorf("batch writing %d audit entries: %w", len(entries), err)
	}

	if unprocessed := out.UnprocessedItems[s.tableName]; len(unprocessed) > 0 {
		return fmt.Errorf("%d audit entries left unprocessed after batch write", len(unprocessed))
	}

	return nil
}
