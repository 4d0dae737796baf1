package history

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/nimbusops/hiberctl/pkg/schedule"
)

// DynamoDBAPI is the subset of the DynamoDB client the store depends on.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// item is the on-the-wire DynamoDB shape: the execution record plus the
// partition/sort key pair described in spec.md §4.8 ("(tenantId, scheduleId)
// is the primary partition and startInstant+executionId is the sort key").
type item struct {
	PK string `dynamodbav:"pk"`
	SK string `dynamodbav:"sk"`
	schedule.ExecutionRecord
}

// DynamoDBStore is the History Store backed by a single DynamoDB table.
type DynamoDBStore struct {
	client    DynamoDBAPI
	tableName string
}

// NewDynamoDBStore constructs a DynamoDB-backed History Store.
func NewDynamoDBStore(client DynamoDBAPI, tableName string) *DynamoDBStore {
	return &DynamoDBStore{client: client, tableName: tableName}
}

func (s *DynamoDBStore) AppendExecution(ctx context.Context, record schedule.ExecutionRecord) error {
	record = prepareForWrite(record)

	av, err := attributevalue.MarshalMap(item{
		PK:              partitionKey(record.TenantID, record.ScheduleID),
		SK:              sortKey(record.Start, record.ExecutionID),
		ExecutionRecord: record,
	})
	if err != nil {
		return fmt.Errorf("marshaling execution record: %w", err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.tableName), Item: av}); err != nil {
		return fmt.Errorf("writing execution record: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) ListExecutions(ctx context.Context, tenantID, scheduleID string, limit int) ([]schedule.ExecutionRecord, error) {
	records, err := s.queryNewestFirst(ctx, tenantID, scheduleID, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("listing executions for schedule %s: %w", scheduleID, err)
	}
	return records, nil
}

func (s *DynamoDBStore) LastStoppedState(ctx context.Context, tenantID, scheduleID, canonicalID string, kind schedule.Kind) (*schedule.PriorState, error) {
	records, err := s.queryNewestFirst(ctx, tenantID, scheduleID, minScanDepth)
	if err != nil {
		return nil, fmt.Errorf("scanning history for %s: %w", canonicalID, err)
	}
	return findLastStoppedState(records, canonicalID, kind), nil
}

func (s *DynamoDBStore) queryNewestFirst(ctx context.Context, tenantID, scheduleID string, limit int32) ([]schedule.ExecutionRecord, error) {
	pk := partitionKey(tenantID, scheduleID)

	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
		ScanIndexForward: aws.Bool(false), // descending sort key = newest first
		Limit:            aws.Int32(limit),
	})
	if err != nil {
		return nil, err
	}

	records := make([]schedule.ExecutionRecord, 0, len(out.Items))
	for _, raw := range out.Items {
		var it item
		if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
			return nil, fmt.Errorf("unmarshaling execution record: %w", err)
		}
		records = append(records, it.ExecutionRecord)
	}
	return records, nil
}
