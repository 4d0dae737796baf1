package platform

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// NewDynamoDBClient loads the default AWS config (region + credential chain
// from the environment) and verifies reachability against the given table
// before returning, mirroring NewRedisClient's build-then-ping shape.
func NewDynamoDBClient(ctx context.Context, region string, verifyTable string) (*dynamodb.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(cfg)

	if verifyTable != "" {
		if _, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(verifyTable)}); err != nil {
			return nil, fmt.Errorf("verifying dynamodb table %s is reachable: %w", verifyTable, err)
		}
	}

	return client, nil
}
