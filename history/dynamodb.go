package history

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/rs/zerolog"
)

const DefaultTableName = "cloudnap-action-history"

// retention is the TTL horizon for audit entries.
const retention = 30 * 24 * time.Hour

// DynamoDB persists action audit entries in a DynamoDB table, creating the
// table with TTL enabled on first use.
type DynamoDB struct {
	client *dynamodb.DynamoDB
	table  string
	logger *zerolog.Logger
}

func NewDynamoDB(ctx context.Context, logger *zerolog.Logger, awsSession *session.Session, region, table string) (*DynamoDB, error) {
	client := dynamodb.New(awsSession, &aws.Config{
		Region: aws.String(region),
	})

	if table == "" {
		table = DefaultTableName
	}

	if err := createTableIfNotExists(ctx, client, table, logger); err != nil {
		return nil, err
	}

	return &DynamoDB{
		client: client,
		table:  table,
		logger: logger,
	}, nil
}

func (h *DynamoDB) Record(ctx context.Context, e Entry) error {
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if e.TTL == 0 {
		e.TTL = time.Now().Add(retention).Unix()
	}

	av, err := dynamodbattribute.MarshalMap(e)
	if err != nil {
		return fmt.Errorf("failed to marshal DynamoDB item: %v", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(h.table),
		Item:      av,
	}

	_, err = h.client.PutItemWithContext(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to put item into DynamoDB: %v", err)
	}
	return nil
}

// Recent returns entries recorded at or after since, newest first. The table
// stays small thanks to the TTL, so a filtered scan is acceptable here.
func (h *DynamoDB) Recent(ctx context.Context, since time.Time) ([]Entry, error) {
	sinceStr := since.UTC().Format(time.RFC3339)

	input := &dynamodb.ScanInput{
		TableName:        aws.String(h.table),
		FilterExpression: aws.String("#ts >= :since"),
		ExpressionAttributeNames: map[string]*string{
			"#ts": aws.String("timestamp"),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":since": {
				S: aws.String(sinceStr),
			},
		},
	}

	var entries []Entry
	err := h.client.ScanPagesWithContext(ctx, input, func(page *dynamodb.ScanOutput, lastPage bool) bool {
		for _, item := range page.Items {
			e := Entry{}
			if err := dynamodbattribute.UnmarshalMap(item, &e); err != nil {
				h.logger.Warn().Err(err).Msg("Skipping unreadable history item")
				continue
			}
			entries = append(entries, e)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan DynamoDB: %v", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp > entries[j].Timestamp
	})
	return entries, nil
}

func createTableIfNotExists(ctx context.Context, client *dynamodb.DynamoDB, table string, logger *zerolog.Logger) error {
	tableName := aws.String(table)

	existingTables, err := client.ListTablesWithContext(ctx, &dynamodb.ListTablesInput{})
	if err != nil {
		return fmt.Errorf("failed to list DynamoDB tables: %v", err)
	}

	for _, t := range existingTables.TableNames {
		if *t == table {
			return nil
		}
	}

	logger.Info().Str("TableName", table).Msg("Creating DynamoDB table")

	input := &dynamodb.CreateTableInput{
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String("cluster_name"),
				AttributeType: aws.String("S"),
			},
			{
				AttributeName: aws.String("timestamp"),
				AttributeType: aws.String("S"),
			},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String("cluster_name"),
				KeyType:       aws.String("HASH"),
			},
			{
				AttributeName: aws.String("timestamp"),
				KeyType:       aws.String("RANGE"),
			},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
		TableName:   tableName,
	}

	_, err = client.CreateTableWithContext(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to create DynamoDB table: %v", err)
	}

	logger.Info().Str("TableName", table).Msg("Waiting for the table to be created...")

	waitInput := &dynamodb.DescribeTableInput{
		TableName: tableName,
	}
	if err = client.WaitUntilTableExistsWithContext(ctx, waitInput); err != nil {
		return fmt.Errorf("failed to wait for table creation: %v", err)
	}

	ttlInput := &dynamodb.UpdateTimeToLiveInput{
		TableName: tableName,
		TimeToLiveSpecification: &dynamodb.TimeToLiveSpecification{
			AttributeName: aws.String("ttl"),
			Enabled:       aws.Bool(true),
		},
	}
	if _, err = client.UpdateTimeToLiveWithContext(ctx, ttlInput); err != nil {
		return fmt.Errorf("failed to enable TTL for the table: %v", err)
	}

	logger.Info().Str("TableName", table).Msg("Table created successfully.")
	return nil
}
