package state

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"

	"github.com/evescope/activity-ingest/internal/config"
)

const snapshotKey = "snapshot"

// DynamoDBStore keeps the whole snapshot in a single item, so each save is
// one PutItem and therefore atomic.
type DynamoDBStore struct {
	client    *dynamodb.DynamoDB
	tableName string
}

// NewDynamoDBStore creates a DynamoDB-backed state store.
func NewDynamoDBStore(cfg config.StateConfig) (*DynamoDBStore, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}

	// For local testing with DynamoDB Local
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	store := &DynamoDBStore{
		client:    dynamodb.New(sess),
		tableName: cfg.TableName,
	}

	if err := store.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure state table exists: %w", err)
	}

	return store, nil
}

func (d *DynamoDBStore) ensureTable() error {
	_, err := d.client.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
	if err == nil {
		return nil
	}

	input := &dynamodb.CreateTableInput{
		TableName: aws.String(d.tableName),
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String("id"),
				KeyType:       aws.String("HASH"),
			},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String("id"),
				AttributeType: aws.String("S"),
			},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	}

	if _, err := d.client.CreateTable(input); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	return d.client.WaitUntilTableExists(&dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
}

// Load reads the snapshot item. A missing item or unparseable payload
// yields the default snapshot.
func (d *DynamoDBStore) Load(ctx context.Context) (*Snapshot, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]*dynamodb.AttributeValue{
			"id": {S: aws.String(snapshotKey)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get state item: %w", err)
	}

	if result.Item == nil || result.Item["payload"] == nil || result.Item["payload"].S == nil {
		return NewSnapshot(), nil
	}

	snap, ok := Decode([]byte(*result.Item["payload"].S))
	if !ok {
		return NewSnapshot(), nil
	}
	return snap, nil
}

// Save replaces the snapshot item in a single PutItem. Identical content is
// detected beforehand and skipped.
func (d *DynamoDBStore) Save(ctx context.Context, snap *Snapshot) (bool, error) {
	data, err := Encode(snap)
	if err != nil {
		return false, err
	}

	current, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]*dynamodb.AttributeValue{
			"id": {S: aws.String(snapshotKey)},
		},
	})
	if err == nil && current.Item != nil && current.Item["payload"] != nil &&
		current.Item["payload"].S != nil && *current.Item["payload"].S == string(data) {
		return false, nil
	}

	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item: map[string]*dynamodb.AttributeValue{
			"id":      {S: aws.String(snapshotKey)},
			"payload": {S: aws.String(string(data))},
		},
	})
	if err != nil {
		return false, fmt.Errorf("put state item: %w", err)
	}
	return true, nil
}

// Close closes the DynamoDB connection.
func (d *DynamoDBStore) Close() error {
	// DynamoDB client doesn't need explicit closing
	return nil
}
