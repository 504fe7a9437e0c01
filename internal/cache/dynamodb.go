package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/gwhthompson/grist-mcp-server-sub000/internal/core"
)

// DynamoStore implements core.MetaStore using AWS DynamoDB. Useful when a
// fleet of server instances shares one schema cache and Redis is not
// available in the deployment.
type DynamoStore struct {
	client    *dynamodb.Client
	tableName string
	closed    bool
}

// NewDynamoStore creates a new DynamoDB-backed store and verifies the table
// is reachable.
func NewDynamoStore(region, tableName, endpoint, accessKeyID, secretAccessKey string) (*DynamoStore, error) {
	if region == "" {
		return nil, fmt.Errorf("region is required")
	}
	if tableName == "" {
		return nil, fmt.Errorf("table name is required")
	}

	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if accessKeyID != "" && secretAccessKey != "" {
		cfg.Credentials = credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")
	}

	clientOptions := []func(*dynamodb.Options){}
	if endpoint != "" {
		// Custom endpoint (e.g. for LocalStack).
		clientOptions = append(clientOptions, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}

	client := dynamodb.NewFromConfig(cfg, clientOptions...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(tableName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DynamoDB table %s: %w", tableName, err)
	}

	return &DynamoStore{
		client:    client,
		tableName: tableName,
	}, nil
}

// Get retrieves a value by key.
func (d *DynamoStore) Get(ctx context.Context, key string) ([]byte, error) {
	if d.closed {
		return nil, fmt.Errorf("store is closed")
	}

	input := &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"key": &types.AttributeValueMemberS{Value: key},
		},
	}

	result, err := d.client.GetItem(ctx, input)
	if err != nil {
		log.Printf("[CACHE] ERROR: DynamoDB GET failed for key %s: %v", key, err)
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if result.Item == nil {
		return nil, fmt.Errorf("%w: %s", core.ErrKeyNotFound, key)
	}
	if expired(result.Item) {
		return nil, fmt.Errorf("%w: %s", core.ErrKeyNotFound, key)
	}

	valueAttr, ok := result.Item["value"]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrKeyNotFound, key)
	}
	valueMember, ok := valueAttr.(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("invalid value format for key %s", key)
	}
	return valueMember.Value, nil
}

// Set stores a key-value pair with an optional TTL.
func (d *DynamoStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if d.closed {
		return fmt.Errorf("store is closed")
	}

	item := map[string]types.AttributeValue{
		"key":        &types.AttributeValueMemberS{Value: key},
		"value":      &types.AttributeValueMemberB{Value: value},
		"created_at": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
	}
	if ttl > 0 {
		ttlTimestamp := time.Now().Add(ttl).Unix()
		item["ttl"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttlTimestamp)}
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	}
	if _, err := d.client.PutItem(ctx, input); err != nil {
		log.Printf("[CACHE] ERROR: DynamoDB SET failed for key %s: %v", key, err)
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// Delete removes a key from the store.
func (d *DynamoStore) Delete(ctx context.Context, key string) error {
	if d.closed {
		return fmt.Errorf("store is closed")
	}

	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"key": &types.AttributeValueMemberS{Value: key},
		},
	}
	if _, err := d.client.DeleteItem(ctx, input); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Exists checks if a key exists in the store.
func (d *DynamoStore) Exists(ctx context.Context, key string) (bool, error) {
	if d.closed {
		return false, fmt.Errorf("store is closed")
	}

	input := &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"key": &types.AttributeValueMemberS{Value: key},
		},
		ProjectionExpression: aws.String("key, ttl"),
	}

	result, err := d.client.GetItem(ctx, input)
	if err != nil {
		return false, fmt.Errorf("failed to check existence of key %s: %w", key, err)
	}
	if result.Item == nil {
		return false, nil
	}
	return !expired(result.Item), nil
}

// Close marks the store as closed. The DynamoDB client holds no connection
// that needs explicit closing.
func (d *DynamoStore) Close() error {
	d.closed = true
	return nil
}

// expired checks a DynamoDB item's ttl attribute. DynamoDB enforces TTL
// lazily, so a read may see an item whose TTL has already passed.
func expired(item map[string]types.AttributeValue) bool {
	ttlAttr, ok := item["ttl"]
	if !ok {
		return false
	}
	ttlMember, ok := ttlAttr.(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	var ttl int64
	if _, err := fmt.Sscanf(ttlMember.Value, "%d", &ttl); err != nil {
		return false
	}
	return time.Now().Unix() > ttl
}

// DynamoStoreFactory implements StoreFactory for DynamoDB.
type DynamoStoreFactory struct{}

// Type returns the type identifier for this factory.
func (f *DynamoStoreFactory) Type() string {
	return "dynamodb"
}

// Validate validates the DynamoDB-specific configuration.
func (f *DynamoStoreFactory) Validate(config StoreConfig) error {
	if config.Type != "dynamodb" {
		return fmt.Errorf("invalid type for DynamoDB factory: %s", config.Type)
	}
	if config.Region == "" {
		return fmt.Errorf("region is required for DynamoDB")
	}
	if config.TableName == "" {
		return fmt.Errorf("table_name is required for DynamoDB")
	}
	return nil
}

// Create creates a new DynamoDB store instance from the configuration.
func (f *DynamoStoreFactory) Create(config StoreConfig) (core.MetaStore, error) {
	store, err := NewDynamoStore(
		config.Region,
		config.TableName,
		config.Endpoint,
		config.AccessKeyID,
		config.SecretAccessKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create DynamoDB store: %w", err)
	}
	return store, nil
}

func init() {
	RegisterFactory(&DynamoStoreFactory{})
}
