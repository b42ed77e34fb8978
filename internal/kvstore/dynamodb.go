package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// dynamoRecord is one item per logical key. The table's partition key is
// the string attribute "pk".
type dynamoRecord struct {
	Key     string            `dynamodbav:"pk"`
	Kind    KeyType           `dynamodbav:"kind"`
	Fields  map[string]string `dynamodbav:"fields,omitempty"`
	Members []string          `dynamodbav:"members,stringset,omitempty"`
}

type DynamoStore struct {
	client DynamoAPI
	table  string
}

func NewDynamoStore(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

// NewDynamoStoreFromConfig loads the default AWS credential chain, applies
// the optional region and endpoint overrides and checks the table exists.
func NewDynamoStoreFromConfig(ctx context.Context, cfg DynamoConfig) (*DynamoStore, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	store := NewDynamoStore(client, cfg.Table)
	if err := store.Ping(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (d *DynamoStore) pk(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: key},
	}
}

func (d *DynamoStore) get(ctx context.Context, key string) (*dynamoRecord, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            d.pk(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var rec dynamoRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode key %s: %w", key, err)
	}
	return &rec, nil
}

// HSet is a read-merge-write; concurrent writers to the same hash can lose
// fields, same as the other multi-step mutations in this service.
func (d *DynamoStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}

	rec, err := d.get(ctx, key)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &dynamoRecord{Key: key, Kind: TypeHash, Fields: map[string]string{}}
	}
	if rec.Kind != TypeHash {
		return ErrWrongType
	}
	if rec.Fields == nil {
		rec.Fields = map[string]string{}
	}
	for field, value := range fields {
		rec.Fields[field] = value
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("failed to encode key %s: %w", key, err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

func (d *DynamoStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	rec, err := d.get(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return map[string]string{}, nil
	}
	if rec.Kind != TypeHash {
		return nil, ErrWrongType
	}
	if rec.Fields == nil {
		return map[string]string{}, nil
	}
	return rec.Fields, nil
}

func (d *DynamoStore) HGet(ctx context.Context, key, field string) (string, error) {
	fields, err := d.HGetAll(ctx, key)
	if err != nil {
		return "", err
	}
	value, exists := fields[field]
	if !exists {
		return "", ErrNotFound
	}
	return value, nil
}

// SAdd uses an atomic ADD on the string set, conditioned on the item being
// absent or already a set.
func (d *DynamoStore) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	// string sets reject duplicate values within one request
	seen := make(map[string]struct{}, len(members))
	unique := members[:0:0]
	for _, m := range members {
		if _, dup := seen[m]; !dup {
			seen[m] = struct{}{}
			unique = append(unique, m)
		}
	}

	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(d.table),
		Key:                 d.pk(key),
		UpdateExpression:    aws.String("ADD #members :m SET #kind = :set"),
		ConditionExpression: aws.String("attribute_not_exists(#kind) OR #kind = :set"),
		ExpressionAttributeNames: map[string]string{
			"#members": "members",
			"#kind":    "kind",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":m":   &types.AttributeValueMemberSS{Value: unique},
			":set": &types.AttributeValueMemberS{Value: string(TypeSet)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrWrongType
		}
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

func (d *DynamoStore) SMembers(ctx context.Context, key string) ([]string, error) {
	rec, err := d.get(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return []string{}, nil
	}
	if rec.Kind != TypeSet {
		return nil, ErrWrongType
	}
	return rec.Members, nil
}

func (d *DynamoStore) Exists(ctx context.Context, key string) (bool, error) {
	rec, err := d.get(ctx, key)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

func (d *DynamoStore) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(d.table),
			Key:       d.pk(key),
		})
		if err != nil {
			return fmt.Errorf("failed to delete key %s: %w", key, err)
		}
	}
	return nil
}

func (d *DynamoStore) Type(ctx context.Context, key string) (KeyType, error) {
	rec, err := d.get(ctx, key)
	if err != nil {
		return TypeNone, err
	}
	if rec == nil {
		return TypeNone, nil
	}
	return rec.Kind, nil
}

func (d *DynamoStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	paginator := dynamodb.NewScanPaginator(d.client, &dynamodb.ScanInput{
		TableName:            aws.String(d.table),
		FilterExpression:     aws.String("begins_with(#pk, :p)"),
		ProjectionExpression: aws.String("#pk"),
		ExpressionAttributeNames: map[string]string{
			"#pk": "pk",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p": &types.AttributeValueMemberS{Value: prefix},
		},
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list keys with prefix %s: %w", prefix, err)
		}
		for _, item := range page.Items {
			if v, ok := item["pk"].(*types.AttributeValueMemberS); ok {
				keys = append(keys, v.Value)
			}
		}
	}
	return keys, nil
}

func (d *DynamoStore) Ping(ctx context.Context) error {
	_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.table),
	})
	if err != nil {
		return fmt.Errorf("failed to describe table %s: %w", d.table, err)
	}
	return nil
}

func (d *DynamoStore) Close() error {
	return nil
}
