package paymentstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/noah-isme/toko-payflow/internal/payflow"
)

// OrderIndex is the global secondary index on order_id, sorted by updated_at.
const OrderIndex = "order_id-updated_at-index"

// fixed width so updated_at sorts lexically
const sortableTime = "2006-01-02T15:04:05.000000000Z"

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Dynamo stores payment snapshots in a DynamoDB table.
//
// Table layout:
//   - PK: id (string)
//   - GSI order_id-updated_at-index: order_id (hash), updated_at (range)
type Dynamo struct {
	Client DynamoAPI
	Table  string
}

type dynamoItem struct {
	ID        string `dynamodbav:"id"`
	OrderID   string `dynamodbav:"order_id,omitempty"`
	State     string `dynamodbav:"state"`
	UpdatedAt string `dynamodbav:"updated_at"`
	Record    string `dynamodbav:"record"`
}

// DynamoOptions configures NewDynamoClient.
type DynamoOptions struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewDynamoClient builds a DynamoDB client. A non-empty Endpoint targets a
// local DynamoDB, which still needs static credentials to sign requests.
func NewDynamoClient(ctx context.Context, opts DynamoOptions) (*dynamodb.Client, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	load := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if opts.Endpoint != "" || opts.AccessKey != "" {
		access, secret := opts.AccessKey, opts.SecretKey
		if access == "" {
			access, secret = "local", "local"
		}
		load = append(load, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(access, secret, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, load...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	}), nil
}

func (d *Dynamo) Save(ctx context.Context, rec payflow.Record) error {
	if rec.ID == "" {
		return ErrMissingID
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode payment %s: %w", rec.ID, err)
	}
	av, err := attributevalue.MarshalMap(dynamoItem{
		ID:        rec.ID,
		OrderID:   rec.OrderID,
		State:     string(rec.State),
		UpdatedAt: rec.UpdatedAt.UTC().Format(sortableTime),
		Record:    string(body),
	})
	if err != nil {
		return err
	}
	if _, err := d.Client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(d.Table), Item: av}); err != nil {
		return fmt.Errorf("put payment %s: %w", rec.ID, err)
	}
	return nil
}

func (d *Dynamo) FindByID(ctx context.Context, id string) (payflow.Record, error) {
	if id == "" {
		return payflow.Record{}, payflow.ErrRecordNotFound
	}
	out, err := d.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.Table),
		Key:            map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return payflow.Record{}, fmt.Errorf("get payment %s: %w", id, err)
	}
	if len(out.Item) == 0 {
		return payflow.Record{}, payflow.ErrRecordNotFound
	}
	return decodeItem(out.Item)
}

func (d *Dynamo) FindByOrder(ctx context.Context, orderID string) (payflow.Record, error) {
	if orderID == "" {
		return payflow.Record{}, payflow.ErrRecordNotFound
	}
	out, err := d.Client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.Table),
		IndexName:              aws.String(OrderIndex),
		KeyConditionExpression: aws.String("order_id = :oid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":oid": &types.AttributeValueMemberS{Value: orderID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return payflow.Record{}, fmt.Errorf("query payments for order %s: %w", orderID, err)
	}
	if len(out.Items) == 0 {
		return payflow.Record{}, payflow.ErrRecordNotFound
	}
	return decodeItem(out.Items[0])
}

func decodeItem(raw map[string]types.AttributeValue) (payflow.Record, error) {
	var it dynamoItem
	if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
		return payflow.Record{}, err
	}
	var rec payflow.Record
	if err := json.Unmarshal([]byte(it.Record), &rec); err != nil {
		return payflow.Record{}, fmt.Errorf("decode payment %s: %w", it.ID, err)
	}
	return rec, nil
}
