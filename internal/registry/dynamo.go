package registry

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"bwprobe/internal/config"
)

// DynamoAPI is the subset of the DynamoDB client used by the registry.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Dynamo is a Registry backed by a DynamoDB routing table.
//
// Legacy lookups read a single item by its EndpointName partition key, so the
// legacy table must not carry a sort key. Topology queries run a key
// condition on EndpointName and therefore also work on a table keyed by
// (EndpointName, PromptKey).
type Dynamo struct {
	api   DynamoAPI
	table string
}

// NewDynamo builds a DynamoDB client from the default AWS credential chain.
func NewDynamo(ctx context.Context, cfg config.RegistryConfig) (*Dynamo, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewDynamoWithAPI(client, cfg.TableName), nil
}

// NewDynamoWithAPI wraps an existing client.
func NewDynamoWithAPI(api DynamoAPI, table string) *Dynamo {
	return &Dynamo{api: api, table: table}
}

func (d *Dynamo) Lookup(ctx context.Context, entryKey string) (map[string]string, error) {
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			EndpointNameAttr: &types.AttributeValueMemberS{Value: entryKey},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get routing item %s: %w", entryKey, err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, entryKey)
	}

	item := make(map[string]string, len(out.Item))
	for name, av := range out.Item {
		switch v := av.(type) {
		case *types.AttributeValueMemberS:
			item[name] = v.Value
		case *types.AttributeValueMemberN:
			item[name] = v.Value
		default:
			log.Debug().Str("attribute", name).Msg("skipping non-scalar routing attribute")
		}
	}
	return item, nil
}

func (d *Dynamo) Query(ctx context.Context, f Filter) ([]Record, error) {
	input, err := buildTopologyQuery(d.table, f)
	if err != nil {
		return nil, err
	}
	out, err := d.api.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("query routing table: %w", err)
	}

	var records []Record
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &records); err != nil {
		return nil, fmt.Errorf("decode routing records: %w", err)
	}
	if f.Limit > 0 && len(records) > f.Limit {
		records = records[:f.Limit]
	}
	return records, nil
}

// buildTopologyQuery renders Filter.Match as a DynamoDB filter expression. A
// record without a Reserved attribute counts as unreserved, as it does when
// decoded into Record.
func buildTopologyQuery(table string, f Filter) (*dynamodb.QueryInput, error) {
	now := f.Now.Unix()

	keyCond := expression.Key(EndpointNameAttr).Equal(expression.Value(f.EntryKey))
	filter := expression.Name("AvailabilityZone").Equal(expression.Value(f.AvailabilityZone)).
		And(
			expression.Contains(expression.Name("NetworkNodes"), f.Spine),
			expression.Or(
				expression.Name("Reserved").AttributeNotExists(),
				expression.Name("Reserved").Equal(expression.Value(false)),
				expression.Name("ReservationTimeout").LessThan(expression.Value(now)),
			),
			expression.Name("TTL").GreaterThanEqual(expression.Value(now)),
		)
	projection := expression.NamesList(expression.Name("PromptKey"), expression.Name("IpAddress"))

	expr, err := expression.NewBuilder().
		WithKeyCondition(keyCond).
		WithFilter(filter).
		WithProjection(projection).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build topology query: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(table),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
	}
	if f.Limit > 0 {
		input.Limit = aws.Int32(int32(f.Limit))
	}
	return input, nil
}
