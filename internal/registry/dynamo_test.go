package registry

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type fakeDynamo struct {
	item     map[string]types.AttributeValue
	items    []map[string]types.AttributeValue
	err      error
	getInput *dynamodb.GetItemInput
	qInput   *dynamodb.QueryInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.getInput = in
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.item}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.qInput = in
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.QueryOutput{Items: f.items}, nil
}

func TestDynamoLookup(t *testing.T) {
	t.Parallel()

	api := &fakeDynamo{item: map[string]types.AttributeValue{
		"EndpointName": &types.AttributeValueMemberS{Value: "x"},
		"peerA":        &types.AttributeValueMemberS{Value: "10.0.0.1"},
		"peerB":        &types.AttributeValueMemberS{Value: "10.0.0.2"},
		"flags":        &types.AttributeValueMemberBOOL{Value: true},
	}}
	reg := NewDynamoWithAPI(api, "routing")

	item, err := reg.Lookup(context.Background(), "x")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(item) != 3 || item["peerA"] != "10.0.0.1" || item["peerB"] != "10.0.0.2" {
		t.Fatalf("item=%v", item)
	}
	if *api.getInput.TableName != "routing" || !*api.getInput.ConsistentRead {
		t.Fatalf("input=%+v", api.getInput)
	}
	key, ok := api.getInput.Key[EndpointNameAttr].(*types.AttributeValueMemberS)
	if !ok || key.Value != "x" || len(api.getInput.Key) != 1 {
		t.Fatalf("key=%v", api.getInput.Key)
	}
}

func TestDynamoLookup_Missing(t *testing.T) {
	t.Parallel()

	reg := NewDynamoWithAPI(&fakeDynamo{}, "routing")
	if _, err := reg.Lookup(context.Background(), "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestDynamoLookup_PropagatesError(t *testing.T) {
	t.Parallel()

	boom := errors.New("throttled")
	reg := NewDynamoWithAPI(&fakeDynamo{err: boom}, "routing")
	if _, err := reg.Lookup(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
}

func TestDynamoQuery_BuildsFilteredQuery(t *testing.T) {
	t.Parallel()

	api := &fakeDynamo{items: []map[string]types.AttributeValue{
		{
			"PromptKey": &types.AttributeValueMemberS{Value: "prompt-1"},
			"IpAddress": &types.AttributeValueMemberS{Value: "10.0.0.1"},
		},
		{
			"PromptKey": &types.AttributeValueMemberS{Value: "prompt-2"},
			"IpAddress": &types.AttributeValueMemberS{Value: "10.0.0.2"},
		},
	}}
	reg := NewDynamoWithAPI(api, "routing")

	now := time.Unix(1_700_000_000, 0)
	records, err := reg.Query(context.Background(), testFilter(now))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 2 || records[1].Key != "prompt-2" || records[1].Address != "10.0.0.2" {
		t.Fatalf("records=%+v", records)
	}

	in := api.qInput
	if in.Limit == nil || *in.Limit != 100 {
		t.Fatalf("limit=%v", in.Limit)
	}
	if in.ConsistentRead == nil || !*in.ConsistentRead {
		t.Fatalf("consistent read not set")
	}
	if in.KeyConditionExpression == nil || in.FilterExpression == nil || in.ProjectionExpression == nil {
		t.Fatalf("expressions missing: %+v", in)
	}

	names := map[string]bool{}
	for _, n := range in.ExpressionAttributeNames {
		names[n] = true
	}
	for _, want := range []string{"EndpointName", "AvailabilityZone", "NetworkNodes", "Reserved", "ReservationTimeout", "TTL", "PromptKey", "IpAddress"} {
		if !names[want] {
			t.Fatalf("attribute %s missing from %v", want, in.ExpressionAttributeNames)
		}
	}

	var sawSpine, sawZone bool
	for _, v := range in.ExpressionAttributeValues {
		if s, ok := v.(*types.AttributeValueMemberS); ok {
			sawSpine = sawSpine || s.Value == "spine-1"
			sawZone = sawZone || s.Value == "us-west-2a"
		}
	}
	if !sawSpine || !sawZone {
		t.Fatalf("values=%v", in.ExpressionAttributeValues)
	}
	if !regexp.MustCompile(`contains\s*\(`).MatchString(*in.FilterExpression) {
		t.Fatalf("filter=%s", *in.FilterExpression)
	}
}

// placeholder returns the expression alias assigned to attribute name.
func placeholder(t *testing.T, in *dynamodb.QueryInput, name string) string {
	t.Helper()
	for alias, n := range in.ExpressionAttributeNames {
		if n == name {
			return alias
		}
	}
	t.Fatalf("attribute %s has no alias in %v", name, in.ExpressionAttributeNames)
	return ""
}

// comparedValue finds "<alias> <op> :v" in the filter and returns the value
// bound to :v.
func comparedValue(t *testing.T, in *dynamodb.QueryInput, alias, op string) types.AttributeValue {
	t.Helper()
	re := regexp.MustCompile(regexp.QuoteMeta(alias) + `\s*` + regexp.QuoteMeta(op) + `\s*(:\w+)`)
	m := re.FindStringSubmatch(*in.FilterExpression)
	if m == nil {
		t.Fatalf("no %q comparison on %s in filter %s", op, alias, *in.FilterExpression)
	}
	v, ok := in.ExpressionAttributeValues[m[1]]
	if !ok {
		t.Fatalf("value %s missing from %v", m[1], in.ExpressionAttributeValues)
	}
	return v
}

func TestBuildTopologyQuery_TimeBoundaries(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	in, err := buildTopologyQuery("routing", testFilter(now))
	if err != nil {
		t.Fatalf("buildTopologyQuery: %v", err)
	}
	want := strconv.FormatInt(now.Unix(), 10)
	filter := *in.FilterExpression

	lease := placeholder(t, in, "ReservationTimeout")
	if regexp.MustCompile(regexp.QuoteMeta(lease) + `\s*<=`).MatchString(filter) {
		t.Fatalf("reservation compared inclusively: %s", filter)
	}
	v, ok := comparedValue(t, in, lease, "<").(*types.AttributeValueMemberN)
	if !ok || v.Value != want {
		t.Fatalf("reservation bound=%v want N %s", v, want)
	}

	ttl := placeholder(t, in, "TTL")
	v, ok = comparedValue(t, in, ttl, ">=").(*types.AttributeValueMemberN)
	if !ok || v.Value != want {
		t.Fatalf("ttl bound=%v want N %s", v, want)
	}
}

func TestBuildTopologyQuery_MissingReservedIsUnreserved(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	in, err := buildTopologyQuery("routing", testFilter(now))
	if err != nil {
		t.Fatalf("buildTopologyQuery: %v", err)
	}
	reserved := placeholder(t, in, "Reserved")
	re := regexp.MustCompile(`attribute_not_exists\s*\(\s*` + regexp.QuoteMeta(reserved) + `\s*\)`)
	if !re.MatchString(*in.FilterExpression) {
		t.Fatalf("filter=%s", *in.FilterExpression)
	}

	// Filter.Match agrees: an item stored without Reserved decodes as
	// unreserved and is eligible.
	item := map[string]types.AttributeValue{
		"EndpointName":     &types.AttributeValueMemberS{Value: "endpoint-a"},
		"PromptKey":        &types.AttributeValueMemberS{Value: "prompt-1"},
		"IpAddress":        &types.AttributeValueMemberS{Value: "10.0.0.1"},
		"AvailabilityZone": &types.AttributeValueMemberS{Value: "us-west-2a"},
		"NetworkNodes":     &types.AttributeValueMemberSS{Value: []string{"spine-1"}},
		"TTL":              &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix()+60, 10)},
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		t.Fatalf("UnmarshalMap: %v", err)
	}
	if !testFilter(now).Match(rec) {
		t.Fatalf("record without reservation rejected: %+v", rec)
	}
}
