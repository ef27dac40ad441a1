package dynamostore

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/facetstream/facetstream"
)

// startLocalDynamoDB brings up amazon/dynamodb-local in a container,
// replacing the teacher's assumption of a pre-running local endpoint at
// localhost:8000.
func startLocalDynamoDB(t *testing.T) *dynamodb.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "amazon/dynamodb-local:latest",
		ExposedPorts: []string{"8000/tcp"},
		WaitingFor:   wait.ForListeningPort("8000/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.PortEndpoint(ctx, "8000/tcp", "http")
	require.NoError(t, err)

	creds := credentials.NewStaticCredentialsProvider("fake", "fake", "")
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion("us-east-1"), config.WithCredentialsProvider(creds))
	require.NoError(t, err)

	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
}

func createTestTable(t *testing.T, client *dynamodb.Client) string {
	t.Helper()
	name := uuid.New().String()
	_, err := client.CreateTable(context.Background(), &dynamodb.CreateTableInput{
		TableName: aws.String(name),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("_id"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("_rng"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("_id"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("_rng"), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = client.DeleteTable(context.Background(), &dynamodb.DeleteTableInput{TableName: aws.String(name)})
	})
	return name
}

func TestStoreGetStateNotFound(t *testing.T) {
	client := startLocalDynamoDB(t)
	table := createTestTable(t, client)
	store, err := New(context.Background(), table, WithClient(client))
	require.NoError(t, err)

	_, err = store.GetState(context.Background(), "Test", "missing")
	require.ErrorIs(t, err, facetstream.ErrStateNotFound)
}

func TestStorePutTransactionThenGetRoundTrips(t *testing.T) {
	client := startLocalDynamoDB(t)
	table := createTestTable(t, client)
	store, err := New(context.Background(), table, WithClient(client))
	require.NoError(t, err)

	ctx := context.Background()
	facet := facetstream.NewFacet("Test", store, facetstream.NewProcessor[testEntity](nil,
		facetstream.WithInitializer(func() testEntity { return testEntity{Value: "initial"} })))

	out, err := facet.Append(ctx, "id1", facetstream.NewEvent("Noop", nil))
	require.NoError(t, err)
	require.Equal(t, int64(1), out.Seq)

	result, err := facet.Get(ctx, "id1")
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, "initial", result.Item.Value)
}

func TestStorePutTransactionRejectsConcurrentWrite(t *testing.T) {
	client := startLocalDynamoDB(t)
	table := createTestTable(t, client)
	store, err := New(context.Background(), table, WithClient(client))
	require.NoError(t, err)

	ctx := context.Background()
	facet := facetstream.NewFacet("Test", store, facetstream.NewProcessor[testEntity](nil))
	_, err = facet.Append(ctx, "id2", facetstream.NewEvent("Noop", nil))
	require.NoError(t, err)
	_, err = facet.AppendTo(ctx, "id2", testEntity{Value: "stale"}, 5, facetstream.NewEvent("Noop", nil))
	require.True(t, facetstream.IsConcurrency(err), "expected concurrency error, got %v", err)
}

type testEntity struct {
	Value string `json:"value"`
}
