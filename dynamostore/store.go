// Package dynamostore is the concrete Store adapter: it translates the
// engine's getState/getRecords/putTransaction needs (spec.md §4.2) onto
// Amazon DynamoDB's GetItem, Query, and TransactWriteItems APIs, using
// exactly the composite-key layout from spec.md §6.
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/facetstream/facetstream"
)

const (
	attrID     = "_id"
	attrRange  = "_rng"
	attrFacet  = "_facet"
	attrType   = "_typ"
	attrSeq    = "_seq"
	attrTS     = "_ts"
	attrDate   = "_date"
	attrItem   = "_itm"
)

// Option configures a Store at construction time.
type Option func(*options) error

type options struct {
	region              string
	client              *dynamodb.Client
	persistStateHistory bool
	log                 *zap.Logger
}

// WithRegion sets the AWS region used when no explicit client is
// supplied.
func WithRegion(region string) Option {
	return func(o *options) error { o.region = region; return nil }
}

// WithClient supplies a pre-built DynamoDB client, bypassing default
// config loading entirely. Used in tests against a local/testcontainers
// endpoint.
func WithClient(client *dynamodb.Client) Option {
	return func(o *options) error { o.client = client; return nil }
}

// WithPersistStateHistory additionally writes a versioned copy of the
// state row at sort key "STATE/<seq>" on every commit, supplementing
// spec.md §3's three record kinds with the teacher's point-in-time state
// history feature. It never affects I1: the unversioned STATE row stays
// unique.
func WithPersistStateHistory(enabled bool) Option {
	return func(o *options) error { o.persistStateHistory = enabled; return nil }
}

// WithLogger attaches structured logging to store operations.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) error { o.log = log; return nil }
}

// Store is a DynamoDB implementation of facetstream.Store.
type Store struct {
	client              *dynamodb.Client
	table               *string
	persistStateHistory bool
	log                 *zap.Logger
	breaker             *gobreaker.CircuitBreaker
}

// New creates a Store backed by tableName, loading AWS config the normal
// way unless WithClient overrides it.
func New(ctx context.Context, tableName string, opts ...Option) (*Store, error) {
	o := options{log: zap.NewNop()}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}
	if o.client == nil {
		cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(o.region))
		if err != nil {
			return nil, fmt.Errorf("dynamostore: load aws config: %w", err)
		}
		o.client = dynamodb.NewFromConfig(cfg)
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "dynamostore:" + tableName,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Store{
		client:              o.client,
		table:               aws.String(tableName),
		persistStateHistory: o.persistStateHistory,
		log:                 o.log,
		breaker:             breaker,
	}, nil
}

// GetState implements facetstream.Store.
func (s *Store) GetState(ctx context.Context, facet, id string) (facetstream.Record, error) {
	out, err := s.call(func() (interface{}, error) {
		return s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      s.table,
			ConsistentRead: aws.Bool(true),
			Key: map[string]types.AttributeValue{
				attrID:    &types.AttributeValueMemberS{Value: partitionKey(facet, id)},
				attrRange: &types.AttributeValueMemberS{Value: "STATE"},
			},
		})
	})
	if err != nil {
		return facetstream.Record{}, wrapBackendError("GetState", err)
	}
	gio := out.(*dynamodb.GetItemOutput)
	if len(gio.Item) == 0 {
		return facetstream.Record{}, facetstream.ErrStateNotFound
	}
	return itemToRecord(gio.Item)
}

// GetRecords implements facetstream.Store.
func (s *Store) GetRecords(ctx context.Context, facet, id string) ([]facetstream.Record, error) {
	qi := &dynamodb.QueryInput{
		TableName:              s.table,
		ConsistentRead:         aws.Bool(true),
		KeyConditionExpression: aws.String("#id = :id"),
		ExpressionAttributeNames: map[string]string{
			"#id": attrID,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: partitionKey(facet, id)},
		},
	}
	var records []facetstream.Record
	pages := dynamodb.NewQueryPaginator(s.client, qi)
	for pages.HasMorePages() {
		out, err := s.call(func() (interface{}, error) { return pages.NextPage(ctx) })
		if err != nil {
			return nil, wrapBackendError("GetRecords", err)
		}
		page := out.(*dynamodb.QueryOutput)
		for _, item := range page.Items {
			r, err := itemToRecord(item)
			if err != nil {
				return nil, err
			}
			records = append(records, r)
		}
	}
	return records, nil
}

// PutTransaction implements facetstream.Store.
func (s *Store) PutTransaction(ctx context.Context, tx facetstream.Transaction) error {
	if err := facetstream.ValidateTransaction(facetOf(tx), tx); err != nil {
		return err
	}

	var items []types.TransactWriteItem
	items = append(items, s.statePut(tx.State, tx.PreviousSeq))
	if s.persistStateHistory {
		items = append(items, s.historyPut(tx.State))
	}
	for _, r := range tx.Inbound {
		items = append(items, s.newItemPut(r))
	}
	for _, r := range tx.Outbound {
		items = append(items, s.newItemPut(r))
	}
	if len(items) > facetstream.MaxTransactionItems {
		return &facetstream.Error{Kind: facetstream.KindCapacity, Op: "Store.PutTransaction",
			Err: fmt.Errorf("transaction has %d items including the state history row, exceeds limit of %d", len(items), facetstream.MaxTransactionItems)}
	}

	_, err := s.call(func() (interface{}, error) {
		return s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	})
	if err == nil {
		return nil
	}

	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				return &facetstream.Error{Kind: facetstream.KindConcurrency, Op: "Store.PutTransaction", Err: err}
			}
		}
	}
	return wrapBackendError("PutTransaction", err)
}

// call routes f through the circuit breaker, logging when the breaker
// itself short-circuits the request.
func (s *Store) call(f func() (interface{}, error)) (interface{}, error) {
	out, err := s.breaker.Execute(f)
	if err != nil && errors.Is(err, gobreaker.ErrOpenState) {
		s.log.Warn("dynamostore circuit breaker open, short-circuiting request")
	}
	return out, err
}

func facetOf(tx facetstream.Transaction) string { return tx.State.Facet }

func partitionKey(facet, id string) string { return facet + "/" + id }

func wrapBackendError(op string, err error) error {
	return &facetstream.Error{Kind: facetstream.KindBackend, Op: "Store." + op, Err: err}
}

func (s *Store) newItemPut(r facetstream.Record) types.TransactWriteItem {
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:           s.table,
			Item:                recordToItem(r),
			ConditionExpression: aws.String("attribute_not_exists(#id)"),
			ExpressionAttributeNames: map[string]string{
				"#id": attrID,
			},
		},
	}
}

func (s *Store) statePut(r facetstream.Record, previousSeq int64) types.TransactWriteItem {
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:           s.table,
			Item:                recordToItem(r),
			ConditionExpression: aws.String("attribute_not_exists(#id) OR #seq = :seq"),
			ExpressionAttributeNames: map[string]string{
				"#id":  attrID,
				"#seq": attrSeq,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":seq": &types.AttributeValueMemberN{Value: strconv.FormatInt(previousSeq, 10)},
			},
		},
	}
}

func (s *Store) historyPut(r facetstream.Record) types.TransactWriteItem {
	versioned := r
	versioned.SortKey = fmt.Sprintf("STATE/%d", r.Sequence)
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:           s.table,
			Item:                recordToItem(versioned),
			ConditionExpression: aws.String("attribute_not_exists(#id)"),
			ExpressionAttributeNames: map[string]string{
				"#id": attrID,
			},
		},
	}
}

func recordToItem(r facetstream.Record) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrID:    &types.AttributeValueMemberS{Value: r.PartitionKey},
		attrRange: &types.AttributeValueMemberS{Value: r.SortKey},
		attrFacet: &types.AttributeValueMemberS{Value: r.Facet},
		attrType:  &types.AttributeValueMemberS{Value: r.Type},
		attrSeq:   &types.AttributeValueMemberN{Value: strconv.FormatInt(r.Sequence, 10)},
		attrTS:    &types.AttributeValueMemberN{Value: strconv.FormatInt(r.TimestampMS, 10)},
		attrDate:  &types.AttributeValueMemberS{Value: r.Date},
		attrItem:  &types.AttributeValueMemberS{Value: string(r.Payload)},
	}
}

func itemToRecord(item map[string]types.AttributeValue) (facetstream.Record, error) {
	var r facetstream.Record
	id, err := stringAttr(item, attrID)
	if err != nil {
		return r, err
	}
	rng, err := stringAttr(item, attrRange)
	if err != nil {
		return r, err
	}
	facet, err := stringAttr(item, attrFacet)
	if err != nil {
		return r, err
	}
	typ, err := stringAttr(item, attrType)
	if err != nil {
		return r, err
	}
	date, err := stringAttr(item, attrDate)
	if err != nil {
		return r, err
	}
	payload, err := stringAttr(item, attrItem)
	if err != nil {
		return r, err
	}
	seq, err := intAttr(item, attrSeq)
	if err != nil {
		return r, err
	}
	ts, err := intAttr(item, attrTS)
	if err != nil {
		return r, err
	}
	r.PartitionKey = id
	r.SortKey = rng
	r.Facet = facet
	r.Type = typ
	r.Date = date
	r.Sequence = seq
	r.TimestampMS = ts
	r.Payload = []byte(payload)
	return r, nil
}

func stringAttr(item map[string]types.AttributeValue, key string) (string, error) {
	av, ok := item[key]
	if !ok {
		return "", fmt.Errorf("dynamostore: missing %s attribute", key)
	}
	v, ok := av.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("dynamostore: %s attribute is not a string", key)
	}
	return v.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	av, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("dynamostore: missing %s attribute", key)
	}
	v, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("dynamostore: %s attribute is not a number", key)
	}
	return strconv.ParseInt(v.Value, 10, 64)
}
