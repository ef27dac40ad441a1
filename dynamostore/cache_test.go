package dynamostore

import (
	"context"
	"testing"

	"github.com/facetstream/facetstream"
)

type countingStore struct {
	facetstream.Store
	gets int
}

func (c *countingStore) GetState(ctx context.Context, facet, id string) (facetstream.Record, error) {
	c.gets++
	return c.Store.GetState(ctx, facet, id)
}

type memStore struct {
	records map[string]facetstream.Record
}

func newMemStore() *memStore { return &memStore{records: map[string]facetstream.Record{}} }

func (m *memStore) GetState(_ context.Context, facet, id string) (facetstream.Record, error) {
	r, ok := m.records[facet+"/"+id]
	if !ok {
		return facetstream.Record{}, facetstream.ErrStateNotFound
	}
	return r, nil
}

func (m *memStore) GetRecords(context.Context, string, string) ([]facetstream.Record, error) {
	return nil, nil
}

func (m *memStore) PutTransaction(_ context.Context, tx facetstream.Transaction) error {
	m.records[tx.State.Facet+"/"+recordID(tx.State)] = tx.State
	return nil
}

func TestCachedStoreServesSecondGetFromCache(t *testing.T) {
	inner := newMemStore()
	inner.records["Test/id1"] = facetstream.Record{PartitionKey: "Test/id1", Facet: "Test", SortKey: "STATE", Sequence: 1}
	counting := &countingStore{Store: inner}

	cached, err := NewCachedStore(counting, 8)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := cached.GetState(context.Background(), "Test", "id1"); err != nil {
		t.Fatal(err)
	}
	if _, err := cached.GetState(context.Background(), "Test", "id1"); err != nil {
		t.Fatal(err)
	}
	if counting.gets != 1 {
		t.Errorf("expected 1 underlying GetState call, got %d", counting.gets)
	}
}

func TestCachedStoreInvalidatesOnPutTransaction(t *testing.T) {
	inner := newMemStore()
	inner.records["Test/id1"] = facetstream.Record{PartitionKey: "Test/id1", Facet: "Test", SortKey: "STATE", Sequence: 1}
	counting := &countingStore{Store: inner}

	cached, err := NewCachedStore(counting, 8)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := cached.GetState(context.Background(), "Test", "id1"); err != nil {
		t.Fatal(err)
	}
	newState := facetstream.Record{PartitionKey: "Test/id1", Facet: "Test", SortKey: "STATE", Sequence: 2}
	if err := cached.PutTransaction(context.Background(), facetstream.Transaction{State: newState, PreviousSeq: 1}); err != nil {
		t.Fatal(err)
	}
	rec, err := cached.GetState(context.Background(), "Test", "id1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Sequence != 2 {
		t.Errorf("expected fresh sequence 2 after invalidation, got %d", rec.Sequence)
	}
	if counting.gets != 2 {
		t.Errorf("expected 2 underlying GetState calls (miss, invalidate, miss), got %d", counting.gets)
	}
}
