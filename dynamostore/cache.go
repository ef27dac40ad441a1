package dynamostore

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/facetstream/facetstream"
)

// CachedStore wraps any facetstream.Store with a read-through LRU cache
// over GetState. Cache entries are invalidated on every successful
// PutTransaction for the same entity, since a stale cached state would
// otherwise make Facet.Get and Facet.Append see an outdated sequence. It
// wraps the facetstream.Store interface rather than the concrete *Store
// so it can decorate any backend, not just this package's own.
type CachedStore struct {
	facetstream.Store
	cache *lru.Cache[string, facetstream.Record]
}

// NewCachedStore wraps store with an LRU of the given size. A size of 0
// or less is treated as 1, so at least one entry is always cached.
func NewCachedStore(store facetstream.Store, size int) (*CachedStore, error) {
	if size <= 0 {
		size = 1
	}
	c, err := lru.New[string, facetstream.Record](size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{Store: store, cache: c}, nil
}

func cacheKey(facet, id string) string { return facet + "/" + id }

// GetState serves from cache when present, otherwise delegates to the
// wrapped Store and populates the cache on success. A not-found result is
// never cached, since a fresh entity is about to be created and caching
// its absence would immediately go stale.
func (c *CachedStore) GetState(ctx context.Context, facet, id string) (facetstream.Record, error) {
	key := cacheKey(facet, id)
	if rec, ok := c.cache.Get(key); ok {
		return rec, nil
	}
	rec, err := c.Store.GetState(ctx, facet, id)
	if err != nil {
		return rec, err
	}
	c.cache.Add(key, rec)
	return rec, nil
}

// PutTransaction delegates to the wrapped Store and, on success, evicts the
// cached state for tx's entity so the next GetState reads through.
func (c *CachedStore) PutTransaction(ctx context.Context, tx facetstream.Transaction) error {
	err := c.Store.PutTransaction(ctx, tx)
	if err == nil {
		c.cache.Remove(cacheKey(tx.State.Facet, recordID(tx.State)))
	}
	return err
}

// recordID recovers the bare entity id from a state record's partition
// key, which is stored as "<facet>/<id>".
func recordID(r facetstream.Record) string {
	prefix := r.Facet + "/"
	if len(r.PartitionKey) > len(prefix) && r.PartitionKey[:len(prefix)] == prefix {
		return r.PartitionKey[len(prefix):]
	}
	return r.PartitionKey
}
