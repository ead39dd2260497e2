package engine

import (
	"context"

	"github.com/weftworks/weft/engine/store"
)

// ResultCache answers "has this exact work been done before" by matching a
// node against its own execution history.
//
// The cache key is (nodeID, inputHash, paramsHash): identical inputs and
// identical parameters mean the node would produce the same result, so the
// prior execution can be reused without dispatching the handler.
//
// The cache never writes and has no eviction of its own. Entries are
// Executions; deleting history deletes the cache.
type ResultCache struct {
	store store.Store
}

// NewResultCache creates a cache over the given store.
func NewResultCache(st store.Store) *ResultCache {
	return &ResultCache{store: st}
}

// Lookup returns the most recent successful execution for the key, or nil
// when the node has never succeeded with these hashes. Ties on creation
// time resolve to the latest insert.
func (c *ResultCache) Lookup(ctx context.Context, nodeID, inputHash, paramsHash string) (*store.Execution, error) {
	return c.store.LookupCached(ctx, nodeID, inputHash, paramsHash)
}
