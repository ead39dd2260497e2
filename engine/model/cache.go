package model

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Cache is an in-memory, read-through schema catalog.
//
// Get serves from memory and falls back to a one-shot Sync on a miss, so
// a cold cache self-populates on first use. Sync pulls every configured
// source; a failing source does not prevent the others from landing.
//
// Thread-safety: all methods are safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	schemas map[string]Schema
	sources []Source
}

// NewCache creates a cache over the given sources. No initial fetch is
// performed; call Sync or let the first Get trigger one.
func NewCache(sources ...Source) *Cache {
	return &Cache{
		schemas: make(map[string]Schema),
		sources: sources,
	}
}

// Get returns the schema for id. A miss triggers one Sync before giving
// up with ErrSchemaNotFound. A partial Sync still lands schemas from its
// healthy sources, so the error only surfaces when id stayed absent.
func (c *Cache) Get(ctx context.Context, id string) (Schema, error) {
	c.mu.RLock()
	s, ok := c.schemas[id]
	c.mu.RUnlock()
	if ok {
		return s, nil
	}

	_, syncErr := c.Sync(ctx)

	c.mu.RLock()
	s, ok = c.schemas[id]
	c.mu.RUnlock()
	if ok {
		return s, nil
	}
	if syncErr != nil {
		return Schema{}, syncErr
	}
	return Schema{}, fmt.Errorf("%w: %s", ErrSchemaNotFound, id)
}

// Put ingests schemas directly, bypassing the sources. Used by the
// models:sync request when the authoring layer pushes its catalog.
// Schemas without an id are dropped.
func (c *Cache) Put(schemas ...Schema) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := 0
	for _, s := range schemas {
		if s.ID == "" {
			continue
		}
		c.schemas[s.ID] = s
		stored++
	}
	return stored
}

// Sync refreshes the cache from every source and returns how many schemas
// landed. Sources fail independently: schemas from healthy sources are
// stored even when others error, and the error return joins whatever
// failed.
func (c *Cache) Sync(ctx context.Context) (int, error) {
	var errs []error
	var fetched []Schema
	for _, src := range c.sources {
		schemas, err := src.ListModels(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", src.Name(), err))
			continue
		}
		fetched = append(fetched, schemas...)
	}

	stored := c.Put(fetched...)
	return stored, errors.Join(errs...)
}

// List returns every cached schema, ordered by provider then id.
func (c *Cache) List() []Schema {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Schema, 0, len(c.schemas))
	for _, s := range c.schemas {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Filter narrows a Search. Zero values match everything.
type Filter struct {
	// Category keeps only schemas of this category.
	Category string

	// Provider keeps only schemas from this provider.
	Provider string
}

// Search returns schemas whose id or name contains the query as a
// case-insensitive subsequence ("g4o" matches "gpt-4o"), narrowed by the
// filter and ranked tightest match first. An empty query matches
// everything in List order.
func (c *Cache) Search(query string, filter Filter) []Schema {
	type ranked struct {
		schema Schema
		span   int
	}

	var matches []ranked
	for _, s := range c.List() {
		if filter.Category != "" && s.Category != filter.Category {
			continue
		}
		if filter.Provider != "" && s.Provider != filter.Provider {
			continue
		}

		span, ok := subsequenceSpan(query, s.ID)
		if nameSpan, nameOK := subsequenceSpan(query, s.Name); nameOK && (!ok || nameSpan < span) {
			span, ok = nameSpan, true
		}
		if !ok {
			continue
		}
		matches = append(matches, ranked{schema: s, span: span})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].span < matches[j].span
	})

	out := make([]Schema, len(matches))
	for i, m := range matches {
		out[i] = m.schema
	}
	return out
}

// subsequenceSpan reports whether query appears in candidate as a
// subsequence, and the width of the first greedy match window. Tighter
// windows mean the query's characters sit closer together, which ranks
// "gpt-4o" above "gpt-3.5-turbo-4o-ish" for query "gpt4o".
func subsequenceSpan(query, candidate string) (int, bool) {
	q := strings.ToLower(query)
	c := strings.ToLower(candidate)
	if q == "" {
		return 0, true
	}

	first, last := -1, -1
	qi := 0
	for i := 0; i < len(c) && qi < len(q); i++ {
		if c[i] != q[qi] {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
		qi++
	}
	if qi < len(q) {
		return 0, false
	}
	return last - first + 1, true
}
