package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gwhthompson/grist-mcp-server-sub000/internal/core"
)

// SchemaCache is a read-through cache of per-table column metadata, keyed
// by (document, table). Entries live until explicitly invalidated after a
// structural or data mutation; the store TTL is only a safety net, not an
// expiry policy. Staleness is therefore bounded by "since the last mutation
// this process issued", not wall-clock time.
//
// Callers always receive copies of the cached metadata; no component holds
// a long-lived reference into the cache.
type SchemaCache struct {
	backend core.Backend
	store   core.MetaStore
	ttl     time.Duration

	mu       sync.Mutex
	inflight map[string]*fetchCall

	hookMu sync.RWMutex
	hooks  []InvalidateHook
}

// InvalidateHook is called after a cache entry has been dropped.
type InvalidateHook func(docID, tableID string)

type fetchCall struct {
	done    chan struct{}
	columns []core.Column
	err     error
}

// NewSchemaCache creates a schema cache over the given store. ttl bounds
// how long an entry may survive in the store as a safety net; 0 disables
// store-level expiry entirely.
func NewSchemaCache(backend core.Backend, store core.MetaStore, ttl time.Duration) *SchemaCache {
	return &SchemaCache{
		backend:  backend,
		store:    store,
		ttl:      ttl,
		inflight: make(map[string]*fetchCall),
	}
}

func cacheKey(docID, tableID string) string {
	return fmt.Sprintf("cols:%s:%s", docID, tableID)
}

// Columns returns the column metadata for a table, fetching it from the
// backend on a cache miss. Concurrent misses for the same key share one
// fetch.
func (c *SchemaCache) Columns(ctx context.Context, docID, tableID string) ([]core.Column, error) {
	key := cacheKey(docID, tableID)

	if data, err := c.store.Get(ctx, key); err == nil {
		var columns []core.Column
		if err := json.Unmarshal(data, &columns); err == nil {
			return columns, nil
		}
		// A corrupt entry is treated as a miss; the re-fetch overwrites it.
		log.Printf("[CACHE] Dropping corrupt schema entry for %s", key)
	}

	return c.fetchShared(ctx, docID, tableID)
}

// FreshColumns bypasses the cache and re-fetches column metadata from the
// backend, refreshing the cached entry. It is used immediately before any
// mutating operation so validation always runs against current structure,
// even if a prior operation in the same batch changed the schema.
func (c *SchemaCache) FreshColumns(ctx context.Context, docID, tableID string) ([]core.Column, error) {
	return c.fetch(ctx, docID, tableID)
}

// Invalidate drops the cached entry for a table and runs the registered
// invalidation hooks. Called after every successful structural or data
// mutation against the table.
func (c *SchemaCache) Invalidate(ctx context.Context, docID, tableID string) error {
	if err := c.store.Delete(ctx, cacheKey(docID, tableID)); err != nil {
		return fmt.Errorf("failed to invalidate schema for %s.%s: %w", docID, tableID, err)
	}

	c.hookMu.RLock()
	hooks := c.hooks
	c.hookMu.RUnlock()
	for _, hook := range hooks {
		hook(docID, tableID)
	}
	return nil
}

// OnInvalidate registers a hook to run after each invalidation.
func (c *SchemaCache) OnInvalidate(hook InvalidateHook) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.hooks = append(c.hooks, hook)
}

// fetchShared deduplicates concurrent cache-miss fetches for the same key:
// the first caller fetches, the rest wait for its result.
func (c *SchemaCache) fetchShared(ctx context.Context, docID, tableID string) ([]core.Column, error) {
	key := cacheKey(docID, tableID)

	c.mu.Lock()
	if call, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.columns, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &fetchCall{done: make(chan struct{})}
	c.inflight[key] = call
	c.mu.Unlock()

	call.columns, call.err = c.fetch(ctx, docID, tableID)
	close(call.done)

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()

	return call.columns, call.err
}

// fetch reads column metadata from the backend and refreshes the store.
func (c *SchemaCache) fetch(ctx context.Context, docID, tableID string) ([]core.Column, error) {
	columns, err := c.backend.Columns(ctx, docID, tableID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch columns for %s.%s: %w", docID, tableID, err)
	}

	data, err := json.Marshal(columns)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal columns for %s.%s: %w", docID, tableID, err)
	}
	if err := c.store.Set(ctx, cacheKey(docID, tableID), data, c.ttl); err != nil {
		// A failed cache write only costs an extra fetch later.
		log.Printf("[CACHE] Failed to store schema for %s.%s: %v", docID, tableID, err)
	}
	return columns, nil
}
