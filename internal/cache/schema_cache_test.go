package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwhthompson/grist-mcp-server-sub000/internal/core"
)

// countingBackend serves fixed column metadata and counts fetches.
type countingBackend struct {
	mu      sync.Mutex
	columns []core.Column
	fetches int
	err     error
}

func (b *countingBackend) Columns(ctx context.Context, docID, tableID string) ([]core.Column, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetches++
	if b.err != nil {
		return nil, b.err
	}
	return b.columns, nil
}

func (b *countingBackend) Apply(ctx context.Context, docID string, actions []core.UserAction) (*core.ApplyResult, error) {
	return nil, errors.New("not implemented")
}

func (b *countingBackend) Records(ctx context.Context, docID, tableID string, filter map[string][]any) ([]core.RowRecord, error) {
	return nil, errors.New("not implemented")
}

func (b *countingBackend) SQL(ctx context.Context, docID, query string, args []any) ([]map[string]any, error) {
	return nil, errors.New("not implemented")
}

func (b *countingBackend) fetchCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetches
}

func newTestCache(t *testing.T) (*SchemaCache, *countingBackend) {
	t.Helper()
	backend := &countingBackend{
		columns: []core.Column{
			{ID: "Name", Type: "Text"},
			{ID: "Signed", Type: "Date"},
		},
	}
	return NewSchemaCache(backend, NewMemoryStore(), 0), backend
}

func TestColumnsReadThrough(t *testing.T) {
	cache, backend := newTestCache(t)
	ctx := context.Background()

	columns, err := cache.Columns(ctx, "doc1", "Contacts")
	require.NoError(t, err)
	require.Len(t, columns, 2)
	assert.Equal(t, 1, backend.fetchCount())

	// Second read is served from the cache.
	_, err = cache.Columns(ctx, "doc1", "Contacts")
	require.NoError(t, err)
	assert.Equal(t, 1, backend.fetchCount())
}

func TestColumnsKeyedPerTable(t *testing.T) {
	cache, backend := newTestCache(t)
	ctx := context.Background()

	_, err := cache.Columns(ctx, "doc1", "Contacts")
	require.NoError(t, err)
	_, err = cache.Columns(ctx, "doc1", "Orders")
	require.NoError(t, err)
	assert.Equal(t, 2, backend.fetchCount())
}

func TestFreshColumnsBypassesCache(t *testing.T) {
	cache, backend := newTestCache(t)
	ctx := context.Background()

	_, err := cache.Columns(ctx, "doc1", "Contacts")
	require.NoError(t, err)
	_, err = cache.FreshColumns(ctx, "doc1", "Contacts")
	require.NoError(t, err)
	assert.Equal(t, 2, backend.fetchCount())

	// The forced fetch refreshed the cached entry.
	_, err = cache.Columns(ctx, "doc1", "Contacts")
	require.NoError(t, err)
	assert.Equal(t, 2, backend.fetchCount())
}

func TestInvalidateDropsEntryAndRunsHooks(t *testing.T) {
	cache, backend := newTestCache(t)
	ctx := context.Background()

	var hookCalls []string
	cache.OnInvalidate(func(docID, tableID string) {
		hookCalls = append(hookCalls, docID+"/"+tableID)
	})

	_, err := cache.Columns(ctx, "doc1", "Contacts")
	require.NoError(t, err)

	require.NoError(t, cache.Invalidate(ctx, "doc1", "Contacts"))
	assert.Equal(t, []string{"doc1/Contacts"}, hookCalls)

	// The next read misses and re-fetches.
	_, err = cache.Columns(ctx, "doc1", "Contacts")
	require.NoError(t, err)
	assert.Equal(t, 2, backend.fetchCount())
}

func TestColumnsBackendError(t *testing.T) {
	cache, backend := newTestCache(t)
	backend.err = errors.New("boom")

	_, err := cache.Columns(context.Background(), "doc1", "Contacts")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestMemoryStoreTTL(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 10*time.Millisecond))

	value, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)

	time.Sleep(20 * time.Millisecond)
	_, err = store.Get(ctx, "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrKeyNotFound)
}

func TestMemoryStoreDeleteAndExists(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 0))

	exists, err := store.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Delete(ctx, "k"))
	exists, err = store.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStoreFactoryRegistry(t *testing.T) {
	store, err := NewStore(StoreConfig{Type: "memory"})
	require.NoError(t, err)
	require.NotNil(t, store)
	assert.Contains(t, RegisteredTypes(), "memory")
	assert.Contains(t, RegisteredTypes(), "redis")
	assert.Contains(t, RegisteredTypes(), "dynamodb")

	_, err = NewStore(StoreConfig{Type: "etcd"})
	require.Error(t, err)
}
