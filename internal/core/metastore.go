package core

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by MetaStore implementations when a key is
// absent or has expired.
var ErrKeyNotFound = errors.New("key not found")

// MetaStore defines the key-value storage behind the schema cache.
// Implementations include an in-process map, Redis, and DynamoDB.
type MetaStore interface {
	// Get retrieves a value by key. Returns ErrKeyNotFound (possibly
	// wrapped) when the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a key-value pair with an optional TTL.
	// If ttl is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key from the store. Deleting an absent key is not
	// an error.
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists in the store.
	Exists(ctx context.Context, key string) (bool, error)

	// Close closes the connection to the store and releases resources.
	Close() error
}
