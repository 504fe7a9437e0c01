package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/gwhthompson/grist-mcp-server-sub000/internal/core"
)

// StoreFactory is the strategy interface for creating schema-cache stores.
// Each backend (memory, Redis, DynamoDB) implements this interface and
// registers itself on package initialization.
type StoreFactory interface {
	// Create creates a new store instance from the provided configuration.
	Create(config StoreConfig) (core.MetaStore, error)

	// Type returns the type identifier for this factory (e.g. "redis").
	Type() string

	// Validate validates the configuration specific to this store type.
	Validate(config StoreConfig) error
}

// StoreConfig represents the configuration needed to create a schema-cache
// store. Only the fields relevant to the selected Type are consulted.
type StoreConfig struct {
	Type string

	// Redis fields.
	Endpoints    []string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// DynamoDB fields.
	Region          string
	TableName       string
	Endpoint        string // optional, for LocalStack
	AccessKeyID     string // optional, can use IAM role instead
	SecretAccessKey string // optional, can use IAM role instead
}

var (
	factoryRegistry = make(map[string]StoreFactory)
	registryMutex   sync.RWMutex
)

// RegisterFactory registers a store factory. This is called automatically
// by each implementation's init() function.
func RegisterFactory(factory StoreFactory) {
	if factory == nil {
		panic("factory cannot be nil")
	}
	registryMutex.Lock()
	defer registryMutex.Unlock()
	factoryRegistry[factory.Type()] = factory
}

// NewStore creates a schema-cache store of the configured type.
func NewStore(config StoreConfig) (core.MetaStore, error) {
	registryMutex.RLock()
	factory, ok := factoryRegistry[config.Type]
	registryMutex.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown schema-cache store type %q", config.Type)
	}
	if err := factory.Validate(config); err != nil {
		return nil, fmt.Errorf("invalid %s store config: %w", config.Type, err)
	}
	return factory.Create(config)
}

// RegisteredTypes returns the type identifiers of all registered factories.
func RegisteredTypes() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	types := make([]string, 0, len(factoryRegistry))
	for t := range factoryRegistry {
		types = append(types, t)
	}
	return types
}
