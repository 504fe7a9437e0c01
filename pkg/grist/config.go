package grist

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gwhthompson/grist-mcp-server-sub000/internal/cache"
	"github.com/gwhthompson/grist-mcp-server-sub000/internal/integrity"
)

// Config represents the root configuration for the record pipeline client.
type Config struct {
	// Server contains connection settings for the remote document service.
	Server ServerConfig `yaml:"server" json:"server"`

	// SchemaCache contains configuration for the column-metadata cache.
	SchemaCache SchemaCacheConfig `yaml:"schema_cache" json:"schema_cache"`

	// Journal contains configuration for the mutation journal.
	Journal JournalConfig `yaml:"journal" json:"journal"`

	// Integrity contains configuration for the data-integrity checker.
	Integrity IntegrityConfig `yaml:"integrity" json:"integrity"`

	// Verify contains configuration for post-write verification.
	Verify VerifyConfig `yaml:"verify" json:"verify"`
}

// ServerConfig contains connection settings for the document service.
type ServerConfig struct {
	// BaseURL is the root URL of the document service,
	// e.g. "https://docs.example.com".
	BaseURL string `yaml:"base_url" json:"base_url"`

	// APIKey authenticates requests as a Bearer token.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// Timeout is the per-request timeout.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// RateLimit bounds outbound requests per second. 0 disables limiting.
	RateLimit int `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
}

// SchemaCacheConfig contains configuration for the schema cache.
type SchemaCacheConfig struct {
	// Store specifies the store type. Supports "memory", "redis" or
	// "dynamodb".
	Store string `yaml:"store" json:"store"`

	// TTL is the safety-net time-to-live for cached entries. Explicit
	// invalidation after mutations is the real expiry mechanism; 0
	// disables store-level expiry.
	TTL time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`

	// Redis contains Redis-specific settings. Only used when Store is
	// "redis".
	Redis RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`

	// DynamoDB contains DynamoDB-specific settings. Only used when Store
	// is "dynamodb".
	DynamoDB DynamoDBConfig `yaml:"dynamodb,omitempty" json:"dynamodb,omitempty"`
}

// RedisConfig contains configuration for a Redis-backed schema cache.
type RedisConfig struct {
	// Endpoints is a list of Redis endpoints. For single-node Redis, use
	// a single endpoint.
	Endpoints []string `yaml:"endpoints" json:"endpoints"`

	// Password is the authentication password for Redis.
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// DB is the Redis database number (0-15).
	DB int `yaml:"db,omitempty" json:"db,omitempty"`

	// PoolSize is the connection pool size per node.
	PoolSize int `yaml:"pool_size,omitempty" json:"pool_size,omitempty"`

	// MinIdleConns is the minimum number of idle connections in the pool.
	MinIdleConns int `yaml:"min_idle_conns,omitempty" json:"min_idle_conns,omitempty"`

	// DialTimeout is the timeout for establishing connections.
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty" json:"dial_timeout,omitempty"`

	// ReadTimeout is the timeout for read operations.
	ReadTimeout time.Duration `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`

	// WriteTimeout is the timeout for write operations.
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`
}

// DynamoDBConfig contains configuration for a DynamoDB-backed schema cache.
type DynamoDBConfig struct {
	// Region is the AWS region.
	Region string `yaml:"region" json:"region"`

	// TableName is the DynamoDB table holding cache entries.
	TableName string `yaml:"table_name" json:"table_name"`

	// Endpoint overrides the AWS endpoint, e.g. for LocalStack.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	// AccessKeyID is an optional static credential; an IAM role is used
	// when unset.
	AccessKeyID string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`

	// SecretAccessKey is an optional static credential.
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
}

// JournalConfig contains configuration for the mutation journal.
type JournalConfig struct {
	// Type specifies the journal implementation. Options: "memory",
	// "kafka" (default: "memory").
	Type string `yaml:"type,omitempty" json:"type,omitempty"`

	// BufferSize is the buffer size for the in-memory journal. Only used
	// when Type is "memory".
	BufferSize int `yaml:"buffer_size,omitempty" json:"buffer_size,omitempty"`

	// ListenerPollInterval controls how often the invalidation listener
	// drains the journal.
	ListenerPollInterval time.Duration `yaml:"listener_poll_interval,omitempty" json:"listener_poll_interval,omitempty"`

	// Kafka contains Kafka-specific configuration. Only used when Type is
	// "kafka".
	Kafka KafkaConfig `yaml:"kafka,omitempty" json:"kafka,omitempty"`
}

// KafkaConfig contains configuration for the Kafka journal.
type KafkaConfig struct {
	// Brokers is a list of Kafka broker addresses (e.g. ["localhost:9092"]).
	Brokers []string `yaml:"brokers" json:"brokers"`

	// Topic is the Kafka topic name for mutation events.
	Topic string `yaml:"topic" json:"topic"`

	// GroupID is the consumer group ID for reading from Kafka.
	GroupID string `yaml:"group_id,omitempty" json:"group_id,omitempty"`

	// BatchSize is the batch size for the Kafka producer.
	BatchSize int `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`

	// BatchTimeout is the timeout for batching messages.
	BatchTimeout time.Duration `yaml:"batch_timeout,omitempty" json:"batch_timeout,omitempty"`

	// WriteTimeout is the timeout for writing messages.
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`

	// RequiredAcks is the number of acknowledgments required (0, 1, or -1
	// for all).
	RequiredAcks int `yaml:"required_acks,omitempty" json:"required_acks,omitempty"`

	// MinBytes is the minimum number of bytes to fetch per read.
	MinBytes int `yaml:"min_bytes,omitempty" json:"min_bytes,omitempty"`

	// MaxBytes is the maximum number of bytes to fetch per read.
	MaxBytes int `yaml:"max_bytes,omitempty" json:"max_bytes,omitempty"`

	// MaxWait is the maximum time to wait for data per read.
	MaxWait time.Duration `yaml:"max_wait,omitempty" json:"max_wait,omitempty"`
}

// IntegrityConfig contains configuration for the data-integrity checker.
type IntegrityConfig struct {
	// Policy selects what happens on an integrity issue: "warn" logs and
	// continues, "fail" rejects the operation, "off" disables the checker.
	// The backend itself is permissive, so the default is "warn".
	Policy string `yaml:"policy,omitempty" json:"policy,omitempty"`
}

// VerifyConfig contains configuration for post-write verification.
type VerifyConfig struct {
	// Enabled turns on read-back verification after every add, update and
	// delete operation.
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:   "http://localhost:8484",
			Timeout:   30 * time.Second,
			RateLimit: 10,
		},
		SchemaCache: SchemaCacheConfig{
			Store: "memory",
			TTL:   10 * time.Minute,
			Redis: RedisConfig{
				Endpoints:    []string{"localhost:6379"},
				PoolSize:     10,
				MinIdleConns: 5,
				DialTimeout:  5 * time.Second,
				ReadTimeout:  3 * time.Second,
				WriteTimeout: 3 * time.Second,
			},
		},
		Journal: JournalConfig{
			Type:                 "memory",
			BufferSize:           1024,
			ListenerPollInterval: 1 * time.Second,
		},
		Integrity: IntegrityConfig{
			Policy: string(integrity.PolicyWarn),
		},
		Verify: VerifyConfig{
			Enabled: false,
		},
	}
}

// LoadConfig reads a YAML configuration file, layering it over the
// defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	switch c.SchemaCache.Store {
	case "memory", "redis", "dynamodb":
	case "":
		return fmt.Errorf("schema_cache.store is required")
	default:
		return fmt.Errorf("unknown schema_cache.store %q", c.SchemaCache.Store)
	}
	switch c.Journal.Type {
	case "", "memory", "kafka":
	default:
		return fmt.Errorf("unknown journal.type %q", c.Journal.Type)
	}
	switch c.Integrity.Policy {
	case "", "warn", "fail", "off":
	default:
		return fmt.Errorf("unknown integrity.policy %q", c.Integrity.Policy)
	}
	return nil
}

// storeConfig maps the YAML configuration onto the cache factory's store
// configuration.
func (c *Config) storeConfig() cache.StoreConfig {
	return cache.StoreConfig{
		Type:         c.SchemaCache.Store,
		Endpoints:    c.SchemaCache.Redis.Endpoints,
		Password:     c.SchemaCache.Redis.Password,
		DB:           c.SchemaCache.Redis.DB,
		PoolSize:     c.SchemaCache.Redis.PoolSize,
		MinIdleConns: c.SchemaCache.Redis.MinIdleConns,
		DialTimeout:  c.SchemaCache.Redis.DialTimeout,
		ReadTimeout:  c.SchemaCache.Redis.ReadTimeout,
		WriteTimeout: c.SchemaCache.Redis.WriteTimeout,

		Region:          c.SchemaCache.DynamoDB.Region,
		TableName:       c.SchemaCache.DynamoDB.TableName,
		Endpoint:        c.SchemaCache.DynamoDB.Endpoint,
		AccessKeyID:     c.SchemaCache.DynamoDB.AccessKeyID,
		SecretAccessKey: c.SchemaCache.DynamoDB.SecretAccessKey,
	}
}
