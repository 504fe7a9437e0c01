// Package grist is the public entry point to the record pipeline: a
// schema-aware client for a Grist-style document service that validates,
// encodes, applies and verifies record mutations.
package grist

import (
	"context"
	"fmt"
	"sync"

	"github.com/gwhthompson/grist-mcp-server-sub000/internal/batch"
	"github.com/gwhthompson/grist-mcp-server-sub000/internal/cache"
	"github.com/gwhthompson/grist-mcp-server-sub000/internal/codec"
	"github.com/gwhthompson/grist-mcp-server-sub000/internal/core"
	"github.com/gwhthompson/grist-mcp-server-sub000/internal/gristapi"
	"github.com/gwhthompson/grist-mcp-server-sub000/internal/integrity"
	"github.com/gwhthompson/grist-mcp-server-sub000/internal/journal"
	"github.com/gwhthompson/grist-mcp-server-sub000/internal/schema"
	"github.com/gwhthompson/grist-mcp-server-sub000/internal/verify"
)

// Aliases re-export the pipeline's data types so callers never import the
// internal packages directly.
type (
	// Column is one column's metadata as the service reports it.
	Column = core.Column

	// ColumnTypeMap maps column ids to declared type strings.
	ColumnTypeMap = core.ColumnTypeMap

	// RowRecord is one table row with wire-encoded field values.
	RowRecord = core.RowRecord

	// ActionKind identifies a record operation kind.
	ActionKind = core.ActionKind

	// Operation is one record operation in a batch.
	Operation = batch.Operation

	// OperationResult reports the outcome of one operation.
	OperationResult = batch.OperationResult

	// BatchResult reports the outcome of a whole batch.
	BatchResult = batch.Result

	// UpsertOptions configures an upsert operation.
	UpsertOptions = batch.UpsertOptions

	// CellError is one structural validation failure.
	CellError = schema.CellError

	// VerificationResult aggregates post-write verification checks.
	VerificationResult = verify.Result
)

// Re-exported operation kinds.
const (
	ActionAdd    = core.ActionAdd
	ActionUpdate = core.ActionUpdate
	ActionDelete = core.ActionDelete
	ActionUpsert = core.ActionUpsert
)

// Client is the main interface for interacting with the record pipeline.
//
// Typical usage:
//
//	client, _ := grist.NewClient(config)
//	defer client.Close()
//
//	client.Start()
//	doc := client.Document("qBY5bEXYtnxGki1Xx8dDGR")
//	result := doc.Execute(ctx, []grist.Operation{...})
type Client interface {
	// Document returns a handle on one document. Handles are cheap; no
	// remote call happens until an operation runs.
	Document(docID string) Document

	// Start launches the journal invalidation listener. Optional: the
	// pipeline invalidates its own cache synchronously, the listener only
	// picks up mutations made by other instances sharing the journal.
	Start()

	// Stop stops the invalidation listener.
	Stop()

	// IsRunning reports whether the invalidation listener is running.
	IsRunning() bool

	// Close stops the listener and releases the cache store and journal.
	Close() error
}

// Document is a handle on one document.
type Document interface {
	// Table returns a handle on one table of the document.
	Table(tableID string) Table

	// Execute runs an ordered batch of record operations. Operations run
	// strictly sequentially; the result reports per-operation outcomes
	// and, on partial failure, the failing index.
	Execute(ctx context.Context, ops []Operation) *BatchResult

	// SQL executes a read-only SQL query against the document.
	SQL(ctx context.Context, query string, args []any) ([]map[string]any, error)
}

// client wires the pipeline together behind the public interface.
type client struct {
	config  *Config
	backend core.Backend
	store   core.MetaStore
	cache   *cache.SchemaCache
	orch    *batch.Orchestrator
	journal core.Journal
	listen  *journal.Listener

	mu      sync.Mutex
	running bool
	closed  bool
}

// NewClient creates a client from the provided configuration. It
// initializes the schema-cache store and the mutation journal; an
// unreachable Redis or DynamoDB store fails construction.
func NewClient(config *Config) (Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	backend := gristapi.NewClient(
		config.Server.BaseURL,
		config.Server.APIKey,
		config.Server.Timeout,
		config.Server.RateLimit,
	)

	store, err := cache.NewStore(config.storeConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create schema-cache store: %w", err)
	}

	schemaCache := cache.NewSchemaCache(backend, store, config.SchemaCache.TTL)

	jrnl, err := newJournal(config)
	if err != nil {
		store.Close()
		return nil, err
	}

	var checker *integrity.Checker
	if config.Integrity.Policy != "off" {
		checker = integrity.NewChecker(backend, integrity.Policy(config.Integrity.Policy))
	}

	orch := batch.NewOrchestrator(backend, schemaCache, batch.Options{
		Checker: checker,
		Journal: jrnl,
		Verify:  config.Verify.Enabled,
	})

	listener := journal.NewListener(jrnl, schemaCache, config.Journal.ListenerPollInterval, 100)

	return &client{
		config:  config,
		backend: backend,
		store:   store,
		cache:   schemaCache,
		orch:    orch,
		journal: jrnl,
		listen:  listener,
	}, nil
}

func newJournal(config *Config) (core.Journal, error) {
	switch config.Journal.Type {
	case "", "memory":
		return journal.NewMemoryJournal(config.Journal.BufferSize), nil
	case "kafka":
		return journal.NewKafkaJournal(journal.KafkaConfig{
			Brokers:      config.Journal.Kafka.Brokers,
			Topic:        config.Journal.Kafka.Topic,
			GroupID:      config.Journal.Kafka.GroupID,
			BatchSize:    config.Journal.Kafka.BatchSize,
			BatchTimeout: config.Journal.Kafka.BatchTimeout,
			WriteTimeout: config.Journal.Kafka.WriteTimeout,
			RequiredAcks: config.Journal.Kafka.RequiredAcks,
			MinBytes:     config.Journal.Kafka.MinBytes,
			MaxBytes:     config.Journal.Kafka.MaxBytes,
			MaxWait:      config.Journal.Kafka.MaxWait,
		})
	default:
		return nil, fmt.Errorf("unknown journal type %q", config.Journal.Type)
	}
}

// Document returns a handle on one document.
func (c *client) Document(docID string) Document {
	return &document{client: c, docID: docID}
}

// Start launches the journal invalidation listener.
func (c *client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.running {
		return
	}
	c.listen.Start()
	c.running = true
}

// Stop stops the invalidation listener.
func (c *client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.listen.Stop()
	c.running = false
}

// IsRunning reports whether the invalidation listener is running.
func (c *client) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Close stops the listener and releases resources.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	running := c.running
	c.running = false
	c.mu.Unlock()

	if running {
		c.listen.Stop()
	}

	journalErr := c.journal.Close()
	storeErr := c.store.Close()
	if journalErr != nil {
		return journalErr
	}
	return storeErr
}

// ValidateRecordValues structurally checks every field of a wire-encoded
// record against the columns' declared types, collecting one error per bad
// column instead of stopping at the first.
func ValidateRecordValues(record map[string]any, columns []Column) []*CellError {
	return schema.NewValidator().ValidateRecord(record, columns)
}

// EncodeRecordForAPI converts a record's natural values into their tagged
// wire forms.
func EncodeRecordForAPI(record map[string]any, types ColumnTypeMap) (map[string]any, error) {
	return codec.EncodeRecord(record, types)
}

// DecodeFromAPI converts one wire value back into its natural form for a
// column of the given declared type.
func DecodeFromAPI(wireValue any, declaredType string) (any, error) {
	return codec.Decode(wireValue, declaredType)
}
