package core

import (
	"context"
	"time"
)

// ActionKind identifies the kind of record mutation a journal event
// describes.
type ActionKind string

const (
	// ActionAdd represents a bulk record insertion.
	ActionAdd ActionKind = "add"

	// ActionUpdate represents a bulk record update.
	ActionUpdate ActionKind = "update"

	// ActionDelete represents a bulk record removal.
	ActionDelete ActionKind = "delete"

	// ActionUpsert represents an update-or-insert operation.
	ActionUpsert ActionKind = "upsert"
)

// MutationEvent records one applied record mutation. Events are published
// after the backend has accepted the action, so consumers may treat them as
// committed.
type MutationEvent struct {
	// BatchID identifies the batch the operation belonged to.
	BatchID string `json:"batch_id"`

	// DocID is the document the mutation targeted.
	DocID string `json:"doc_id"`

	// TableID is the table the mutation targeted.
	TableID string `json:"table_id"`

	// Action is the kind of mutation.
	Action ActionKind `json:"action"`

	// RowIDs are the affected row ids (assigned ids for adds).
	RowIDs []int64 `json:"row_ids,omitempty"`

	// Timestamp is when the mutation was applied.
	Timestamp time.Time `json:"timestamp"`
}

// Journal is an ordered stream of applied mutations. The orchestrator
// appends an event after every successful apply; an invalidation listener
// consumes events to drop schema cache entries on other instances.
//
// The journal is advisory infrastructure. The orchestrator's own synchronous
// cache invalidation is the correctness mechanism; a lost event costs at
// most one redundant re-fetch on another instance.
type Journal interface {
	// Append adds a mutation event to the journal.
	Append(ctx context.Context, event *MutationEvent) error

	// Next retrieves up to max events in the order they were appended.
	// Returns an empty slice when no events are available.
	Next(ctx context.Context, max int) ([]*MutationEvent, error)

	// Size returns the approximate number of pending events. Brokers that
	// cannot report an exact size return an approximation.
	Size() int

	// Close closes the journal and releases resources.
	Close() error
}
