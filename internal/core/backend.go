package core

import (
	"context"
)

// RowRecord is a single table row as returned by the record endpoints.
// Fields hold wire-encoded cell values keyed by column id.
type RowRecord struct {
	ID     int64          `json:"id"`
	Fields map[string]any `json:"fields"`
}

// UserAction is a single wire-level mutation instruction. Implementations
// render themselves as the backend's positional action tuple.
type UserAction interface {
	// Name returns the action name, e.g. "BulkAddRecord".
	Name() string

	// Tuple returns the positional wire form of the action,
	// e.g. ["BulkAddRecord", tableId, [null, null], {col: [v1, v2]}].
	Tuple() []any
}

// ApplyResult holds the per-action return values of an apply call.
// RetValues[i] corresponds to actions[i]; for bulk add actions it is the
// list of assigned row ids in input order.
type ApplyResult struct {
	RetValues []any `json:"retValues"`
}

// Backend is the remote document service consumed by the pipeline.
type Backend interface {
	// Columns fetches the column metadata for a table.
	Columns(ctx context.Context, docID, tableID string) ([]Column, error)

	// Apply submits a list of wire-level action tuples for execution and
	// returns the per-action return values.
	Apply(ctx context.Context, docID string, actions []UserAction) (*ApplyResult, error)

	// Records reads rows from a table, optionally filtered by column
	// values. A filter of {"id": [5, 6]} matches rows whose id is 5 or 6.
	Records(ctx context.Context, docID, tableID string, filter map[string][]any) ([]RowRecord, error)

	// SQL executes a read-only SQL query against the document. The query
	// text is passed through verbatim.
	SQL(ctx context.Context, docID, query string, args []any) ([]map[string]any, error)
}

// RowIDs coerces an apply return value into a list of row ids. The backend
// reports assigned ids as a JSON array of numbers; a single number is
// accepted for non-bulk actions.
func RowIDs(retValue any) []int64 {
	switch v := retValue.(type) {
	case []any:
		ids := make([]int64, 0, len(v))
		for _, item := range v {
			if id, ok := AsInt64(item); ok {
				ids = append(ids, id)
			}
		}
		return ids
	default:
		if id, ok := AsInt64(retValue); ok {
			return []int64{id}
		}
		return nil
	}
}

// AsInt64 reports whether v is an integral number and returns it as int64.
// JSON decoding produces float64, so whole-valued floats are accepted.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
		return 0, false
	case float32:
		if float64(n) == float64(int64(n)) {
			return int64(n), true
		}
		return 0, false
	default:
		return 0, false
	}
}
