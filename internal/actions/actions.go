// Package actions assembles already-encoded records into the backend's
// wire-level mutation instructions. It performs no validation: deciding
// what to send happens in earlier pipeline stages, this package only shapes
// it correctly.
package actions

import (
	"fmt"
	"sort"

	"github.com/gwhthompson/grist-mcp-server-sub000/internal/core"
)

// BulkAdd inserts records into a table. Row ids are null placeholders; the
// server assigns ids and returns them in the same order as the input
// records.
type BulkAdd struct {
	TableID string
	RowIDs  []any
	Columns map[string][]any
}

// Name returns the wire action name.
func (a BulkAdd) Name() string { return "BulkAddRecord" }

// Tuple renders the action as its positional wire form.
func (a BulkAdd) Tuple() []any {
	return []any{a.Name(), a.TableID, a.RowIDs, a.Columns}
}

// BulkUpdate updates existing records identified by row id.
type BulkUpdate struct {
	TableID string
	RowIDs  []any
	Columns map[string][]any
}

// Name returns the wire action name.
func (a BulkUpdate) Name() string { return "BulkUpdateRecord" }

// Tuple renders the action as its positional wire form.
func (a BulkUpdate) Tuple() []any {
	return []any{a.Name(), a.TableID, a.RowIDs, a.Columns}
}

// BulkRemove deletes records identified by row id.
type BulkRemove struct {
	TableID string
	RowIDs  []any
}

// Name returns the wire action name.
func (a BulkRemove) Name() string { return "BulkRemoveRecord" }

// Tuple renders the action as its positional wire form.
func (a BulkRemove) Tuple() []any {
	return []any{a.Name(), a.TableID, a.RowIDs}
}

// NewBulkAdd builds a bulk add action from row-major records. Every record
// contributes to the union of columns; a record that lacks a column gets a
// null in that column's slot so the columnar arrays stay aligned.
func NewBulkAdd(tableID string, records []map[string]any) BulkAdd {
	rowIDs := make([]any, len(records))
	return BulkAdd{
		TableID: tableID,
		RowIDs:  rowIDs, // all nil: the server assigns ids
		Columns: transpose(records),
	}
}

// NewBulkUpdate builds a bulk update action. ids[i] identifies the row that
// records[i] updates.
func NewBulkUpdate(tableID string, ids []int64, records []map[string]any) (BulkUpdate, error) {
	if len(ids) != len(records) {
		return BulkUpdate{}, fmt.Errorf("got %d row ids for %d records", len(ids), len(records))
	}
	rowIDs := make([]any, len(ids))
	for i, id := range ids {
		rowIDs[i] = id
	}
	return BulkUpdate{
		TableID: tableID,
		RowIDs:  rowIDs,
		Columns: transpose(records),
	}, nil
}

// NewBulkRemove builds a bulk remove action for the given row ids.
func NewBulkRemove(tableID string, ids []int64) BulkRemove {
	rowIDs := make([]any, len(ids))
	for i, id := range ids {
		rowIDs[i] = id
	}
	return BulkRemove{TableID: tableID, RowIDs: rowIDs}
}

// transpose converts row-major records into the wire's columnar form.
func transpose(records []map[string]any) map[string][]any {
	colIDs := make(map[string]struct{})
	for _, record := range records {
		for colID := range record {
			colIDs[colID] = struct{}{}
		}
	}

	ordered := make([]string, 0, len(colIDs))
	for colID := range colIDs {
		ordered = append(ordered, colID)
	}
	sort.Strings(ordered)

	columns := make(map[string][]any, len(ordered))
	for _, colID := range ordered {
		values := make([]any, len(records))
		for i, record := range records {
			values[i] = record[colID] // absent keys yield nil
		}
		columns[colID] = values
	}
	return columns
}

// compile-time interface checks
var (
	_ core.UserAction = BulkAdd{}
	_ core.UserAction = BulkUpdate{}
	_ core.UserAction = BulkRemove{}
)
