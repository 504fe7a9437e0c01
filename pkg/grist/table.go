package grist

import (
	"context"
	"fmt"

	"github.com/gwhthompson/grist-mcp-server-sub000/internal/codec"
	"github.com/gwhthompson/grist-mcp-server-sub000/internal/core"
)

// Table is a handle on one table of a document. Record maps passed in hold
// natural values (ISO date strings, plain arrays); record maps returned
// have been decoded back to natural values.
type Table interface {
	// Columns returns the table's column metadata, served from the schema
	// cache.
	Columns(ctx context.Context) ([]Column, error)

	// Records reads rows, optionally filtered by column values, and
	// decodes their fields to natural values.
	Records(ctx context.Context, filter map[string][]any) ([]RowRecord, error)

	// Add inserts records and returns the assigned row ids in input
	// order.
	Add(ctx context.Context, records []map[string]any) ([]int64, error)

	// Update updates existing rows; ids[i] identifies the row records[i]
	// updates.
	Update(ctx context.Context, ids []int64, records []map[string]any) error

	// Delete removes the rows with the given ids.
	Delete(ctx context.Context, ids []int64) error

	// Upsert updates rows matched by the options' require keys and
	// inserts the rest. Returns the affected row ids.
	Upsert(ctx context.Context, records []map[string]any, opts UpsertOptions) ([]int64, error)

	// Validate structurally checks one natural-valued record against the
	// table's current columns, returning every violation.
	Validate(ctx context.Context, record map[string]any) ([]*CellError, error)
}

type document struct {
	client *client
	docID  string
}

func (d *document) Table(tableID string) Table {
	return &table{document: d, tableID: tableID}
}

func (d *document) Execute(ctx context.Context, ops []Operation) *BatchResult {
	return d.client.orch.Execute(ctx, d.docID, ops)
}

func (d *document) SQL(ctx context.Context, query string, args []any) ([]map[string]any, error) {
	return d.client.backend.SQL(ctx, d.docID, query, args)
}

type table struct {
	document *document
	tableID  string
}

func (t *table) Columns(ctx context.Context) ([]Column, error) {
	return t.document.client.cache.Columns(ctx, t.document.docID, t.tableID)
}

func (t *table) Records(ctx context.Context, filter map[string][]any) ([]RowRecord, error) {
	columns, err := t.Columns(ctx)
	if err != nil {
		return nil, err
	}
	types := core.TypesOf(columns)

	rows, err := t.document.client.backend.Records(ctx, t.document.docID, t.tableID, filter)
	if err != nil {
		return nil, err
	}

	decoded := make([]RowRecord, 0, len(rows))
	for _, row := range rows {
		fields, err := codec.DecodeRecord(row.Fields, types)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row.ID, err)
		}
		decoded = append(decoded, RowRecord{ID: row.ID, Fields: fields})
	}
	return decoded, nil
}

func (t *table) Add(ctx context.Context, records []map[string]any) ([]int64, error) {
	result := t.execute(ctx, Operation{
		Kind:    ActionAdd,
		TableID: t.tableID,
		Records: records,
	})
	if result.Err != nil {
		return nil, result.Err
	}
	return result.Results[0].RowIDs, nil
}

func (t *table) Update(ctx context.Context, ids []int64, records []map[string]any) error {
	result := t.execute(ctx, Operation{
		Kind:    ActionUpdate,
		TableID: t.tableID,
		RowIDs:  ids,
		Records: records,
	})
	return result.Err
}

func (t *table) Delete(ctx context.Context, ids []int64) error {
	result := t.execute(ctx, Operation{
		Kind:    ActionDelete,
		TableID: t.tableID,
		RowIDs:  ids,
	})
	return result.Err
}

func (t *table) Upsert(ctx context.Context, records []map[string]any, opts UpsertOptions) ([]int64, error) {
	result := t.execute(ctx, Operation{
		Kind:    ActionUpsert,
		TableID: t.tableID,
		Records: records,
		Upsert:  &opts,
	})
	if result.Err != nil {
		return nil, result.Err
	}
	return result.Results[0].RowIDs, nil
}

func (t *table) Validate(ctx context.Context, record map[string]any) ([]*CellError, error) {
	columns, err := t.Columns(ctx)
	if err != nil {
		return nil, err
	}
	encoded, err := codec.EncodeRecord(record, core.TypesOf(columns))
	if err != nil {
		return nil, err
	}
	return ValidateRecordValues(encoded, columns), nil
}

func (t *table) execute(ctx context.Context, op Operation) *BatchResult {
	return t.document.client.orch.Execute(ctx, t.document.docID, []Operation{op})
}
