package batch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwhthompson/grist-mcp-server-sub000/internal/cache"
	"github.com/gwhthompson/grist-mcp-server-sub000/internal/core"
	"github.com/gwhthompson/grist-mcp-server-sub000/internal/integrity"
	"github.com/gwhthompson/grist-mcp-server-sub000/internal/journal"
)

// fakeBackend is an in-memory document service. Applied actions mutate its
// row store, so read-backs observe the writes.
type fakeBackend struct {
	mu          sync.Mutex
	columns     map[string][]core.Column
	rows        map[string][]core.RowRecord
	nextID      int64
	applyCalls  int
	failOnApply int // 1-based apply call that fails; 0 disables
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		columns: map[string][]core.Column{
			"Companies": {
				{ID: "Name", Type: "Text"},
				{ID: "Signed", Type: "Date"},
			},
			"Contacts": {
				{ID: "Name", Type: "Text"},
				{ID: "Company", Type: "Ref:Companies"},
			},
		},
		rows: make(map[string][]core.RowRecord),
	}
}

func (b *fakeBackend) Columns(ctx context.Context, docID, tableID string) ([]core.Column, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	columns, ok := b.columns[tableID]
	if !ok {
		return nil, errors.New("no such table: " + tableID)
	}
	return columns, nil
}

func (b *fakeBackend) Apply(ctx context.Context, docID string, actions []core.UserAction) (*core.ApplyResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.applyCalls++
	if b.failOnApply > 0 && b.applyCalls == b.failOnApply {
		return nil, errors.New("backend rejected the action")
	}

	reply := &core.ApplyResult{}
	for _, action := range actions {
		tuple := action.Tuple()
		tableID := tuple[1].(string)

		switch action.Name() {
		case "BulkAddRecord":
			rowIDs := tuple[2].([]any)
			columns := tuple[3].(map[string][]any)
			assigned := make([]any, len(rowIDs))
			for i := range rowIDs {
				b.nextID++
				assigned[i] = b.nextID
				fields := make(map[string]any)
				for colID, values := range columns {
					fields[colID] = values[i]
				}
				b.rows[tableID] = append(b.rows[tableID], core.RowRecord{ID: b.nextID, Fields: fields})
			}
			reply.RetValues = append(reply.RetValues, assigned)

		case "BulkUpdateRecord":
			rowIDs := tuple[2].([]any)
			columns := tuple[3].(map[string][]any)
			for i, rawID := range rowIDs {
				id, _ := core.AsInt64(rawID)
				for r := range b.rows[tableID] {
					if b.rows[tableID][r].ID == id {
						for colID, values := range columns {
							b.rows[tableID][r].Fields[colID] = values[i]
						}
					}
				}
			}
			reply.RetValues = append(reply.RetValues, tuple[2])

		case "BulkRemoveRecord":
			remove := make(map[int64]struct{})
			for _, rawID := range tuple[2].([]any) {
				id, _ := core.AsInt64(rawID)
				remove[id] = struct{}{}
			}
			var kept []core.RowRecord
			for _, row := range b.rows[tableID] {
				if _, gone := remove[row.ID]; !gone {
					kept = append(kept, row)
				}
			}
			b.rows[tableID] = kept
			reply.RetValues = append(reply.RetValues, tuple[2])
		}
	}
	return reply, nil
}

func (b *fakeBackend) Records(ctx context.Context, docID, tableID string, filter map[string][]any) ([]core.RowRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var matched []core.RowRecord
	for _, row := range b.rows[tableID] {
		if rowMatches(row, filter) {
			matched = append(matched, row)
		}
	}
	return matched, nil
}

func rowMatches(row core.RowRecord, filter map[string][]any) bool {
	for colID, candidates := range filter {
		var actual any = row.Fields[colID]
		if colID == "id" {
			actual = row.ID
		}
		found := false
		for _, candidate := range candidates {
			want, wantOK := core.AsInt64(candidate)
			got, gotOK := core.AsInt64(actual)
			if (wantOK && gotOK && want == got) || candidate == actual {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (b *fakeBackend) SQL(ctx context.Context, docID, query string, args []any) ([]map[string]any, error) {
	return nil, errors.New("not implemented")
}

func newTestOrchestrator(t *testing.T, backend *fakeBackend, opts Options) *Orchestrator {
	t.Helper()
	schemaCache := cache.NewSchemaCache(backend, cache.NewMemoryStore(), 0)
	return NewOrchestrator(backend, schemaCache, opts)
}

func TestSequentialDependency(t *testing.T) {
	backend := newFakeBackend()
	orch := newTestOrchestrator(t, backend, Options{})

	// The second operation references the id the first one creates. The
	// orchestrator must finish operation 0 and expose its assigned id
	// before operation 1 runs.
	result := orch.Execute(context.Background(), "doc1", []Operation{
		{Kind: core.ActionAdd, TableID: "Companies", Records: []map[string]any{
			{"Name": "Acme", "Signed": "2024-01-15"},
		}},
		{Kind: core.ActionAdd, TableID: "Contacts", Records: []map[string]any{
			{"Name": "Ada", "Company": int64(1)},
		}},
	})

	require.True(t, result.Succeeded)
	require.NoError(t, result.Err)
	assert.Equal(t, 2, result.Completed)
	assert.Equal(t, -1, result.FailedIndex)

	assert.Equal(t, []int64{1}, result.Results[0].RowIDs)
	assert.Equal(t, []int64{2}, result.Results[1].RowIDs)
	assert.Equal(t, StateSucceeded, result.Results[0].State)

	// The date was encoded before the apply.
	rows, err := backend.Records(context.Background(), "doc1", "Companies", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1705276800), rows[0].Fields["Signed"])
}

func TestPartialFailureReporting(t *testing.T) {
	backend := newFakeBackend()
	backend.failOnApply = 3
	orch := newTestOrchestrator(t, backend, Options{})

	addOne := func(name string) Operation {
		return Operation{Kind: core.ActionAdd, TableID: "Companies", Records: []map[string]any{
			{"Name": name},
		}}
	}

	result := orch.Execute(context.Background(), "doc1",
		[]Operation{addOne("a"), addOne("b"), addOne("c"), addOne("d")})

	assert.False(t, result.Succeeded)
	assert.Equal(t, 2, result.Completed)
	assert.Equal(t, 2, result.FailedIndex)
	require.Error(t, result.Err)

	assert.True(t, result.Results[0].Success)
	assert.True(t, result.Results[1].Success)
	assert.Equal(t, StateFailed, result.Results[2].State)
	require.Error(t, result.Results[2].Err)

	// The operation after the failure is never attempted.
	assert.Equal(t, StateSkipped, result.Results[3].State)
	assert.Equal(t, 3, backend.applyCalls)
}

func TestValidationFailureStopsBeforeApply(t *testing.T) {
	backend := newFakeBackend()
	orch := newTestOrchestrator(t, backend, Options{})

	result := orch.Execute(context.Background(), "doc1", []Operation{
		{Kind: core.ActionAdd, TableID: "Companies", Records: []map[string]any{
			{"Name": float64(12), "Signed": []any{"Red"}},
		}},
	})

	assert.False(t, result.Succeeded)
	assert.Equal(t, 0, backend.applyCalls)

	var validationErr *ValidationError
	require.ErrorAs(t, result.Results[0].Err, &validationErr)
	require.Len(t, validationErr.Failures, 1)
	assert.Len(t, validationErr.Failures[0].Cells, 2)
}

func TestIntegrityPolicyFailStopsApply(t *testing.T) {
	backend := newFakeBackend()
	orch := newTestOrchestrator(t, backend, Options{
		Checker: integrity.NewChecker(backend, integrity.PolicyFail),
	})

	// No Companies row exists, so the reference dangles.
	result := orch.Execute(context.Background(), "doc1", []Operation{
		{Kind: core.ActionAdd, TableID: "Contacts", Records: []map[string]any{
			{"Name": "Ada", "Company": int64(42)},
		}},
	})

	assert.False(t, result.Succeeded)
	assert.Equal(t, 0, backend.applyCalls)

	var integrityErr *integrity.Error
	require.ErrorAs(t, result.Results[0].Err, &integrityErr)
}

func TestDeleteOperation(t *testing.T) {
	backend := newFakeBackend()
	orch := newTestOrchestrator(t, backend, Options{})

	seed := orch.Execute(context.Background(), "doc1", []Operation{
		{Kind: core.ActionAdd, TableID: "Companies", Records: []map[string]any{
			{"Name": "a"}, {"Name": "b"},
		}},
	})
	require.True(t, seed.Succeeded)

	result := orch.Execute(context.Background(), "doc1", []Operation{
		{Kind: core.ActionDelete, TableID: "Companies", RowIDs: []int64{1}},
	})
	require.True(t, result.Succeeded)
	assert.Equal(t, []int64{1}, result.Results[0].RowIDs)

	rows, err := backend.Records(context.Background(), "doc1", "Companies", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].ID)
}

func TestJournalReceivesMutationEvents(t *testing.T) {
	backend := newFakeBackend()
	jrnl := journal.NewMemoryJournal(16)
	orch := newTestOrchestrator(t, backend, Options{Journal: jrnl})

	result := orch.Execute(context.Background(), "doc1", []Operation{
		{Kind: core.ActionAdd, TableID: "Companies", Records: []map[string]any{
			{"Name": "Acme"},
		}},
	})
	require.True(t, result.Succeeded)

	events, err := jrnl.Next(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, result.BatchID, events[0].BatchID)
	assert.Equal(t, "doc1", events[0].DocID)
	assert.Equal(t, "Companies", events[0].TableID)
	assert.Equal(t, core.ActionAdd, events[0].Action)
	assert.Equal(t, []int64{1}, events[0].RowIDs)
}

func TestVerificationPassesAfterWrite(t *testing.T) {
	backend := newFakeBackend()
	orch := newTestOrchestrator(t, backend, Options{Verify: true})

	result := orch.Execute(context.Background(), "doc1", []Operation{
		{Kind: core.ActionAdd, TableID: "Companies", Records: []map[string]any{
			{"Name": "Acme", "Signed": "2024-06-15"},
		}},
	})

	require.True(t, result.Succeeded, "%v", result.Err)
	require.NotNil(t, result.Results[0].Verification)
	assert.True(t, result.Results[0].Verification.Passed())
}

func TestVerificationOfDeletion(t *testing.T) {
	backend := newFakeBackend()
	orch := newTestOrchestrator(t, backend, Options{Verify: true})

	seed := orch.Execute(context.Background(), "doc1", []Operation{
		{Kind: core.ActionAdd, TableID: "Companies", Records: []map[string]any{
			{"Name": "a"}, {"Name": "b"},
		}},
	})
	require.True(t, seed.Succeeded, "%v", seed.Err)

	result := orch.Execute(context.Background(), "doc1", []Operation{
		{Kind: core.ActionDelete, TableID: "Companies", RowIDs: []int64{1}},
	})
	require.True(t, result.Succeeded, "%v", result.Err)
	require.NotNil(t, result.Results[0].Verification)
	assert.True(t, result.Results[0].Verification.Passed())
}

func TestEmptyBatchSucceeds(t *testing.T) {
	orch := newTestOrchestrator(t, newFakeBackend(), Options{})
	result := orch.Execute(context.Background(), "doc1", nil)
	assert.True(t, result.Succeeded)
	assert.Equal(t, 0, result.Completed)
	assert.NotEmpty(t, result.BatchID)
}
