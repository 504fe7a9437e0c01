package batch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwhthompson/grist-mcp-server-sub000/internal/core"
)

func seedCompanies(t *testing.T, orch *Orchestrator, names ...string) {
	t.Helper()
	records := make([]map[string]any, len(names))
	for i, name := range names {
		records[i] = map[string]any{"Name": name}
	}
	result := orch.Execute(context.Background(), "doc1", []Operation{
		{Kind: core.ActionAdd, TableID: "Companies", Records: records},
	})
	require.True(t, result.Succeeded, "%v", result.Err)
}

func TestUpsertEmptyRequireRejected(t *testing.T) {
	orch := newTestOrchestrator(t, newFakeBackend(), Options{})

	result := orch.Execute(context.Background(), "doc1", []Operation{
		{Kind: core.ActionUpsert, TableID: "Companies", Records: []map[string]any{
			{"Name": "Acme"},
		}},
	})

	assert.False(t, result.Succeeded)
	require.ErrorIs(t, result.Results[0].Err, ErrEmptyRequire)
}

func TestUpsertInsertsWhenNoMatch(t *testing.T) {
	backend := newFakeBackend()
	orch := newTestOrchestrator(t, backend, Options{})

	result := orch.Execute(context.Background(), "doc1", []Operation{
		{Kind: core.ActionUpsert, TableID: "Companies",
			Records: []map[string]any{{"Name": "Acme", "Signed": "2024-01-15"}},
			Upsert:  &UpsertOptions{Require: []string{"Name"}},
		},
	})

	require.True(t, result.Succeeded, "%v", result.Err)
	assert.Equal(t, []int64{1}, result.Results[0].RowIDs)

	rows, err := backend.Records(context.Background(), "doc1", "Companies", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Acme", rows[0].Fields["Name"])
}

func TestUpsertUpdatesMatch(t *testing.T) {
	backend := newFakeBackend()
	orch := newTestOrchestrator(t, backend, Options{})
	seedCompanies(t, orch, "Acme", "Globex")

	result := orch.Execute(context.Background(), "doc1", []Operation{
		{Kind: core.ActionUpsert, TableID: "Companies",
			Records: []map[string]any{{"Name": "Acme", "Signed": "2024-01-15"}},
			Upsert:  &UpsertOptions{Require: []string{"Name"}},
		},
	})

	require.True(t, result.Succeeded, "%v", result.Err)
	assert.Equal(t, []int64{1}, result.Results[0].RowIDs)

	// The match was updated in place, not duplicated.
	rows, err := backend.Records(context.Background(), "doc1", "Companies", nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1705276800), rows[0].Fields["Signed"])
}

func TestUpsertMixedInsertAndUpdate(t *testing.T) {
	backend := newFakeBackend()
	orch := newTestOrchestrator(t, backend, Options{})
	seedCompanies(t, orch, "Acme")

	result := orch.Execute(context.Background(), "doc1", []Operation{
		{Kind: core.ActionUpsert, TableID: "Companies",
			Records: []map[string]any{
				{"Name": "Acme", "Signed": "2024-01-15"},
				{"Name": "Globex"},
			},
			Upsert: &UpsertOptions{Require: []string{"Name"}},
		},
	})

	require.True(t, result.Succeeded, "%v", result.Err)
	// Updated row 1, inserted row 2.
	assert.ElementsMatch(t, []int64{1, 2}, result.Results[0].RowIDs)

	rows, err := backend.Records(context.Background(), "doc1", "Companies", nil)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestUpsertOnManyError(t *testing.T) {
	backend := newFakeBackend()
	orch := newTestOrchestrator(t, backend, Options{})
	seedCompanies(t, orch, "Acme", "Acme")

	result := orch.Execute(context.Background(), "doc1", []Operation{
		{Kind: core.ActionUpsert, TableID: "Companies",
			Records: []map[string]any{{"Name": "Acme", "Signed": "2024-01-15"}},
			Upsert:  &UpsertOptions{Require: []string{"Name"}, OnMany: OnManyError},
		},
	})

	assert.False(t, result.Succeeded)
	require.Error(t, result.Results[0].Err)
	assert.Contains(t, result.Results[0].Err.Error(), "matched 2 rows")
}

func TestUpsertOnManyFirstAndAll(t *testing.T) {
	backend := newFakeBackend()
	orch := newTestOrchestrator(t, backend, Options{})
	seedCompanies(t, orch, "Acme", "Acme")

	// Default: update only the lowest-id match.
	result := orch.Execute(context.Background(), "doc1", []Operation{
		{Kind: core.ActionUpsert, TableID: "Companies",
			Records: []map[string]any{{"Name": "Acme", "Signed": "2024-01-15"}},
			Upsert:  &UpsertOptions{Require: []string{"Name"}},
		},
	})
	require.True(t, result.Succeeded, "%v", result.Err)
	assert.Equal(t, []int64{1}, result.Results[0].RowIDs)

	// OnManyAll updates every match.
	result = orch.Execute(context.Background(), "doc1", []Operation{
		{Kind: core.ActionUpsert, TableID: "Companies",
			Records: []map[string]any{{"Name": "Acme", "Signed": "2024-02-01"}},
			Upsert:  &UpsertOptions{Require: []string{"Name"}, OnMany: OnManyAll},
		},
	})
	require.True(t, result.Succeeded, "%v", result.Err)
	assert.Equal(t, []int64{1, 2}, result.Results[0].RowIDs)
}

func TestUpsertNoInsertSkipsNonMatches(t *testing.T) {
	backend := newFakeBackend()
	orch := newTestOrchestrator(t, backend, Options{})
	seedCompanies(t, orch, "Acme")

	result := orch.Execute(context.Background(), "doc1", []Operation{
		{Kind: core.ActionUpsert, TableID: "Companies",
			Records: []map[string]any{
				{"Name": "Acme", "Signed": "2024-01-15"},
				{"Name": "Globex"},
			},
			Upsert: &UpsertOptions{Require: []string{"Name"}, NoInsert: true},
		},
	})

	require.True(t, result.Succeeded, "%v", result.Err)
	assert.Equal(t, []int64{1}, result.Results[0].RowIDs)

	rows, err := backend.Records(context.Background(), "doc1", "Companies", nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestUpsertNoUpdateSkipsMatches(t *testing.T) {
	backend := newFakeBackend()
	orch := newTestOrchestrator(t, backend, Options{})
	seedCompanies(t, orch, "Acme")

	result := orch.Execute(context.Background(), "doc1", []Operation{
		{Kind: core.ActionUpsert, TableID: "Companies",
			Records: []map[string]any{{"Name": "Acme", "Signed": "2024-01-15"}},
			Upsert:  &UpsertOptions{Require: []string{"Name"}, NoUpdate: true},
		},
	})

	require.True(t, result.Succeeded, "%v", result.Err)
	assert.Empty(t, result.Results[0].RowIDs)

	rows, err := backend.Records(context.Background(), "doc1", "Companies", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].Fields["Signed"])
}

func TestUpsertMissingRequireValue(t *testing.T) {
	orch := newTestOrchestrator(t, newFakeBackend(), Options{})

	result := orch.Execute(context.Background(), "doc1", []Operation{
		{Kind: core.ActionUpsert, TableID: "Companies",
			Records: []map[string]any{{"Signed": "2024-01-15"}},
			Upsert:  &UpsertOptions{Require: []string{"Name"}},
		},
	})

	assert.False(t, result.Succeeded)
	require.Error(t, result.Results[0].Err)
	assert.Contains(t, result.Results[0].Err.Error(), `require key "Name"`)
}
