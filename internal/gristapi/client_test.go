package gristapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwhthompson/grist-mcp-server-sub000/internal/actions"
	"github.com/gwhthompson/grist-mcp-server-sub000/internal/core"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, "test-key", 5*time.Second, 0)
}

func TestColumns(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/docs/doc1/tables/Contacts/columns", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"columns":[
			{"id":"Name","fields":{"type":"Text","label":"Name"}},
			{"id":"Color","fields":{"type":"Choice","widgetOptions":"{\"choices\":[\"Red\"]}"}}
		]}`))
	})

	columns, err := client.Columns(context.Background(), "doc1", "Contacts")
	require.NoError(t, err)
	require.Len(t, columns, 2)
	assert.Equal(t, core.Column{ID: "Name", Type: "Text", Label: "Name"}, columns[0])
	assert.Equal(t, `{"choices":["Red"]}`, columns[1].WidgetOptions)
}

func TestApplyPostsActionTuples(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/docs/doc1/apply", r.URL.Path)

		var tuples [][]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&tuples))
		require.Len(t, tuples, 1)
		assert.Equal(t, "BulkAddRecord", tuples[0][0])
		assert.Equal(t, "Contacts", tuples[0][1])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"retValues":[[17,18]]}`))
	})

	action := actions.NewBulkAdd("Contacts", []map[string]any{
		{"Name": "Ada"},
		{"Name": "Grace"},
	})
	reply, err := client.Apply(context.Background(), "doc1", []core.UserAction{action})
	require.NoError(t, err)
	require.Len(t, reply.RetValues, 1)
	assert.Equal(t, []int64{17, 18}, core.RowIDs(reply.RetValues[0]))
}

func TestApplyNoActions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Fail(t, "no request expected for an empty action list")
	})

	reply, err := client.Apply(context.Background(), "doc1", nil)
	require.NoError(t, err)
	assert.Empty(t, reply.RetValues)
}

func TestRecordsWithFilter(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/docs/doc1/tables/Contacts/records", r.URL.Path)

		var filter map[string][]any
		require.NoError(t, json.Unmarshal([]byte(r.URL.Query().Get("filter")), &filter))
		assert.Equal(t, map[string][]any{"id": {float64(5), float64(6)}}, filter)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"records":[{"id":5,"fields":{"Name":"Ada"}}]}`))
	})

	rows, err := client.Records(context.Background(), "doc1", "Contacts",
		map[string][]any{"id": {5, 6}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(5), rows[0].ID)
	assert.Equal(t, "Ada", rows[0].Fields["Name"])
}

func TestSQL(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/docs/doc1/sql", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "select Name from Contacts where id = ?", body["sql"])
		assert.Equal(t, []any{float64(5)}, body["args"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"records":[{"fields":{"Name":"Ada"}}]}`))
	})

	rows, err := client.SQL(context.Background(), "doc1", "select Name from Contacts where id = ?", []any{5})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ada", rows[0]["Name"])
}

func TestAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"document not found"}`))
	})

	_, err := client.Columns(context.Background(), "nope", "Contacts")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "document not found", apiErr.Message)
}
