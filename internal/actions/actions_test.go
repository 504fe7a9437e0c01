package actions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBulkAdd(t *testing.T) {
	action := NewBulkAdd("Contacts", []map[string]any{
		{"Name": "Ada", "Age": 36},
		{"Name": "Grace"},
	})

	tuple := action.Tuple()
	require.Len(t, tuple, 4)
	assert.Equal(t, "BulkAddRecord", tuple[0])
	assert.Equal(t, "Contacts", tuple[1])

	// Row ids are null placeholders, one per record.
	assert.Equal(t, []any{nil, nil}, tuple[2])

	// Records are transposed to columnar form; the record without Age
	// gets a null in that slot.
	columns := tuple[3].(map[string][]any)
	assert.Equal(t, []any{"Ada", "Grace"}, columns["Name"])
	assert.Equal(t, []any{36, nil}, columns["Age"])
}

func TestNewBulkUpdate(t *testing.T) {
	action, err := NewBulkUpdate("Contacts", []int64{4, 9}, []map[string]any{
		{"Name": "Ada"},
		{"Name": "Grace"},
	})
	require.NoError(t, err)

	tuple := action.Tuple()
	assert.Equal(t, "BulkUpdateRecord", tuple[0])
	assert.Equal(t, []any{int64(4), int64(9)}, tuple[2])

	columns := tuple[3].(map[string][]any)
	assert.Equal(t, []any{"Ada", "Grace"}, columns["Name"])
}

func TestNewBulkUpdateLengthMismatch(t *testing.T) {
	_, err := NewBulkUpdate("Contacts", []int64{4}, []map[string]any{
		{"Name": "Ada"},
		{"Name": "Grace"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 row ids for 2 records")
}

func TestNewBulkRemove(t *testing.T) {
	action := NewBulkRemove("Contacts", []int64{5, 6})

	tuple := action.Tuple()
	require.Len(t, tuple, 3)
	assert.Equal(t, "BulkRemoveRecord", tuple[0])
	assert.Equal(t, "Contacts", tuple[1])
	assert.Equal(t, []any{int64(5), int64(6)}, tuple[2])
}

func TestTransposeEmptyRecords(t *testing.T) {
	action := NewBulkAdd("Contacts", nil)
	tuple := action.Tuple()
	assert.Equal(t, []any{}, tuple[2])
	assert.Empty(t, tuple[3].(map[string][]any))
}
