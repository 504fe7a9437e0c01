package journal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwhthompson/grist-mcp-server-sub000/internal/core"
)

func event(batchID, tableID string) *core.MutationEvent {
	return &core.MutationEvent{
		BatchID:   batchID,
		DocID:     "doc1",
		TableID:   tableID,
		Action:    core.ActionAdd,
		RowIDs:    []int64{1},
		Timestamp: time.Now().UTC(),
	}
}

func TestMemoryJournalAppendAndNext(t *testing.T) {
	j := NewMemoryJournal(8)
	ctx := context.Background()

	require.NoError(t, j.Append(ctx, event("b1", "Contacts")))
	require.NoError(t, j.Append(ctx, event("b2", "Orders")))
	assert.Equal(t, 2, j.Size())

	events, err := j.Next(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "b1", events[0].BatchID)
	assert.Equal(t, "b2", events[1].BatchID)
	assert.Equal(t, 0, j.Size())
}

func TestMemoryJournalNextBounded(t *testing.T) {
	j := NewMemoryJournal(8)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, j.Append(ctx, event("b", "Contacts")))
	}

	events, err := j.Next(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
	assert.Equal(t, 2, j.Size())
}

func TestMemoryJournalEmptyNextDoesNotBlock(t *testing.T) {
	j := NewMemoryJournal(8)

	events, err := j.Next(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryJournalFull(t *testing.T) {
	j := NewMemoryJournal(1)
	ctx := context.Background()

	require.NoError(t, j.Append(ctx, event("b1", "Contacts")))
	err := j.Append(ctx, event("b2", "Contacts"))
	require.ErrorIs(t, err, ErrMemoryJournalFull)
}

func TestMemoryJournalClosed(t *testing.T) {
	j := NewMemoryJournal(8)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close(), "double close is a no-op")

	err := j.Append(context.Background(), event("b1", "Contacts"))
	require.ErrorIs(t, err, ErrMemoryJournalClosed)
}

// recordingInvalidator counts invalidations per doc/table key.
type recordingInvalidator struct {
	mu    sync.Mutex
	calls map[string]int
}

func newRecordingInvalidator() *recordingInvalidator {
	return &recordingInvalidator{calls: make(map[string]int)}
}

func (r *recordingInvalidator) Invalidate(ctx context.Context, docID, tableID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[docID+"/"+tableID]++
	return nil
}

func (r *recordingInvalidator) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[key]
}

func TestListenerInvalidatesOnEvents(t *testing.T) {
	j := NewMemoryJournal(8)
	invalidator := newRecordingInvalidator()
	listener := NewListener(j, invalidator, 10*time.Millisecond, 10)

	listener.Start()
	defer listener.Stop()

	require.NoError(t, j.Append(context.Background(), event("b1", "Contacts")))
	require.NoError(t, j.Append(context.Background(), event("b2", "Orders")))

	assert.Eventually(t, func() bool {
		return invalidator.count("doc1/Contacts") == 1 && invalidator.count("doc1/Orders") == 1
	}, time.Second, 10*time.Millisecond)
}

func TestListenerDrainsOnStop(t *testing.T) {
	j := NewMemoryJournal(8)
	invalidator := newRecordingInvalidator()
	listener := NewListener(j, invalidator, time.Hour, 10) // never ticks

	listener.Start()
	require.NoError(t, j.Append(context.Background(), event("b1", "Contacts")))
	listener.Stop()

	// The final drain picked up the event appended before Stop.
	assert.Equal(t, 1, invalidator.count("doc1/Contacts"))
}

func TestListenerStartStopIdempotent(t *testing.T) {
	j := NewMemoryJournal(8)
	listener := NewListener(j, newRecordingInvalidator(), 10*time.Millisecond, 10)

	listener.Start()
	listener.Start()
	listener.Stop()
	listener.Stop()
}
