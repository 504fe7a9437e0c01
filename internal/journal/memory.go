package journal

import (
	"context"
	"errors"
	"sync"

	"github.com/gwhthompson/grist-mcp-server-sub000/internal/core"
)

var (
	// ErrMemoryJournalClosed is returned when appending to a closed
	// in-memory journal.
	ErrMemoryJournalClosed = errors.New("memory journal is closed")

	// ErrMemoryJournalFull is returned when the buffer is exhausted.
	ErrMemoryJournalFull = errors.New("memory journal is full")
)

// MemoryJournal implements core.Journal with a buffered channel. It is the
// default journal: single-process deployments only need the event stream
// for tests and local listeners.
type MemoryJournal struct {
	events chan *core.MutationEvent
	mu     sync.RWMutex
	closed bool
}

// NewMemoryJournal creates an in-memory journal. bufferSize is the maximum
// number of events that can be buffered before Append fails.
func NewMemoryJournal(bufferSize int) *MemoryJournal {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &MemoryJournal{
		events: make(chan *core.MutationEvent, bufferSize),
	}
}

// Append adds a mutation event to the journal.
func (j *MemoryJournal) Append(ctx context.Context, event *core.MutationEvent) error {
	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return ErrMemoryJournalClosed
	}
	j.mu.RUnlock()

	select {
	case j.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrMemoryJournalFull
	}
}

// Next retrieves up to max buffered events in append order. It does not
// block when the journal is empty.
func (j *MemoryJournal) Next(ctx context.Context, max int) ([]*core.MutationEvent, error) {
	if max <= 0 {
		max = 100
	}

	events := make([]*core.MutationEvent, 0, max)
	for i := 0; i < max; i++ {
		select {
		case event := <-j.events:
			if event == nil {
				return events, nil
			}
			events = append(events, event)
		case <-ctx.Done():
			return events, ctx.Err()
		default:
			return events, nil
		}
	}
	return events, nil
}

// Size returns the number of buffered events.
func (j *MemoryJournal) Size() int {
	return len(j.events)
}

// Close closes the journal.
func (j *MemoryJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	close(j.events)
	return nil
}
