// Package journal records every successful mutation as an event stream.
// Downstream consumers use the stream to keep derived state current; the
// built-in listener invalidates cached schemas when a table is mutated.
package journal

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gwhthompson/grist-mcp-server-sub000/internal/core"
)

// Invalidator is the slice of the schema cache the listener needs.
type Invalidator interface {
	Invalidate(ctx context.Context, docID, tableID string) error
}

// Listener polls a journal and invalidates cached schemas for every table
// named in a consumed mutation event. In a multi-instance deployment each
// instance runs one listener against the shared journal, so a mutation made
// by one instance evicts the stale schema on all of them.
type Listener struct {
	journal      core.Journal
	invalidator  Invalidator
	pollInterval time.Duration
	batchSize    int

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewListener creates a listener. pollInterval controls how often the
// journal is drained when it is idle; batchSize bounds one drain.
func NewListener(j core.Journal, invalidator Invalidator, pollInterval time.Duration, batchSize int) *Listener {
	if pollInterval <= 0 {
		pollInterval = 1 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Listener{
		journal:      j,
		invalidator:  invalidator,
		pollInterval: pollInterval,
		batchSize:    batchSize,
	}
}

// Start launches the background poll loop. Calling Start on a running
// listener is a no-op.
func (l *Listener) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})

	go l.run()
	log.Printf("[JOURNAL] Listener started - poll interval: %v, batch size: %d", l.pollInterval, l.batchSize)
}

// Stop signals the poll loop to exit and waits for it to finish.
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stopCh)
	doneCh := l.doneCh
	l.mu.Unlock()

	<-doneCh
	log.Printf("[JOURNAL] Listener stopped")
}

func (l *Listener) run() {
	defer close(l.doneCh)

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			// final drain so events appended just before Stop are not lost
			l.drain()
			return
		case <-ticker.C:
			l.drain()
		}
	}
}

// drain consumes one batch of events and applies the invalidations.
func (l *Listener) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	events, err := l.journal.Next(ctx, l.batchSize)
	if err != nil {
		log.Printf("[JOURNAL] Failed to read mutation events: %v", err)
		return
	}

	for _, event := range events {
		if err := l.invalidator.Invalidate(ctx, event.DocID, event.TableID); err != nil {
			log.Printf("[JOURNAL] Failed to invalidate schema for %s.%s: %v", event.DocID, event.TableID, err)
			continue
		}
		log.Printf("[JOURNAL] Invalidated schema for %s.%s after %s (batch %s)",
			event.DocID, event.TableID, event.Action, event.BatchID)
	}
}
