package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/gwhthompson/grist-mcp-server-sub000/internal/core"
)

// ErrKafkaJournalClosed is returned when appending to a closed Kafka
// journal.
var ErrKafkaJournalClosed = errors.New("kafka journal is closed")

// KafkaJournal implements core.Journal on an Apache Kafka topic. It gives a
// fleet of server instances a shared mutation stream, so each instance can
// invalidate its schema cache when another instance mutates a table.
type KafkaJournal struct {
	writer *kafka.Writer
	reader *kafka.Reader
	topic  string
	mu     sync.RWMutex
	closed bool
}

// KafkaConfig holds configuration for the Kafka journal.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	GroupID      string
	BatchSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	RequiredAcks int // 0, 1, or -1 (all)
	MinBytes     int
	MaxBytes     int
	MaxWait      time.Duration
}

// NewKafkaJournal creates a Kafka-backed journal.
func NewKafkaJournal(config KafkaConfig) (*KafkaJournal, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("Kafka topic is required")
	}
	if config.GroupID == "" {
		config.GroupID = "grist-mutation-journal"
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    config.BatchSize,
		BatchTimeout: config.BatchTimeout,
		WriteTimeout: config.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(config.RequiredAcks),
		MaxAttempts:  3,
		Async:        false, // synchronous writes so apply and journal stay ordered
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     config.Brokers,
		Topic:       config.Topic,
		GroupID:     config.GroupID,
		MinBytes:    config.MinBytes,
		MaxBytes:    config.MaxBytes,
		MaxWait:     config.MaxWait,
		StartOffset: kafka.LastOffset, // listeners only care about new mutations
	})

	log.Printf("[JOURNAL] Kafka journal ready - topic: %s, group: %s", config.Topic, config.GroupID)

	return &KafkaJournal{
		writer: writer,
		reader: reader,
		topic:  config.Topic,
	}, nil
}

// Append publishes a mutation event to the topic.
func (j *KafkaJournal) Append(ctx context.Context, event *core.MutationEvent) error {
	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return ErrKafkaJournalClosed
	}
	j.mu.RUnlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal mutation event: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(event.DocID + ":" + event.TableID),
		Value: data,
	}
	if err := j.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to publish mutation event: %w", err)
	}
	return nil
}

// Next reads up to max events from the topic. It returns early with
// whatever was read once no further message arrives promptly.
func (j *KafkaJournal) Next(ctx context.Context, max int) ([]*core.MutationEvent, error) {
	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return nil, ErrKafkaJournalClosed
	}
	j.mu.RUnlock()

	if max <= 0 {
		max = 100
	}

	events := make([]*core.MutationEvent, 0, max)
	for i := 0; i < max; i++ {
		readCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		message, err := j.reader.ReadMessage(readCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return events, nil
			}
			return events, fmt.Errorf("failed to read mutation event: %w", err)
		}

		var event core.MutationEvent
		if err := json.Unmarshal(message.Value, &event); err != nil {
			log.Printf("[JOURNAL] Skipping undecodable mutation event: %v", err)
			continue
		}
		events = append(events, &event)
	}
	return events, nil
}

// Size returns an approximation of pending events. Kafka does not expose an
// exact queue depth to consumers, so this always reports 0.
func (j *KafkaJournal) Size() int {
	return 0
}

// Close closes the writer and reader.
func (j *KafkaJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	writerErr := j.writer.Close()
	readerErr := j.reader.Close()
	if writerErr != nil {
		return writerErr
	}
	return readerErr
}
