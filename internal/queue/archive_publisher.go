package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ArchivePublisher publishes terminal queue transitions to the archive topic.
type ArchivePublisher struct {
	writer *kafka.Writer
}

// NewArchivePublisher constructs a publisher for the given topic.
func NewArchivePublisher(k *Kafka, topic string) *ArchivePublisher {
	return &ArchivePublisher{writer: k.NewWriter(topic)}
}

// Publish emits an archive message keyed by entry id.
func (p *ArchivePublisher) Publish(ctx context.Context, msg ArchiveMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("archive publisher: marshal message: %w", err)
	}
	record := kafka.Message{
		Key:   msg.EntryID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("archive publisher: write message: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *ArchivePublisher) Close() error {
	return p.writer.Close()
}
