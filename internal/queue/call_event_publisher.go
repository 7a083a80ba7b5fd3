package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// CallEventPublisher feeds call outcome events onto the call-event topic.
// The HTTP webhook uses it so bridge callbacks flow through the same stream
// the consumer worker reads.
type CallEventPublisher struct {
	writer *kafka.Writer
}

// NewCallEventPublisher constructs a publisher for the given topic.
func NewCallEventPublisher(k *Kafka, topic string) *CallEventPublisher {
	return &CallEventPublisher{writer: k.NewWriter(topic)}
}

// Publish emits a call event keyed by entry id so events for one entry stay
// ordered within a partition.
func (p *CallEventPublisher) Publish(ctx context.Context, msg CallEventMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("call event publisher: marshal message: %w", err)
	}
	record := kafka.Message{
		Key:   msg.EntryID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("call event publisher: write message: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *CallEventPublisher) Close() error {
	return p.writer.Close()
}
