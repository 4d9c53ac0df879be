// Package kafka relays store change records through a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/wreck-hazard-monitor/internal/domain"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/store"
)

const headerChangeID = "change_id"

// changeMessage is the wire format of a relayed change.
type changeMessage struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// Writer publishes change records to a Kafka topic.
// It implements trigger.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for topic.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish writes ch to the topic. Changes are keyed by site so that all
// notifications for one site land on the same partition in order.
func (w *Writer) Publish(ctx context.Context, ch store.Change) error {
	msg, err := serializeToMessage(ch)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish change %s: %w", ch.ID, err)
	}
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a change into a Kafka message.
func serializeToMessage(ch store.Change) (kafkago.Message, error) {
	data, err := json.Marshal(changeMessage{ID: ch.ID, Path: ch.Path})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize change: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(partitionKey(ch.Path)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: headerChangeID, Value: []byte(ch.ID)},
		},
	}, nil
}

// partitionKey is the site path for event documents and the path itself otherwise.
func partitionKey(path string) string {
	if sitePath, _, _, ok := domain.ParseEventPath(path); ok {
		return sitePath
	}
	return path
}
