package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/wreck-hazard-monitor/internal/store"
)

// Republisher writes a change back to the topic. *Writer implements it.
type Republisher interface {
	Publish(ctx context.Context, ch store.Change) error
}

// Reader consumes relayed change records through a consumer group.
// It implements store.ChangeFeed; offsets are committed by Change.Commit.
// Committing an offset acknowledges every earlier message of the partition,
// so changes carry a Requeue that republishes them when a Republisher is set.
type Reader struct {
	reader  *kafkago.Reader
	requeue Republisher
	logger  *slog.Logger
}

// NewReader creates a Kafka consumer for topic in groupID.
func NewReader(brokers []string, topic, groupID string, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafkago.FirstOffset,
		MinBytes:    1,
		MaxBytes:    1e6,
	})
	return &Reader{reader: r, logger: logger}
}

// WithRequeue sets the producer used by Change.Requeue. It must publish to
// the topic being read.
func (r *Reader) WithRequeue(p Republisher) *Reader {
	r.requeue = p
	return r
}

// Next blocks until a change arrives. Messages that cannot be decoded are
// committed and skipped.
func (r *Reader) Next(ctx context.Context) (store.Change, error) {
	for {
		msg, err := r.reader.FetchMessage(ctx)
		if err != nil {
			return store.Change{}, fmt.Errorf("fetch change: %w", err)
		}

		ch, err := r.mapMessageToChange(msg)
		if err != nil {
			r.logger.Warn("undecodable change message, skipping",
				"error", err, "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
			if err := r.reader.CommitMessages(ctx, msg); err != nil {
				r.logger.Warn("commit offset failed", "error", err, "offset", msg.Offset)
			}
			continue
		}
		return ch, nil
	}
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

func (r *Reader) mapMessageToChange(msg kafkago.Message) (store.Change, error) {
	var cm changeMessage
	if err := json.Unmarshal(msg.Value, &cm); err != nil {
		return store.Change{}, fmt.Errorf("decode change: %w", err)
	}
	if cm.Path == "" {
		return store.Change{}, errors.New("decode change: empty path")
	}
	ch := store.Change{
		ID:   cm.ID,
		Path: cm.Path,
		Commit: func(ctx context.Context) error {
			return r.reader.CommitMessages(ctx, msg)
		},
	}
	if r.requeue != nil {
		again := store.Change{ID: cm.ID, Path: cm.Path}
		ch.Requeue = func(ctx context.Context) error {
			return r.requeue.Publish(ctx, again)
		}
	}
	return ch, nil
}
