package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/couchcryptid/wreck-hazard-monitor/internal/store"
)

// Feed reads the change stream through a consumer group. A change stays in
// the group's pending list until its Commit is called. On start the feed
// replays this consumer's pending entries first, so changes read but never
// acknowledged before a restart are delivered again. Requeue appends a new
// stream entry for the same path, which every group receives.
type Feed struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	block    time.Duration
	batch    int64

	replaying  bool
	replayFrom string
	buffered   []redis.XMessage
}

// NewFeed creates the consumer group if needed and returns a feed reading as consumer.
func NewFeed(ctx context.Context, s *Store, group, consumer string, block time.Duration) (*Feed, error) {
	err := s.client.XGroupCreateMkStream(ctx, s.StreamKey(), group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group %s: %w", group, err)
	}
	if block <= 0 {
		block = 2 * time.Second
	}
	return &Feed{
		client:     s.client,
		stream:     s.StreamKey(),
		group:      group,
		consumer:   consumer,
		block:      block,
		batch:      16,
		replaying:  true,
		replayFrom: "0",
	}, nil
}

func (f *Feed) Next(ctx context.Context) (store.Change, error) {
	for len(f.buffered) == 0 {
		if err := ctx.Err(); err != nil {
			return store.Change{}, err
		}
		if err := f.fill(ctx); err != nil {
			return store.Change{}, err
		}
	}

	msg := f.buffered[0]
	f.buffered = f.buffered[1:]

	path, _ := msg.Values["path"].(string)
	id := msg.ID
	return store.Change{
		ID:   id,
		Path: path,
		Commit: func(ctx context.Context) error {
			return f.client.XAck(ctx, f.stream, f.group, id).Err()
		},
		Requeue: func(ctx context.Context) error {
			return f.client.XAdd(ctx, &redis.XAddArgs{
				Stream: f.stream,
				Values: map[string]interface{}{"path": path, "requeued": id},
			}).Err()
		},
	}, nil
}

func (f *Feed) fill(ctx context.Context) error {
	start := ">"
	if f.replaying {
		start = f.replayFrom
	}

	streams, err := f.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    f.group,
		Consumer: f.consumer,
		Streams:  []string{f.stream, start},
		Count:    f.batch,
		Block:    f.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		f.replaying = false
		return nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read change stream: %w", err)
	}

	n := 0
	for _, s := range streams {
		f.buffered = append(f.buffered, s.Messages...)
		n += len(s.Messages)
	}
	if f.replaying {
		if n == 0 {
			f.replaying = false
		} else {
			f.replayFrom = f.buffered[len(f.buffered)-1].ID
		}
	}
	return nil
}
