package trigger

import (
	"context"
	"log/slog"
	"time"

	sharedretry "github.com/couchcryptid/storm-data-shared/retry"

	"github.com/couchcryptid/wreck-hazard-monitor/internal/observability"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/store"
)

// Publisher sends a change record to an external transport.
type Publisher interface {
	Publish(ctx context.Context, ch store.Change) error
}

// PathFilter selects the changes worth relaying.
type PathFilter func(path string) bool

// Relay forwards a store change feed to a Publisher. A change is
// acknowledged on the store side only after it was published, so the
// transport receives every change at least once.
type Relay struct {
	feed    store.ChangeFeed
	pub     Publisher
	filter  PathFilter
	logger  *slog.Logger
	metrics *observability.Metrics

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewRelay creates a Relay. A nil filter relays every change.
func NewRelay(feed store.ChangeFeed, pub Publisher, filter PathFilter, logger *slog.Logger, metrics *observability.Metrics) *Relay {
	return &Relay{
		feed:           feed,
		pub:            pub,
		filter:         filter,
		logger:         logger,
		metrics:        metrics,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
	}
}

// Run relays changes until ctx is cancelled. Publish failures are retried
// with backoff indefinitely.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("relay started")
	backoff := r.initialBackoff

	for {
		ch, err := r.feed.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				r.logger.Info("relay stopping", "reason", ctx.Err())
				return nil
			}
			r.logger.Error("read change feed failed", "error", err)
			if !sharedretry.SleepWithContext(ctx, backoff) {
				return nil
			}
			backoff = sharedretry.NextBackoff(backoff, r.maxBackoff)
			continue
		}

		if r.filter == nil || r.filter(ch.Path) {
			if !r.publish(ctx, ch) {
				return nil
			}
		}
		backoff = r.initialBackoff

		if ch.Commit != nil {
			if err := ch.Commit(ctx); err != nil {
				r.logger.Warn("acknowledge change failed", "error", err, "change_id", ch.ID)
			}
		}
	}
}

// publish retries until ch is published. Returns false if ctx ended first.
func (r *Relay) publish(ctx context.Context, ch store.Change) bool {
	backoff := r.initialBackoff
	for {
		err := r.pub.Publish(ctx, ch)
		if err == nil {
			r.metrics.ChangesRelayed.Inc()
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		r.logger.Error("publish change failed", "error", err, "change_id", ch.ID, "path", ch.Path, "backoff", backoff)
		if !sharedretry.SleepWithContext(ctx, backoff) {
			return false
		}
		backoff = sharedretry.NextBackoff(backoff, r.maxBackoff)
	}
}
