// Package trigger delivers store change records to reactive handlers.
//
// The Dispatcher reads a change feed and invokes a handler for each change,
// acknowledging the change only after the handler succeeds. The Relay
// forwards a store's change feed to an external transport (Kafka) whose
// consumer side is again read by a Dispatcher.
package trigger

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	sharedretry "github.com/couchcryptid/storm-data-shared/retry"

	"github.com/couchcryptid/wreck-hazard-monitor/internal/observability"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/store"
)

// Handler reacts to one change. A returned error causes redelivery.
type Handler func(ctx context.Context, ch store.Change) error

// KeyFunc returns the ordering key of a change. Changes with equal keys are
// handled one at a time, in feed order.
type KeyFunc func(ch store.Change) string

// DefaultMaxAttempts bounds handler invocations per change.
const DefaultMaxAttempts = 5

// Exponential backoff: start at 200ms, double each retry, cap at 5s.
const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// workerQueueSize is the number of changes buffered per worker.
const workerQueueSize = 16

// Dispatcher feeds changes to a handler, serially or on keyed workers.
type Dispatcher struct {
	feed        store.ChangeFeed
	handle      Handler
	logger      *slog.Logger
	metrics     *observability.Metrics
	maxAttempts int

	workers int
	key     KeyFunc
	shard   func(key string, n int) int

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewDispatcher creates a serial Dispatcher. maxAttempts <= 0 selects DefaultMaxAttempts.
func NewDispatcher(feed store.ChangeFeed, handle Handler, maxAttempts int, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Dispatcher{
		feed:           feed,
		handle:         handle,
		logger:         logger,
		metrics:        metrics,
		maxAttempts:    maxAttempts,
		workers:        1,
		shard:          hashShard,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
	}
}

// WithWorkers handles changes on n workers, routing each change by key so a
// key whose handler keeps failing only holds up the keys on its own worker.
// Changes finish out of feed order across keys, so the feed's Commit must
// acknowledge only its own change: offset-based feeds stay serial.
func (d *Dispatcher) WithWorkers(n int, key KeyFunc) *Dispatcher {
	if n > 1 && key != nil {
		d.workers = n
		d.key = key
	}
	return d
}

// Run dispatches changes until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started", "max_attempts", d.maxAttempts, "workers", d.workers)

	deliver := func(ch store.Change) bool { return d.deliver(ctx, ch) }
	if d.workers > 1 {
		var wg sync.WaitGroup
		defer wg.Wait()
		deliver = d.startWorkers(ctx, &wg)
	}

	backoff := d.initialBackoff
	for {
		ch, err := d.feed.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				d.logger.Info("dispatcher stopping", "reason", ctx.Err())
				return nil
			}
			d.logger.Error("read change feed failed", "error", err)
			if !sharedretry.SleepWithContext(ctx, backoff) {
				return nil
			}
			backoff = sharedretry.NextBackoff(backoff, d.maxBackoff)
			continue
		}
		backoff = d.initialBackoff

		if !deliver(ch) {
			return nil
		}
	}
}

// startWorkers launches the keyed workers and returns the function that
// routes a change to its worker. Routing blocks while that worker's queue is
// full and reports false once ctx is done.
func (d *Dispatcher) startWorkers(ctx context.Context, wg *sync.WaitGroup) func(store.Change) bool {
	queues := make([]chan store.Change, d.workers)
	for i := range queues {
		q := make(chan store.Change, workerQueueSize)
		queues[i] = q
		wg.Go(func() {
			for {
				select {
				case <-ctx.Done():
					return
				case ch := <-q:
					if !d.deliver(ctx, ch) {
						return
					}
				}
			}
		})
	}

	return func(ch store.Change) bool {
		q := queues[d.shard(d.key(ch), d.workers)]
		select {
		case q <- ch:
			return true
		case <-ctx.Done():
			return false
		}
	}
}

func hashShard(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// deliver runs the handler until it succeeds or the attempts run out.
// Returns false if the dispatcher should stop.
func (d *Dispatcher) deliver(ctx context.Context, ch store.Change) bool {
	backoff := d.initialBackoff
	for attempt := 1; ; attempt++ {
		err := d.handle(ctx, ch)
		if err == nil {
			d.metrics.Notifications.WithLabelValues("success").Inc()
			d.commit(ctx, ch)
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		if attempt >= d.maxAttempts {
			d.giveUp(ctx, ch, err, attempt)
			return ctx.Err() == nil
		}

		d.metrics.Notifications.WithLabelValues("retry").Inc()
		d.logger.Warn("handler failed, retrying",
			"error", err, "change_id", ch.ID, "path", ch.Path, "attempt", attempt, "backoff", backoff)
		if !sharedretry.SleepWithContext(ctx, backoff) {
			return false
		}
		backoff = sharedretry.NextBackoff(backoff, d.maxBackoff)
	}
}

// giveUp moves a change whose handler kept failing to the tail of its feed
// and only then acknowledges it. A change that cannot be requeued is left
// unacknowledged; feeds with a pending list redeliver it after a restart.
func (d *Dispatcher) giveUp(ctx context.Context, ch store.Change, cause error, attempts int) {
	if ch.Requeue == nil {
		d.metrics.Notifications.WithLabelValues("dropped").Inc()
		d.logger.Error("handler failed, leaving change unacknowledged",
			"error", cause, "change_id", ch.ID, "path", ch.Path, "attempts", attempts)
		return
	}

	backoff := d.initialBackoff
	for {
		err := ch.Requeue(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return
		}
		d.logger.Error("requeue change failed", "error", err, "change_id", ch.ID, "path", ch.Path, "backoff", backoff)
		if !sharedretry.SleepWithContext(ctx, backoff) {
			return
		}
		backoff = sharedretry.NextBackoff(backoff, d.maxBackoff)
	}

	d.metrics.Notifications.WithLabelValues("requeued").Inc()
	d.logger.Error("handler failed, change requeued",
		"error", cause, "change_id", ch.ID, "path", ch.Path, "attempts", attempts)
	d.commit(ctx, ch)
}

func (d *Dispatcher) commit(ctx context.Context, ch store.Change) {
	if ch.Commit == nil {
		return
	}
	if err := ch.Commit(ctx); err != nil {
		d.logger.Warn("acknowledge change failed", "error", err, "change_id", ch.ID, "path", ch.Path)
	}
}
