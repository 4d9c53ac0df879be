package trigger

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/wreck-hazard-monitor/internal/observability"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/store"
)

// Trimmer periodically drops change records every consumer has acknowledged,
// keeping the store's change log bounded.
type Trimmer struct {
	store    store.ChangeTrimmer
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewTrimmer creates a Trimmer. A nil clock selects the real clock.
func NewTrimmer(st store.ChangeTrimmer, interval time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Trimmer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Trimmer{store: st, interval: interval, clock: clock, logger: logger, metrics: metrics}
}

// Run trims on every tick until ctx is cancelled. Failures are logged and
// retried on the next tick.
func (t *Trimmer) Run(ctx context.Context) error {
	t.logger.Info("change trimmer started", "interval", t.interval)
	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		}
		t.TrimOnce(ctx)
	}
}

// TrimOnce runs a single trim and returns the number of records removed.
func (t *Trimmer) TrimOnce(ctx context.Context) int64 {
	n, err := t.store.TrimChanges(ctx)
	if err != nil {
		if ctx.Err() == nil {
			t.logger.Error("trim change log failed", "error", err)
		}
		return 0
	}
	if n > 0 {
		t.metrics.ChangesTrimmed.Add(float64(n))
		t.logger.Debug("trimmed change log", "removed", n)
	}
	return n
}
