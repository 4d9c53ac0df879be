package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/wreck-hazard-monitor/internal/domain"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/observability"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/store"
)

// HazardFeed reads raw events from an external hazard source.
type HazardFeed interface {
	// Name identifies the feed in logs.
	Name() string
	// Fetch returns the events that occurred in [start, end]. Any failure is
	// reported as a *domain.FetchError.
	Fetch(ctx context.Context, start, end time.Time) ([]domain.RawHazardEvent, error)
}

// DefaultWorkers bounds concurrent event writes when no limit is configured.
const DefaultWorkers = 8

// keepOnRewrite lists event fields that re-processing must not overwrite.
var keepOnRewrite = []string{"createdAtMs"}

// Result summarises one processing cycle.
type Result struct {
	// ConsideredPairs counts (site, event) pairs within range.
	ConsideredPairs int
	// EventsWritten counts successful event writes.
	EventsWritten int
	// Exceeded counts written events whose metric exceeded the threshold.
	Exceeded int
}

// Processor scores one hazard feed against the monitored sites and persists
// the in-range events under each site.
type Processor struct {
	feed    HazardFeed
	model   domain.HazardModel
	store   store.Store
	logger  *slog.Logger
	metrics *observability.Metrics
	workers int
}

// NewProcessor creates a Processor. workers <= 0 selects DefaultWorkers.
func NewProcessor(feed HazardFeed, model domain.HazardModel, st store.Store, logger *slog.Logger, metrics *observability.Metrics, workers int) *Processor {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Processor{
		feed:    feed,
		model:   model,
		store:   st,
		logger:  logger.With("hazard_type", model.Type(), "feed", feed.Name()),
		metrics: metrics,
		workers: workers,
	}
}

// HazardType is the hazard type this processor writes.
func (p *Processor) HazardType() string {
	return p.model.Type()
}

// Process fetches the events of the last window and merges every in-range
// (site, event) pair into the store.
//
// A feed failure aborts the cycle and is returned. A failed write is logged
// and skipped. On cancellation Process stops dispatching pairs and returns
// ctx.Err(); writes that already landed stay valid.
func (p *Processor) Process(ctx context.Context, sites []domain.Site, window time.Duration) (Result, error) {
	start := time.Now()
	now := domain.Now()

	events, err := p.feed.Fetch(ctx, now.Add(-window), now)
	if err != nil {
		p.logger.Error("fetch failed", "error", err)
		return Result{}, err
	}
	p.logger.Debug("fetched events", "events", len(events), "sites", len(sites))

	var (
		considered int
		written    atomic.Int64
		exceeded   atomic.Int64
		g          errgroup.Group
	)
	g.SetLimit(p.workers)

dispatch:
	for _, site := range sites {
		for _, raw := range events {
			if ctx.Err() != nil {
				break dispatch
			}
			d := domain.Distance(site.Lat, site.Lon, raw.Lat, raw.Lon)
			if !domain.WithinRange(d) {
				continue
			}
			considered++

			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				event, err := p.persist(ctx, site, raw, d)
				if err != nil {
					p.metrics.PersistErrors.WithLabelValues(p.model.Type()).Inc()
					p.logger.Warn("persist event failed, skipping",
						"error", err, "site_id", site.ID, "event_id", raw.ID)
					return nil
				}
				written.Add(1)
				if event.Exceeded {
					exceeded.Add(1)
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	res := Result{
		ConsideredPairs: considered,
		EventsWritten:   int(written.Load()),
		Exceeded:        int(exceeded.Load()),
	}
	p.metrics.PairsConsidered.WithLabelValues(p.model.Type()).Add(float64(res.ConsideredPairs))
	p.metrics.EventsWritten.WithLabelValues(p.model.Type()).Add(float64(res.EventsWritten))
	p.metrics.EventsExceeded.WithLabelValues(p.model.Type()).Add(float64(res.Exceeded))

	if err := ctx.Err(); err != nil {
		p.logger.Info("processing cancelled", "reason", err, "events_written", res.EventsWritten)
		return res, err
	}

	p.metrics.ProcessDuration.WithLabelValues(p.model.Type()).Observe(time.Since(start).Seconds())
	p.logger.Info("processing complete",
		"pairs", res.ConsideredPairs, "events_written", res.EventsWritten, "exceeded", res.Exceeded)
	return res, nil
}

// persist scores raw against site and merges the result at its deterministic
// path. createdAtMs survives re-processing so rewrites are identical.
func (p *Processor) persist(ctx context.Context, site domain.Site, raw domain.RawHazardEvent, distanceKm float64) (domain.NormalizedHazardEvent, error) {
	event := domain.BuildEvent(p.model, raw, distanceKm)
	doc, err := store.Encode(event)
	if err != nil {
		return event, err
	}
	path := domain.EventPath(site.Path(), p.model.Type(), raw.ID)
	return event, p.store.Merge(ctx, path, doc, keepOnRewrite...)
}
