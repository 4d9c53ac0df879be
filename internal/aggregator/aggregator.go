// Package aggregator merges threshold-exceeding hazard events into their
// site's alert list.
//
// Notifications arrive at least once and possibly concurrently for the same
// site. Each one is applied inside a store transaction that re-reads the
// site, so a given (hazard type, event id) appears in the list at most once
// no matter how many times or how concurrently it is delivered.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/wreck-hazard-monitor/internal/domain"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/observability"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/store"
)

// Site document fields owned by the aggregator.
const (
	fieldAlerts            = "alerts"
	fieldAlertsUpdatedAt   = "alertsUpdatedAt"
	fieldNeedsReassessment = "needsReassessment"
)

// Outcome describes what an aggregation did to the site.
type Outcome int

const (
	// Skipped means nothing was written: the event is missing, below
	// threshold, or its site no longer exists.
	Skipped Outcome = iota
	// Appended means a new alert was added.
	Appended
	// Refreshed means the alert already existed and only the site's
	// timestamps and reassessment flag were updated.
	Refreshed
)

func (o Outcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case Refreshed:
		return "refreshed"
	default:
		return "skipped"
	}
}

// Aggregator applies event notifications to site documents.
type Aggregator struct {
	store   store.Store
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates an Aggregator.
func New(st store.Store, logger *slog.Logger, metrics *observability.Metrics) *Aggregator {
	return &Aggregator{store: st, logger: logger, metrics: metrics}
}

// HandleChange reacts to a store change record. Writes to anything other
// than a scored event document are ignored.
func (a *Aggregator) HandleChange(ctx context.Context, ch store.Change) error {
	sitePath, hazardType, eventID, ok := domain.ParseEventPath(ch.Path)
	if !ok {
		return nil
	}
	return a.OnEventPersisted(ctx, sitePath, hazardType, eventID)
}

// OnEventPersisted records the alert for a persisted event on its site.
// It returns store.ErrTxConflict (wrapped) when concurrent writers kept the
// transaction from committing; the caller should redeliver.
func (a *Aggregator) OnEventPersisted(ctx context.Context, sitePath, hazardType, eventID string) error {
	_, err := a.Aggregate(ctx, sitePath, hazardType, eventID)
	return err
}

// Aggregate is OnEventPersisted reporting what it did.
func (a *Aggregator) Aggregate(ctx context.Context, sitePath, hazardType, eventID string) (Outcome, error) {
	logger := a.logger.With("site_path", sitePath, "hazard_type", hazardType, "event_id", eventID)

	event, found, err := a.readEvent(ctx, domain.EventPath(sitePath, hazardType, eventID))
	if err != nil {
		return Skipped, err
	}
	if !found {
		logger.Debug("event document missing, skipping")
		return Skipped, nil
	}
	if !event.Exceeded {
		return Skipped, nil
	}

	var outcome Outcome
	err = a.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		outcome = Skipped

		site, err := tx.Get(ctx, sitePath)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		alerts := domain.DecodeAlerts(site[fieldAlerts])
		if domain.FindAlert(alerts, hazardType, eventID) >= 0 {
			outcome = Refreshed
		} else {
			alert, err := store.Encode(domain.NewAlert(hazardType, eventID, event))
			if err != nil {
				return err
			}
			site[fieldAlerts] = prepend(site[fieldAlerts], map[string]any(alert))
			outcome = Appended
		}
		site[fieldAlertsUpdatedAt] = domain.Now().UnixMilli()
		site[fieldNeedsReassessment] = true

		tx.Set(sitePath, site)
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrTxConflict) {
			a.metrics.AggregationConflicts.Inc()
			logger.Warn("alert aggregation conflicted, will be redelivered")
		}
		return Skipped, fmt.Errorf("aggregate %s/%s on %s: %w", hazardType, eventID, sitePath, err)
	}

	switch outcome {
	case Appended:
		a.metrics.AlertsAppended.Inc()
		logger.Info("alert appended")
	case Refreshed:
		a.metrics.AlertsRefreshed.Inc()
		logger.Debug("alert already present, refreshed site")
	default:
		logger.Debug("site missing, skipping")
	}
	return outcome, nil
}

func (a *Aggregator) readEvent(ctx context.Context, path string) (domain.NormalizedHazardEvent, bool, error) {
	doc, err := a.store.Get(ctx, path)
	if errors.Is(err, store.ErrNotFound) {
		return domain.NormalizedHazardEvent{}, false, nil
	}
	if err != nil {
		return domain.NormalizedHazardEvent{}, false, fmt.Errorf("read event %s: %w", path, err)
	}
	var event domain.NormalizedHazardEvent
	if err := store.Decode(doc, &event); err != nil {
		return domain.NormalizedHazardEvent{}, false, fmt.Errorf("read event %s: %w", path, err)
	}
	return event, true, nil
}

// prepend puts alert at the head of the stored list, keeping existing
// entries exactly as stored.
func prepend(existing any, alert map[string]any) []any {
	items, _ := existing.([]any)
	out := make([]any, 0, len(items)+1)
	out = append(out, alert)
	return append(out, items...)
}
