// Package manifest writes an hourly snapshot of the monitored sites to
// object storage.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/wreck-hazard-monitor/internal/domain"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/observability"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/store"
)

const contentType = "application/json"

// ObjectWriter stores a blob under bucket/key.
type ObjectWriter interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
}

// Snapshot is the manifest document.
type Snapshot struct {
	AppID         string `json:"appId"`
	GeneratedAtMs int64  `json:"generatedAtMs"`
	Count         int    `json:"count"`
	Items         []Item `json:"items"`
}

// Item identifies one monitored site.
type Item struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// Builder produces manifest snapshots.
type Builder struct {
	store       store.Store
	objects     ObjectWriter
	bucket      string
	appID       string
	collections []string
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// NewBuilder creates a Builder. An empty bucket disables writes.
func NewBuilder(st store.Store, objects ObjectWriter, bucket, appID string, collections []string, logger *slog.Logger, metrics *observability.Metrics) *Builder {
	return &Builder{
		store:       st,
		objects:     objects,
		bucket:      bucket,
		appID:       appID,
		collections: collections,
		logger:      logger,
		metrics:     metrics,
	}
}

// ObjectKey is the object key of the snapshot for the hour containing t (UTC).
func ObjectKey(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("manifests/%04d/%02d/%02d/%02d.json", t.Year(), t.Month(), t.Day(), t.Hour())
}

// BuildHourlySnapshot lists the monitored sites and writes the snapshot for
// the hour containing now. Failures are logged and never returned; a rerun
// in the same hour overwrites the object.
func (b *Builder) BuildHourlySnapshot(ctx context.Context, now time.Time) error {
	if b.bucket == "" || b.objects == nil {
		b.metrics.ManifestWrites.WithLabelValues("skipped").Inc()
		b.logger.Warn("manifest bucket not configured, skipping snapshot")
		return nil
	}

	snap, err := b.Snapshot(ctx, now)
	if err != nil {
		b.metrics.ManifestWrites.WithLabelValues("failed").Inc()
		b.logger.Warn("list sites for manifest failed", "error", err)
		return nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		b.metrics.ManifestWrites.WithLabelValues("failed").Inc()
		b.logger.Warn("encode manifest failed", "error", err)
		return nil
	}

	key := ObjectKey(now)
	if err := b.objects.Put(ctx, b.bucket, key, data, contentType); err != nil {
		b.metrics.ManifestWrites.WithLabelValues("failed").Inc()
		b.logger.Warn("write manifest failed", "error", err, "bucket", b.bucket, "key", key)
		return nil
	}

	b.metrics.ManifestWrites.WithLabelValues("written").Inc()
	b.logger.Info("manifest written", "bucket", b.bucket, "key", key, "count", snap.Count)
	return nil
}

// Snapshot builds the manifest for now without writing it.
func (b *Builder) Snapshot(ctx context.Context, now time.Time) (Snapshot, error) {
	items := []Item{}
	for _, collection := range b.collections {
		ids, err := b.store.List(ctx, collection)
		if err != nil {
			return Snapshot{}, fmt.Errorf("list %s: %w", collection, err)
		}
		for _, id := range ids {
			items = append(items, Item{ID: id, Path: domain.SitePath(collection, id)})
		}
	}
	return Snapshot{
		AppID:         b.appID,
		GeneratedAtMs: now.UnixMilli(),
		Count:         len(items),
		Items:         items,
	}, nil
}

// Run writes a snapshot at start and then every interval until ctx is cancelled.
func (b *Builder) Run(ctx context.Context, interval time.Duration, clock clockwork.Clock) error {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		_ = b.BuildHourlySnapshot(ctx, clock.Now())

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		}
	}
}
