package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/wreck-hazard-monitor/internal/domain"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/store"
)

// LoadSites reads every site document in the given collections. Documents
// without coordinates are skipped with a warning.
func LoadSites(ctx context.Context, st store.Store, collections []string, logger *slog.Logger) ([]domain.Site, error) {
	var sites []domain.Site
	for _, collection := range collections {
		ids, err := st.List(ctx, collection)
		if err != nil {
			return nil, fmt.Errorf("list sites in %s: %w", collection, err)
		}
		for _, id := range ids {
			path := domain.SitePath(collection, id)
			doc, err := st.Get(ctx, path)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("read site %s: %w", path, err)
			}
			if !hasCoordinates(doc) {
				logger.Warn("site has no coordinates, skipping", "site_path", path)
				continue
			}

			var site domain.Site
			if err := store.Decode(doc, &site); err != nil {
				logger.Warn("site document malformed, skipping", "site_path", path, "error", err)
				continue
			}
			site.ID = id
			site.Collection = collection
			sites = append(sites, site)
		}
	}
	return sites, nil
}

func hasCoordinates(doc store.Document) bool {
	_, okLat := doc["lat"].(float64)
	_, okLon := doc["lon"].(float64)
	return okLat && okLon
}
