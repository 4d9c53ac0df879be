// Package usgs reads earthquakes from the USGS FDSN event web service.
package usgs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/wreck-hazard-monitor/internal/domain"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/observability"
)

const (
	feedName = "usgs"

	// DefaultBaseURL is the public FDSN event service.
	DefaultBaseURL = "https://earthquake.usgs.gov"

	queryPath = "/fdsnws/event/1/query"
)

// Client implements pipeline.HazardFeed for seismic events.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	minMagnitude float64
	logger       *slog.Logger
	metrics      *observability.Metrics
}

// NewClient creates a USGS client. Requests time out after timeout.
func NewClient(baseURL string, minMagnitude float64, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:      baseURL,
		minMagnitude: minMagnitude,
		logger:       logger,
		metrics:      metrics,
	}
}

// Name identifies the feed in logs and metrics.
func (c *Client) Name() string { return feedName }

// Fetch returns the earthquakes that occurred in [start, end].
func (c *Client) Fetch(ctx context.Context, start, end time.Time) ([]domain.RawHazardEvent, error) {
	began := time.Now()
	events, err := c.fetch(ctx, start, end)
	c.metrics.FeedFetchDuration.WithLabelValues(feedName).Observe(time.Since(began).Seconds())
	if err != nil {
		c.metrics.FeedErrors.WithLabelValues(feedName).Inc()
		return nil, &domain.FetchError{Feed: feedName, Err: err}
	}
	return events, nil
}

func (c *Client) fetch(ctx context.Context, start, end time.Time) ([]domain.RawHazardEvent, error) {
	params := url.Values{
		"format":       {"geojson"},
		"starttime":    {start.UTC().Format(time.RFC3339)},
		"endtime":      {end.UTC().Format(time.RFC3339)},
		"minmagnitude": {strconv.FormatFloat(c.minMagnitude, 'f', -1, 64)},
		"orderby":      {"time-asc"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+queryPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer resp.Body.Close()

	// 204 is how FDSN reports an empty result.
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("usgs API error: status %d: %s", resp.StatusCode, body)
	}

	var fc featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	events := make([]domain.RawHazardEvent, 0, len(fc.Features))
	for _, f := range fc.Features {
		ev, ok := f.toRaw()
		if !ok {
			c.logger.Debug("dropping feature without id or coordinates", "feed", feedName, "id", f.ID)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// FDSN GeoJSON response types.

type featureCollection struct {
	Features []feature `json:"features"`
}

type feature struct {
	ID         string     `json:"id"`
	Properties properties `json:"properties"`
	Geometry   *geometry  `json:"geometry"`
}

type properties struct {
	Mag   *float64 `json:"mag"`
	Place string   `json:"place"`
	Time  int64    `json:"time"` // epoch ms
	URL   string   `json:"url"`
	Type  string   `json:"type"`
}

type geometry struct {
	Coordinates []float64 `json:"coordinates"` // [lon, lat, depth km]
}

func (f feature) toRaw() (domain.RawHazardEvent, bool) {
	if f.ID == "" || f.Geometry == nil || len(f.Geometry.Coordinates) < 2 {
		return domain.RawHazardEvent{}, false
	}
	ev := domain.RawHazardEvent{
		ID:     f.ID,
		Source: feedName,
		Kind:   f.Properties.Type,
		Time:   time.UnixMilli(f.Properties.Time).UTC(),
		Lon:    f.Geometry.Coordinates[0],
		Lat:    f.Geometry.Coordinates[1],
		Place:  f.Properties.Place,
		URL:    f.Properties.URL,
	}
	if f.Properties.Mag != nil {
		ev.Magnitude = *f.Properties.Mag
	}
	if len(f.Geometry.Coordinates) > 2 {
		ev.DepthKm = f.Geometry.Coordinates[2]
	}
	return ev, true
}
