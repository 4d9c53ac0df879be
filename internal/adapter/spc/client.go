// Package spc reads NOAA Storm Prediction Center daily storm reports (hail,
// wind, tornado) from their CSV files.
package spc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/wreck-hazard-monitor/internal/domain"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/observability"
)

const (
	feedName = "spc"

	// DefaultBaseURL serves the daily report files.
	DefaultBaseURL = "https://www.spc.noaa.gov/climo/reports"

	// Reports for a date cover 12Z that day through 12Z the next.
	dayOffset = 12 * time.Hour
)

var kinds = []string{KindHail, KindWind, KindTornado}

// Client implements pipeline.HazardFeed for storm reports.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates an SPC client. Requests time out after timeout.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		logger:  logger,
		metrics: metrics,
	}
}

// Name identifies the feed in logs and metrics.
func (c *Client) Name() string { return feedName }

// Fetch returns storm reports timed within [start, end], reading every
// daily file whose convective day overlaps the window.
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
	var events []domain.RawHazardEvent
	for _, day := range reportDays(start, end) {
		for _, kind := range kinds {
			batch, err := c.fetchFile(ctx, kind, day)
			if err != nil {
				return nil, err
			}
			for _, ev := range batch {
				if ev.Time.Before(start) || ev.Time.After(end) {
					continue
				}
				events = append(events, ev)
			}
		}
	}
	return events, nil
}

func (c *Client) fetchFile(ctx context.Context, kind string, day time.Time) ([]domain.RawHazardEvent, error) {
	u := fmt.Sprintf("%s/%s_rpts_%s.csv", c.baseURL, day.Format("060102"), reportFiles[kind])

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s report request: %w", kind, err)
	}
	defer resp.Body.Close()

	// Files for the current day are only published once reports arrive.
	if resp.StatusCode == http.StatusNotFound {
		c.logger.Debug("storm report file not published", "kind", kind, "day", day.Format(time.DateOnly))
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("spc error: status %d: %s", resp.StatusCode, body)
	}

	return parseReports(resp.Body, kind, day)
}

// reportDays lists the report dates whose convective day overlaps [start, end].
func reportDays(start, end time.Time) []time.Time {
	first := start.UTC().Add(-dayOffset).Truncate(24 * time.Hour)
	last := end.UTC().Add(-dayOffset).Truncate(24 * time.Hour)

	var days []time.Time
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}
