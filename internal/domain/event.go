package domain

import "time"

// Hazard types. They double as the path segment under a site's hazards
// sub-collection and as Alert.SourceType.
const (
	HazardEarthquakes = "earthquakes"
	HazardStorms      = "storms"
)

// Site is a monitored fixed location, read-only to this service.
type Site struct {
	ID         string   `json:"-"`
	Collection string   `json:"-"`
	Name       string   `json:"name,omitempty"`
	Lat        float64  `json:"lat"`
	Lon        float64  `json:"lon"`
	DepthM     *float64 `json:"depthM,omitempty"`
}

// Path returns the site's document path.
func (s Site) Path() string {
	return SitePath(s.Collection, s.ID)
}

// RawHazardEvent is a feed event after wire decoding. It is never persisted directly.
type RawHazardEvent struct {
	ID        string
	Source    string // feed name, e.g. "usgs" or "spc"
	Kind      string // feed-specific subtype, e.g. "hail"
	Time      time.Time
	Magnitude float64
	DepthKm   float64
	Lat       float64
	Lon       float64
	Place     string
	URL       string
}

// NormalizedHazardEvent is the scored (site, event) record persisted under the site.
type NormalizedHazardEvent struct {
	Source      string  `json:"source"`
	EventID     string  `json:"eventId"`
	TimeMs      int64   `json:"timeMs"`
	MetricValue float64 `json:"metricValue"`
	DistanceKm  float64 `json:"distanceKm"`
	Threshold   float64 `json:"threshold"`
	Exceeded    bool    `json:"exceeded"`
	Message     string  `json:"message"`
	CreatedAtMs int64   `json:"createdAtMs"`

	// Feed-specific auxiliary fields.
	Kind      string  `json:"kind,omitempty"`
	Magnitude float64 `json:"magnitude"`
	DepthKm   float64 `json:"depthKm"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Place     string  `json:"place,omitempty"`
	URL       string  `json:"url,omitempty"`
}

// BuildEvent scores raw at distanceKm from a site and returns the record to persist.
func BuildEvent(model HazardModel, raw RawHazardEvent, distanceKm float64) NormalizedHazardEvent {
	metric := model.Metric(raw, distanceKm)
	threshold := model.Threshold()

	return NormalizedHazardEvent{
		Source:      raw.Source,
		EventID:     raw.ID,
		TimeMs:      raw.Time.UnixMilli(),
		MetricValue: metric,
		DistanceKm:  distanceKm,
		Threshold:   threshold,
		Exceeded:    Exceeds(metric, threshold),
		Message:     model.Describe(raw, distanceKm, metric),
		CreatedAtMs: clock.Now().UnixMilli(),
		Kind:        raw.Kind,
		Magnitude:   raw.Magnitude,
		DepthKm:     raw.DepthKm,
		Lat:         raw.Lat,
		Lon:         raw.Lon,
		Place:       raw.Place,
		URL:         raw.URL,
	}
}
