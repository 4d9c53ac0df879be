package domain

import (
	"fmt"
	"math"
)

// Default alert thresholds per hazard type.
const (
	DefaultSeismicThresholdG = 0.10
	DefaultStormThreshold    = 0.5
)

// HazardModel turns a raw feed event into a site-relative impact metric.
type HazardModel interface {
	// Type is the hazard type, e.g. HazardEarthquakes.
	Type() string
	// Threshold is the metric value above which an event is alert-worthy.
	Threshold() float64
	// Metric computes the impact at a site distanceKm away from the event.
	Metric(raw RawHazardEvent, distanceKm float64) float64
	// Describe renders the human-readable event message.
	Describe(raw RawHazardEvent, distanceKm, metric float64) string
}

// SeismicModel scores earthquakes as estimated peak ground acceleration in g.
type SeismicModel struct {
	ThresholdG float64
}

func (m SeismicModel) Type() string       { return HazardEarthquakes }
func (m SeismicModel) Threshold() float64 { return m.ThresholdG }

func (m SeismicModel) Metric(raw RawHazardEvent, distanceKm float64) float64 {
	return Attenuate(raw.Magnitude, distanceKm, raw.DepthKm)
}

func (m SeismicModel) Describe(raw RawHazardEvent, distanceKm, metric float64) string {
	msg := fmt.Sprintf("M%.1f earthquake %.0f km from site, est. PGA %.3fg (threshold %.2fg)",
		raw.Magnitude, distanceKm, metric, m.ThresholdG)
	if raw.Place != "" {
		msg += ": " + raw.Place
	}
	return msg
}

// StormModel scores NWS storm reports as an intensity index relative to
// severe-weather criteria, decayed with log-distance.
type StormModel struct {
	ThresholdIndex float64
}

// Severe criteria used to normalise storm magnitudes to an index of 1.0.
const (
	severeHailInches = 1.0
	severeWindMPH    = 58.0
)

func (m StormModel) Type() string       { return HazardStorms }
func (m StormModel) Threshold() float64 { return m.ThresholdIndex }

func (m StormModel) Metric(raw RawHazardEvent, distanceKm float64) float64 {
	d := math.Max(distanceKm, 1)
	decay := 1 - math.Log10(d)/math.Log10(CutoffKm)
	return stormIntensity(raw.Kind, raw.Magnitude) * decay
}

func (m StormModel) Describe(raw RawHazardEvent, distanceKm, metric float64) string {
	msg := fmt.Sprintf("%s report (%s) %.0f km from site, intensity %.2f (threshold %.2f)",
		raw.Kind, formatStormMagnitude(raw.Kind, raw.Magnitude), distanceKm, metric, m.ThresholdIndex)
	if raw.Place != "" {
		msg += ": " + raw.Place
	}
	return msg
}

// stormIntensity maps a storm magnitude to a severity index where 1.0 is the
// NWS severe threshold for that report type.
func stormIntensity(kind string, magnitude float64) float64 {
	switch kind {
	case "hail":
		return magnitude / severeHailInches
	case "wind":
		return magnitude / severeWindMPH
	case "tornado":
		// EF0 still counts as a tornado; EF1 maps to 1.0.
		return (magnitude + 1) / 2
	default:
		return magnitude
	}
}

func formatStormMagnitude(kind string, magnitude float64) string {
	switch kind {
	case "hail":
		return fmt.Sprintf("%.2f in", magnitude)
	case "wind":
		return fmt.Sprintf("%.0f mph", magnitude)
	case "tornado":
		return fmt.Sprintf("EF%.0f", magnitude)
	default:
		return fmt.Sprintf("%g", magnitude)
	}
}

// ModelFor returns the hazard model for hazardType with the given threshold.
func ModelFor(hazardType string, threshold float64) (HazardModel, error) {
	switch hazardType {
	case HazardEarthquakes:
		return SeismicModel{ThresholdG: threshold}, nil
	case HazardStorms:
		return StormModel{ThresholdIndex: threshold}, nil
	default:
		return nil, fmt.Errorf("unknown hazard type %q", hazardType)
	}
}
