package domain

import "math"

const (
	// EarthRadiusKm is the mean Earth radius used for great-circle distances.
	EarthRadiusKm = 6371.0

	// CutoffKm bounds the site/event comparison. Events beyond it are not
	// scored or persisted.
	CutoffKm = 1000.0

	// Attenuation coefficients, see package docs.
	pgaIntercept       = -2.2
	pgaMagnitudeCoef   = 0.5
	pgaDistanceCoef    = 1.0
	deepFocusCutoverKm = 70.0
	deepFocusPenalty   = 0.004
)

// Distance returns the haversine great-circle distance in kilometers.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dPhi := toRadians(lat2 - lat1)
	dLambda := toRadians(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	// Rounding can push a slightly past 1 for antipodal points.
	a = math.Min(1, math.Max(0, a))
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(a))
}

// WithinRange reports whether an event at distanceKm is close enough to score.
func WithinRange(distanceKm float64) bool {
	return distanceKm <= CutoffKm
}

// Attenuate estimates peak ground acceleration (g) at a site distanceKm from
// an epicentre of the given magnitude and focal depth.
func Attenuate(magnitude, distanceKm, depthKm float64) float64 {
	d := math.Max(distanceKm, 1)
	logPGA := pgaIntercept + pgaMagnitudeCoef*magnitude - pgaDistanceCoef*math.Log10(d)
	if depthKm > deepFocusCutoverKm {
		logPGA -= deepFocusPenalty * (depthKm - deepFocusCutoverKm)
	}
	return math.Pow(10, logPGA)
}

// Exceeds is the alerting test: strictly greater than.
func Exceeds(metric, threshold float64) bool {
	return metric > threshold
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
