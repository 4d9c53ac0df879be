// Package domain models monitored wreck sites, the natural-hazard events
// scored against them, and the alerts raised on a site's risk record.
//
// # Sites
//
// A site is a fixed location (a shipwreck) stored as a document at
// "<collection>/<id>". The inventory system owns the coordinates; this
// service only writes the alert bookkeeping fields:
//
//	alerts             newest-first list of Alert objects
//	alertsUpdatedAt    ms since epoch of the last append or refresh
//	needsReassessment  set true on append or refresh, cleared elsewhere
//
// # Hazard events
//
// Each in-range (site, feed event) pair produces one NormalizedHazardEvent at
//
//	<collection>/<siteId>/hazards/<hazardType>/events/<eventId>
//
// The path is deterministic, so re-processing the same feed window rewrites
// the same documents instead of creating new ones.
//
// # Impact metrics
//
// Distances are great-circle (haversine, mean Earth radius 6371 km). Events
// farther than CutoffKm from a site are ignored entirely.
//
// Seismic events are scored as an estimated peak ground acceleration in g:
//
//	log10(PGA) = a + b*M - c*log10(max(d, 1)) - k*max(depth-70, 0)
//
// Storm reports are scored as an intensity index relative to NWS severe
// criteria (1" hail, 58 mph wind, EF1 tornado), scaled down with
// log-distance so the index reaches zero at the cutoff radius.
//
// The coefficients are a rough calibration. What matters downstream is that
// both metrics strictly increase with magnitude and strictly decrease with
// distance beyond 1 km.
//
// # Legacy alerts
//
// Alerts written by older producers carry "event_id" instead of "eventId".
// DecodeAlerts folds both spellings into Alert.EventID so the rest of the
// code only ever compares one field.
package domain
