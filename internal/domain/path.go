package domain

import "strings"

const (
	hazardsSegment = "hazards"
	eventsSegment  = "events"
)

// SitePath returns the document path of a site.
func SitePath(collection, id string) string {
	return strings.Trim(collection, "/") + "/" + SanitizeID(id)
}

// EventPath returns the document path of a scored event under a site.
func EventPath(sitePath, hazardType, eventID string) string {
	return strings.Join([]string{sitePath, hazardsSegment, hazardType, eventsSegment, SanitizeID(eventID)}, "/")
}

// ParseEventPath splits an event document path into its site path, hazard
// type, and event id. ok is false for any other document.
func ParseEventPath(path string) (sitePath, hazardType, eventID string, ok bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	n := len(parts)
	// <collection...>/<site>/hazards/<type>/events/<id>
	if n < 6 || parts[n-4] != hazardsSegment || parts[n-2] != eventsSegment {
		return "", "", "", false
	}
	if parts[n-3] == "" || parts[n-1] == "" {
		return "", "", "", false
	}
	return strings.Join(parts[:n-4], "/"), parts[n-3], parts[n-1], true
}

// SanitizeID makes a feed identifier safe to use as a single path segment.
func SanitizeID(id string) string {
	return strings.ReplaceAll(strings.TrimSpace(id), "/", "_")
}
