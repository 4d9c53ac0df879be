package domain

import (
	"encoding/json"
	"fmt"
)

// AlertCreator is recorded as Alert.CreatedBy for alerts raised by this service.
const AlertCreator = "hazard-monitor"

// Alert is a deduplicated notice in a site's alert list.
type Alert struct {
	SourceType   string `json:"sourceType"`
	EventID      string `json:"eventId"`
	Message      string `json:"message"`
	Exceeded     bool   `json:"exceeded"`
	Acknowledged bool   `json:"acknowledged"`
	TimeMs       int64  `json:"timeMs"`
	CreatedAtMs  int64  `json:"createdAtMs"`
	CreatedBy    string `json:"createdBy"`
}

// Matches reports whether a is the alert for (sourceType, eventID).
func (a Alert) Matches(sourceType, eventID string) bool {
	return a.SourceType == sourceType && a.EventID == eventID
}

// StoredAlert is one entry of a site's alert list: the normalised view used
// for comparisons and the raw fields written back untouched.
type StoredAlert struct {
	Alert
	Raw map[string]any
}

// legacyAlert accepts both identifier spellings found in stored alerts.
type legacyAlert struct {
	Alert
	LegacyEventID string `json:"event_id"`
}

// DecodeAlerts normalises a site's raw alert list. Entries that are not
// objects are dropped. Older records keep their identifier in "event_id";
// it is copied into EventID when "eventId" is absent.
func DecodeAlerts(v any) []StoredAlert {
	items, ok := v.([]any)
	if !ok {
		return nil
	}

	out := make([]StoredAlert, 0, len(items))
	for _, item := range items {
		raw, ok := item.(map[string]any)
		if !ok {
			continue
		}
		data, err := json.Marshal(raw)
		if err != nil {
			continue
		}
		var la legacyAlert
		if err := json.Unmarshal(data, &la); err != nil {
			// Type mismatches in optional fields; keep what identifies it.
			la = legacyAlert{}
			la.SourceType, _ = raw["sourceType"].(string)
			la.EventID, _ = raw["eventId"].(string)
			la.LegacyEventID, _ = raw["event_id"].(string)
		}
		if la.EventID == "" {
			la.EventID = la.LegacyEventID
		}
		out = append(out, StoredAlert{Alert: la.Alert, Raw: raw})
	}
	return out
}

// FindAlert returns the index of the alert for (sourceType, eventID), or -1.
func FindAlert(alerts []StoredAlert, sourceType, eventID string) int {
	for i, a := range alerts {
		if a.Matches(sourceType, eventID) {
			return i
		}
	}
	return -1
}

// NewAlert builds the alert raised for a threshold-exceeding event. The
// message falls back to a generic one when the event carried none.
func NewAlert(hazardType, eventID string, event NormalizedHazardEvent) Alert {
	msg := event.Message
	if msg == "" {
		msg = fmt.Sprintf("%s event %s exceeded threshold", hazardType, eventID)
	}
	return Alert{
		SourceType:   hazardType,
		EventID:      eventID,
		Message:      msg,
		Exceeded:     true,
		Acknowledged: false,
		TimeMs:       event.TimeMs,
		CreatedAtMs:  clock.Now().UnixMilli(),
		CreatedBy:    AlertCreator,
	}
}
