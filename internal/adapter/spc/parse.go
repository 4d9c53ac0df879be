package spc

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/wreck-hazard-monitor/internal/domain"
)

// Storm report kinds. They are stored as RawHazardEvent.Kind.
const (
	KindHail    = "hail"
	KindWind    = "wind"
	KindTornado = "tornado"
)

// reportFiles maps each kind to its daily report file suffix.
var reportFiles = map[string]string{
	KindHail:    "hail",
	KindWind:    "wind",
	KindTornado: "torn",
}

// record is one row of a daily storm report CSV. The magnitude column is
// Size, Speed, or F_Scale depending on the file.
type record struct {
	Time      string
	Magnitude string
	Location  string
	County    string
	State     string
	Lat       string
	Lon       string
	Comments  string
}

// parseReports decodes a daily report CSV of the given kind. day is the
// convective day the file covers.
func parseReports(r io.Reader, kind string, day time.Time) ([]domain.RawHazardEvent, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s header: %w", kind, err)
	}
	cols := indexColumns(header)

	var events []domain.RawHazardEvent
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s report: %w", kind, err)
		}
		rec := cols.record(row)
		ev, ok := toRawEvent(kind, day, rec)
		if !ok {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

type columns map[string]int

func indexColumns(header []string) columns {
	cols := make(columns, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}
	return cols
}

func (c columns) get(row []string, names ...string) string {
	for _, name := range names {
		if i, ok := c[name]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
	}
	return ""
}

func (c columns) record(row []string) record {
	return record{
		Time:      c.get(row, "Time"),
		Magnitude: c.get(row, "Size", "Speed", "F_Scale"),
		Location:  c.get(row, "Location"),
		County:    c.get(row, "County"),
		State:     c.get(row, "State"),
		Lat:       c.get(row, "Lat"),
		Lon:       c.get(row, "Lon"),
		Comments:  c.get(row, "Comments"),
	}
}

// toRawEvent converts a report row. Rows without usable coordinates or time
// are rejected.
func toRawEvent(kind string, day time.Time, rec record) (domain.RawHazardEvent, bool) {
	lat, errLat := strconv.ParseFloat(rec.Lat, 64)
	lon, errLon := strconv.ParseFloat(rec.Lon, 64)
	if errLat != nil || errLon != nil {
		return domain.RawHazardEvent{}, false
	}
	eventTime, ok := parseHHMM(day, rec.Time)
	if !ok {
		return domain.RawHazardEvent{}, false
	}
	magnitude := normalizeMagnitude(kind, parseMagnitudeField(rec.Magnitude))

	return domain.RawHazardEvent{
		ID:        generateID(kind, rec.State, lat, lon, eventTime, magnitude),
		Source:    feedName,
		Kind:      kind,
		Time:      eventTime,
		Magnitude: magnitude,
		Lat:       lat,
		Lon:       lon,
		Place:     formatPlace(rec.Location, rec.County, rec.State),
	}, true
}

// parseMagnitudeField parses a report's magnitude column. Returns 0 for
// unknown values like "UNK"; strips the EF/F prefix of tornado ratings.
func parseMagnitudeField(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "UNK") {
		return 0
	}
	raw = strings.TrimPrefix(raw, "EF")
	raw = strings.TrimPrefix(raw, "F")

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return v
}

// normalizeMagnitude converts hail sizes reported in hundredths of inches
// (e.g. 175 = 1.75in) to inches. Values >= 10 are assumed to use that
// encoding; the largest US hail on record is about 8 inches.
func normalizeMagnitude(kind string, magnitude float64) float64 {
	if kind == KindHail && magnitude >= 10 {
		return magnitude / 100.0
	}
	return magnitude
}

// parseHHMM places an HHMM report time (e.g. "1510" -> 15:10 UTC) on its
// convective day. The day runs 12Z to 12Z, so times before 1200 fall on the
// following calendar date.
func parseHHMM(day time.Time, hhmm string) (time.Time, bool) {
	hhmm = strings.TrimSpace(hhmm)
	if len(hhmm) < 3 || len(hhmm) > 4 {
		return time.Time{}, false
	}
	if len(hhmm) == 3 {
		hhmm = "0" + hhmm
	}

	hour, errH := strconv.Atoi(hhmm[:2])
	mins, errM := strconv.Atoi(hhmm[2:])
	if errH != nil || errM != nil || hour < 0 || hour > 23 || mins < 0 || mins > 59 {
		return time.Time{}, false
	}

	t := time.Date(day.Year(), day.Month(), day.Day(), hour, mins, 0, 0, time.UTC)
	if hour < 12 {
		t = t.AddDate(0, 0, 1)
	}
	return t, true
}

// generateID produces a deterministic ID from the report's key fields so
// that re-reading the same file yields the same event paths.
func generateID(kind, state string, lat, lon float64, t time.Time, magnitude float64) string {
	input := fmt.Sprintf("%s|%s|%.4f|%.4f|%s|%g", kind, state, lat, lon, t.Format(time.RFC3339), magnitude)
	hash := sha256.Sum256([]byte(input))
	return kind + "-" + hex.EncodeToString(hash[:8])
}

func formatPlace(location, county, state string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{location, county, state} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
