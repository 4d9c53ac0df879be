package spc

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	hailCSV = `Time,Size,Location,County,State,Lat,Lon,Comments
1510,125,8 ESE Chappel,San Saba,TX,31.02,-98.44,1.25 inch hail reported. (SJT)
0130,175,2 N Mcalester,Pittsburg,OK,34.96,-95.77,(TSA)
1600,UNK,Nowhere,,,bad,-98.0,
`
	windCSV = `Time,Speed,Location,County,State,Lat,Lon,Comments
1251,65,4 N Dow,Pittsburg,OK,34.94,-95.59,(TSA)
1245,UNK,Mcalester,Pittsburg,OK,34.94,-95.77,
`
	tornadoCSV = `Time,F_Scale,Location,County,State,Lat,Lon,Comments
1223,EF2,2 N Mcalester,Pittsburg,OK,34.96,-95.77,Tornado confirmed (TSA)
`
)

var testDay = time.Date(2024, 4, 26, 0, 0, 0, 0, time.UTC)

func TestParseReports_Hail(t *testing.T) {
	events, err := parseReports(strings.NewReader(hailCSV), KindHail, testDay)
	require.NoError(t, err)
	require.Len(t, events, 2, "rows without coordinates are dropped")

	first := events[0]
	assert.Equal(t, KindHail, first.Kind)
	assert.Equal(t, "spc", first.Source)
	assert.Equal(t, 1.25, first.Magnitude, "hundredths of an inch are normalised")
	assert.Equal(t, 31.02, first.Lat)
	assert.Equal(t, -98.44, first.Lon)
	assert.Equal(t, "8 ESE Chappel, San Saba, TX", first.Place)
	assert.Equal(t, time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC), first.Time)
	assert.True(t, strings.HasPrefix(first.ID, "hail-"))

	assert.Equal(t, time.Date(2024, 4, 27, 1, 30, 0, 0, time.UTC), events[1].Time,
		"times before 12Z belong to the next calendar date")
}

func TestParseReports_WindAndTornado(t *testing.T) {
	wind, err := parseReports(strings.NewReader(windCSV), KindWind, testDay)
	require.NoError(t, err)
	require.Len(t, wind, 2)
	assert.Equal(t, 65.0, wind[0].Magnitude)
	assert.Equal(t, 0.0, wind[1].Magnitude, "UNK parses as zero")

	torn, err := parseReports(strings.NewReader(tornadoCSV), KindTornado, testDay)
	require.NoError(t, err)
	require.Len(t, torn, 1)
	assert.Equal(t, 2.0, torn[0].Magnitude)
	assert.Equal(t, KindTornado, torn[0].Kind)
	assert.True(t, strings.HasPrefix(torn[0].ID, "tornado-"))
}

func TestParseReports_HeaderOnlyAndEmpty(t *testing.T) {
	events, err := parseReports(strings.NewReader("Time,Size,Location,County,State,Lat,Lon,Comments\n"), KindHail, testDay)
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = parseReports(strings.NewReader(""), KindHail, testDay)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestGenerateID_Deterministic(t *testing.T) {
	at := time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC)
	a := generateID(KindHail, "TX", 31.02, -98.44, at, 1.25)
	b := generateID(KindHail, "TX", 31.02, -98.44, at, 1.25)
	c := generateID(KindHail, "TX", 31.02, -98.44, at.AddDate(0, 0, 1), 1.25)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c, "the same row on another day is another event")
}

func TestParseMagnitudeField(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"125", 125},
		{"EF3", 3},
		{"F1", 1},
		{"UNK", 0},
		{"unk", 0},
		{"", 0},
		{"abc", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseMagnitudeField(tt.in))
		})
	}
}

func TestNormalizeMagnitude(t *testing.T) {
	assert.Equal(t, 1.75, normalizeMagnitude(KindHail, 175))
	assert.Equal(t, 2.0, normalizeMagnitude(KindHail, 2.0))
	assert.Equal(t, 65.0, normalizeMagnitude(KindWind, 65))
}

func TestParseHHMM(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   time.Time
		wantOK bool
	}{
		{"afternoon", "1510", time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC), true},
		{"three digits after midnight", "930", time.Date(2024, 4, 27, 9, 30, 0, 0, time.UTC), true},
		{"noon", "1200", time.Date(2024, 4, 26, 12, 0, 0, 0, time.UTC), true},
		{"bad hour", "2500", time.Time{}, false},
		{"bad minutes", "1275", time.Time{}, false},
		{"too short", "15", time.Time{}, false},
		{"not a number", "ab10", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseHHMM(testDay, tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
