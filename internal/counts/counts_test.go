package counts

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/cyclecounts/internal/models"
)

const releaseHeader = "Year,UnqID,Date,Weather,Time,Day,Round,Dir,Path,Mode,Count\n"

const sampleRelease = releaseHeader +
	"2022,ML0001,01/06/2022,Dry,07:00:00,Weekday,A,Northbound,Carriageway,Private cycles,4\n" +
	"2022,ML0001,01/06/2022,Dry,07:15:00,Weekday,A,Northbound,Carriageway,Private cycles,6\n" +
	"2022,ML0001,01/06/2022,Dry,07:15:00,Weekday,A,Southbound,Carriageway,Cycle hire bikes,2\n" +
	"2022,ML0001,01/06/2022,Dry,07:30:00,Weekday,A,Northbound,Carriageway,Cars,40\n" +
	"2022,ML0001,01/06/2022,Dry,08:00:00,Weekday,A,Northbound,Carriageway,Private cycles,3.0\n" +
	"2022,ML0002,01/06/2022,Dry,08:00:00,Weekday,A,Eastbound,Carriageway,Private cycles,5\n" +
	"2022,ML0002,bad-date,Dry,08:15:00,Weekday,A,Eastbound,Carriageway,Private cycles,5\n" +
	"2022,ML0002,01/06/2022,Dry,08:15:00,Weekday,A,Eastbound,Carriageway,Private cycles,\n" +
	"2022,ML9999,01/06/2022,Dry,08:15:00,Weekday,A,Eastbound,Carriageway,Private cycles,1\n"

func london(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	return loc
}

func testSites() map[string]models.Site {
	return map[string]models.Site{
		"ML0001": {SiteID: "ML0001", Latitude: 51.51, Longitude: -0.11},
		"ML0002": {SiteID: "ML0002", Latitude: 51.52, Longitude: -0.13},
	}
}

func TestParseFile(t *testing.T) {
	loc := london(t)
	f, err := ParseFile(strings.NewReader(sampleRelease), "2022-Central.csv", models.SourceCentral, loc)
	require.NoError(t, err)

	assert.Equal(t, 9, f.Stats.Rows)
	assert.Equal(t, 1, f.Stats.Motor)
	assert.Equal(t, 2, f.Stats.Malformed)
	assert.Equal(t, 6, f.Stats.Kept)
	require.Len(t, f.Records, 6)

	first := f.Records[0]
	assert.Equal(t, "ML0001", first.SiteID)
	assert.Equal(t, "Northbound", first.Direction)
	assert.Equal(t, models.SourceCentral, first.SourceType)
	assert.True(t, first.Time.Equal(time.Date(2022, time.June, 1, 7, 0, 0, 0, loc)))
	assert.Equal(t, 3, f.Records[3].Count, "fractional-looking counts parse as integers")
}

func TestParseFile_MissingColumn(t *testing.T) {
	_, err := ParseFile(strings.NewReader("UnqID,Date,Time\nA,01/01/2022,00:00:00\n"), "bad.csv", models.SourceStrat, time.UTC)
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestParseFile_ByteOrderMark(t *testing.T) {
	f, err := ParseFile(strings.NewReader("\ufeff"+sampleRelease), "bom.csv", models.SourceStrat, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "Year", f.Header[0])
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"7", 7, true},
		{"0", 0, true},
		{"12.0", 12, true},
		{"1.5", 0, false},
		{"-2", 0, false},
		{"", 0, false},
		{"n/a", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseCount(tt.in)
		assert.Equal(t, tt.ok, ok, "parseCount(%q)", tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, "parseCount(%q)", tt.in)
		}
	}
}

func TestHourly(t *testing.T) {
	loc := london(t)
	f, err := ParseFile(strings.NewReader(sampleRelease), "2022-Central.csv", models.SourceCentral, loc)
	require.NoError(t, err)

	readings, stats := Hourly(f.Records, testSites())
	require.Len(t, readings, 3)
	assert.Equal(t, 1, stats.UnknownSites)
	assert.Equal(t, []string{"ML9999"}, stats.MissingSiteIDs)

	seven := readings[0]
	assert.Equal(t, "ML0001", seven.SiteID)
	assert.True(t, seven.Time.Equal(time.Date(2022, time.June, 1, 7, 0, 0, 0, loc)))
	assert.Equal(t, 12, seven.Count, "directions and quarter hours are summed")
	assert.Equal(t, 51.51, seven.Latitude)

	assert.Equal(t, "ML0001", readings[1].SiteID)
	assert.Equal(t, 3, readings[1].Count)
	assert.Equal(t, "ML0002", readings[2].SiteID)
	assert.Equal(t, 5, readings[2].Count)
}

func TestParseLocations(t *testing.T) {
	in := "Site ID,Location description,Borough,Functional area for monitoring,Road type,Is it on the strategic CIO panel?,Easting (UK Grid),Northing (UK Grid),Latitude,Longitude\n" +
		"ML0001,Millbank,Westminster,Central,A Road,1,530251,178742,51.4915,-0.1247\n" +
		",,,,,,,,,\n"
	sites, err := ParseLocations(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Equal(t, 51.4915, sites["ML0001"].Latitude)
	assert.Equal(t, -0.1247, sites["ML0001"].Longitude)
}

func TestCheckConsistency(t *testing.T) {
	a := &File{Name: "a.csv", Header: []string{"UnqID", "Date", "Count"}}
	b := &File{Name: "b.csv", Header: []string{"UnqID", "Date", "Count"}}
	c := &File{Name: "c.csv", Header: []string{"UnqID", "Count", "Date"}}

	assert.NoError(t, CheckConsistency(nil))
	assert.NoError(t, CheckConsistency([]*File{a, b}))
	assert.Error(t, CheckConsistency([]*File{a, b, c}))
}

func TestLoader_DirSources(t *testing.T) {
	central := t.TempDir()
	strat := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(central, "2022 Q1.csv"), []byte(sampleRelease), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(central, "notes.txt"), []byte("ignore me"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(strat, "2022-Inner.csv"), []byte(releaseHeader+
		"2022,ML0002,02/06/2022,Dry,09:00:00,Weekday,A,Eastbound,Carriageway,Private cycles,8\n"), 0o644))

	loader := &Loader{
		Inputs: []Input{
			{SourceType: models.SourceCentral, Source: DirSource{Dir: central}},
			{SourceType: models.SourceStrat, Source: DirSource{Dir: strat}},
		},
		Location: london(t),
	}
	readings, stats, err := loader.Load(context.Background(), testSites())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)
	require.Len(t, readings, 4)

	last := readings[3]
	assert.Equal(t, "ML0002", last.SiteID)
	assert.Equal(t, models.SourceStrat, last.SourceType)
	assert.Equal(t, 8, last.Count)
}

func TestLoader_InconsistentReleases(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte(sampleRelease), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.csv"), []byte("UnqID,Date,Time,Dir,Mode,Count\n"), 0o644))

	loader := &Loader{Inputs: []Input{{SourceType: models.SourceStrat, Source: DirSource{Dir: dir}}}}
	_, _, err := loader.Load(context.Background(), testSites())
	assert.Error(t, err)

	loader.SkipConsistencyCheck = true
	_, _, err = loader.Load(context.Background(), testSites())
	assert.NoError(t, err)
}
