package export

import (
	"bytes"
	"database/sql"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/cyclecounts/internal/models"
	"github.com/lox/cyclecounts/internal/predictors"
)

func TestWriteSample(t *testing.T) {
	loc, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	ts := time.Date(2021, time.July, 4, 17, 0, 0, 0, loc)

	var buf bytes.Buffer
	err = WriteSample(&buf, []models.SampleRow{{
		Reading: models.Reading{
			SiteID: "ML0042", Time: ts, Latitude: 51.5072, Longitude: -0.1276,
			Count: 143, SourceType: models.SourceCycleway,
		},
		Timestamp: ts.Unix(),
	}})
	require.NoError(t, err)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, SampleHeader, records[0])
	assert.Equal(t, []string{"ML0042", "2021-07-04 17:00:00", "1625414400", "51.5072", "-0.1276", "143", "cycleway"}, records[1])
}

func TestWritePrepared_NullsAreEmpty(t *testing.T) {
	rows := []predictors.Row{
		{
			SiteID: "A", Time: time.Date(2019, 1, 2, 8, 0, 0, 0, time.UTC), Count: 12, SourceType: "strat", Hour: 8,
			Darkness:     sql.NullString{String: "light", Valid: true},
			Combined:     sql.NullString{String: "light rain/ drizzle", Valid: true},
			Temp:         sql.NullFloat64{Float64: 279.5, Valid: true},
			RainAdjusted: sql.NullFloat64{Float64: 0.25, Valid: true},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, WritePrepared(&buf, rows))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, PreparedHeader, records[0])

	got := map[string]string{}
	for i, col := range records[0] {
		got[col] = records[1][i]
	}
	assert.Equal(t, "light", got["darkness"])
	assert.Equal(t, "light rain/ drizzle", got["combined_descr"])
	assert.Equal(t, "279.5", got["temp"])
	assert.Equal(t, "0.25", got["rain_adj"])
	assert.Equal(t, "", got["wind_speed"])
	assert.Equal(t, "", got["main_descr"])
	assert.Equal(t, "8", got["hour"])
}

func TestWriteDesign(t *testing.T) {
	m := &predictors.Matrix{
		Columns: []string{"temp", "darkness_light"},
		X:       [][]float64{{0.5, 1}, {-1.25, 0}},
		Y:       []float64{14, 3},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteDesign(&buf, m))
	assert.Equal(t, "temp,darkness_light,count\n0.5,1,14\n-1.25,0,3\n", buf.String())
}
