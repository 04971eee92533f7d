// Package export writes samples and prepared predictor tables as CSV.
package export

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/lox/cyclecounts/internal/models"
	"github.com/lox/cyclecounts/internal/predictors"
)

var (
	SampleHeader   = []string{"site_id", "datetime", "timestamp", "latitude", "longitude", "count", "source_type"}
	PreparedHeader = []string{
		"site_id", "datetime", "count", "source_type", "hour", "darkness",
		"main_descr", "detail_descr", "main_descr_adj", "combined_descr",
		"temp", "wind_speed", "wind_deg", "visibility", "clouds", "rain", "rain_adj",
	}
)

// WriteSample writes one line per sample row with times in their local zone.
func WriteSample(w io.Writer, rows []models.SampleRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(SampleHeader); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			r.SiteID,
			r.Time.Format(time.DateTime),
			strconv.FormatInt(r.Timestamp, 10),
			formatFloat(r.Latitude),
			formatFloat(r.Longitude),
			strconv.Itoa(r.Count),
			r.SourceType,
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row %s@%d: %w", r.SiteID, r.Timestamp, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WritePrepared writes the derived predictor table. Nulls are empty fields.
func WritePrepared(w io.Writer, rows []predictors.Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(PreparedHeader); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			r.SiteID,
			r.Time.Format(time.DateTime),
			strconv.Itoa(r.Count),
			r.SourceType,
			strconv.Itoa(r.Hour),
			nullString(r.Darkness),
			nullString(r.Main),
			nullString(r.Detail),
			nullString(r.MainAdjusted),
			nullString(r.Combined),
			nullFloat(r.Temp),
			nullFloat(r.WindSpeed),
			nullFloat(r.WindDeg),
			nullFloat(r.Visibility),
			nullFloat(r.Clouds),
			nullFloat(r.Rain),
			nullFloat(r.RainAdjusted),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row %s@%d: %w", r.SiteID, r.Timestamp, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func nullFloat(v sql.NullFloat64) string {
	if !v.Valid {
		return ""
	}
	return formatFloat(v.Float64)
}

func nullString(v sql.NullString) string {
	if !v.Valid {
		return ""
	}
	return v.String
}

// WriteDesign writes a design matrix with the response as the last column.
func WriteDesign(w io.Writer, m *predictors.Matrix) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append(slices.Clone(m.Columns), "count")); err != nil {
		return err
	}
	rec := make([]string, len(m.Columns)+1)
	for i, x := range m.X {
		for j, v := range x {
			rec[j] = formatFloat(v)
		}
		rec[len(x)] = formatFloat(m.Y[i])
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write design row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
