package models

import (
	"database/sql"
	"slices"
	"time"
)

// Source types tag where a count came from in the published releases.
const (
	SourceCentral  = "central"
	SourceStrat    = "strat"
	SourceCycleway = "cycleway"
)

type Site struct {
	SiteID    string
	Latitude  float64
	Longitude float64
}

// Reading is one hourly count at a site. Time carries the local zone the
// count was recorded in; calendar dates are taken from its wall clock.
type Reading struct {
	SiteID     string
	Time       time.Time
	Latitude   float64
	Longitude  float64
	Count      int
	SourceType string
}

func (r Reading) Epoch() int64 {
	return r.Time.Unix()
}

// SiteDay is the sampling unit: one site on one calendar date.
type SiteDay struct {
	SiteID string
	Date   string // 2006-01-02
}

func (d SiteDay) String() string {
	return d.SiteID + "_" + d.Date
}

func SiteDayOf(r Reading) SiteDay {
	return SiteDay{SiteID: r.SiteID, Date: r.Time.Format(time.DateOnly)}
}

// SampleRow is a Reading in the final sample plus the epoch seconds used
// as the weather lookup key.
type SampleRow struct {
	Reading
	Timestamp int64
}

// WeatherKey identifies a point-in-time weather lookup for a sample row.
type WeatherKey struct {
	SiteID string
	Epoch  int64
}

type Weather struct {
	SiteID       string
	Epoch        int64
	FetchedAt    time.Time
	OK           bool
	Sunrise      sql.NullInt64
	Sunset       sql.NullInt64
	Temp         sql.NullFloat64
	WindSpeed    sql.NullFloat64
	WindDeg      sql.NullInt64
	Visibility   sql.NullFloat64
	Clouds       sql.NullFloat64
	Rain         sql.NullFloat64
	Main         sql.NullString
	Description  sql.NullString
	QualityFlags []string
}

// Flagged reports whether validation raised flag for this lookup.
func (w Weather) Flagged(flag string) bool {
	return slices.Contains(w.QualityFlags, flag)
}

func (w Weather) Key() WeatherKey {
	return WeatherKey{SiteID: w.SiteID, Epoch: w.Epoch}
}

type SampleRun struct {
	ID        string
	CreatedAt time.Time
	FirstYear int
	LastYear  int
	Seed      sql.NullInt64
	Rows      int
}

// SampleMonth summarises how one month was sampled.
type SampleMonth struct {
	Year           int
	Month          time.Month
	K              int
	Draw           int
	SiteDays       int
	EligibleDays   int
	SampledDays    int
	SourceReadings int
	SampledRows    int
}

func (m SampleMonth) Label() string {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC).Format("2006-01")
}
