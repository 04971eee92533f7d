// Package predictors derives regression inputs from weather-enriched sample
// rows: darkness, tidied descriptions, adjusted rain, scaled numerics and a
// one-hot design matrix.
package predictors

import (
	"database/sql"
	"math"
	"slices"
	"time"

	"github.com/lox/cyclecounts/internal/models"
	"github.com/lox/cyclecounts/internal/weather"
)

const (
	Light  = "light"
	Gloomy = "gloomy"
	Dark   = "dark"

	// TwilightSeconds is how long before sunrise and after sunset counts as gloomy.
	TwilightSeconds = 30 * 60
)

const (
	MainRainGroup = "Rain/ storm/ snow"
	MainMistGroup = "Mist or fog"
	LightRain     = "light rain/ drizzle"
	HeavyRain     = "mod+heavy rain/ snow/ storm"
)

var (
	rainMains = []string{"Snow", "Thunderstorm", "Rain"}
	mistMains = []string{"Mist", "Fog"}

	lightRainDescriptions = []string{"light intensity shower rain", "light rain", "Drizzle", "sleet"}
	heavyRainDescriptions = []string{
		"moderate rain", "shower rain", "heavy intensity rain", "heavy intensity shower rain",
		"light snow", "thunderstorm", "thunderstorm with rain", "light shower snow",
		"thunderstorm with light rain",
	}
)

// Row is one sample row with its derived predictors. Null weather fields
// stay invalid.
type Row struct {
	SiteID     string
	Time       time.Time
	Timestamp  int64
	Count      int
	SourceType string

	Darkness     sql.NullString
	Main         sql.NullString
	Detail       sql.NullString
	MainAdjusted sql.NullString
	Combined     sql.NullString
	Temp         sql.NullFloat64
	WindSpeed    sql.NullFloat64
	WindDeg      sql.NullFloat64
	Visibility   sql.NullFloat64
	Clouds       sql.NullFloat64
	Rain         sql.NullFloat64
	RainAdjusted sql.NullFloat64
	Hour         int
}

// Prepare joins sample rows with their lookups and derives predictors. Rows
// with no lookup, or a failed one, keep null weather fields.
func Prepare(sample []models.SampleRow, lookups map[models.WeatherKey]models.Weather) []Row {
	rows := make([]Row, len(sample))
	for i, s := range sample {
		r := Row{
			SiteID:     s.SiteID,
			Time:       s.Time,
			Timestamp:  s.Timestamp,
			Count:      s.Count,
			SourceType: s.SourceType,
			Hour:       s.Time.Hour(),
		}
		if w, ok := lookups[models.WeatherKey{SiteID: s.SiteID, Epoch: s.Timestamp}]; ok && w.OK {
			applyWeather(&r, w)
		}
		rows[i] = r
	}
	adjustRain(rows)
	return rows
}

// applyWeather copies a lookup onto r. Values that failed validation are
// left null.
func applyWeather(r *Row, w models.Weather) {
	if !w.Flagged(weather.FlagSunTimesInverted) {
		if d, ok := DarknessAt(r.Timestamp, w.Sunrise, w.Sunset); ok {
			r.Darkness = sql.NullString{String: d, Valid: true}
		}
	}
	r.Main = w.Main
	r.Detail = w.Description
	if w.Main.Valid {
		r.MainAdjusted = sql.NullString{String: AdjustMain(w.Main.String), Valid: true}
	}
	if c, ok := CombinedDescription(w.Main, w.Description); ok {
		r.Combined = sql.NullString{String: c, Valid: true}
	}
	r.Temp = unlessFlagged(w, weather.FlagTempOutOfRange, w.Temp)
	r.WindSpeed = unlessFlagged(w, weather.FlagWindSpeedUnlikely, w.WindSpeed)
	if w.WindDeg.Valid && !w.Flagged(weather.FlagWindDegInvalid) {
		r.WindDeg = sql.NullFloat64{Float64: float64(w.WindDeg.Int64), Valid: true}
	}
	if v := unlessFlagged(w, weather.FlagVisibilityInvalid, w.Visibility); v.Valid {
		r.Visibility = sql.NullFloat64{Float64: RoundVisibility(v.Float64), Valid: true}
	}
	r.Clouds = unlessFlagged(w, weather.FlagCloudsInvalid, w.Clouds)
	r.Rain = unlessFlagged(w, weather.FlagRainNegative, w.Rain)
}

func unlessFlagged(w models.Weather, flag string, v sql.NullFloat64) sql.NullFloat64 {
	if w.Flagged(flag) {
		return sql.NullFloat64{}
	}
	return v
}

// DarknessAt classifies the light at ts. Strictly between sunrise and sunset
// is light, up to TwilightSeconds either side is gloomy, beyond that dark.
// It reports false when either sun time is unknown.
func DarknessAt(ts int64, sunrise, sunset sql.NullInt64) (string, bool) {
	if !sunrise.Valid || !sunset.Valid {
		return "", false
	}
	sinceSunrise := ts - sunrise.Int64
	beforeSunset := sunset.Int64 - ts
	switch {
	case sinceSunrise > 0 && beforeSunset > 0:
		return Light, true
	case sinceSunrise >= -TwilightSeconds && sinceSunrise <= 0,
		beforeSunset >= -TwilightSeconds && beforeSunset <= 0:
		return Gloomy, true
	default:
		return Dark, true
	}
}

// AdjustMain groups precipitation and low-visibility conditions.
func AdjustMain(main string) string {
	switch {
	case slices.Contains(rainMains, main):
		return MainRainGroup
	case slices.Contains(mistMains, main):
		return MainMistGroup
	default:
		return main
	}
}

// CombinedDescription keeps the detailed description for precipitation and
// the main one otherwise, then buckets rain intensities.
func CombinedDescription(main, detail sql.NullString) (string, bool) {
	if !main.Valid {
		return "", false
	}
	combined := main.String
	if AdjustMain(main.String) == MainRainGroup {
		if !detail.Valid {
			return "", false
		}
		combined = detail.String
	}
	switch {
	case slices.Contains(lightRainDescriptions, combined):
		return LightRain, true
	case slices.Contains(heavyRainDescriptions, combined):
		return HeavyRain, true
	default:
		return combined, true
	}
}

func IsRain(combined sql.NullString) bool {
	return combined.Valid && (combined.String == LightRain || combined.String == HeavyRain)
}

// RoundVisibility rounds to the nearest 1000, halves to even.
func RoundVisibility(v float64) float64 {
	return math.RoundToEven(v/1000) * 1000
}

// adjustRain fills RainAdjusted. Rows that are not rain get 0. Rain rows get
// the mean rain of all rows on the same date when any of them had rain,
// otherwise the mean rain of all rows in the same month of the year.
func adjustRain(rows []Row) {
	type mean struct {
		sum    float64
		n      int
		anyPos bool
	}
	days := make(map[string]*mean)
	months := make(map[time.Month]*mean)
	for _, r := range rows {
		if !r.Rain.Valid {
			continue
		}
		v := r.Rain.Float64
		day := r.Time.Format(time.DateOnly)
		if days[day] == nil {
			days[day] = &mean{}
		}
		if months[r.Time.Month()] == nil {
			months[r.Time.Month()] = &mean{}
		}
		for _, m := range []*mean{days[day], months[r.Time.Month()]} {
			m.sum += v
			m.n++
			m.anyPos = m.anyPos || v > 0
		}
	}

	for i := range rows {
		r := &rows[i]
		if !IsRain(r.Combined) {
			r.RainAdjusted = sql.NullFloat64{Valid: true}
			continue
		}
		if d := days[r.Time.Format(time.DateOnly)]; d != nil && d.anyPos {
			r.RainAdjusted = sql.NullFloat64{Float64: d.sum / float64(d.n), Valid: true}
			continue
		}
		if m := months[r.Time.Month()]; m != nil {
			r.RainAdjusted = sql.NullFloat64{Float64: m.sum / float64(m.n), Valid: true}
		}
	}
}
