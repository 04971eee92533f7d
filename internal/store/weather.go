package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lox/cyclecounts/internal/models"
)

// UpsertWeather checkpoints lookups. A later successful lookup replaces an
// earlier failed one for the same key.
func (s *Store) UpsertWeather(ws []models.Weather) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO weather (site_id, epoch, fetched_at, ok, sunrise, sunset, temp, wind_speed, wind_deg, visibility, clouds, rain, main, description, quality_flags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(site_id, epoch) DO UPDATE SET
			fetched_at = excluded.fetched_at,
			ok = excluded.ok,
			sunrise = excluded.sunrise,
			sunset = excluded.sunset,
			temp = excluded.temp,
			wind_speed = excluded.wind_speed,
			wind_deg = excluded.wind_deg,
			visibility = excluded.visibility,
			clouds = excluded.clouds,
			rain = excluded.rain,
			main = excluded.main,
			description = excluded.description,
			quality_flags = excluded.quality_flags
		WHERE excluded.ok OR NOT weather.ok
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, w := range ws {
		if _, err := stmt.Exec(w.SiteID, w.Epoch, w.FetchedAt, w.OK, w.Sunrise, w.Sunset, w.Temp, w.WindSpeed,
			w.WindDeg, w.Visibility, w.Clouds, w.Rain, w.Main, w.Description, qualityFlagsToJSON(w.QualityFlags)); err != nil {
			return fmt.Errorf("upsert weather %s@%d: %w", w.SiteID, w.Epoch, err)
		}
	}
	return tx.Commit()
}

// GetWeather returns the checkpointed lookups for the rows of a sample run.
func (s *Store) GetWeather(runID string) (map[models.WeatherKey]models.Weather, error) {
	rows, err := s.db.Query(`
		SELECT w.site_id, w.epoch, w.fetched_at, w.ok, w.sunrise, w.sunset, w.temp, w.wind_speed,
		       w.wind_deg, w.visibility, w.clouds, w.rain, w.main, w.description, w.quality_flags
		FROM weather w
		JOIN sample_rows sr ON sr.site_id = w.site_id AND sr.epoch = w.epoch
		WHERE sr.run_id = ?
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[models.WeatherKey]models.Weather)
	for rows.Next() {
		var w models.Weather
		var flags sql.NullString
		if err := rows.Scan(&w.SiteID, &w.Epoch, &w.FetchedAt, &w.OK, &w.Sunrise, &w.Sunset, &w.Temp, &w.WindSpeed,
			&w.WindDeg, &w.Visibility, &w.Clouds, &w.Rain, &w.Main, &w.Description, &flags); err != nil {
			return nil, err
		}
		if flags.Valid && flags.String != "" {
			if err := json.Unmarshal([]byte(flags.String), &w.QualityFlags); err != nil {
				return nil, fmt.Errorf("decode quality flags %s@%d: %w", w.SiteID, w.Epoch, err)
			}
		}
		out[w.Key()] = w
	}
	return out, rows.Err()
}

// PendingWeather returns the sample rows of a run that have no stored
// lookup, in build order. With retryFailed, rows whose lookup failed are
// included too.
func (s *Store) PendingWeather(runID string, retryFailed bool) ([]models.SampleRow, error) {
	return s.querySampleRows(`
		SELECT sr.site_id, sr.epoch, r.count, r.source_type, s.latitude, s.longitude
		FROM sample_rows sr
		JOIN readings r ON r.site_id = sr.site_id AND r.epoch = sr.epoch
		JOIN sites s ON s.site_id = sr.site_id
		LEFT JOIN weather w ON w.site_id = sr.site_id AND w.epoch = sr.epoch
		WHERE sr.run_id = ? AND (w.site_id IS NULL OR (? AND NOT w.ok))
		ORDER BY sr.seq
	`, runID, retryFailed)
}

func qualityFlagsToJSON(flags []string) sql.NullString {
	if len(flags) == 0 {
		return sql.NullString{}
	}
	b, _ := json.Marshal(flags)
	return sql.NullString{String: string(b), Valid: true}
}
