package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lox/cyclecounts/internal/logging"
	"github.com/lox/cyclecounts/internal/models"
)

var ErrNoSampleRun = errors.New("no sample run")

type Store struct {
	db  *sql.DB
	loc *time.Location
	log logging.Logger
}

// New wraps an open database. Reading times are returned in loc.
func New(db *sql.DB, loc *time.Location, log logging.Logger) *Store {
	if log == nil {
		log = logging.NewNop()
	}
	return &Store{db: db, loc: loc, log: log.With(logging.Component("store"))}
}

func (s *Store) UpsertSites(sites []models.Site) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO sites (site_id, latitude, longitude)
		VALUES (?, ?, ?)
		ON CONFLICT(site_id) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, st := range sites {
		if _, err := stmt.Exec(st.SiteID, st.Latitude, st.Longitude); err != nil {
			return fmt.Errorf("upsert site %s: %w", st.SiteID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetSites() (map[string]models.Site, error) {
	rows, err := s.db.Query(`SELECT site_id, latitude, longitude FROM sites`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sites := make(map[string]models.Site)
	for rows.Next() {
		var st models.Site
		if err := rows.Scan(&st.SiteID, &st.Latitude, &st.Longitude); err != nil {
			return nil, err
		}
		sites[st.SiteID] = st
	}
	return sites, rows.Err()
}

// InsertReadings stores readings, ignoring any (site, time) already present.
// It returns the number of new rows. Sites must exist.
func (s *Store) InsertReadings(readings []models.Reading) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO readings (site_id, epoch, count, source_type)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(site_id, epoch) DO NOTHING
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var inserted int64
	for _, r := range readings {
		res, err := stmt.Exec(r.SiteID, r.Epoch(), r.Count, r.SourceType)
		if err != nil {
			return 0, fmt.Errorf("insert reading %s@%d: %w", r.SiteID, r.Epoch(), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += n
	}
	return inserted, tx.Commit()
}

// GetReadings returns readings whose local calendar year lies between
// firstYear and lastYear inclusive, ordered by time then site.
func (s *Store) GetReadings(firstYear, lastYear int) ([]models.Reading, error) {
	start := time.Date(firstYear, time.January, 1, 0, 0, 0, 0, s.loc).Unix()
	end := time.Date(lastYear+1, time.January, 1, 0, 0, 0, 0, s.loc).Unix()

	rows, err := s.db.Query(`
		SELECT r.site_id, r.epoch, r.count, r.source_type, s.latitude, s.longitude
		FROM readings r
		JOIN sites s ON s.site_id = r.site_id
		WHERE r.epoch >= ? AND r.epoch < ?
		ORDER BY r.epoch ASC, r.site_id ASC
	`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []models.Reading
	for rows.Next() {
		var r models.Reading
		var epoch int64
		if err := rows.Scan(&r.SiteID, &epoch, &r.Count, &r.SourceType, &r.Latitude, &r.Longitude); err != nil {
			return nil, err
		}
		r.Time = time.Unix(epoch, 0).In(s.loc)
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// GetMonthReadings returns the readings of one local calendar month.
func (s *Store) GetMonthReadings(year int, month time.Month) ([]models.Reading, error) {
	readings, err := s.GetReadings(year, year)
	if err != nil {
		return nil, err
	}
	out := readings[:0]
	for _, r := range readings {
		if r.Time.Month() == month {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) CountReadings() (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM readings`).Scan(&n)
	return n, err
}

// SaveSample stores a built sample and returns its run id. A random id is
// generated when run.ID is empty.
func (s *Store) SaveSample(run models.SampleRun, months []models.SampleMonth, rows []models.SampleRow) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	run.Rows = len(rows)

	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO sample_runs (id, created_at, first_year, last_year, seed, row_count)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.CreatedAt, run.FirstYear, run.LastYear, run.Seed, run.Rows); err != nil {
		return "", fmt.Errorf("insert sample run: %w", err)
	}

	monthStmt, err := tx.Prepare(`
		INSERT INTO sample_months (run_id, month, k, draw, site_days, eligible_days, sampled_days, source_readings, sampled_rows)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return "", err
	}
	defer monthStmt.Close()
	for _, m := range months {
		if _, err := monthStmt.Exec(run.ID, m.Label(), m.K, m.Draw, m.SiteDays, m.EligibleDays, m.SampledDays, m.SourceReadings, m.SampledRows); err != nil {
			return "", fmt.Errorf("insert sample month %s: %w", m.Label(), err)
		}
	}

	rowStmt, err := tx.Prepare(`INSERT INTO sample_rows (run_id, seq, site_id, epoch) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer rowStmt.Close()
	for i, r := range rows {
		if _, err := rowStmt.Exec(run.ID, i, r.SiteID, r.Timestamp); err != nil {
			return "", fmt.Errorf("insert sample row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	s.log.Info("sample saved", logging.String("run_id", run.ID), logging.Int("rows", run.Rows))
	return run.ID, nil
}

const sampleRunColumns = `id, created_at, first_year, last_year, seed, row_count`

func scanSampleRun(row *sql.Row) (*models.SampleRun, error) {
	var run models.SampleRun
	err := row.Scan(&run.ID, &run.CreatedAt, &run.FirstYear, &run.LastYear, &run.Seed, &run.Rows)
	if err == sql.ErrNoRows {
		return nil, ErrNoSampleRun
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *Store) GetSampleRun(id string) (*models.SampleRun, error) {
	return scanSampleRun(s.db.QueryRow(`SELECT `+sampleRunColumns+` FROM sample_runs WHERE id = ?`, id))
}

// LatestSampleRun returns the most recently created run.
func (s *Store) LatestSampleRun() (*models.SampleRun, error) {
	return scanSampleRun(s.db.QueryRow(`SELECT ` + sampleRunColumns + ` FROM sample_runs ORDER BY created_at DESC, rowid DESC LIMIT 1`))
}

func (s *Store) GetSampleMonths(runID string) ([]models.SampleMonth, error) {
	rows, err := s.db.Query(`
		SELECT month, k, draw, site_days, eligible_days, sampled_days, source_readings, sampled_rows
		FROM sample_months WHERE run_id = ? ORDER BY month
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var months []models.SampleMonth
	for rows.Next() {
		var m models.SampleMonth
		var label string
		if err := rows.Scan(&label, &m.K, &m.Draw, &m.SiteDays, &m.EligibleDays, &m.SampledDays, &m.SourceReadings, &m.SampledRows); err != nil {
			return nil, err
		}
		t, err := time.Parse("2006-01", label)
		if err != nil {
			return nil, fmt.Errorf("parse month %q: %w", label, err)
		}
		m.Year, m.Month = t.Year(), t.Month()
		months = append(months, m)
	}
	return months, rows.Err()
}

// GetSampleRows returns the rows of a run in the order they were built.
func (s *Store) GetSampleRows(runID string) ([]models.SampleRow, error) {
	return s.querySampleRows(`
		SELECT sr.site_id, sr.epoch, r.count, r.source_type, s.latitude, s.longitude
		FROM sample_rows sr
		JOIN readings r ON r.site_id = sr.site_id AND r.epoch = sr.epoch
		JOIN sites s ON s.site_id = sr.site_id
		WHERE sr.run_id = ?
		ORDER BY sr.seq
	`, runID)
}

func (s *Store) querySampleRows(query string, args ...any) ([]models.SampleRow, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SampleRow
	for rows.Next() {
		var r models.SampleRow
		if err := rows.Scan(&r.SiteID, &r.Timestamp, &r.Count, &r.SourceType, &r.Latitude, &r.Longitude); err != nil {
			return nil, err
		}
		r.Time = time.Unix(r.Timestamp, 0).In(s.loc)
		out = append(out, r)
	}
	return out, rows.Err()
}
