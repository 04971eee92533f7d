package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lox/cyclecounts/internal/logging"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Sites and hourly readings",
		SQL: `
CREATE TABLE IF NOT EXISTS sites (
    site_id TEXT PRIMARY KEY,
    latitude REAL NOT NULL,
    longitude REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS readings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    site_id TEXT NOT NULL REFERENCES sites(site_id),
    epoch INTEGER NOT NULL,
    count INTEGER NOT NULL,
    source_type TEXT NOT NULL,
    UNIQUE(site_id, epoch)
);

CREATE INDEX IF NOT EXISTS idx_readings_epoch ON readings(epoch);
`,
	},
	{
		Version:     2,
		Description: "Sample runs",
		SQL: `
CREATE TABLE IF NOT EXISTS sample_runs (
    id TEXT PRIMARY KEY,
    created_at DATETIME NOT NULL,
    first_year INTEGER NOT NULL,
    last_year INTEGER NOT NULL,
    seed INTEGER,
    row_count INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sample_months (
    run_id TEXT NOT NULL REFERENCES sample_runs(id),
    month TEXT NOT NULL,
    k INTEGER NOT NULL,
    draw INTEGER NOT NULL,
    site_days INTEGER NOT NULL,
    eligible_days INTEGER NOT NULL,
    sampled_days INTEGER NOT NULL,
    source_readings INTEGER NOT NULL,
    sampled_rows INTEGER NOT NULL,
    PRIMARY KEY (run_id, month)
);

CREATE TABLE IF NOT EXISTS sample_rows (
    run_id TEXT NOT NULL REFERENCES sample_runs(id),
    seq INTEGER NOT NULL,
    site_id TEXT NOT NULL,
    epoch INTEGER NOT NULL,
    PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_sample_rows_key ON sample_rows(site_id, epoch);
`,
	},
	{
		Version:     3,
		Description: "Weather lookups, ingest audit and raw payloads",
		SQL: `
CREATE TABLE IF NOT EXISTS weather (
    site_id TEXT NOT NULL,
    epoch INTEGER NOT NULL,
    fetched_at DATETIME NOT NULL,
    ok BOOLEAN NOT NULL,
    sunrise INTEGER,
    sunset INTEGER,
    temp REAL,
    wind_speed REAL,
    wind_deg INTEGER,
    visibility REAL,
    clouds REAL,
    rain REAL,
    main TEXT,
    description TEXT,
    PRIMARY KEY (site_id, epoch)
);

CREATE TABLE IF NOT EXISTS ingest_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    source TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    sample_run_id TEXT,
    batch INTEGER,
    records_requested INTEGER,
    records_stored INTEGER,
    failures INTEGER,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error_message TEXT
);

CREATE TABLE IF NOT EXISTS raw_payloads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ingest_run_id INTEGER REFERENCES ingest_runs(id),
    fetched_at DATETIME NOT NULL,
    source TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    site_id TEXT,
    epoch INTEGER,
    payload_compressed BLOB NOT NULL,
    payload_hash TEXT NOT NULL UNIQUE,
    schema_version INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_ingest_runs_started ON ingest_runs(started_at);
`,
	},
	{
		Version:     4,
		Description: "Weather quality flags",
		SQL: `
ALTER TABLE weather ADD COLUMN quality_flags TEXT;
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		s.log.Info("applying migration", logging.Int("version", m.Version), logging.String("description", m.Description))

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
