package store

import (
	"database/sql"
	"time"
)

// IngestRun audits one batch of external API lookups.
type IngestRun struct {
	ID               int64
	StartedAt        time.Time
	FinishedAt       sql.NullTime
	Source           string // "owm"
	Endpoint         string // "onecall/timemachine"
	SampleRunID      sql.NullString
	Batch            sql.NullInt64
	RecordsRequested sql.NullInt64
	RecordsStored    sql.NullInt64
	Failures         sql.NullInt64
	Success          bool
	ErrorMessage     sql.NullString
}

// StartIngestRun creates a new ingest run record and returns it.
func (s *Store) StartIngestRun(source, endpoint, sampleRunID string, batch int) (*IngestRun, error) {
	run := &IngestRun{
		StartedAt:   time.Now().UTC(),
		Source:      source,
		Endpoint:    endpoint,
		SampleRunID: sql.NullString{String: sampleRunID, Valid: sampleRunID != ""},
		Batch:       sql.NullInt64{Int64: int64(batch), Valid: true},
	}

	result, err := s.db.Exec(`
		INSERT INTO ingest_runs (started_at, source, endpoint, sample_run_id, batch, success)
		VALUES (?, ?, ?, ?, ?, FALSE)
	`, run.StartedAt, run.Source, run.Endpoint, run.SampleRunID, run.Batch)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteIngestRun updates the ingest run with results.
func (s *Store) CompleteIngestRun(run *IngestRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE ingest_runs SET
			finished_at = ?,
			records_requested = ?,
			records_stored = ?,
			failures = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.RecordsRequested, run.RecordsStored, run.Failures,
		run.Success, run.ErrorMessage, run.ID)
	return err
}

// GetIngestRuns returns the runs recorded for a sample run, oldest first.
func (s *Store) GetIngestRuns(sampleRunID string) ([]IngestRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, source, endpoint, sample_run_id, batch,
		       records_requested, records_stored, failures, success, error_message
		FROM ingest_runs
		WHERE sample_run_id = ?
		ORDER BY id ASC
	`, sampleRunID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []IngestRun
	for rows.Next() {
		var r IngestRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Source, &r.Endpoint, &r.SampleRunID,
			&r.Batch, &r.RecordsRequested, &r.RecordsStored, &r.Failures, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
