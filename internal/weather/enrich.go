package weather

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lox/cyclecounts/internal/logging"
	"github.com/lox/cyclecounts/internal/metrics"
	"github.com/lox/cyclecounts/internal/models"
	"github.com/lox/cyclecounts/internal/store"
)

const DefaultBatchSize = 1000

type Fetcher interface {
	Fetch(ctx context.Context, lat, lon float64, dt int64) (*models.Weather, []byte, error)
}

// Store is the persistence the enricher checkpoints into.
type Store interface {
	PendingWeather(runID string, retryFailed bool) ([]models.SampleRow, error)
	UpsertWeather(ws []models.Weather) error
	StartIngestRun(source, endpoint, sampleRunID string, batch int) (*store.IngestRun, error)
	CompleteIngestRun(run *store.IngestRun) error
	StoreRawPayload(runID int64, source, endpoint string, key models.WeatherKey, payload []byte) (int64, error)
}

type Enricher struct {
	Store     Store
	Fetcher   Fetcher
	BatchSize int
	// RetryFailed refetches rows whose earlier lookup failed.
	RetryFailed bool
	Logger      logging.Logger
}

type EnrichStats struct {
	Pending  int
	Batches  int
	Stored   int
	Failures int
}

// Run looks up weather for every pending row of a sample run. Each batch is
// checkpointed before the next starts, so an interrupted run resumes where
// it stopped. A failed lookup is recorded with ok=false and never aborts the
// batch.
func (e *Enricher) Run(ctx context.Context, runID string) (*EnrichStats, error) {
	log := e.Logger
	if log == nil {
		log = logging.NewNop()
	}
	log = log.With(logging.Component("weather"), logging.String("run_id", runID))

	size := e.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	pending, err := e.Store.PendingWeather(runID, e.RetryFailed)
	if err != nil {
		return nil, fmt.Errorf("pending weather: %w", err)
	}
	stats := &EnrichStats{Pending: len(pending)}
	log.Info("enriching sample", logging.String("pending", humanize.Comma(int64(len(pending)))))

	for start := 0; start < len(pending); start += size {
		end := min(start+size, len(pending))
		stored, failures, err := e.runBatch(ctx, runID, stats.Batches, pending[start:end], log)
		stats.Batches++
		stats.Stored += stored
		stats.Failures += failures
		if err != nil {
			return stats, err
		}
		log.Info("batch checkpointed",
			logging.Int("batch", stats.Batches-1),
			logging.String("done", fmt.Sprintf("%s/%s", humanize.Comma(int64(end)), humanize.Comma(int64(len(pending))))),
			logging.Int("failures", failures),
		)
	}
	return stats, nil
}

func (e *Enricher) runBatch(ctx context.Context, runID string, batch int, rows []models.SampleRow, log logging.Logger) (int, int, error) {
	run, err := e.Store.StartIngestRun(Source, Endpoint, runID, batch)
	if err != nil {
		log.Warn("failed to start ingest run", logging.Err(err))
	}

	results := make([]models.Weather, 0, len(rows))
	failures := 0
	var fetchErr error
	for _, r := range rows {
		w, body, err := e.Fetcher.Fetch(ctx, r.Latitude, r.Longitude, r.Timestamp)
		if err != nil && ctx.Err() != nil {
			fetchErr = ctx.Err()
			break
		}
		if len(body) > 0 && run != nil {
			if _, perr := e.Store.StoreRawPayload(run.ID, Source, Endpoint, models.WeatherKey{SiteID: r.SiteID, Epoch: r.Timestamp}, body); perr != nil {
				log.Warn("failed to store raw payload", logging.Err(perr))
			}
		}
		if err != nil {
			log.Debug("weather lookup failed",
				logging.String("site_id", r.SiteID),
				logging.Int64("epoch", r.Timestamp),
				logging.Err(err),
			)
			failures++
			w = &models.Weather{FetchedAt: time.Now().UTC()}
		}
		w.SiteID = r.SiteID
		w.Epoch = r.Timestamp
		results = append(results, *w)
	}

	stored := 0
	if len(results) > 0 {
		if err := e.Store.UpsertWeather(results); err != nil {
			e.completeRun(run, len(rows), 0, failures, err, log)
			return 0, failures, fmt.Errorf("checkpoint batch %d: %w", batch, err)
		}
		stored = len(results)
		metrics.WeatherLookupsStored.WithLabelValues("true").Add(float64(stored - failures))
		metrics.WeatherLookupsStored.WithLabelValues("false").Add(float64(failures))
	}
	e.completeRun(run, len(rows), stored, failures, fetchErr, log)
	return stored, failures, fetchErr
}

func (e *Enricher) completeRun(run *store.IngestRun, requested, stored, failures int, err error, log logging.Logger) {
	if run == nil {
		return
	}
	run.RecordsRequested = sql.NullInt64{Int64: int64(requested), Valid: true}
	run.RecordsStored = sql.NullInt64{Int64: int64(stored), Valid: true}
	run.Failures = sql.NullInt64{Int64: int64(failures), Valid: true}
	run.Success = err == nil
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.Canceled) {
			msg = "cancelled after " + strconv.Itoa(stored) + " lookups"
		}
		run.ErrorMessage = sql.NullString{String: msg, Valid: true}
	}
	if cerr := e.Store.CompleteIngestRun(run); cerr != nil {
		log.Warn("failed to complete ingest run", logging.Err(cerr))
	}
}
