package counts

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lox/cyclecounts/internal/logging"
	"github.com/lox/cyclecounts/internal/metrics"
	"github.com/lox/cyclecounts/internal/models"
)

// Input is one family of release files sharing a source type tag.
type Input struct {
	SourceType string
	Source     Source
}

type Loader struct {
	Inputs   []Input
	Location *time.Location
	Logger   logging.Logger
	// SkipConsistencyCheck allows mixing releases whose columns differ.
	SkipConsistencyCheck bool
}

type LoadStats struct {
	Files  int
	Parse  ParseStats
	Hourly HourlyStats
}

// Load reads every file of every input and aggregates them into hourly
// readings for the sites that have a known location.
func (l *Loader) Load(ctx context.Context, sites map[string]models.Site) ([]models.Reading, *LoadStats, error) {
	loc := l.Location
	if loc == nil {
		loc = time.UTC
	}
	log := l.Logger
	if log == nil {
		log = logging.NewNop()
	}
	log = log.With(logging.Component("counts"))

	var files []*File
	for _, in := range l.Inputs {
		names, err := in.Source.List(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("list %s releases: %w", in.SourceType, err)
		}
		if len(names) == 0 {
			log.Warn("no release files found", logging.String("source_type", in.SourceType))
		}
		for _, name := range names {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
			f, err := l.readFile(ctx, in, name, loc)
			if err != nil {
				return nil, nil, err
			}
			log.Debug("parsed release file",
				logging.String("file", name),
				logging.String("source_type", in.SourceType),
				logging.Int("rows", f.Stats.Rows),
				logging.Int("kept", f.Stats.Kept),
				logging.Int("malformed", f.Stats.Malformed),
			)
			if f.Stats.Malformed > 0 {
				log.Warn("skipped malformed rows", logging.String("file", name), logging.Int("rows", f.Stats.Malformed))
			}
			files = append(files, f)
		}
	}

	if !l.SkipConsistencyCheck {
		if err := CheckConsistency(files); err != nil {
			return nil, nil, err
		}
	}

	stats := &LoadStats{Files: len(files)}
	var raw []RawCount
	for _, f := range files {
		stats.Parse.Rows += f.Stats.Rows
		stats.Parse.Kept += f.Stats.Kept
		stats.Parse.Motor += f.Stats.Motor
		stats.Parse.Malformed += f.Stats.Malformed
		raw = append(raw, f.Records...)
	}
	metrics.RowsRejected.WithLabelValues("motor").Add(float64(stats.Parse.Motor))
	metrics.RowsRejected.WithLabelValues("malformed").Add(float64(stats.Parse.Malformed))

	readings, hourly := Hourly(raw, sites)
	stats.Hourly = hourly
	metrics.RowsRejected.WithLabelValues("unknown_site").Add(float64(hourly.UnknownSites))
	for _, r := range readings {
		metrics.ReadingsIngested.WithLabelValues(r.SourceType).Inc()
	}

	if len(hourly.MissingSiteIDs) > 0 {
		log.Warn("dropped rows for sites without a location",
			logging.Int("rows", hourly.UnknownSites),
			logging.Int("sites", len(hourly.MissingSiteIDs)),
		)
	}
	log.Info("releases loaded",
		logging.Int("files", stats.Files),
		logging.String("raw_rows", humanize.Comma(int64(stats.Parse.Rows))),
		logging.String("hourly_readings", humanize.Comma(int64(len(readings)))),
	)
	return readings, stats, nil
}

func (l *Loader) readFile(ctx context.Context, in Input, name string, loc *time.Location) (*File, error) {
	rc, err := in.Source.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()
	return ParseFile(rc, name, in.SourceType, loc)
}
