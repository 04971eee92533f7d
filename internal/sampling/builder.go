package sampling

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/lox/cyclecounts/internal/logging"
	"github.com/lox/cyclecounts/internal/metrics"
	"github.com/lox/cyclecounts/internal/models"
)

// RandSource supplies the random stream used for one month's draw.
type RandSource func(year int, month time.Month) *rand.Rand

// FreshRandSource seeds every month from fresh entropy, so repeated builds
// over the same readings differ.
func FreshRandSource() RandSource {
	return func(int, time.Month) *rand.Rand {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
}

// SeededRandSource makes builds reproducible. Each month gets its own stream
// derived from the seed and the month so draws are not correlated across
// months and do not depend on processing order.
func SeededRandSource(seed uint64) RandSource {
	return func(year int, month time.Month) *rand.Rand {
		h := xxh3.HashString(fmt.Sprintf("%d/%04d-%02d", seed, year, int(month)))
		return rand.New(rand.NewPCG(seed, h))
	}
}

type Builder struct {
	FirstYear int
	LastYear  int
	Rand      RandSource
	Workers   int
	Logger    logging.Logger
}

// Sample is the concatenation of every monthly sample in the year range.
type Sample struct {
	Rows   []models.SampleRow
	Months []models.SampleMonth
}

type monthKey struct {
	year  int
	month time.Month
}

func (k monthKey) before(o monthKey) bool {
	if k.year != o.year {
		return k.year < o.year
	}
	return k.month < o.month
}

// Build samples every month between FirstYear and LastYear inclusive.
// Months are independent and may be processed concurrently; output is
// always in chronological order.
func (b *Builder) Build(ctx context.Context, readings []models.Reading) (*Sample, error) {
	if b.FirstYear > b.LastYear {
		return nil, fmt.Errorf("invalid year range %d-%d", b.FirstYear, b.LastYear)
	}
	source := b.Rand
	if source == nil {
		source = FreshRandSource()
	}
	log := b.Logger
	if log == nil {
		log = logging.NewNop()
	}
	log = log.With(logging.Component("sampling"))

	partitions := make(map[monthKey][]models.Reading)
	for _, r := range readings {
		y := r.Time.Year()
		if y < b.FirstYear || y > b.LastYear {
			continue
		}
		key := monthKey{year: y, month: r.Time.Month()}
		partitions[key] = append(partitions[key], r)
	}

	months := make([]monthKey, 0, len(partitions))
	for k := range partitions {
		months = append(months, k)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].before(months[j]) })

	slots := make([]MonthSample, len(months))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(b.Workers, 1))
	for i, key := range months {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			monthReadings := partitions[key]
			k := ChooseK(BuildProfile(monthReadings))
			slots[i] = SampleMonth(monthReadings, k, source(key.year, key.month))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("build sample: %w", err)
	}

	sample := &Sample{Months: make([]models.SampleMonth, 0, len(months))}
	for i, key := range months {
		ms := slots[i]
		summary := models.SampleMonth{
			Year:           key.year,
			Month:          key.month,
			K:              ms.K,
			Draw:           ms.Draw,
			SiteDays:       ms.SiteDays,
			EligibleDays:   ms.EligibleDays,
			SampledDays:    ms.SampledDays,
			SourceReadings: len(partitions[key]),
			SampledRows:    len(ms.Readings),
		}
		sample.Months = append(sample.Months, summary)

		if len(ms.Readings) == 0 {
			log.Warn("month produced an empty sample", logging.String("month", summary.Label()), logging.Int("k", ms.K))
		}
		for _, r := range ms.Readings {
			sample.Rows = append(sample.Rows, models.SampleRow{Reading: r, Timestamp: r.Epoch()})
		}

		metrics.MonthsSampled.WithLabelValues(strconv.Itoa(ms.K)).Inc()
		metrics.SampledRows.Add(float64(len(ms.Readings)))
		log.Debug("month sampled",
			logging.String("month", summary.Label()),
			logging.Int("k", ms.K),
			logging.Int("eligible_days", ms.EligibleDays),
			logging.Int("sampled_days", ms.SampledDays),
			logging.Int("rows", len(ms.Readings)),
		)
	}

	log.Info("sample built",
		logging.Int("months", len(sample.Months)),
		logging.String("rows", humanize.Comma(int64(len(sample.Rows)))),
		logging.String("source_rows", humanize.Comma(int64(len(readings)))),
	)
	return sample, nil
}
