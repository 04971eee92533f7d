package main

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lox/cyclecounts/internal/config"
	"github.com/lox/cyclecounts/internal/counts"
	"github.com/lox/cyclecounts/internal/export"
	"github.com/lox/cyclecounts/internal/logging"
	"github.com/lox/cyclecounts/internal/models"
	"github.com/lox/cyclecounts/internal/predictors"
	"github.com/lox/cyclecounts/internal/sampling"
	"github.com/lox/cyclecounts/internal/weather"
)

type LoadCmd struct {
	Locations       string `help:"Monitoring locations CSV, overriding the config." type:"path"`
	SkipConsistency bool   `help:"Allow releases whose columns differ."`
	FTPPassword     string `help:"Password for FTP sources." env:"FTP_PASSWORD"`
}

func (c *LoadCmd) Run(app *App) error {
	path := app.cfg.Locations
	if c.Locations != "" {
		path = c.Locations
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open locations: %w", err)
	}
	sites, err := counts.ParseLocations(f)
	f.Close()
	if err != nil {
		return err
	}
	if len(app.cfg.Sources) == 0 {
		return fmt.Errorf("no sources configured")
	}

	loader := &counts.Loader{
		Inputs:               inputs(app.cfg.Sources, c.FTPPassword),
		Location:             app.loc,
		Logger:               app.log,
		SkipConsistencyCheck: c.SkipConsistency,
	}
	readings, _, err := loader.Load(app.ctx, sites)
	if err != nil {
		return err
	}

	siteList := make([]models.Site, 0, len(sites))
	for _, s := range sites {
		siteList = append(siteList, s)
	}
	if err := app.store.UpsertSites(siteList); err != nil {
		return fmt.Errorf("store sites: %w", err)
	}
	n, err := app.store.InsertReadings(readings)
	if err != nil {
		return fmt.Errorf("store readings: %w", err)
	}
	app.log.Info("readings stored",
		logging.String("new", humanize.Comma(n)),
		logging.String("existing", humanize.Comma(int64(len(readings))-n)),
	)
	return nil
}

func inputs(sources []config.SourceConfig, ftpPassword string) []counts.Input {
	out := make([]counts.Input, 0, len(sources))
	for _, s := range sources {
		var src counts.Source = counts.DirSource{Dir: s.Dir}
		if s.FTP != nil {
			src = counts.FTPSource{
				Addr:     s.FTP.Addr,
				User:     s.FTP.User,
				Password: ftpPassword,
				Dir:      s.FTP.Dir,
				Timeout:  s.FTP.Timeout,
			}
		}
		out = append(out, counts.Input{SourceType: s.Type, Source: src})
	}
	return out
}

type ProfileCmd struct {
	Month string `help:"Month to profile (YYYY-MM)." required:""`
}

func (c *ProfileCmd) Run(app *App) error {
	m, err := time.Parse("2006-01", c.Month)
	if err != nil {
		return fmt.Errorf("invalid month %q: %w", c.Month, err)
	}
	readings, err := app.store.GetMonthReadings(m.Year(), m.Month())
	if err != nil {
		return err
	}
	if len(readings) == 0 {
		return fmt.Errorf("no readings for %s", c.Month)
	}
	return writeProfile(os.Stdout, sampling.BuildProfile(readings))
}

func writeProfile(w io.Writer, p sampling.Profile) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "readings\tsite-days\tvolume\tcumulative\t")
	for _, row := range p {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t\n", row.Readings,
			humanize.Comma(int64(row.SiteDays)), humanize.Comma(int64(row.Volume)), humanize.Comma(int64(row.Cumulative)))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\ntotal %s, k = %d\n", humanize.Comma(int64(p.Total())), sampling.ChooseK(p))
	return err
}

type SampleCmd struct {
	Seed    uint64 `help:"Seed for a reproducible draw. Zero draws from fresh entropy."`
	Workers int    `help:"Months sampled concurrently, overriding the config."`
	Out     string `help:"Also write the sample to this CSV file." type:"path"`
}

func (c *SampleCmd) Run(app *App) error {
	first, last := app.cfg.FirstYear, app.cfg.LastYear
	readings, err := app.store.GetReadings(first, last)
	if err != nil {
		return err
	}

	workers := app.cfg.Sampling.Workers
	if c.Workers > 0 {
		workers = c.Workers
	}
	b := &sampling.Builder{FirstYear: first, LastYear: last, Workers: workers, Logger: app.log}
	run := models.SampleRun{FirstYear: first, LastYear: last}
	if c.Seed != 0 {
		b.Rand = sampling.SeededRandSource(c.Seed)
		run.Seed = sql.NullInt64{Int64: int64(c.Seed), Valid: true}
	}

	sample, err := b.Build(app.ctx, readings)
	if err != nil {
		return err
	}
	id, err := app.store.SaveSample(run, sample.Months, sample.Rows)
	if err != nil {
		return fmt.Errorf("save sample: %w", err)
	}
	fmt.Println(id)

	if c.Out == "" {
		return nil
	}
	return writeFile(c.Out, func(w io.Writer) error { return export.WriteSample(w, sample.Rows) })
}

type EnrichCmd struct {
	RunID       string `name:"run" help:"Sample run id. Defaults to the latest run."`
	BatchSize   int    `help:"Lookups per checkpointed batch, overriding the config."`
	RetryFailed bool   `help:"Refetch rows whose earlier lookup failed."`
	APIKey      string `name:"api-key" help:"OpenWeather API key." env:"OWM_API_KEY" required:""`
}

func (c *EnrichCmd) Run(app *App) error {
	runID, err := resolveRun(app, c.RunID)
	if err != nil {
		return err
	}
	batch := app.cfg.Weather.BatchSize
	if c.BatchSize > 0 {
		batch = c.BatchSize
	}

	client := weather.NewClient(c.APIKey, weather.Options{
		BaseURL:           app.cfg.Weather.BaseURL,
		RequestsPerMinute: app.cfg.Weather.RequestsPerMinute,
	})
	e := &weather.Enricher{
		Store:       app.store,
		Fetcher:     client,
		BatchSize:   batch,
		RetryFailed: c.RetryFailed,
		Logger:      app.log,
	}
	stats, err := e.Run(app.ctx, runID)
	if err != nil {
		return err
	}
	app.log.Info("enrichment complete",
		logging.String("run_id", runID),
		logging.Int("batches", stats.Batches),
		logging.String("stored", humanize.Comma(int64(stats.Stored))),
		logging.Int("failures", stats.Failures),
	)
	return nil
}

type PrepareCmd struct {
	RunID       string `name:"run" help:"Sample run id. Defaults to the latest run."`
	Out         string `help:"CSV file to write." type:"path" required:""`
	Standardise bool   `help:"Scale wind, temperature, rain, clouds and visibility."`
}

func (c *PrepareCmd) Run(app *App) error {
	rows, err := prepared(app, c.RunID)
	if err != nil {
		return err
	}
	if c.Standardise {
		rows = predictors.Standardise(rows, scaledPredictors)
	}
	return writeFile(c.Out, func(w io.Writer) error { return export.WritePrepared(w, rows) })
}

var scaledPredictors = []string{"wind_speed", "temp", "rain_adj", "clouds", "visibility"}

type DesignCmd struct {
	RunID       string   `name:"run" help:"Sample run id. Defaults to the latest run."`
	Out         string   `help:"CSV file to write." type:"path" required:""`
	Numeric     []string `help:"Numeric predictors." default:"temp,wind_speed,rain_adj,clouds,visibility"`
	Categorical []string `help:"Categorical predictors, one-hot encoded." default:"darkness,combined_descr,hour"`
}

func (c *DesignCmd) Run(app *App) error {
	rows, err := prepared(app, c.RunID)
	if err != nil {
		return err
	}
	rows = predictors.Standardise(rows, c.Numeric)
	m, err := predictors.DesignMatrix(rows, c.Numeric, c.Categorical)
	if err != nil {
		return err
	}
	app.log.Info("design matrix built",
		logging.Int("rows", len(m.X)),
		logging.Int("columns", len(m.Columns)),
		logging.Int("dropped", m.Dropped),
		logging.String("predictors", strings.Join(slices.Concat(c.Numeric, c.Categorical), ",")),
	)
	return writeFile(c.Out, func(w io.Writer) error { return export.WriteDesign(w, m) })
}

func prepared(app *App, runID string) ([]predictors.Row, error) {
	id, err := resolveRun(app, runID)
	if err != nil {
		return nil, err
	}
	rows, err := app.store.GetSampleRows(id)
	if err != nil {
		return nil, err
	}
	lookups, err := app.store.GetWeather(id)
	if err != nil {
		return nil, err
	}
	if missing := len(rows) - len(lookups); missing > 0 {
		app.log.Warn("sample rows without weather", logging.Int("rows", missing))
	}
	return predictors.Prepare(rows, lookups), nil
}

func resolveRun(app *App, id string) (string, error) {
	if id != "" {
		run, err := app.store.GetSampleRun(id)
		if err != nil {
			return "", fmt.Errorf("sample run %s: %w", id, err)
		}
		return run.ID, nil
	}
	run, err := app.store.LatestSampleRun()
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
