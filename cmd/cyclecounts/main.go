package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "modernc.org/sqlite"

	"github.com/lox/cyclecounts/internal/config"
	"github.com/lox/cyclecounts/internal/logging"
	"github.com/lox/cyclecounts/internal/store"
)

type Globals struct {
	Config      string `help:"Path to YAML config file." type:"path" env:"CYCLECOUNTS_CONFIG"`
	DB          string `help:"SQLite database path, overriding the config." type:"path"`
	LogLevel    string `help:"Log level (debug, info, warn, error), overriding the config."`
	MetricsAddr string `help:"Serve Prometheus metrics on this address while running."`
}

type CLI struct {
	Globals

	Load    LoadCmd    `cmd:"" help:"Read count releases, aggregate hourly and store readings."`
	Profile ProfileCmd `cmd:"" help:"Print the readings-per-site-day profile of a month and its threshold."`
	Sample  SampleCmd  `cmd:"" help:"Build and store a stratified sample."`
	Enrich  EnrichCmd  `cmd:"" help:"Look up weather for the rows of a sample."`
	Prepare PrepareCmd `cmd:"" help:"Derive predictors for a sample and export them."`
	Design  DesignCmd  `cmd:"" help:"Export a one-hot regression design matrix for a sample."`
}

// App carries what every command needs once configuration is resolved.
type App struct {
	ctx   context.Context
	cfg   *config.Config
	log   logging.Logger
	store *store.Store
	loc   *time.Location
}

func main() {
	for _, f := range []string{".env.local", ".env"} {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "load %s: %v\n", f, err)
			os.Exit(1)
		}
	}

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("cyclecounts"),
		kong.Description("Stratified sampling and weather enrichment of cycling counts."),
		kong.UsageOnError(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, cleanup, err := setup(ctx, cli.Globals)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cyclecounts: %v\n", err)
		os.Exit(1)
	}
	err = kctx.Run(app)
	cleanup()
	kctx.FatalIfErrorf(err)
}

func setup(ctx context.Context, g Globals) (*App, func(), error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, nil, err
	}
	if g.DB != "" {
		cfg.Database = g.DB
	}
	if g.LogLevel != "" {
		cfg.Logging.Level = g.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}

	db, err := sql.Open("sqlite", cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db, loc, log)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}

	var srv *http.Server
	if g.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv = &http.Server{Addr: g.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", logging.Err(err))
			}
		}()
		log.Info("serving metrics", logging.String("addr", g.MetricsAddr))
	}

	cleanup := func() {
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}
		db.Close()
		log.Sync()
	}
	return &App{ctx: ctx, cfg: cfg, log: log, store: st, loc: loc}, cleanup, nil
}
