package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lox/cyclecounts/internal/logging"
	"github.com/lox/cyclecounts/internal/models"
	"github.com/lox/cyclecounts/internal/weather"
)

// Config is the pipeline configuration file.
type Config struct {
	Database  string         `yaml:"database"`
	Timezone  string         `yaml:"timezone"`
	FirstYear int            `yaml:"first_year"`
	LastYear  int            `yaml:"last_year"`
	Locations string         `yaml:"locations"`
	Sources   []SourceConfig `yaml:"sources"`
	Sampling  SamplingConfig `yaml:"sampling"`
	Weather   WeatherConfig  `yaml:"weather"`
	Logging   logging.Config `yaml:"logging"`
}

// SourceConfig locates one family of count releases, either a local
// directory or a directory on an FTP server.
type SourceConfig struct {
	Type string     `yaml:"type"`
	Dir  string     `yaml:"dir"`
	FTP  *FTPConfig `yaml:"ftp"`
}

// FTPConfig holds FTP connection settings. The password is read from the
// FTP_PASSWORD environment variable.
type FTPConfig struct {
	Addr    string        `yaml:"addr"`
	User    string        `yaml:"user"`
	Dir     string        `yaml:"dir"`
	Timeout time.Duration `yaml:"timeout"`
}

type SamplingConfig struct {
	Workers int `yaml:"workers"`
}

type WeatherConfig struct {
	BaseURL           string `yaml:"base_url"`
	BatchSize         int    `yaml:"batch_size"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
}

func Default() *Config {
	return &Config{
		Database:  "cyclecounts.db",
		Timezone:  "Europe/London",
		FirstYear: 2015,
		LastYear:  2022,
		Locations: "data/monitoring-locations.csv",
		Sampling:  SamplingConfig{Workers: 4},
		Weather: WeatherConfig{
			BaseURL:           weather.DefaultBaseURL,
			BatchSize:         weather.DefaultBatchSize,
			RequestsPerMinute: weather.DefaultRequestsPerMinute,
		},
		Logging: logging.Config{Level: "info"},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

var sourceTypes = []string{models.SourceCentral, models.SourceStrat, models.SourceCycleway}

func (c *Config) Validate() error {
	var errs []error
	if c.Database == "" {
		errs = append(errs, errors.New("database is required"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if c.FirstYear > c.LastYear {
		errs = append(errs, fmt.Errorf("first_year %d is after last_year %d", c.FirstYear, c.LastYear))
	}
	for i, s := range c.Sources {
		if !slices.Contains(sourceTypes, s.Type) {
			errs = append(errs, fmt.Errorf("sources[%d]: unknown type %q", i, s.Type))
		}
		if (s.Dir == "") == (s.FTP == nil) {
			errs = append(errs, fmt.Errorf("sources[%d]: exactly one of dir or ftp is required", i))
		}
		if s.FTP != nil && s.FTP.Addr == "" {
			errs = append(errs, fmt.Errorf("sources[%d]: ftp.addr is required", i))
		}
	}
	if c.Sampling.Workers < 0 {
		errs = append(errs, errors.New("sampling.workers must not be negative"))
	}
	if c.Weather.BatchSize <= 0 {
		errs = append(errs, errors.New("weather.batch_size must be positive"))
	}
	return errors.Join(errs...)
}

// Location returns the zone count timestamps are recorded in.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}
