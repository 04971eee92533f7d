package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cyclecounts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 2015, cfg.FirstYear)
	assert.Equal(t, 2022, cfg.LastYear)
	assert.Equal(t, "Europe/London", cfg.Timezone)
	assert.Equal(t, 1000, cfg.Weather.BatchSize)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
database: /var/lib/cyclecounts.db
first_year: 2018
sources:
  - type: central
    dir: data/central
  - type: strat
    ftp:
      addr: ftp.example.org:21
      dir: /counts/strat
      timeout: 45s
weather:
  requests_per_minute: 20
logging:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/var/lib/cyclecounts.db", cfg.Database)
	assert.Equal(t, 2018, cfg.FirstYear)
	assert.Equal(t, 2022, cfg.LastYear, "default kept")
	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, "data/central", cfg.Sources[0].Dir)
	require.NotNil(t, cfg.Sources[1].FTP)
	assert.Equal(t, 45*time.Second, cfg.Sources[1].FTP.Timeout)
	assert.Equal(t, 20, cfg.Weather.RequestsPerMinute)
	assert.Equal(t, 1000, cfg.Weather.BatchSize, "default kept")
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "first_year: [nope"))
	assert.ErrorContains(t, err, "parse")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Timezone = "Mars/Olympus"
	cfg.FirstYear = 2023
	cfg.Sources = []SourceConfig{
		{Type: "rental", Dir: "x"},
		{Type: "strat"},
		{Type: "central", FTP: &FTPConfig{}},
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"timezone", "first_year", "unknown type", "exactly one of dir or ftp", "ftp.addr"} {
		assert.ErrorContains(t, err, want)
	}
}
