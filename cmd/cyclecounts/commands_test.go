package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/cyclecounts/internal/config"
	"github.com/lox/cyclecounts/internal/counts"
	"github.com/lox/cyclecounts/internal/models"
	"github.com/lox/cyclecounts/internal/sampling"
)

func TestWriteProfile(t *testing.T) {
	var readings []models.Reading
	day := time.Date(2020, time.March, 2, 0, 0, 0, 0, time.UTC)
	for site, n := range map[string]int{"A": 3, "B": 3, "C": 1} {
		for h := range n {
			readings = append(readings, models.Reading{SiteID: site, Time: day.Add(time.Duration(h) * time.Hour), Count: 1})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, writeProfile(&buf, sampling.BuildProfile(readings)))
	out := buf.String()
	assert.Contains(t, out, "cumulative")
	assert.Contains(t, out, "total 7, k = 0")
}

func TestInputs(t *testing.T) {
	got := inputs([]config.SourceConfig{
		{Type: models.SourceCentral, Dir: "data/central"},
		{Type: models.SourceStrat, FTP: &config.FTPConfig{Addr: "ftp.example.org:21", Dir: "/strat", Timeout: time.Minute}},
	}, "hunter2")

	require.Len(t, got, 2)
	assert.Equal(t, counts.DirSource{Dir: "data/central"}, got[0].Source)
	assert.Equal(t, models.SourceStrat, got[1].SourceType)
	assert.Equal(t, counts.FTPSource{Addr: "ftp.example.org:21", Password: "hunter2", Dir: "/strat", Timeout: time.Minute}, got[1].Source)
}
