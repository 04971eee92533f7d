// Package counts reads the published 15-minute cycle count releases and
// turns them into hourly readings per site.
package counts

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	colSite  = "UnqID"
	colDate  = "Date"
	colTime  = "Time"
	colDir   = "Dir"
	colMode  = "Mode"
	colCount = "Count"

	timestampLayout = "02/01/2006 15:04:05"
)

var requiredColumns = []string{colSite, colDate, colTime, colDir, colMode, colCount}

// motorModes are vehicle classes recorded alongside cycles that are not
// part of the cycling count.
var motorModes = map[string]bool{
	"Coaches":               true,
	"Buses":                 true,
	"Taxis":                 true,
	"Motorcycles":           true,
	"Medium goods vehicles": true,
	"Light goods vehicles":  true,
	"Heavy goods vehicles":  true,
	"Cars":                  true,
}

// RawCount is a single 15-minute row from a release file.
type RawCount struct {
	SiteID     string
	Direction  string
	Mode       string
	Time       time.Time
	Count      int
	SourceType string
}

type ParseStats struct {
	Rows      int
	Kept      int
	Motor     int
	Malformed int
}

// File is one parsed release file.
type File struct {
	Name    string
	Header  []string
	Records []RawCount
	Stats   ParseStats
}

var ErrMissingColumn = errors.New("missing required column")

// ParseFile reads a release CSV. Timestamps are interpreted in loc.
// Rows that cannot be parsed are counted in Stats.Malformed and skipped.
func ParseFile(r io.Reader, name, sourceType string, loc *time.Location) (*File, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: read header: %w", name, err)
	}
	header = normalizeHeader(header)

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("%s: %w %q", name, ErrMissingColumn, col)
		}
	}

	file := &File{Name: name, Header: header}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				file.Stats.Rows++
				file.Stats.Malformed++
				continue
			}
			return nil, fmt.Errorf("%s: read row: %w", name, err)
		}
		file.Stats.Rows++

		field := func(col string) string {
			i := idx[col]
			if i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		mode := field(colMode)
		if motorModes[mode] {
			file.Stats.Motor++
			continue
		}

		ts, err := time.ParseInLocation(timestampLayout, field(colDate)+" "+field(colTime), loc)
		if err != nil {
			file.Stats.Malformed++
			continue
		}
		count, ok := parseCount(field(colCount))
		site := field(colSite)
		if !ok || site == "" {
			file.Stats.Malformed++
			continue
		}

		file.Records = append(file.Records, RawCount{
			SiteID:     site,
			Direction:  field(colDir),
			Mode:       mode,
			Time:       ts,
			Count:      count,
			SourceType: sourceType,
		})
		file.Stats.Kept++
	}
	return file, nil
}

func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	return out
}

// parseCount accepts integer counts, including ones written as "3.0".
func parseCount(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, n >= 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// CheckConsistency reports an error unless every file has the same columns,
// in the same order, as the first.
func CheckConsistency(files []*File) error {
	if len(files) == 0 {
		return nil
	}
	first := files[0]
	for _, f := range files[1:] {
		if !slices.Equal(first.Header, f.Header) {
			return fmt.Errorf("inconsistent columns: %s has %v, %s has %v", first.Name, first.Header, f.Name, f.Header)
		}
	}
	return nil
}
