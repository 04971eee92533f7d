package counts

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lox/cyclecounts/internal/models"
)

// ParseLocations reads the count locations release, keyed by site id.
func ParseLocations(r io.Reader) (map[string]models.Site, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read locations header: %w", err)
	}
	header = normalizeHeader(header)
	idx := make(map[string]int)
	for i, h := range header {
		idx[h] = i
	}
	for _, col := range []string{"Site ID", "Latitude", "Longitude"} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("locations: %w %q", ErrMissingColumn, col)
		}
	}

	sites := make(map[string]models.Site)
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("locations line %d: %w", line, err)
		}
		get := func(col string) string {
			if i := idx[col]; i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}
		id := get("Site ID")
		if id == "" {
			continue
		}
		lat, err := strconv.ParseFloat(get("Latitude"), 64)
		if err != nil {
			return nil, fmt.Errorf("locations line %d: latitude: %w", line, err)
		}
		lon, err := strconv.ParseFloat(get("Longitude"), 64)
		if err != nil {
			return nil, fmt.Errorf("locations line %d: longitude: %w", line, err)
		}
		sites[id] = models.Site{SiteID: id, Latitude: lat, Longitude: lon}
	}
	return sites, nil
}

type hourKey struct {
	site string
	hour int64
}

// HourlyStats reports what aggregation dropped.
type HourlyStats struct {
	Readings       int
	UnknownSites   int // raw rows whose site has no location
	MissingSiteIDs []string
}

// Hourly sums 15-minute counts across directions into one reading per site
// and hour, attaching site coordinates. The result is ordered by site then
// time, so there is exactly one reading per (site, hour).
func Hourly(raw []RawCount, sites map[string]models.Site) ([]models.Reading, HourlyStats) {
	var stats HourlyStats
	missing := make(map[string]bool)

	sums := make(map[hourKey]*models.Reading)
	for _, rc := range raw {
		site, ok := sites[rc.SiteID]
		if !ok {
			stats.UnknownSites++
			missing[rc.SiteID] = true
			continue
		}

		t := rc.Time
		hour := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
		key := hourKey{site: rc.SiteID, hour: hour.Unix()}
		if r, ok := sums[key]; ok {
			r.Count += rc.Count
			continue
		}
		sums[key] = &models.Reading{
			SiteID:     rc.SiteID,
			Time:       hour,
			Latitude:   site.Latitude,
			Longitude:  site.Longitude,
			Count:      rc.Count,
			SourceType: rc.SourceType,
		}
	}

	readings := make([]models.Reading, 0, len(sums))
	for _, r := range sums {
		readings = append(readings, *r)
	}
	sort.Slice(readings, func(i, j int) bool {
		if readings[i].SiteID != readings[j].SiteID {
			return readings[i].SiteID < readings[j].SiteID
		}
		return readings[i].Time.Before(readings[j].Time)
	})

	for id := range missing {
		stats.MissingSiteIDs = append(stats.MissingSiteIDs, id)
	}
	sort.Strings(stats.MissingSiteIDs)
	stats.Readings = len(readings)
	return readings, stats
}
