// Package sampling builds a day-site balanced monthly sample of hourly
// cycle counts with an approximately constant row budget per month.
package sampling

import (
	"sort"

	"github.com/lox/cyclecounts/internal/models"
)

// ProfileRow describes all site-days in a month that have exactly Readings
// hourly readings.
type ProfileRow struct {
	Readings   int
	SiteDays   int
	Volume     int // Readings * SiteDays
	Cumulative int // Volume summed over this row and every row above it
}

// Profile is ordered by Readings, highest first.
type Profile []ProfileRow

// Total returns the number of readings in the month.
func (p Profile) Total() int {
	if len(p) == 0 {
		return 0
	}
	return p[len(p)-1].Cumulative
}

// Row returns the row for an exact readings-per-site-day value.
func (p Profile) Row(readings int) (ProfileRow, bool) {
	for _, r := range p {
		if r.Readings == readings {
			return r, true
		}
	}
	return ProfileRow{}, false
}

func SiteDayCounts(readings []models.Reading) map[models.SiteDay]int {
	counts := make(map[models.SiteDay]int)
	for _, r := range readings {
		counts[models.SiteDayOf(r)]++
	}
	return counts
}

// BuildProfile tabulates the readings-per-site-day distribution of one month.
func BuildProfile(readings []models.Reading) Profile {
	return profileFromCounts(SiteDayCounts(readings))
}

func profileFromCounts(counts map[models.SiteDay]int) Profile {
	byValue := make(map[int]int)
	for _, n := range counts {
		byValue[n]++
	}

	profile := make(Profile, 0, len(byValue))
	for value, days := range byValue {
		profile = append(profile, ProfileRow{Readings: value, SiteDays: days, Volume: value * days})
	}
	sort.Slice(profile, func(i, j int) bool { return profile[i].Readings > profile[j].Readings })

	running := 0
	for i := range profile {
		running += profile[i].Volume
		profile[i].Cumulative = running
	}
	return profile
}
