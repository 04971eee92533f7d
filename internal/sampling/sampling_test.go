package sampling

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/cyclecounts/internal/models"
)

// siteDay returns n hourly readings for a site starting at 06:00.
func siteDay(site string, date time.Time, n int) []models.Reading {
	out := make([]models.Reading, 0, n)
	for h := 0; h < n; h++ {
		out = append(out, models.Reading{
			SiteID:     site,
			Time:       time.Date(date.Year(), date.Month(), date.Day(), 6+h, 0, 0, 0, date.Location()),
			Latitude:   51.5,
			Longitude:  -0.12,
			Count:      10 + h,
			SourceType: models.SourceStrat,
		})
	}
	return out
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// makeProfile builds a profile from (readings, site-days) pairs given in
// descending readings order.
func makeProfile(pairs ...[2]int) Profile {
	p := make(Profile, 0, len(pairs))
	running := 0
	for _, pr := range pairs {
		vol := pr[0] * pr[1]
		running += vol
		p = append(p, ProfileRow{Readings: pr[0], SiteDays: pr[1], Volume: vol, Cumulative: running})
	}
	return p
}

// denseMonth has 150 site-days in June 2022 with 10 to 12 readings each.
func denseMonth() []models.Reading {
	var readings []models.Reading
	for i := 0; i < 150; i++ {
		readings = append(readings, siteDay(fmt.Sprintf("S%02d", i%30), day(2022, time.June, 1+i/30), 10+i%3)...)
	}
	return readings
}

func TestBuildProfile(t *testing.T) {
	var readings []models.Reading
	readings = append(readings, siteDay("A", day(2022, time.May, 1), 16)...)
	readings = append(readings, siteDay("B", day(2022, time.May, 1), 10)...)
	readings = append(readings, siteDay("B", day(2022, time.May, 2), 10)...)
	readings = append(readings, siteDay("C", day(2022, time.May, 3), 3)...)

	got := BuildProfile(readings)
	want := Profile{
		{Readings: 16, SiteDays: 1, Volume: 16, Cumulative: 16},
		{Readings: 10, SiteDays: 2, Volume: 20, Cumulative: 36},
		{Readings: 3, SiteDays: 1, Volume: 3, Cumulative: 39},
	}
	assert.Equal(t, want, got)
	assert.Equal(t, len(readings), got.Total())
}

func TestBuildProfile_SingleValue(t *testing.T) {
	var readings []models.Reading
	for d := 1; d <= 4; d++ {
		readings = append(readings, siteDay("A", day(2022, time.March, d), 8)...)
	}

	got := BuildProfile(readings)
	require.Len(t, got, 1)
	assert.Equal(t, 8, got[0].Readings)
	assert.Equal(t, 4, got[0].SiteDays)
	assert.Equal(t, got[0].Volume, got[0].Cumulative)
}

func TestBuildProfile_Idempotent(t *testing.T) {
	readings := denseMonth()
	assert.Equal(t, BuildProfile(readings), BuildProfile(readings))
}

func TestSiteDayCounts_SplitsByLocalDate(t *testing.T) {
	loc, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)

	readings := []models.Reading{
		{SiteID: "A", Time: time.Date(2022, time.July, 1, 23, 0, 0, 0, loc)},
		{SiteID: "A", Time: time.Date(2022, time.July, 2, 0, 0, 0, 0, loc)},
		{SiteID: "A", Time: time.Date(2022, time.July, 2, 1, 0, 0, 0, loc)},
	}
	counts := SiteDayCounts(readings)
	assert.Equal(t, 1, counts[models.SiteDay{SiteID: "A", Date: "2022-07-01"}])
	assert.Equal(t, 2, counts[models.SiteDay{SiteID: "A", Date: "2022-07-02"}])
}

func TestChooseK(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		want    int
	}{
		{
			name:    "sparse month takes everything",
			profile: makeProfile([2]int{16, 5}, [2]int{10, 20}, [2]int{8, 40}),
			want:    0,
		},
		{
			name:    "total just under budget",
			profile: makeProfile([2]int{9, 111}),
			want:    0,
		},
		{
			name:    "cap at ten when ten clears budget",
			profile: makeProfile([2]int{16, 50}, [2]int{10, 70}, [2]int{4, 10}),
			want:    10,
		},
		{
			name:    "cap at ten even when higher rows clear budget alone",
			profile: makeProfile([2]int{16, 70}, [2]int{10, 38}),
			want:    10,
		},
		{
			name:    "scan to first cumulative reaching budget",
			profile: makeProfile([2]int{16, 3}, [2]int{12, 10}, [2]int{9, 50}, [2]int{7, 80}),
			want:    7,
		},
		{
			name:    "ten exactly at budget is found by the scan",
			profile: makeProfile([2]int{10, 100}, [2]int{5, 10}),
			want:    10,
		},
		{
			name:    "scan stops on exact budget",
			profile: makeProfile([2]int{12, 50}, [2]int{8, 50}, [2]int{2, 100}),
			want:    8,
		},
		{
			name:    "no row at ten but higher values clear budget",
			profile: makeProfile([2]int{16, 70}, [2]int{8, 10}),
			want:    10,
		},
		{
			name:    "single row above budget",
			profile: makeProfile([2]int{6, 400}),
			want:    6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChooseK(tt.profile)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, 0)
			assert.LessOrEqual(t, got, MaxThreshold)
		})
	}
}

func TestChooseK_EmptyProfilePanics(t *testing.T) {
	assert.Panics(t, func() { ChooseK(Profile{}) })
}

func TestSampleMonth_KZeroKeepsEverything(t *testing.T) {
	var readings []models.Reading
	readings = append(readings, siteDay("A", day(2022, time.January, 3), 4)...)
	readings = append(readings, siteDay("B", day(2022, time.January, 4), 2)...)

	// A nil rng would panic if the sampler tried to draw.
	got := SampleMonth(readings, 0, nil)
	assert.Equal(t, readings, got.Readings)
	assert.Equal(t, 2, got.SiteDays)
	assert.Equal(t, 2, got.EligibleDays)
	assert.Equal(t, 2, got.SampledDays)
	assert.Zero(t, got.Draw)
}

func TestSampleMonth_SmallPopulationTakenWhole(t *testing.T) {
	var readings, want []models.Reading
	for d := 1; d <= 5; d++ {
		rs := siteDay("A", day(2022, time.April, d), 12)
		readings = append(readings, rs...)
		want = append(want, rs...)
	}
	readings = append(readings, siteDay("B", day(2022, time.April, 1), 9)...)

	got := SampleMonth(readings, 10, nil)
	assert.Equal(t, 100, got.Draw)
	assert.Equal(t, 6, got.SiteDays)
	assert.Equal(t, 5, got.EligibleDays)
	assert.Equal(t, want, got.Readings)
}

func TestSampleMonth_DrawsBudgetedSiteDays(t *testing.T) {
	readings := denseMonth()
	counts := SiteDayCounts(readings)
	require.Len(t, counts, 150)

	got := SampleMonth(readings, 10, rand.New(rand.NewPCG(1, 2)))
	assert.Equal(t, 100, got.Draw)
	assert.Equal(t, 150, got.EligibleDays)
	assert.Equal(t, 100, got.SampledDays)

	// Every sampled site-day is present in full.
	sampled := SiteDayCounts(got.Readings)
	assert.Len(t, sampled, 100)
	for d, n := range sampled {
		assert.Equal(t, counts[d], n, "site-day %s partially sampled", d)
	}
	assert.GreaterOrEqual(t, len(got.Readings), TargetBudget)
}

func TestSampleMonth_SameSeedSameSample(t *testing.T) {
	readings := denseMonth()
	shuffled := append([]models.Reading(nil), readings...)
	rand.New(rand.NewPCG(9, 9)).Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	a := SampleMonth(readings, 10, rand.New(rand.NewPCG(7, 7)))
	b := SampleMonth(shuffled, 10, rand.New(rand.NewPCG(7, 7)))
	assert.Equal(t, SiteDayCounts(a.Readings), SiteDayCounts(b.Readings))
}

func TestWeightedDraw_FavoursHeavySiteDays(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 42))
	heavy := models.SiteDay{SiteID: "H", Date: "2022-01-01"}
	light := models.SiteDay{SiteID: "L", Date: "2022-01-01"}

	heavyWins := 0
	const trials = 2000
	for i := 0; i < trials; i++ {
		pop := []weightedDay{{day: light, weight: 1}, {day: heavy, weight: 19}}
		if weightedDraw(pop, 1, rng)[0].day == heavy {
			heavyWins++
		}
	}
	// Expected share is 0.95.
	assert.Greater(t, heavyWins, trials*90/100)
	assert.Less(t, heavyWins, trials)
}

func TestWeightedDraw_NoDuplicates(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	var pop []weightedDay
	for i := 0; i < 50; i++ {
		pop = append(pop, weightedDay{day: models.SiteDay{SiteID: "S", Date: day(2022, time.May, 1).AddDate(0, 0, i).Format(time.DateOnly)}, weight: 1 + i%5})
	}
	got := weightedDraw(pop, 20, rng)
	require.Len(t, got, 20)

	seen := make(map[models.SiteDay]bool)
	for _, w := range got {
		assert.False(t, seen[w.day], "duplicate %s", w.day)
		seen[w.day] = true
	}
}
