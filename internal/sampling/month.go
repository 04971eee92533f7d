package sampling

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/lox/cyclecounts/internal/models"
)

// MonthSample is the outcome of sampling one month.
type MonthSample struct {
	K            int
	Draw         int // site-days requested from the weighted draw, 0 when k=0
	SiteDays     int
	EligibleDays int
	SampledDays  int
	Readings     []models.Reading
}

type weightedDay struct {
	day    models.SiteDay
	weight int
}

// SampleMonth keeps every reading of the site-days selected for a month.
//
// With k=0 all site-days are kept and rng is not touched. Otherwise site-days
// with at least k readings are eligible and floor(TargetBudget/k) of them are
// drawn without replacement, weighted by their reading count. When the
// eligible population is no larger than the draw it is kept whole.
func SampleMonth(readings []models.Reading, k int, rng *rand.Rand) MonthSample {
	counts := SiteDayCounts(readings)

	eligible := make([]weightedDay, 0, len(counts))
	for day, n := range counts {
		if n >= k {
			eligible = append(eligible, weightedDay{day: day, weight: n})
		}
	}

	result := MonthSample{K: k, SiteDays: len(counts), EligibleDays: len(eligible)}

	var chosen []weightedDay
	switch {
	case k == 0:
		chosen = eligible
	default:
		result.Draw = TargetBudget / k
		if len(eligible) <= result.Draw {
			chosen = eligible
		} else {
			chosen = weightedDraw(eligible, result.Draw, rng)
		}
	}

	keep := make(map[models.SiteDay]struct{}, len(chosen))
	for _, c := range chosen {
		keep[c.day] = struct{}{}
	}
	result.SampledDays = len(keep)

	for _, r := range readings {
		if _, ok := keep[models.SiteDayOf(r)]; ok {
			result.Readings = append(result.Readings, r)
		}
	}
	return result
}

// weightedDraw picks n items without replacement with probability
// proportional to weight, using one exponential key per item
// (Efraimidis & Spirakis). Items are keyed in site-day order so a given
// rng state always selects the same days.
func weightedDraw(pop []weightedDay, n int, rng *rand.Rand) []weightedDay {
	sort.Slice(pop, func(i, j int) bool {
		if pop[i].day.SiteID != pop[j].day.SiteID {
			return pop[i].day.SiteID < pop[j].day.SiteID
		}
		return pop[i].day.Date < pop[j].day.Date
	})

	type keyed struct {
		item weightedDay
		key  float64
	}
	keys := make([]keyed, len(pop))
	for i, p := range pop {
		// 1-Float64 lies in (0, 1], so the log is finite.
		u := 1 - rng.Float64()
		keys[i] = keyed{item: p, key: math.Log(u) / float64(p.weight)}
	}
	sort.SliceStable(keys, func(i, j int) bool { return keys[i].key > keys[j].key })

	out := make([]weightedDay, n)
	for i := range out {
		out[i] = keys[i].item
	}
	return out
}
