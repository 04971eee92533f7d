package sampling

const (
	// TargetBudget is the approximate number of hourly readings wanted per month.
	TargetBudget = 1000
	// MaxThreshold caps k so that dense months still spread across many sites.
	MaxThreshold = 10
)

// ChooseK returns the minimum readings a site-day needs to be eligible this
// month. Zero means the month is below budget and everything is kept.
// The profile must not be empty.
func ChooseK(p Profile) int {
	if len(p) == 0 {
		panic("sampling: ChooseK called with empty profile")
	}

	if p.Total() < TargetBudget {
		return 0
	}

	if ten, ok := p.Row(MaxThreshold); ok && ten.Cumulative > TargetBudget {
		return MaxThreshold
	}

	for _, row := range p {
		if row.Cumulative >= TargetBudget {
			// Values above the cap clear budget at the cap too, since
			// cumulative volume only grows as the threshold drops.
			return min(row.Readings, MaxThreshold)
		}
	}

	// Unreachable: Total() >= TargetBudget guarantees a hit on the last row.
	return 0
}
