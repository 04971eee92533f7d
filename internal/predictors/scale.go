package predictors

import (
	"database/sql"
	"math"
	"slices"
)

// Standardise returns a copy of rows with the named numeric predictors
// transformed for regression. Wind speed is square-rooted then z-scored,
// temperature z-scored, adjusted rain cube-rooted then min-max scaled, and
// clouds and visibility min-max scaled. Nulls are left null and ignored when
// fitting. A constant column scales to 0.
func Standardise(rows []Row, predictors []string) []Row {
	out := slices.Clone(rows)
	has := func(name string) bool { return slices.Contains(predictors, name) }

	if has("wind_speed") {
		transform(out, func(r *Row) *sql.NullFloat64 { return &r.WindSpeed }, math.Sqrt, zScore)
	}
	if has("temp") {
		transform(out, func(r *Row) *sql.NullFloat64 { return &r.Temp }, nil, zScore)
	}
	if has("rain_adj") {
		transform(out, func(r *Row) *sql.NullFloat64 { return &r.RainAdjusted }, math.Cbrt, minMax)
	}
	if has("clouds") {
		transform(out, func(r *Row) *sql.NullFloat64 { return &r.Clouds }, nil, minMax)
	}
	if has("visibility") {
		transform(out, func(r *Row) *sql.NullFloat64 { return &r.Visibility }, nil, minMax)
	}
	return out
}

type scaler func(values []float64) func(float64) float64

func transform(rows []Row, field func(*Row) *sql.NullFloat64, pre func(float64) float64, fit scaler) {
	var values []float64
	for i := range rows {
		f := field(&rows[i])
		if !f.Valid {
			continue
		}
		if pre != nil {
			f.Float64 = pre(f.Float64)
		}
		values = append(values, f.Float64)
	}
	if len(values) == 0 {
		return
	}
	scale := fit(values)
	for i := range rows {
		if f := field(&rows[i]); f.Valid {
			f.Float64 = scale(f.Float64)
		}
	}
}

// zScore uses the population standard deviation.
func zScore(values []float64) func(float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	std := math.Sqrt(ss / float64(len(values)))
	if std == 0 {
		return func(float64) float64 { return 0 }
	}
	return func(v float64) float64 { return (v - mean) / std }
}

func minMax(values []float64) func(float64) float64 {
	lo, hi := slices.Min(values), slices.Max(values)
	if hi == lo {
		return func(float64) float64 { return 0 }
	}
	return func(v float64) float64 { return (v - lo) / (hi - lo) }
}
