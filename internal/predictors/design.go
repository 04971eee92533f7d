package predictors

import (
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// MaxNullFraction is the share of nulls a predictor may carry before the
// design matrix is refused.
const MaxNullFraction = 0.01

var (
	ErrTooManyNulls     = errors.New("too many null values")
	ErrUnknownPredictor = errors.New("unknown predictor")
)

// Numeric and categorical predictor names.
var (
	NumericPredictors     = []string{"temp", "wind_speed", "wind_deg", "visibility", "clouds", "rain", "rain_adj", "hour"}
	CategoricalPredictors = []string{"darkness", "main_descr", "main_descr_adj", "combined_descr", "detail_descr", "source_type", "site_id", "hour"}
)

// Matrix is a regression design: one row per complete observation, Y the
// cycling count.
type Matrix struct {
	Columns []string
	X       [][]float64
	Y       []float64
	// Dropped counts rows removed for having a null predictor.
	Dropped int
}

func (r Row) numeric(name string) (sql.NullFloat64, error) {
	switch name {
	case "temp":
		return r.Temp, nil
	case "wind_speed":
		return r.WindSpeed, nil
	case "wind_deg":
		return r.WindDeg, nil
	case "visibility":
		return r.Visibility, nil
	case "clouds":
		return r.Clouds, nil
	case "rain":
		return r.Rain, nil
	case "rain_adj":
		return r.RainAdjusted, nil
	case "hour":
		return sql.NullFloat64{Float64: float64(r.Hour), Valid: true}, nil
	}
	return sql.NullFloat64{}, fmt.Errorf("%w: %q", ErrUnknownPredictor, name)
}

func (r Row) category(name string) (sql.NullString, error) {
	switch name {
	case "darkness":
		return r.Darkness, nil
	case "main_descr":
		return r.Main, nil
	case "main_descr_adj":
		return r.MainAdjusted, nil
	case "combined_descr":
		return r.Combined, nil
	case "detail_descr":
		return r.Detail, nil
	case "source_type":
		return sql.NullString{String: r.SourceType, Valid: true}, nil
	case "site_id":
		return sql.NullString{String: r.SiteID, Valid: true}, nil
	case "hour":
		return sql.NullString{String: strconv.Itoa(r.Hour), Valid: true}, nil
	}
	return sql.NullString{}, fmt.Errorf("%w: %q", ErrUnknownPredictor, name)
}

// DesignMatrix builds X and Y from the numeric predictors and the one-hot
// encoding of the categorical ones. Each category level becomes a
// name_value column, levels sorted; a null category encodes as all zeros.
// It fails with ErrTooManyNulls, naming the offenders, when any numeric
// predictor is null in more than MaxNullFraction of rows. Otherwise rows
// with a null numeric predictor are dropped.
func DesignMatrix(rows []Row, numeric, categorical []string) (*Matrix, error) {
	var tooMany []string
	for _, name := range numeric {
		nulls := 0
		for _, r := range rows {
			v, err := r.numeric(name)
			if err != nil {
				return nil, err
			}
			if !v.Valid {
				nulls++
			}
		}
		if float64(nulls) > MaxNullFraction*float64(len(rows)) {
			tooMany = append(tooMany, name)
		}
	}
	if len(tooMany) > 0 {
		return nil, fmt.Errorf("%w in %s: remove or fill them, or choose different predictors", ErrTooManyNulls, strings.Join(tooMany, ", "))
	}

	m := &Matrix{Columns: slices.Clone(numeric)}
	type dummy struct {
		name   string
		levels []string
	}
	dummies := make([]dummy, 0, len(categorical))
	for _, name := range categorical {
		seen := map[string]bool{}
		for _, r := range rows {
			v, err := r.category(name)
			if err != nil {
				return nil, err
			}
			if v.Valid {
				seen[v.String] = true
			}
		}
		levels := make([]string, 0, len(seen))
		for l := range seen {
			levels = append(levels, l)
		}
		slices.Sort(levels)
		for _, l := range levels {
			m.Columns = append(m.Columns, name+"_"+l)
		}
		dummies = append(dummies, dummy{name: name, levels: levels})
	}

next:
	for _, r := range rows {
		x := make([]float64, 0, len(m.Columns))
		for _, name := range numeric {
			v, _ := r.numeric(name)
			if !v.Valid {
				m.Dropped++
				continue next
			}
			x = append(x, v.Float64)
		}
		for _, d := range dummies {
			v, _ := r.category(d.name)
			for _, l := range d.levels {
				if v.Valid && v.String == l {
					x = append(x, 1)
				} else {
					x = append(x, 0)
				}
			}
		}
		m.X = append(m.X, x)
		m.Y = append(m.Y, float64(r.Count))
	}
	return m, nil
}
