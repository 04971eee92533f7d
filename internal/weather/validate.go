package weather

import "github.com/lox/cyclecounts/internal/models"

const (
	FlagTempOutOfRange    = "temp_out_of_range"
	FlagWindDegInvalid    = "wind_deg_invalid"
	FlagWindSpeedUnlikely = "wind_speed_unlikely"
	FlagVisibilityInvalid = "visibility_invalid"
	FlagCloudsInvalid     = "clouds_invalid"
	FlagRainNegative      = "rain_negative"
	FlagSunTimesInverted  = "sun_times_inverted"
)

// Validate returns quality flags for implausible values in a lookup.
// Temperatures are in kelvin.
func Validate(w *models.Weather) []string {
	var flags []string

	if w.Temp.Valid {
		if w.Temp.Float64 < 233 || w.Temp.Float64 > 323 {
			flags = append(flags, FlagTempOutOfRange)
		}
	}

	if w.WindDeg.Valid {
		if w.WindDeg.Int64 < 0 || w.WindDeg.Int64 > 360 {
			flags = append(flags, FlagWindDegInvalid)
		}
	}

	if w.WindSpeed.Valid {
		if w.WindSpeed.Float64 < 0 || w.WindSpeed.Float64 > 60 {
			flags = append(flags, FlagWindSpeedUnlikely)
		}
	}

	if w.Visibility.Valid {
		if w.Visibility.Float64 < 0 || w.Visibility.Float64 > 10000 {
			flags = append(flags, FlagVisibilityInvalid)
		}
	}

	if w.Clouds.Valid {
		if w.Clouds.Float64 < 0 || w.Clouds.Float64 > 100 {
			flags = append(flags, FlagCloudsInvalid)
		}
	}

	if w.Rain.Valid && w.Rain.Float64 < 0 {
		flags = append(flags, FlagRainNegative)
	}

	if w.Sunrise.Valid && w.Sunset.Valid && w.Sunset.Int64 <= w.Sunrise.Int64 {
		flags = append(flags, FlagSunTimesInverted)
	}

	return flags
}
