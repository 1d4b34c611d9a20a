package weather

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Physically plausible bounds for the two measurements. Out-of-range values
// mark the field unavailable instead of rejecting the whole record.
const (
	minTemperatureC = -90.0
	maxTemperatureC = 60.0
)

// measurementLayouts covers RFC3339 and Open-Meteo's minute-resolution form.
var measurementLayouts = []string{time.RFC3339, "2006-01-02T15:04"}

// Clean validates a raw upstream payload and derives the cleaned fields.
// Pure function: the only inputs are the payload and its fetch metadata.
//
// Rejections are ErrInvalidTimestamp (missing, unparseable or future
// measurement time) and ErrAllFieldsUnavailable (neither temperature nor
// windspeed usable). One usable field is enough for acceptance, flagged
// ValidityPartiallyUnavailable.
func Clean(p RawPayload) (CleanedFields, error) {
	var payload struct {
		CurrentWeather struct {
			Temperature any    `json:"temperature"`
			Windspeed   any    `json:"windspeed"`
			Time        string `json:"time"`
		} `json:"current_weather"`
	}
	if err := json.Unmarshal(p.Body, &payload); err != nil {
		return CleanedFields{}, fmt.Errorf("%w: undecodable payload: %v", ErrAllFieldsUnavailable, err)
	}
	cw := payload.CurrentWeather

	ts, ok := parseMeasurementTime(cw.Time)
	if !ok {
		return CleanedFields{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, cw.Time)
	}
	if ts.After(p.FetchedAt) {
		return CleanedFields{}, fmt.Errorf("%w: measurement time %s is after fetch time %s",
			ErrInvalidTimestamp, ts.Format(time.RFC3339), p.FetchedAt.Format(time.RFC3339))
	}

	temp := usableValue(cw.Temperature, minTemperatureC, maxTemperatureC)
	wind := usableValue(cw.Windspeed, 0, math.MaxFloat64)
	if temp == nil && wind == nil {
		return CleanedFields{}, ErrAllFieldsUnavailable
	}

	validity := ValidityValid
	if temp == nil || wind == nil {
		validity = ValidityPartiallyUnavailable
	}

	return CleanedFields{
		Temperature:     temp,
		Windspeed:       wind,
		MeasurementTime: ts,
		Validity:        validity,
	}, nil
}

func parseMeasurementTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range measurementLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// usableValue returns the measurement when it is numeric, finite and within
// [min, max]; nil otherwise.
func usableValue(v any, min, max float64) *float64 {
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < min || f > max {
		return nil
	}
	return &f
}
