package weather

import (
	"time"
)

// Validity classifies how complete a cleaned record is. A record where one
// of the two measurements was unusable is kept rather than rejected, because
// upstream providers intermittently omit a single field.
type Validity string

const (
	ValidityValid                Validity = "valid"
	ValidityPartiallyUnavailable Validity = "partially_unavailable"
)

// CountryStatus is the per-country outcome recorded in a pipeline run log.
type CountryStatus string

const (
	StatusSuccess          CountryStatus = "success"
	StatusValidationFailed CountryStatus = "validation_failed"
	StatusUpstreamFailed   CountryStatus = "upstream_failed"
)

// RawPayload is the unmodified upstream response plus fetch metadata.
type RawPayload struct {
	Body           []byte
	UpstreamStatus int
	FetchedAt      time.Time
}

// RawRecord is one append-only audit row. Raw records are never mutated or
// deleted; they accumulate per country over time.
type RawRecord struct {
	ID             int64     `json:"id"`
	Code           string    `json:"country_code"`
	FetchedAt      time.Time `json:"fetched_at"`
	Payload        []byte    `json:"raw_payload"`
	UpstreamStatus int       `json:"upstream_status"`
}

// CleanedFields is the output of validation, before persistence metadata is
// attached. A nil measurement means "unavailable".
type CleanedFields struct {
	Temperature     *float64
	Windspeed       *float64
	MeasurementTime time.Time
	Validity        Validity
}

// CleanedRecord is the single current weather row for a country. Successive
// loads overwrite it in place; LastUpdated never regresses.
type CleanedRecord struct {
	Code            string    `json:"country_code"`
	Temperature     *float64  `json:"temperature"`
	Windspeed       *float64  `json:"windspeed"`
	MeasurementTime time.Time `json:"time"`
	LastUpdated     time.Time `json:"last_updated"`
	Validity        Validity  `json:"validity"`
}

// RunLog describes one completed bulk pipeline run. Immutable once persisted.
type RunLog struct {
	RunID      string                   `json:"run_id"`
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`
	Statuses   map[string]CountryStatus `json:"per_country_status"`
	BackupRef  string                   `json:"backup_reference"`
}

// Failure pairs a country code with the reason its refresh failed.
type Failure struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// NormalizeCode upper-cases a country code and reports whether it is a
// well-formed 3-letter identifier.
func NormalizeCode(code string) (string, bool) {
	if len(code) != 3 {
		return "", false
	}
	b := []byte(code)
	for i, ch := range b {
		switch {
		case ch >= 'a' && ch <= 'z':
			b[i] = ch - 'a' + 'A'
		case ch >= 'A' && ch <= 'Z':
		default:
			return "", false
		}
	}
	return string(b), true
}
