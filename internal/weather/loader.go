package weather

import (
	"context"
	"fmt"
	"time"
)

// Loader persists the outcome of one extraction.
type Loader struct {
	store Store
}

func NewLoader(store Store) *Loader {
	return &Loader{store: store}
}

// Load appends the raw record and, when fields are present, upserts the
// cleaned row stamped with now. The raw record is written even for rejected
// payloads so the audit trail stays complete; on rejection (fields == nil)
// the previous cleaned record is left untouched.
func (l *Loader) Load(ctx context.Context, code string, raw RawPayload, fields *CleanedFields, now time.Time) (CleanedRecord, error) {
	err := l.store.AppendRaw(ctx, RawRecord{
		Code:           code,
		FetchedAt:      raw.FetchedAt,
		Payload:        raw.Body,
		UpstreamStatus: raw.UpstreamStatus,
	})
	if err != nil {
		return CleanedRecord{}, fmt.Errorf("append raw record for %s: %w", code, err)
	}

	if fields == nil {
		return CleanedRecord{}, nil
	}

	stored, err := l.store.UpsertCleaned(ctx, CleanedRecord{
		Code:            code,
		Temperature:     fields.Temperature,
		Windspeed:       fields.Windspeed,
		MeasurementTime: fields.MeasurementTime,
		LastUpdated:     now,
		Validity:        fields.Validity,
	})
	if err != nil {
		return CleanedRecord{}, fmt.Errorf("upsert cleaned record for %s: %w", code, err)
	}
	return stored, nil
}
