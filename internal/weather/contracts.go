package weather

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no record exists for a country.
	ErrNotFound = errors.New("no record for country")

	// ErrInvalidCountryCode is returned for codes that are not 3 letters.
	ErrInvalidCountryCode = errors.New("invalid country code")

	// ErrUpstreamUnavailable marks extraction failures, including timeouts.
	ErrUpstreamUnavailable = errors.New("upstream weather provider unavailable")

	// ErrAllFieldsUnavailable rejects payloads where neither measurement is usable.
	ErrAllFieldsUnavailable = errors.New("all weather fields unavailable")

	// ErrInvalidTimestamp rejects payloads with an unparseable or future measurement time.
	ErrInvalidTimestamp = errors.New("invalid measurement timestamp")

	// ErrRunInProgress is returned when a bulk run is triggered while another is active.
	ErrRunInProgress = errors.New("pipeline run already in progress")
)

// Extractor fetches one raw upstream payload for a country. A single upstream
// call per invocation; retry cadence belongs to the caller, not here.
type Extractor interface {
	Fetch(ctx context.Context, code string) (RawPayload, error)
}

// Store is the persistence contract for raw records, cleaned records,
// run logs and backups. Implementations must support concurrent use.
type Store interface {
	AppendRaw(ctx context.Context, rec RawRecord) error
	GetCleaned(ctx context.Context, code string) (CleanedRecord, error)
	// UpsertCleaned writes the cleaned row for rec.Code and returns the
	// stored row. LastUpdated must never regress; implementations clamp it
	// against the existing row.
	UpsertCleaned(ctx context.Context, rec CleanedRecord) (CleanedRecord, error)
	// TrackedCodes lists every country with a raw or cleaned record.
	TrackedCodes(ctx context.Context) ([]string, error)
	AppendRunLog(ctx context.Context, rl RunLog) error
	// BackupCleaned snapshots the cleaned table and returns a reference to
	// the snapshot.
	BackupCleaned(ctx context.Context, runID string) (string, error)
}

// FavoritesSource exposes the saved-countries side of the tracked set.
type FavoritesSource interface {
	SavedCodes(ctx context.Context) ([]string, error)
}
