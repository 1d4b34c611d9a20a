package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/i474232898/country-weather-tracker/internal/weather"
)

// MemoryStore is a concurrency-safe in-memory implementation of the weather
// store and the favorites store. Used for tests and DSN-less development;
// production runs on MySQLStore.
type MemoryStore struct {
	mu sync.RWMutex

	raw     map[string][]weather.RawRecord
	rawSeq  int64
	cleaned map[string]weather.CleanedRecord
	runLogs []weather.RunLog
	backups map[string]map[string]weather.CleanedRecord
	saved   map[string]SavedCountry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		raw:     make(map[string][]weather.RawRecord),
		cleaned: make(map[string]weather.CleanedRecord),
		backups: make(map[string]map[string]weather.CleanedRecord),
		saved:   make(map[string]SavedCountry),
	}
}

// AppendRaw appends an audit row. Raw records are never mutated or deleted.
func (s *MemoryStore) AppendRaw(_ context.Context, rec weather.RawRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rawSeq++
	rec.ID = s.rawSeq
	s.raw[rec.Code] = append(s.raw[rec.Code], rec)
	return nil
}

// RawHistory returns the accumulated raw records for a country, oldest first.
func (s *MemoryStore) RawHistory(code string) []weather.RawRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := make([]weather.RawRecord, len(s.raw[code]))
	copy(history, s.raw[code])
	return history
}

func (s *MemoryStore) GetCleaned(_ context.Context, code string) (weather.CleanedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.cleaned[code]
	if !ok {
		return weather.CleanedRecord{}, weather.ErrNotFound
	}
	return rec, nil
}

// UpsertCleaned overwrites the single cleaned row for rec.Code. LastUpdated
// is clamped against the existing row so it never regresses.
func (s *MemoryStore) UpsertCleaned(_ context.Context, rec weather.CleanedRecord) (weather.CleanedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.cleaned[rec.Code]; ok && rec.LastUpdated.Before(existing.LastUpdated) {
		rec.LastUpdated = existing.LastUpdated
	}
	s.cleaned[rec.Code] = rec
	return rec, nil
}

// TrackedCodes lists every country with a raw or cleaned record.
func (s *MemoryStore) TrackedCodes(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := make(map[string]struct{}, len(s.raw)+len(s.cleaned))
	for code := range s.raw {
		set[code] = struct{}{}
	}
	for code := range s.cleaned {
		set[code] = struct{}{}
	}

	codes := make([]string, 0, len(set))
	for code := range set {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

func (s *MemoryStore) AppendRunLog(_ context.Context, rl weather.RunLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Copy the status map so the stored log stays immutable.
	statuses := make(map[string]weather.CountryStatus, len(rl.Statuses))
	for code, status := range rl.Statuses {
		statuses[code] = status
	}
	rl.Statuses = statuses
	s.runLogs = append(s.runLogs, rl)
	return nil
}

// RunLogs returns the persisted run logs, oldest first.
func (s *MemoryStore) RunLogs() []weather.RunLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]weather.RunLog, len(s.runLogs))
	copy(logs, s.runLogs)
	return logs
}

// BackupCleaned snapshots the cleaned table under the run id.
func (s *MemoryStore) BackupCleaned(_ context.Context, runID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[string]weather.CleanedRecord, len(s.cleaned))
	for code, rec := range s.cleaned {
		snapshot[code] = rec
	}
	ref := fmt.Sprintf("memory://backups/%s", runID)
	s.backups[ref] = snapshot
	return ref, nil
}

// Backup returns a stored snapshot by its reference.
func (s *MemoryStore) Backup(ref string) (map[string]weather.CleanedRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.backups[ref]
	return snapshot, ok
}

func (s *MemoryStore) SaveCountry(_ context.Context, c SavedCountry) (bool, error) {
	code, ok := weather.NormalizeCode(c.CCA3)
	if !ok {
		return false, fmt.Errorf("%w: %q", weather.ErrInvalidCountryCode, c.CCA3)
	}
	c.CCA3 = code

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.saved[code]; exists {
		return false, nil
	}
	s.saved[code] = c
	return true, nil
}

// ListSaved returns favorites ordered by region then name.
func (s *MemoryStore) ListSaved(_ context.Context) ([]SavedCountry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SavedCountry, 0, len(s.saved))
	for _, c := range s.saved {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Region != out[j].Region {
			return out[i].Region < out[j].Region
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *MemoryStore) DeleteCountry(_ context.Context, code string) error {
	norm, ok := weather.NormalizeCode(code)
	if !ok {
		return fmt.Errorf("%w: %q", weather.ErrInvalidCountryCode, code)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.saved[norm]; !exists {
		return weather.ErrNotFound
	}
	delete(s.saved, norm)
	return nil
}

func (s *MemoryStore) SavedCodes(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	codes := make([]string, 0, len(s.saved))
	for code := range s.saved {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}
