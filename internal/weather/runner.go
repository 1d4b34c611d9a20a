package weather

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/country-weather-tracker/internal/common"
)

const defaultRunParallelism = 4

// PipelineRunner replays the acquisition pipeline across every tracked
// country: a forced refresh per country, failures isolated and collected,
// a snapshot backup of the cleaned table taken before any mutation, and an
// immutable run log persisted at the end.
type PipelineRunner struct {
	store       Store
	favorites   FavoritesSource
	gateway     *CacheGateway
	clock       common.Clock
	parallelism int

	// Guards against overlapping bulk runs; a second trigger fails with
	// ErrRunInProgress instead of queueing.
	mu sync.Mutex
}

func NewPipelineRunner(store Store, favorites FavoritesSource, gateway *CacheGateway, clock common.Clock) *PipelineRunner {
	if clock == nil {
		clock = common.RealClock{}
	}
	return &PipelineRunner{
		store:       store,
		favorites:   favorites,
		gateway:     gateway,
		clock:       clock,
		parallelism: defaultRunParallelism,
	}
}

// RunAll refreshes every tracked country with force=true. One country's
// failure never aborts the run; it is recorded in the run log instead.
func (r *PipelineRunner) RunAll(ctx context.Context) (RunLog, error) {
	if !r.mu.TryLock() {
		return RunLog{}, ErrRunInProgress
	}
	defer r.mu.Unlock()

	runID := uuid.New().String()
	startedAt := r.clock.Now().UTC()

	codes, err := r.trackedCodes(ctx)
	if err != nil {
		return RunLog{}, err
	}
	log.Printf("pipeline run %s: refreshing %d tracked countries", runID, len(codes))

	backupRef, err := r.store.BackupCleaned(ctx, runID)
	if err != nil {
		return RunLog{}, fmt.Errorf("backup cleaned records: %w", err)
	}

	var (
		smu      sync.Mutex
		statuses = make(map[string]CountryStatus, len(codes))
	)

	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(r.parallelism)
	for _, code := range codes {
		code := code
		grp.Go(func() error {
			status := r.refreshOne(grpCtx, code)
			smu.Lock()
			statuses[code] = status
			smu.Unlock()
			// Failures are per-country outcomes, never group errors.
			return nil
		})
	}
	_ = grp.Wait()

	rl := RunLog{
		RunID:      runID,
		StartedAt:  startedAt,
		FinishedAt: r.clock.Now().UTC(),
		Statuses:   statuses,
		BackupRef:  backupRef,
	}
	if err := r.store.AppendRunLog(ctx, rl); err != nil {
		return RunLog{}, fmt.Errorf("persist run log %s: %w", runID, err)
	}

	log.Printf("pipeline run %s: finished, %d countries, %d failures", runID, len(statuses), rl.FailureCount())
	return rl, nil
}

func (r *PipelineRunner) refreshOne(ctx context.Context, code string) CountryStatus {
	res, err := r.gateway.Get(ctx, code, true)
	switch {
	case err == nil && !res.Degraded:
		return StatusSuccess
	case err == nil:
		return classifyFailure(res.RefreshErr)
	default:
		return classifyFailure(err)
	}
}

func classifyFailure(err error) CountryStatus {
	if errors.Is(err, ErrAllFieldsUnavailable) || errors.Is(err, ErrInvalidTimestamp) {
		return StatusValidationFailed
	}
	return StatusUpstreamFailed
}

// trackedCodes is the union of saved favorites and countries with existing
// weather records, normalized and sorted.
func (r *PipelineRunner) trackedCodes(ctx context.Context) ([]string, error) {
	stored, err := r.store.TrackedCodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tracked weather codes: %w", err)
	}
	saved, err := r.favorites.SavedCodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list saved countries: %w", err)
	}

	set := make(map[string]struct{}, len(stored)+len(saved))
	for _, c := range append(stored, saved...) {
		if norm, ok := NormalizeCode(c); ok {
			set[norm] = struct{}{}
		}
	}

	codes := make([]string, 0, len(set))
	for c := range set {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes, nil
}

// Failures lists the failed countries of a run, sorted by code.
func (rl RunLog) Failures() []Failure {
	var out []Failure
	for code, status := range rl.Statuses {
		if status == StatusSuccess {
			continue
		}
		out = append(out, Failure{Code: code, Reason: string(status)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// FailureCount counts the non-success outcomes of a run.
func (rl RunLog) FailureCount() int {
	n := 0
	for _, status := range rl.Statuses {
		if status != StatusSuccess {
			n++
		}
	}
	return n
}
