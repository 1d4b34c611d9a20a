package weather

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/i474232898/country-weather-tracker/internal/common"
)

const (
	// DefaultTTL matches the interactive client's passive refresh cadence.
	DefaultTTL = 60 * time.Second

	defaultFetchTimeout = 10 * time.Second
	storeTimeout        = 5 * time.Second
)

// Result is the outcome of a gateway lookup.
type Result struct {
	Record CleanedRecord

	// FromCache is set when a fresh cached record was served without a refresh.
	FromCache bool

	// Degraded is set when the refresh failed but a previous cleaned record
	// exists; Record then holds the stale data and RefreshErr the failure.
	Degraded   bool
	RefreshErr error
}

// CacheGateway is the per-country entry point of the pipeline. It decides
// freshness, coalesces concurrent fetches onto a single upstream call per
// country, and degrades to the last stored record when a refresh fails.
type CacheGateway struct {
	store        Store
	extractor    Extractor
	loader       *Loader
	ttl          time.Duration
	fetchTimeout time.Duration
	clock        common.Clock

	flights singleflight.Group
}

func NewCacheGateway(store Store, extractor Extractor, loader *Loader, ttl, fetchTimeout time.Duration, clock common.Clock) *CacheGateway {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}
	if clock == nil {
		clock = common.RealClock{}
	}
	return &CacheGateway{
		store:        store,
		extractor:    extractor,
		loader:       loader,
		ttl:          ttl,
		fetchTimeout: fetchTimeout,
		clock:        clock,
	}
}

// Get returns the cleaned record for a country. force bypasses the freshness
// check but never the per-country coalescing: while a refresh is in flight,
// every caller for that country attaches to it and receives the same outcome.
func (g *CacheGateway) Get(ctx context.Context, code string, force bool) (Result, error) {
	norm, ok := NormalizeCode(code)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidCountryCode, code)
	}
	code = norm

	if !force {
		rec, err := g.store.GetCleaned(ctx, code)
		switch {
		case err == nil && g.clock.Now().Sub(rec.LastUpdated) < g.ttl:
			return Result{Record: rec, FromCache: true}, nil
		case err != nil && !errors.Is(err, ErrNotFound):
			return Result{}, fmt.Errorf("read cleaned record for %s: %w", code, err)
		}
	}

	ch := g.flights.DoChan(code, func() (interface{}, error) {
		return g.refresh(code)
	})

	select {
	case <-ctx.Done():
		// The shared flight keeps running for the remaining callers.
		return Result{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		return res.Val.(Result), nil
	}
}

// refresh performs one extraction + validation + load. It runs on contexts
// detached from any individual caller so a departing caller cannot cancel
// the shared fetch; the flight key is released when this returns, on every
// path including store failures.
func (g *CacheGateway) refresh(code string) (Result, error) {
	fetchCtx, cancelFetch := context.WithTimeout(context.Background(), g.fetchTimeout)
	raw, fetchErr := g.extractor.Fetch(fetchCtx, code)
	cancelFetch()

	storeCtx, cancelStore := context.WithTimeout(context.Background(), storeTimeout)
	defer cancelStore()

	if fetchErr != nil {
		return g.degrade(storeCtx, code, fetchErr)
	}

	fields, cleanErr := Clean(raw)
	now := g.clock.Now().UTC()
	if cleanErr != nil {
		// Persist the rejected payload anyway; the audit trail records every
		// completed extraction.
		if _, err := g.loader.Load(storeCtx, code, raw, nil, now); err != nil {
			return Result{}, err
		}
		return g.degrade(storeCtx, code, cleanErr)
	}

	stored, err := g.loader.Load(storeCtx, code, raw, &fields, now)
	if err != nil {
		return Result{}, err
	}
	return Result{Record: stored}, nil
}

// degrade surfaces the previous cleaned record alongside the refresh failure
// when one exists; with no previous record the failure is the outcome.
func (g *CacheGateway) degrade(ctx context.Context, code string, cause error) (Result, error) {
	prev, err := g.store.GetCleaned(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Result{}, cause
		}
		return Result{}, fmt.Errorf("read cleaned record for %s after failed refresh: %w", code, err)
	}
	return Result{Record: prev, Degraded: true, RefreshErr: cause}, nil
}
