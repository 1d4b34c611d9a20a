package weather_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/country-weather-tracker/internal/store"
	"github.com/i474232898/country-weather-tracker/internal/weather"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 12, 15, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeExtractor counts invocations and delegates to fn.
type fakeExtractor struct {
	calls atomic.Int32
	fn    func(ctx context.Context, code string) (weather.RawPayload, error)
}

func (e *fakeExtractor) Fetch(ctx context.Context, code string) (weather.RawPayload, error) {
	e.calls.Add(1)
	return e.fn(ctx, code)
}

func validPayload(clock *fakeClock) weather.RawPayload {
	fetched := clock.Now().UTC()
	measured := fetched.Add(-5 * time.Minute)
	body := fmt.Sprintf(`{"current_weather":{"temperature":18.5,"windspeed":7.2,"time":"%s"}}`,
		measured.Format("2006-01-02T15:04"))
	return weather.RawPayload{Body: []byte(body), UpstreamStatus: 200, FetchedAt: fetched}
}

func newGateway(mem *store.MemoryStore, ext weather.Extractor, clock *fakeClock) *weather.CacheGateway {
	loader := weather.NewLoader(mem)
	return weather.NewCacheGateway(mem, ext, loader, 60*time.Second, 5*time.Second, clock)
}

func TestSingleFlightCoalescing(t *testing.T) {
	clock := newFakeClock()
	mem := store.NewMemoryStore()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	ext := &fakeExtractor{fn: func(ctx context.Context, code string) (weather.RawPayload, error) {
		once.Do(func() { close(started) })
		<-release
		return validPayload(clock), nil
	}}
	gw := newGateway(mem, ext, clock)

	const callers = 8
	results := make([]weather.Result, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Mixed force values must still coalesce onto one flight.
			results[i], errs[i] = gw.Get(context.Background(), "FRA", i%2 == 0)
		}()
	}

	<-started
	// Give the remaining callers time to attach to the in-flight fetch.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), ext.calls.Load(), "exactly one upstream call for all coalesced callers")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].Record, results[i].Record)
	}

	// Exactly one raw record written regardless of caller count.
	assert.Len(t, mem.RawHistory("FRA"), 1)
}

func TestFreshnessBoundary(t *testing.T) {
	clock := newFakeClock()
	mem := store.NewMemoryStore()
	ext := &fakeExtractor{fn: func(ctx context.Context, code string) (weather.RawPayload, error) {
		return validPayload(clock), nil
	}}
	gw := newGateway(mem, ext, clock)

	res, err := gw.Get(context.Background(), "FRA", false)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, int32(1), ext.calls.Load())

	clock.Advance(59 * time.Second)
	res, err = gw.Get(context.Background(), "FRA", false)
	require.NoError(t, err)
	assert.True(t, res.FromCache, "within TTL the cached record is served")
	assert.Equal(t, int32(1), ext.calls.Load())

	clock.Advance(2 * time.Second)
	res, err = gw.Get(context.Background(), "FRA", false)
	require.NoError(t, err)
	assert.False(t, res.FromCache, "past TTL a new extraction runs")
	assert.Equal(t, int32(2), ext.calls.Load())
}

func TestForceBypassesFreshnessOnly(t *testing.T) {
	clock := newFakeClock()
	mem := store.NewMemoryStore()
	ext := &fakeExtractor{fn: func(ctx context.Context, code string) (weather.RawPayload, error) {
		return validPayload(clock), nil
	}}
	gw := newGateway(mem, ext, clock)

	_, err := gw.Get(context.Background(), "FRA", false)
	require.NoError(t, err)

	// Record is fresh, but force still refreshes.
	_, err = gw.Get(context.Background(), "FRA", true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), ext.calls.Load())
}

func TestStaleFallbackOnRefreshFailure(t *testing.T) {
	clock := newFakeClock()
	mem := store.NewMemoryStore()

	var fail atomic.Bool
	ext := &fakeExtractor{fn: func(ctx context.Context, code string) (weather.RawPayload, error) {
		if fail.Load() {
			return weather.RawPayload{}, fmt.Errorf("%w: connection refused", weather.ErrUpstreamUnavailable)
		}
		return validPayload(clock), nil
	}}
	gw := newGateway(mem, ext, clock)

	first, err := gw.Get(context.Background(), "FRA", false)
	require.NoError(t, err)

	fail.Store(true)
	clock.Advance(2 * time.Minute)

	res, err := gw.Get(context.Background(), "FRA", false)
	require.NoError(t, err, "a previous record downgrades the failure to a notice")
	assert.True(t, res.Degraded)
	assert.Equal(t, first.Record, res.Record)
	require.ErrorIs(t, res.RefreshErr, weather.ErrUpstreamUnavailable)
}

func TestHardFailureWithoutPreviousRecord(t *testing.T) {
	clock := newFakeClock()
	mem := store.NewMemoryStore()
	ext := &fakeExtractor{fn: func(ctx context.Context, code string) (weather.RawPayload, error) {
		return weather.RawPayload{}, fmt.Errorf("%w: timeout", weather.ErrUpstreamUnavailable)
	}}
	gw := newGateway(mem, ext, clock)

	_, err := gw.Get(context.Background(), "FRA", false)
	require.ErrorIs(t, err, weather.ErrUpstreamUnavailable)

	// Upstream failures produce no raw record; nothing completed.
	assert.Empty(t, mem.RawHistory("FRA"))
}

func TestValidationRejectionKeepsAuditTrail(t *testing.T) {
	clock := newFakeClock()
	mem := store.NewMemoryStore()
	ext := &fakeExtractor{fn: func(ctx context.Context, code string) (weather.RawPayload, error) {
		body := `{"current_weather":{"temperature":"x","windspeed":"y","time":"2024-05-12T14:30"}}`
		return weather.RawPayload{Body: []byte(body), UpstreamStatus: 200, FetchedAt: clock.Now()}, nil
	}}
	gw := newGateway(mem, ext, clock)

	_, err := gw.Get(context.Background(), "FRA", false)
	require.ErrorIs(t, err, weather.ErrAllFieldsUnavailable)

	// The rejected payload is still on the audit trail; the cleaned table
	// was not touched.
	assert.Len(t, mem.RawHistory("FRA"), 1)
	_, err = mem.GetCleaned(context.Background(), "FRA")
	require.ErrorIs(t, err, weather.ErrNotFound)
}

func TestGetRejectsMalformedCode(t *testing.T) {
	clock := newFakeClock()
	mem := store.NewMemoryStore()
	ext := &fakeExtractor{fn: func(ctx context.Context, code string) (weather.RawPayload, error) {
		return validPayload(clock), nil
	}}
	gw := newGateway(mem, ext, clock)

	_, err := gw.Get(context.Background(), "FRANCE", false)
	require.ErrorIs(t, err, weather.ErrInvalidCountryCode)
	assert.Equal(t, int32(0), ext.calls.Load())
}

func TestCallerContextCancellationLeavesFlightRunning(t *testing.T) {
	clock := newFakeClock()
	mem := store.NewMemoryStore()

	release := make(chan struct{})
	ext := &fakeExtractor{fn: func(ctx context.Context, code string) (weather.RawPayload, error) {
		<-release
		return validPayload(clock), nil
	}}
	gw := newGateway(mem, ext, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := gw.Get(ctx, "FRA", false)
		done <- err
	}()

	// Second caller on an independent context attaches to the same flight.
	second := make(chan weather.Result, 1)
	go func() {
		res, err := gw.Get(context.Background(), "FRA", false)
		if err == nil {
			second <- res
		}
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(release)
	select {
	case res := <-second:
		assert.Equal(t, "FRA", res.Record.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("surviving caller never received the shared flight result")
	}

	assert.Equal(t, int32(1), ext.calls.Load())
}
