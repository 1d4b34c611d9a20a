package weather

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/country-weather-tracker/internal/common"
)

// Upstream payloads are small; cap reads defensively.
const maxPayloadBytes = 1 << 20

// CoordsResolver supplies coordinates for a country code.
type CoordsResolver interface {
	Coords(ctx context.Context, code string) (lat, lon float64, err error)
}

// OpenMeteoExtractor fetches current weather from Open-Meteo. Exactly one
// upstream call per Fetch; there is no retry loop here, only a circuit
// breaker so a dead upstream fails fast.
type OpenMeteoExtractor struct {
	// BaseURL of the forecast endpoint; overridable in tests.
	BaseURL string

	client   *http.Client
	resolver CoordsResolver
	circuit  *gobreaker.CircuitBreaker
	clock    common.Clock
}

func NewOpenMeteoExtractor(client *http.Client, resolver CoordsResolver, baseURL string, clock common.Clock) *OpenMeteoExtractor {
	if baseURL == "" {
		baseURL = "https://api.open-meteo.com/v1/forecast"
	}
	if clock == nil {
		clock = common.RealClock{}
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openmeteo",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &OpenMeteoExtractor{
		BaseURL:  baseURL,
		client:   client,
		resolver: resolver,
		circuit:  cb,
		clock:    clock,
	}
}

// Fetch resolves the country's coordinates and performs the single upstream
// call. Every failure is wrapped in ErrUpstreamUnavailable; the original
// cause stays on the chain for observability.
func (e *OpenMeteoExtractor) Fetch(ctx context.Context, code string) (RawPayload, error) {
	lat, lon, err := e.resolver.Coords(ctx, code)
	if err != nil {
		return RawPayload{}, fmt.Errorf("%w: resolve coordinates for %s: %w", ErrUpstreamUnavailable, code, err)
	}

	values := url.Values{}
	values.Set("latitude", fmt.Sprintf("%f", lat))
	values.Set("longitude", fmt.Sprintf("%f", lon))
	values.Set("current_weather", "true")
	// UTC keeps measurement times comparable with the local fetch clock.
	values.Set("timezone", "UTC")

	u := fmt.Sprintf("%s?%s", e.BaseURL, values.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return RawPayload{}, fmt.Errorf("%w: build request: %w", ErrUpstreamUnavailable, err)
	}

	result, err := e.circuit.Execute(func() (interface{}, error) {
		resp, execErr := e.client.Do(req)
		if execErr != nil {
			return nil, execErr
		}
		defer resp.Body.Close()

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
		if readErr != nil {
			return nil, fmt.Errorf("read response: %w", readErr)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		return RawPayload{
			Body:           body,
			UpstreamStatus: resp.StatusCode,
			FetchedAt:      e.clock.Now().UTC(),
		}, nil
	})
	if err != nil {
		return RawPayload{}, fmt.Errorf("%w: open-meteo fetch for %s: %w", ErrUpstreamUnavailable, code, err)
	}

	return result.(RawPayload), nil
}
