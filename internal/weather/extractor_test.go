package weather_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/country-weather-tracker/internal/weather"
)

// fakeResolver returns fixed coordinates or a canned error.
type fakeResolver struct {
	lat, lon float64
	err      error
}

func (r fakeResolver) Coords(ctx context.Context, code string) (float64, float64, error) {
	if r.err != nil {
		return 0, 0, r.err
	}
	return r.lat, r.lon, nil
}

func newMockedExtractor(t *testing.T, resolver fakeResolver) *weather.OpenMeteoExtractor {
	t.Helper()

	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	t.Cleanup(httpmock.DeactivateAndReset)

	return weather.NewOpenMeteoExtractor(client, resolver, "", newFakeClock())
}

func TestOpenMeteoFetchReturnsRawPayload(t *testing.T) {
	ext := newMockedExtractor(t, fakeResolver{lat: 46.2, lon: 2.2})

	body := `{"current_weather":{"temperature":18.5,"windspeed":7.2,"time":"2024-05-12T14:30"}}`
	httpmock.RegisterResponder(http.MethodGet, `=~^https://api\.open-meteo\.com/v1/forecast`,
		httpmock.NewStringResponder(http.StatusOK, body))

	payload, err := ext.Fetch(context.Background(), "FRA")
	require.NoError(t, err)

	assert.Equal(t, body, string(payload.Body))
	assert.Equal(t, http.StatusOK, payload.UpstreamStatus)
	assert.False(t, payload.FetchedAt.IsZero())
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestOpenMeteoFetchSingleAttemptOnServerError(t *testing.T) {
	ext := newMockedExtractor(t, fakeResolver{lat: 46.2, lon: 2.2})

	httpmock.RegisterResponder(http.MethodGet, `=~^https://api\.open-meteo\.com/v1/forecast`,
		httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))

	_, err := ext.Fetch(context.Background(), "FRA")
	require.ErrorIs(t, err, weather.ErrUpstreamUnavailable)

	// No retry loop in the extractor: exactly one upstream call.
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestOpenMeteoFetchWrapsResolverErrors(t *testing.T) {
	cause := errors.New("directory offline")
	ext := newMockedExtractor(t, fakeResolver{err: cause})

	_, err := ext.Fetch(context.Background(), "FRA")
	require.ErrorIs(t, err, weather.ErrUpstreamUnavailable)
	require.ErrorIs(t, err, cause)

	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}
