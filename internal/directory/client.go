// Package directory is a thin client for the REST Countries API, used for
// browsing/search passthrough and for resolving country coordinates.
package directory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/kelvins/geocoder"
	"github.com/sony/gobreaker"

	"github.com/i474232898/country-weather-tracker/internal/common"
)

var (
	// ErrNotFound is returned when the directory knows no matching country.
	ErrNotFound = errors.New("country not found in directory")

	// ErrNoCoordinates is returned when a country has no usable coordinates
	// and no geocoder fallback is available.
	ErrNoCoordinates = errors.New("no coordinates available for country")
)

const listFields = "name,cca3,flags,region"
const detailFields = "name,capital,population,currencies,languages,flags,region,cca3,latlng"

// Country is the trimmed directory view returned by list/search endpoints.
type Country struct {
	Name struct {
		Common   string `json:"common"`
		Official string `json:"official"`
	} `json:"name"`
	CCA3   string `json:"cca3"`
	Region string `json:"region"`
	Flags  struct {
		PNG string `json:"png"`
		SVG string `json:"svg"`
	} `json:"flags"`
}

// CountryDetails is the full per-country directory view.
type CountryDetails struct {
	Name struct {
		Common   string `json:"common"`
		Official string `json:"official"`
	} `json:"name"`
	CCA3       string `json:"cca3"`
	Region     string `json:"region"`
	Capital    []string `json:"capital"`
	Population int64    `json:"population"`
	Currencies map[string]struct {
		Name   string `json:"name"`
		Symbol string `json:"symbol"`
	} `json:"currencies"`
	Languages map[string]string `json:"languages"`
	Flags     struct {
		PNG string `json:"png"`
		SVG string `json:"svg"`
	} `json:"flags"`
	LatLng []float64 `json:"latlng"`
}

// Client calls the REST Countries API with retries and a circuit breaker.
// The directory is a read-only passthrough, so retrying here is safe; the
// weather extractor deliberately does not get the same treatment.
type Client struct {
	baseURL     string
	httpCfg     httpClientConfig
	circuit     *gobreaker.CircuitBreaker
	geocoderKey string
}

func NewClient(client *http.Client, baseURL, geocoderKey string) *Client {
	if baseURL == "" {
		baseURL = "https://restcountries.com/v3.1"
	}
	if geocoderKey != "" {
		geocoder.ApiKey = geocoderKey
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "restcountries",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		// A missing country is a valid answer, not an upstream fault.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
	})

	return &Client{
		baseURL: baseURL,
		httpCfg: httpClientConfig{
			client: client,
			backoff: backoffConfig{
				maxRetries:      3,
				initialInterval: 500 * time.Millisecond,
				maxInterval:     5 * time.Second,
			},
		},
		circuit:     cb,
		geocoderKey: geocoderKey,
	}
}

// All lists every country with the trimmed field set.
func (c *Client) All(ctx context.Context) ([]Country, error) {
	var out []Country
	if err := c.getJSON(ctx, "/all?fields="+listFields, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ByName searches countries by (partial) name.
func (c *Client) ByName(ctx context.Context, name string) ([]Country, error) {
	var out []Country
	path := "/name/" + url.PathEscape(name) + "?fields=" + listFields
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ByRegion lists the countries of a region.
func (c *Client) ByRegion(ctx context.Context, region string) ([]Country, error) {
	var out []Country
	path := "/region/" + url.PathEscape(region) + "?fields=" + listFields
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BySubregion lists the countries of a subregion.
func (c *Client) BySubregion(ctx context.Context, subregion string) ([]Country, error) {
	var out []Country
	path := "/subregion/" + url.PathEscape(subregion) + "?fields=" + listFields
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Details fetches the full directory view for one CCA3 code.
func (c *Client) Details(ctx context.Context, code string) (CountryDetails, error) {
	var out CountryDetails
	path := "/alpha/" + url.PathEscape(code) + "?fields=" + detailFields
	if err := c.getJSON(ctx, path, &out); err != nil {
		return CountryDetails{}, err
	}
	return out, nil
}

// Coords resolves a country to coordinates via the directory, geocoding the
// capital as a fallback when the directory carries none.
func (c *Client) Coords(ctx context.Context, code string) (float64, float64, error) {
	d, err := c.Details(ctx, code)
	if err != nil {
		return 0, 0, err
	}
	if len(d.LatLng) == 2 {
		return d.LatLng[0], d.LatLng[1], nil
	}

	if c.geocoderKey == "" || len(d.Capital) == 0 {
		return 0, 0, fmt.Errorf("%w: %s", ErrNoCoordinates, code)
	}

	loc, err := geocoder.Geocoding(geocoder.Address{
		City:    d.Capital[0],
		Country: d.Name.Common,
	})
	if err != nil {
		if common.HasAny(err.Error(), "zero_results", "no results") {
			return 0, 0, fmt.Errorf("%w: %s", ErrNoCoordinates, code)
		}
		return 0, 0, fmt.Errorf("geocode capital of %s: %w", code, err)
	}
	return loc.Latitude, loc.Longitude, nil
}
