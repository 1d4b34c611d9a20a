package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// backoffConfig controls exponential backoff behaviour for directory calls.
type backoffConfig struct {
	maxRetries      int
	initialInterval time.Duration
	maxInterval     time.Duration
}

type httpClientConfig struct {
	client  *http.Client
	backoff backoffConfig
}

var (
	errRateLimited = errors.New("rate limited")
	errServerError = errors.New("server error")
	errUnexpected  = errors.New("unexpected status code")
	errCircuitOpen = errors.New("circuit breaker open")
)

// getJSON performs a GET against the directory with retries, exponential
// backoff and the circuit breaker, decoding the response into out.
// A 404 maps to ErrNotFound and is never retried.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	var attempt int
	var lastErr error

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return err
		}

		result, err := c.circuit.Execute(func() (interface{}, error) {
			resp, execErr := c.httpCfg.client.Do(req)
			if execErr != nil {
				return nil, execErr
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusNotFound:
				return nil, ErrNotFound
			case resp.StatusCode == http.StatusTooManyRequests:
				return nil, errRateLimited
			case resp.StatusCode >= 500:
				return nil, fmt.Errorf("%w: %d", errServerError, resp.StatusCode)
			case resp.StatusCode < 200 || resp.StatusCode >= 300:
				return nil, fmt.Errorf("%w: %d", errUnexpected, resp.StatusCode)
			}

			var decoded json.RawMessage
			if decodeErr := json.NewDecoder(resp.Body).Decode(&decoded); decodeErr != nil {
				return nil, fmt.Errorf("decode directory response: %w", decodeErr)
			}
			return decoded, nil
		})

		if err == nil {
			return json.Unmarshal(result.(json.RawMessage), out)
		}

		if errors.Is(err, ErrNotFound) {
			return err
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %v", errCircuitOpen, err)
		}

		lastErr = err
		if attempt >= c.httpCfg.backoff.maxRetries {
			return lastErr
		}

		delay := c.httpCfg.backoff.initialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if c.httpCfg.backoff.maxInterval > 0 && delay > c.httpCfg.backoff.maxInterval {
			delay = c.httpCfg.backoff.maxInterval
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		attempt++
	}
}
