package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// maxMetadataSize caps the body of a version lookup response
const maxMetadataSize = 1 << 20

// client is a JSON-over-HTTP client with a per-request timeout and a circuit
// breaker that stops hammering an endpoint after repeated failures.
type client struct {
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zerolog.Logger
}

func newClient(name string, timeout time.Duration, logger *zerolog.Logger) *client {
	settings := gobreaker.Settings{
		Name:        "update-source-" + name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("circuit breaker state changed")
			}
		},
	}
	return &client{
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// getJSON fetches url and decodes the JSON body into out. Every failure is
// wrapped in ErrNoUpdateInfo.
func (c *client) getJSON(ctx context.Context, url string, out interface{}) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "themepkg")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %s", resp.Status)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataSize))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if err := json.Unmarshal(body, out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		if c.logger != nil {
			c.logger.Debug().Err(err).Str("url", url).Msg("update source lookup failed")
		}
		return noInfo("%s: %v", url, err)
	}
	return nil
}
