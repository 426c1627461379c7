// Package collaborator holds the HTTP clients for the surrounding
// platform services: meeting links, user contacts, the skill catalog,
// notifications, and chat. Each client wraps its calls in a circuit
// breaker so one degraded collaborator cannot pile up goroutines here.
package collaborator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"skillswap_server/pkg/apperr"
	"skillswap_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
)

// serviceClient is the shared request plumbing of this package.
type serviceClient struct {
	name       string
	baseURL    string
	authToken  string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

func newServiceClient(name, baseURL, authToken string, httpClient *http.Client, timeout time.Duration) *serviceClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithField("service", name).
				WithField("from", from.String()).
				WithField("to", to.String()).
				Warn("circuit breaker state changed")
		},
	})

	return &serviceClient{
		name:       name,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		authToken:  authToken,
		httpClient: httpClient,
		breaker:    breaker,
	}
}

// do performs one JSON round trip through the breaker. A nil dest
// discards the response body.
func (c *serviceClient) do(ctx context.Context, method, path string, payload, dest interface{}) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, path, payload, dest)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return apperr.Transient(c.name, err)
	}
	return err
}

func (c *serviceClient) roundTrip(ctx context.Context, method, path string, payload, dest interface{}) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", c.name, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", c.name, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Transient(c.name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperr.NotFound(c.name + " resource")
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return apperr.Transient(c.name, fmt.Errorf("%s returned status %d", c.name, resp.StatusCode))
	case resp.StatusCode >= 400:
		return fmt.Errorf("%s returned status %d", c.name, resp.StatusCode)
	}

	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s response: %w", c.name, err)
	}
	return nil
}
