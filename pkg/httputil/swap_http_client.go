// Package httputil builds the pooled HTTP clients shared by the
// outbound adapters.
package httputil

import (
	"context"
	"net"
	"net/http"
	"time"
)

// ClientConfig holds HTTP transport tuning.
type ClientConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration

	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
	ResponseTimeout     time.Duration

	DisableKeepAlives bool
	KeepAliveInterval time.Duration
}

// DefaultClientConfig suits the collaborator services (meeting-link,
// user, skill, notification, chat): few hosts, short calls, keep-alive
// pools kept warm.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		MaxIdleConns:        60,
		MaxIdleConnsPerHost: 12,
		MaxConnsPerHost:     60,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         5 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
		ResponseTimeout:     15 * time.Second,
		KeepAliveInterval:   30 * time.Second,
	}
}

// CalendarClientConfig suits the external calendar APIs. Graph and
// CalDAV rate-limit aggressively, so the per-host pool stays small and
// the response timeout leaves room for slow freeBusy queries.
func CalendarClientConfig() *ClientConfig {
	return &ClientConfig{
		MaxIdleConns:        40,
		MaxIdleConnsPerHost: 8,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     120 * time.Second,
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ResponseTimeout:     30 * time.Second,
		KeepAliveInterval:   30 * time.Second,
	}
}

// NewOptimizedClient creates an HTTP client with connection pooling.
func NewOptimizedClient(cfg *ClientConfig) *http.Client {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}

	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: cfg.KeepAliveInterval,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		DisableKeepAlives:     cfg.DisableKeepAlives,
		ForceAttemptHTTP2:     true,
		ResponseHeaderTimeout: cfg.ResponseTimeout,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.ResponseTimeout,
	}
}

// DoWithContext executes a request bound to ctx on the given client.
func DoWithContext(ctx context.Context, client *http.Client, req *http.Request) (*http.Response, error) {
	if client == nil {
		client = NewOptimizedClient(nil)
	}
	return client.Do(req.WithContext(ctx))
}
