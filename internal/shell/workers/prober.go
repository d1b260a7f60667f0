// Package workers contains the readiness prober used while starting a
// topology and the background health monitor that runs afterwards.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ErrUnhealthy is returned when an endpoint answers with a non-2xx status.
var ErrUnhealthy = errors.New("endpoint is unhealthy")

// ProberConfig configures the readiness prober.
type ProberConfig struct {
	// Interval is the time between attempts.
	// Default: 1 second.
	Interval time.Duration

	// RequestTimeout bounds a single attempt.
	// Default: 5 seconds.
	RequestTimeout time.Duration
}

// DefaultProberConfig returns the default configuration.
func DefaultProberConfig() ProberConfig {
	return ProberConfig{
		Interval:       time.Second,
		RequestTimeout: 5 * time.Second,
	}
}

// HTTPProber polls an HTTP URL until it answers 2xx.
type HTTPProber struct {
	client *http.Client
	config ProberConfig
	logger *slog.Logger
}

// NewHTTPProber creates a prober. A nil client uses http.DefaultClient.
func NewHTTPProber(client *http.Client, config ProberConfig, logger *slog.Logger) *HTTPProber {
	if client == nil {
		client = http.DefaultClient
	}
	if config.Interval == 0 {
		config.Interval = time.Second
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPProber{client: client, config: config, logger: logger.With("component", "prober")}
}

// Probe blocks until url answers 2xx or ctx ends. The last failure is
// wrapped into the context error.
func (p *HTTPProber) Probe(ctx context.Context, url string) error {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	var last error
	for attempt := 1; ; attempt++ {
		if last = p.Check(ctx, url); last == nil {
			p.logger.Debug("endpoint healthy", "url", url, "attempts", attempt)
			return nil
		}
		p.logger.Debug("endpoint not ready", "url", url, "attempt", attempt, "error", last)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), last)
		case <-ticker.C:
		}
	}
}

// Check performs a single GET against url.
func (p *HTTPProber) Check(ctx context.Context, url string) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.config.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s returned %d", ErrUnhealthy, url, resp.StatusCode)
	}
	return nil
}
