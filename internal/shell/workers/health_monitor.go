package workers

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/artpar/apphost/internal/topology"
)

// Health property values published on monitored resources.
const (
	HealthProperty  = "health"
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
)

// HealthMonitorConfig configures the health monitor worker.
type HealthMonitorConfig struct {
	// Interval is the time between health check cycles.
	// Default: 30 seconds.
	Interval time.Duration

	// MaxConcurrent is the maximum number of resources checked concurrently.
	// Default: 5.
	MaxConcurrent int
}

// DefaultHealthMonitorConfig returns the default configuration.
func DefaultHealthMonitorConfig() HealthMonitorConfig {
	return HealthMonitorConfig{
		Interval:      30 * time.Second,
		MaxConcurrent: 5,
	}
}

// HealthMonitor periodically checks every resource that declares a
// health check and publishes the outcome as the "health" property.
type HealthMonitor struct {
	topo   *topology.Topology
	prober *HTTPProber
	config HealthMonitorConfig
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHealthMonitor creates a new health monitor worker.
func NewHealthMonitor(topo *topology.Topology, prober *HTTPProber, config HealthMonitorConfig, logger *slog.Logger) *HealthMonitor {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	if prober == nil {
		prober = NewHTTPProber(nil, DefaultProberConfig(), logger)
	}
	return &HealthMonitor{
		topo:   topo,
		prober: prober,
		config: config,
		logger: logger.With("component", "health_monitor"),
	}
}

// Start begins the background loop.
func (h *HealthMonitor) Start() {
	h.ctx, h.cancel = context.WithCancel(context.Background())

	h.wg.Add(1)
	go h.run()

	h.logger.Info("health monitor started",
		"interval", h.config.Interval,
		"max_concurrent", h.config.MaxConcurrent,
	)
}

// Stop waits for any in-progress cycle to complete.
func (h *HealthMonitor) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
	h.logger.Info("health monitor stopped")
}

func (h *HealthMonitor) run() {
	defer h.wg.Done()

	h.RunCycle(h.ctx)

	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.RunCycle(h.ctx)
		}
	}
}

// RunCycle checks every monitored resource once.
func (h *HealthMonitor) RunCycle(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, h.config.Interval)
	defer cancel()

	var targets []*topology.Resource
	for _, r := range h.topo.Registry().All() {
		if r.HealthCheck() != nil && !r.State().IsTerminal() {
			targets = append(targets, r)
		}
	}
	if len(targets) == 0 {
		h.logger.Debug("no resources to check")
		return
	}

	sem := make(chan struct{}, h.config.MaxConcurrent)
	var wg sync.WaitGroup
	for _, r := range targets {
		wg.Add(1)
		go func(r *topology.Resource) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
				defer func() { <-sem }()
			}
			h.check(ctx, r)
		}(r)
	}
	wg.Wait()
}

func (h *HealthMonitor) check(ctx context.Context, r *topology.Resource) {
	logger := h.logger.With("resource", r.Name())
	hc := r.HealthCheck()

	ep, ok := h.topo.Allocator().Lookup(r.Name(), hc.Endpoint)
	if !ok {
		logger.Warn("health endpoint not declared", "endpoint", hc.Endpoint)
		return
	}
	base, err := ep.URL()
	if err != nil {
		logger.Debug("health endpoint not bound yet", "error", err)
		return
	}

	status := HealthHealthy
	if err := h.prober.Check(ctx, strings.TrimSuffix(base, "/")+hc.Path); err != nil {
		status = HealthUnhealthy
	}
	if prev, _ := r.Property(HealthProperty); prev != status {
		logger.Info("health changed", "from", prev, "to", status)
	}
	r.PublishProperty(HealthProperty, status)
}
