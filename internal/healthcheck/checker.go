package healthcheck

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Probe checks one optional dependency such as redis or postgres
type Probe func(ctx context.Context) error

// Checker polls the upstream health endpoint and runs dependency probes
type Checker struct {
	mu          sync.RWMutex
	target      string
	status      *Status
	probes      map[string]Probe
	endpoint    string
	interval    time.Duration
	timeout     time.Duration
	maxFailures int
	client      *http.Client
	log         *zap.Logger
	stopChan    chan struct{}
	running     bool
}

// Holds health checker configuration
type Config struct {
	Target      string
	Endpoint    string        // Health check endpoint (default: "/healthz")
	Interval    time.Duration // How often to check (default: 10s)
	Timeout     time.Duration // Request timeout (default: 5s)
	MaxFailures int           // Failures before marking unhealthy (default: 3)
}

func NewChecker(cfg Config, log *zap.Logger) *Checker {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/healthz"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Checker{
		target: cfg.Target,
		status: &Status{
			Target:    cfg.Target,
			IsHealthy: true, // Assume healthy initially
			LastCheck: time.Now(),
		},
		probes:      make(map[string]Probe),
		endpoint:    cfg.Endpoint,
		interval:    cfg.Interval,
		timeout:     cfg.Timeout,
		maxFailures: cfg.MaxFailures,
		client:      &http.Client{},
		log:         log,
		stopChan:    make(chan struct{}),
	}
}

// AddProbe registers a dependency check; call before Start
func (c *Checker) AddProbe(name string, p Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = p
}

// Begins periodic health checks
func (c *Checker) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	c.log.Info("starting upstream health checks",
		zap.String("target", c.target+c.endpoint),
		zap.Duration("interval", c.interval),
	)

	go func() {
		// Run initial check immediately
		c.CheckNow()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.CheckNow()
			case <-c.stopChan:
				return
			}
		}
	}()
}

// Stops the health checker
func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		close(c.stopChan)
		c.running = false
		c.log.Info("health checker stopped")
	}
}

// CheckNow probes the upstream once
func (c *Checker) CheckNow() {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.target+c.endpoint, nil)
	if err != nil {
		c.recordFailure(err)
		return
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.recordFailure(err)
		return
	}
	defer resp.Body.Close()

	// Consider 2xx and 3xx as healthy
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		c.recordSuccess()
	} else {
		c.recordFailure(fmt.Errorf("status %d", resp.StatusCode))
	}
}

// Records a successful health check
func (c *Checker) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.status.LastCheck = now
	c.status.LastSuccess = now
	c.status.FailureCount = 0
	c.status.LastError = ""

	if !c.status.IsHealthy {
		c.log.Info("upstream is healthy again", zap.String("target", c.target))
		c.status.IsHealthy = true
	}
}

// Records a failed health check
func (c *Checker) recordFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.status.LastCheck = now
	c.status.LastFailure = now
	c.status.FailureCount++
	c.status.LastError = err.Error()

	if c.status.IsHealthy && c.status.FailureCount >= c.maxFailures {
		c.log.Warn("upstream is now unhealthy",
			zap.String("target", c.target),
			zap.Int("failures", c.status.FailureCount),
			zap.Error(err),
		)
		c.status.IsHealthy = false
	}
}

// Returns a copy of the upstream status
func (c *Checker) UpstreamStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.status
}

// Report runs the dependency probes and combines them with upstream health.
// A failing dependency degrades the gateway; an unhealthy upstream makes it
// unhealthy.
func (c *Checker) Report(ctx context.Context) Report {
	c.mu.RLock()
	probes := make(map[string]Probe, len(c.probes))
	for name, p := range c.probes {
		probes[name] = p
	}
	c.mu.RUnlock()

	deps := make(map[string]string, len(probes))
	failed := false
	for name, probe := range probes {
		if err := probe(ctx); err != nil {
			deps[name] = err.Error()
			failed = true
			continue
		}
		deps[name] = "ok"
	}

	upstream := c.UpstreamStatus()
	overall := Healthy
	switch {
	case !upstream.IsHealthy:
		overall = Unhealthy
	case failed:
		overall = Degraded
	}

	return Report{
		Status:       overall.String(),
		Upstream:     upstream,
		Dependencies: deps,
	}
}
