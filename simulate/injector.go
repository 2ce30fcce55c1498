// Package simulate implements the failure-injection facility: a
// per-endpoint configurable delay and error rate used to exercise the
// Anomaly Analyzer and RCA Engine under controlled conditions. Grounded
// directly on the source project's FailureInjector.
package simulate

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// SimulatedFailure distinguishes an injected failure from a real bug, so
// logs and the audit trail can tell the two apart; the Analyzer itself
// does not care — a 5xx is a 5xx for detection purposes.
type SimulatedFailure struct {
	Endpoint string
	Reason   string
}

func (f *SimulatedFailure) Error() string {
	return fmt.Sprintf("simulated failure on %s: %s", f.Endpoint, f.Reason)
}

var failureReasons = []string{
	"Database connection timeout",
	"Downstream service unavailable",
	"Out of memory error",
	"Circuit breaker open",
	"Rate limit exceeded",
}

// EndpointConfig is the injected chaos behavior for one endpoint.
type EndpointConfig struct {
	Delay     time.Duration `json:"delay_ms"`
	ErrorRate float64       `json:"error_rate"`
}

// Injector holds per-endpoint chaos configuration. Safe for concurrent
// use; intended to be constructed once and injected as an explicit
// dependency (spec 9's guidance on global singletons) rather than
// accessed through a package-level variable.
type Injector struct {
	mu     sync.RWMutex
	config map[string]EndpointConfig
}

// NewInjector creates an empty Injector.
func NewInjector() *Injector {
	return &Injector{
		config: make(map[string]EndpointConfig),
	}
}

// SetDelay adds artificial latency to endpoint.
func (in *Injector) SetDelay(endpoint string, delay time.Duration) {
	in.mu.Lock()
	defer in.mu.Unlock()
	c := in.config[endpoint]
	c.Delay = delay
	in.config[endpoint] = c
}

// SetErrorRate makes endpoint fail with the given probability (0-1,
// clamped).
func (in *Injector) SetErrorRate(endpoint string, rate float64) {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	c := in.config[endpoint]
	c.ErrorRate = rate
	in.config[endpoint] = c
}

// ClearEndpoint removes all injected behavior for endpoint.
func (in *Injector) ClearEndpoint(endpoint string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	delete(in.config, endpoint)
}

// ClearAll removes every injected behavior.
func (in *Injector) ClearAll() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.config = make(map[string]EndpointConfig)
}

// Config returns a snapshot of the current configuration, keyed by
// endpoint.
func (in *Injector) Config() map[string]EndpointConfig {
	in.mu.RLock()
	defer in.mu.RUnlock()
	out := make(map[string]EndpointConfig, len(in.config))
	for k, v := range in.config {
		out[k] = v
	}
	return out
}

// Inject applies any configured delay/error behavior for endpoint. It
// should be called at the start of the endpoint's handler (the ingest
// middleware does this automatically). Returns a *SimulatedFailure if
// the configured error rate triggers for this call.
func (in *Injector) Inject(ctx context.Context, endpoint string) error {
	in.mu.RLock()
	c, ok := in.config[endpoint]
	in.mu.RUnlock()
	if !ok {
		return nil
	}

	if c.Delay > 0 {
		select {
		case <-time.After(c.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if c.ErrorRate > 0 && rand.Float64() < c.ErrorRate {
		reason := failureReasons[rand.Intn(len(failureReasons))]
		return &SimulatedFailure{Endpoint: endpoint, Reason: reason}
	}
	return nil
}
