// Copyright (C) 2024 right-sizer contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package health

import (
	"fmt"
	"sync"
	"time"

	"aiops-engine/logger"
)

// ComponentStatus is the health of one tracked component.
type ComponentStatus struct {
	Healthy     bool      `json:"healthy"`
	LastChecked time.Time `json:"last_checked"`
	Message     string    `json:"message"`
}

// Checker tracks liveness of the telemetry store, analyzer, RCA engine and
// scheduler. The scheduler's staleness check backs the /readyz readiness
// rule: unhealthy once the last tick is older than twice the tick interval.
type Checker struct {
	mu           sync.RWMutex
	components   map[string]*ComponentStatus
	tickInterval time.Duration
	startedAt    time.Time
}

// NewChecker creates a Checker. tickInterval is the scheduler's configured
// tick period, used to decide readiness staleness.
func NewChecker(tickInterval time.Duration) *Checker {
	now := time.Now()
	return &Checker{
		components: map[string]*ComponentStatus{
			"telemetry_store": {Healthy: true, LastChecked: now, Message: "initialized"},
			"analyzer":        {Healthy: true, LastChecked: now, Message: "initialized"},
			"rca_engine":      {Healthy: true, LastChecked: now, Message: "initialized"},
			"scheduler":       {Healthy: true, LastChecked: now, Message: "waiting for first tick"},
		},
		tickInterval: tickInterval,
		startedAt:    now,
	}
}

// UpdateComponent records the current status of a component.
func (c *Checker) UpdateComponent(component string, healthy bool, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.components[component] = &ComponentStatus{
		Healthy:     healthy,
		LastChecked: time.Now(),
		Message:     message,
	}

	logger.Debug("health status updated for %s: healthy=%v, message=%s", component, healthy, message)
}

// RecordTick marks the scheduler component healthy as of tickTime. Called
// after every scheduler tick (automatic or manually triggered).
func (c *Checker) RecordTick(tickTime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.components["scheduler"] = &ComponentStatus{
		Healthy:     true,
		LastChecked: tickTime,
		Message:     "tick completed",
	}
}

// ComponentStatuses returns a snapshot of every tracked component.
func (c *Checker) ComponentStatuses() map[string]ComponentStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]ComponentStatus, len(c.components))
	for name, status := range c.components {
		out[name] = *status
	}
	return out
}

// IsLive reports process liveness: the process is live as long as it can
// answer the check at all. Mirrors the teacher's liveness semantics of
// never restarting the process merely because a downstream dependency is
// degraded.
func (c *Checker) IsLive() bool {
	return true
}

// IsReady reports readiness: healthy unless the scheduler has gone silent
// for longer than twice its configured tick interval, or any other
// component reports unhealthy.
func (c *Checker) IsReady() (bool, []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var reasons []string
	staleAfter := 2 * c.tickInterval

	for name, status := range c.components {
		if !status.Healthy {
			reasons = append(reasons, fmt.Sprintf("%s: %s", name, status.Message))
			continue
		}
		if name == "scheduler" && staleAfter > 0 && time.Since(status.LastChecked) > staleAfter {
			reasons = append(reasons, fmt.Sprintf("scheduler: last tick %s ago exceeds staleness threshold %s",
				time.Since(status.LastChecked).Round(time.Second), staleAfter))
		}
	}

	return len(reasons) == 0, reasons
}

// Report returns a detailed health report suitable for /healthz and /readyz
// JSON bodies.
func (c *Checker) Report() map[string]interface{} {
	ready, reasons := c.IsReady()

	components := make(map[string]interface{})
	for name, status := range c.ComponentStatuses() {
		components[name] = map[string]interface{}{
			"healthy":      status.Healthy,
			"last_checked": status.LastChecked,
			"message":      status.Message,
			"age":          time.Since(status.LastChecked).String(),
		}
	}

	report := map[string]interface{}{
		"live":       c.IsLive(),
		"ready":      ready,
		"uptime":     time.Since(c.startedAt).String(),
		"components": components,
	}
	if len(reasons) > 0 {
		report["reasons"] = reasons
	}
	return report
}
