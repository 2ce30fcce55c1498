// Package scheduler drives the Analyzer → RCA arrow: a single long-lived
// background task that, on a fixed tick, runs one analysis pass and
// correlates the resulting anomalies into incidents. Grounded on the
// operator's own background-loop idiom (context-cancellable ticker,
// log-and-continue on failure, never exit the loop).
package scheduler

import (
	"context"
	"sync"
	"time"

	"aiops-engine/anomaly"
	"aiops-engine/logger"
	"aiops-engine/rca"
)

// Scheduler runs analyzer.RunAnalysis -> rca.Correlate on a fixed
// interval, and exposes Trigger for an out-of-band manual run (the
// /aiops/analyze endpoint) that is safe to call concurrently with the
// background tick.
type Scheduler struct {
	analyzer *anomaly.Analyzer
	rca      *rca.Engine
	interval time.Duration

	// runMu serializes ticks and manual triggers so they never overlap:
	// the spec requires /aiops/analyze to be safe alongside the
	// scheduler, not that the two run truly concurrently.
	runMu sync.Mutex

	mu        sync.RWMutex
	lastTick  time.Time
	tickCount int64

	onTick func(tick anomaly.Tick, created []*rca.Incident)
}

// New creates a Scheduler bound to analyzer and rca, ticking every
// interval.
func New(analyzer *anomaly.Analyzer, rcaEngine *rca.Engine, interval time.Duration) *Scheduler {
	return &Scheduler{analyzer: analyzer, rca: rcaEngine, interval: interval}
}

// OnTick registers a callback invoked after every completed tick
// (scheduled or manual), under the same serialization as the tick
// itself. Used to wire health/metrics/event observers without the
// scheduler importing any of those packages directly.
func (s *Scheduler) OnTick(fn func(tick anomaly.Tick, created []*rca.Incident)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTick = fn
}

// Run blocks, ticking until ctx is cancelled. A panic or error inside a
// single tick is caught and logged; the loop itself never exits except
// via context cancellation.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Info("scheduler started, tick interval %s", s.interval)

	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.runTickSafely()
		}
	}
}

// Trigger runs one analysis+correlation pass immediately, independent of
// the ticker, and returns the tick it ran plus the incidents it created.
// Safe to call from an HTTP handler concurrently with the background loop.
func (s *Scheduler) Trigger() (anomaly.Tick, []*rca.Incident) {
	return s.runTickSafely()
}

func (s *Scheduler) runTickSafely() (tick anomaly.Tick, created []*rca.Incident) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			logger.Error("scheduler tick panicked: %v", p)
		}
	}()

	tick = s.analyzer.RunAnalysis()
	created = s.rca.Correlate(tick.Anomalies)

	s.mu.Lock()
	s.lastTick = tick.Timestamp
	s.tickCount++
	onTick := s.onTick
	s.mu.Unlock()

	if len(created) > 0 {
		logger.Info("tick produced %d anomalies, %d incidents", len(tick.Anomalies), len(created))
	}

	if onTick != nil {
		onTick(tick, created)
	}
	return tick, created
}

// LastTick reports when the most recent tick (scheduled or manual)
// completed, and the total number of ticks run — used by the health
// reporter's staleness check.
func (s *Scheduler) LastTick() (time.Time, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTick, s.tickCount
}
