// Package anomaly implements the Anomaly Analyzer: it learns per-endpoint
// latency baselines with an EWMA and runs three independent detectors
// (latency, error-rate, silence) over the telemetry store on each tick.
package anomaly

import (
	"sort"
	"sync"
	"time"

	"aiops-engine/config"
	"aiops-engine/model"
	"aiops-engine/telemetry"
)

// Analyzer owns the baseline map; every other piece of state it touches
// (the store) is a read-only dependency.
type Analyzer struct {
	store *telemetry.Store
	cfg   *config.Config

	mu       sync.RWMutex
	baseline map[string]float64
}

// New creates an Analyzer bound to store, using cfg's thresholds.
func New(store *telemetry.Store, cfg *config.Config) *Analyzer {
	return &Analyzer{
		store:    store,
		cfg:      cfg,
		baseline: make(map[string]float64),
	}
}

// Tick is the result of one run_analysis() pass.
type Tick struct {
	Timestamp time.Time          `json:"timestamp"`
	Anomalies []model.Anomaly    `json:"anomalies"`
	Baselines map[string]float64 `json:"baselines"`
}

// Baselines returns a snapshot of the current baseline map.
func (a *Analyzer) Baselines() map[string]float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]float64, len(a.baseline))
	for k, v := range a.baseline {
		out[k] = v
	}
	return out
}

// RunAnalysis performs, in order: baseline learning, latency detection,
// error-rate detection, silence detection — exactly the sequence the
// spec's tick output requires. Ordering among the resulting anomalies is
// unspecified and callers must not depend on it.
func (a *Analyzer) RunAnalysis() Tick {
	now := time.Now()
	a.LearnBaselines(now)

	var anomalies []model.Anomaly
	anomalies = append(anomalies, a.DetectLatencyAnomalies(now)...)
	anomalies = append(anomalies, a.DetectErrorSpikes(now)...)
	anomalies = append(anomalies, a.DetectSilence(now)...)

	return Tick{
		Timestamp: now,
		Anomalies: anomalies,
		Baselines: a.Baselines(),
	}
}

// LearnBaselines recomputes the EWMA baseline for every non-reserved
// endpoint with enough successful samples in the baseline window.
func (a *Analyzer) LearnBaselines(now time.Time) {
	for _, endpoint := range a.endpoints() {
		records := a.store.GetRecentMetrics(endpoint, a.cfg.BaselineWindow)
		var sum float64
		var count int
		for _, r := range records {
			if r.IsSuccess() {
				sum += r.LatencyMs
				count++
			}
		}
		if count < a.cfg.MinSamplesForBaseline {
			continue
		}
		mean := sum / float64(count)

		a.mu.Lock()
		if prior, ok := a.baseline[endpoint]; ok {
			a.baseline[endpoint] = 0.9*prior + 0.1*mean
		} else {
			a.baseline[endpoint] = mean
		}
		a.mu.Unlock()
	}
}

// DetectLatencyAnomalies emits a LatencyAnomaly for every endpoint whose
// current-window mean latency exceeds LatencyMultiplier times its baseline.
func (a *Analyzer) DetectLatencyAnomalies(now time.Time) []model.Anomaly {
	var out []model.Anomaly
	for endpoint, baseline := range a.Baselines() {
		if baseline <= 0 {
			continue
		}
		records := a.store.GetRecentMetrics(endpoint, a.cfg.AnalysisWindow)
		if len(records) == 0 {
			continue
		}

		var sum float64
		traceSet := make(map[string]struct{})
		for _, r := range records {
			sum += r.LatencyMs
			traceSet[r.TraceID] = struct{}{}
		}
		current := sum / float64(len(records))

		if current <= baseline*a.cfg.LatencyMultiplier {
			continue
		}

		severity := model.SeverityMedium
		if current > 5*baseline {
			severity = model.SeverityHigh
		}

		out = append(out, model.Anomaly{
			Kind:       model.KindLatency,
			Endpoint:   endpoint,
			Severity:   severity,
			DetectedAt: now,
			BaselineMs: baseline,
			CurrentMs:  current,
			Deviation:  current / baseline,
			SampleSize: len(records),
			TraceIDs:   traceIDSlice(traceSet),
		})
	}
	return out
}

// DetectErrorSpikes emits an ErrorSpike for every endpoint whose
// analysis-window error rate exceeds ErrorRateThreshold, requiring at
// least 5 records to avoid noisy single-request spikes.
func (a *Analyzer) DetectErrorSpikes(now time.Time) []model.Anomaly {
	var out []model.Anomaly
	for _, endpoint := range a.endpoints() {
		records := a.store.GetRecentMetrics(endpoint, a.cfg.AnalysisWindow)
		if len(records) < 5 {
			continue
		}

		var errCount int
		traceSet := make(map[string]struct{})
		var samples []string
		for _, r := range records {
			if !r.IsServerError() {
				continue
			}
			errCount++
			traceSet[r.TraceID] = struct{}{}
			if r.ErrorMessage != "" && len(samples) < model.MaxErrorSamples {
				samples = append(samples, model.TruncateError(r.ErrorMessage))
			}
		}

		errorRate := float64(errCount) / float64(len(records))
		if errorRate <= a.cfg.ErrorRateThreshold {
			continue
		}

		severity := model.SeverityHigh
		if errorRate > 0.5 {
			severity = model.SeverityCritical
		}

		out = append(out, model.Anomaly{
			Kind:          model.KindError,
			Endpoint:      endpoint,
			Severity:      severity,
			DetectedAt:    now,
			ErrorRate:     errorRate,
			ErrorCount:    errCount,
			TotalRequests: len(records),
			SampleErrors:  samples,
			TraceIDs:      traceIDSlice(traceSet),
		})
	}
	return out
}

// DetectSilence emits a Silence anomaly for every endpoint that was
// previously active (more than 10 records in the baseline window) but has
// produced nothing in the analysis window.
func (a *Analyzer) DetectSilence(now time.Time) []model.Anomaly {
	var out []model.Anomaly
	for _, endpoint := range a.endpoints() {
		recent := a.store.GetRecentMetrics(endpoint, a.cfg.AnalysisWindow)
		if len(recent) > 0 {
			continue
		}
		history := a.store.GetRecentMetrics(endpoint, a.cfg.BaselineWindow)
		if len(history) <= 10 {
			continue
		}

		lastSeen := history[0].Timestamp
		for _, r := range history {
			if r.Timestamp.After(lastSeen) {
				lastSeen = r.Timestamp
			}
		}

		out = append(out, model.Anomaly{
			Kind:       model.KindSilence,
			Endpoint:   endpoint,
			Severity:   model.SeverityMedium,
			DetectedAt: now,
			LastSeen:   lastSeen,
		})
	}
	return out
}

// endpoints returns every known, non-reserved endpoint, auto-discovered
// from the store.
func (a *Analyzer) endpoints() []string {
	all := a.store.GetAllEndpoints()
	out := make([]string, 0, len(all))
	for _, e := range all {
		if !model.IsReservedEndpoint(e) {
			out = append(out, e)
		}
	}
	return out
}

func traceIDSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
