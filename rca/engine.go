package rca

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"aiops-engine/config"
	"aiops-engine/model"
	"aiops-engine/telemetry"

	"go.uber.org/zap"
)

// firstFailureLatencyMs is the latency, independent of status code, past
// which a record counts as a "first failure" candidate for root-cause
// purposes.
const firstFailureLatencyMs = 5000

// Engine owns the incident table. It reads the store (for trace replay)
// but never mutates it.
type Engine struct {
	store *telemetry.Store
	cfg   *config.Config
	log   *zap.Logger

	mu        sync.RWMutex
	incidents map[string]*Incident
	counter   int
}

// New creates an Engine bound to store, using cfg's correlation window
// and incident TTL.
func New(store *telemetry.Store, cfg *config.Config, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:     store,
		cfg:       cfg,
		log:       log,
		incidents: make(map[string]*Incident),
	}
}

// Correlate runs the full RCA pipeline over one analyzer tick's worth of
// anomalies: temporal grouping, trace-based root-cause analysis, incident
// construction, and storage. Returns the incidents created this call (an
// empty slice if anomalies is empty).
func (e *Engine) Correlate(anomalies []model.Anomaly) []*Incident {
	if len(anomalies) == 0 {
		return nil
	}

	groups := e.groupByTime(anomalies)

	created := make([]*Incident, 0, len(groups))
	for _, group := range groups {
		inc := e.buildIncident(group)
		e.storeIncident(inc)
		created = append(created, inc)
	}
	return created
}

// groupByTime sorts anomalies ascending by DetectedAt and partitions them
// so that every member's timestamp falls within CorrelationWindow of the
// group's first member — drift across a long group is deliberate, per the
// spec's anchored-window rule.
func (e *Engine) groupByTime(anomalies []model.Anomaly) [][]model.Anomaly {
	sorted := make([]model.Anomaly, len(anomalies))
	copy(sorted, anomalies)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].DetectedAt.Before(sorted[j].DetectedAt)
	})

	var groups [][]model.Anomaly
	var current []model.Anomaly
	var groupStart time.Time

	for _, a := range sorted {
		if current == nil {
			current = []model.Anomaly{a}
			groupStart = a.DetectedAt
			continue
		}
		if a.DetectedAt.Sub(groupStart) < e.cfg.CorrelationWindow {
			current = append(current, a)
			continue
		}
		groups = append(groups, current)
		current = []model.Anomaly{a}
		groupStart = a.DetectedAt
	}
	if current != nil {
		groups = append(groups, current)
	}
	return groups
}

// buildIncident runs steps 2-4 of the RCA pipeline for a single temporal
// group: trace replay, root-cause selection, and incident assembly.
func (e *Engine) buildIncident(group []model.Anomaly) *Incident {
	traceIDs := unionTraceIDs(group)
	if len(traceIDs) == 0 {
		return e.simpleIncident(group)
	}

	rootCounts := make(map[string]int)
	affected := make(map[string]struct{})
	var samples []SampleTrace

	for _, traceID := range traceIDs {
		records := e.store.GetMetricsByTrace(traceID)
		if len(records) == 0 {
			continue
		}

		var root *model.TelemetryRecord
		for i := range records {
			r := &records[i]
			affected[r.Endpoint] = struct{}{}
			if root == nil && (r.StatusCode >= 500 || r.LatencyMs > firstFailureLatencyMs) {
				root = r
			}
		}

		chain := make([]string, len(records))
		for i, r := range records {
			chain[i] = r.Endpoint
		}

		sample := SampleTrace{TraceID: traceID, AffectedChain: chain}
		if root != nil {
			rootCounts[root.Endpoint]++
			sample.RootEndpoint = root.Endpoint
			sample.RootStatus = root.StatusCode
		}
		if len(samples) < MaxSampleTraces {
			samples = append(samples, sample)
		}
	}

	rootEndpoint := mostFrequent(rootCounts)
	if rootEndpoint == "" {
		rootEndpoint = group[0].Endpoint
	}

	totalTraces := len(traceIDs)
	confidence := float64(rootCounts[rootEndpoint]) / float64(max(totalTraces, 1))

	severities := make([]model.Severity, len(group))
	for i, a := range group {
		severities[i] = a.Severity
	}

	inc := &Incident{
		ID:                e.nextID(),
		Severity:          model.MaxSeverity(severities...),
		Status:            StatusActive,
		Title:             title(group, rootEndpoint),
		RootCause:         RootCause{Endpoint: rootEndpoint, Confidence: confidence, Description: description(group, rootEndpoint)},
		AffectedEndpoints: setToSortedSlice(affected),
		Anomalies:         group,
		TraceCorrelation:  &TraceCorrelation{TotalTraces: totalTraces, SampleTraces: samples},
		FirstDetected:     group[0].DetectedAt,
		LastUpdated:       group[0].DetectedAt,
	}
	return inc
}

// simpleIncident is the fallback for a group with no associated trace
// ids: the first anomaly's endpoint is trusted directly, with full
// confidence.
func (e *Engine) simpleIncident(group []model.Anomaly) *Incident {
	root := group[0].Endpoint
	severities := make([]model.Severity, len(group))
	for i, a := range group {
		severities[i] = a.Severity
	}
	return &Incident{
		ID:                e.nextID(),
		Severity:          model.MaxSeverity(severities...),
		Status:            StatusActive,
		Title:             title(group, root),
		RootCause:         RootCause{Endpoint: root, Confidence: 1.0, Description: description(group, root)},
		AffectedEndpoints: []string{root},
		Anomalies:         group,
		FirstDetected:     group[0].DetectedAt,
		LastUpdated:       group[0].DetectedAt,
	}
}

func (e *Engine) nextID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counter++
	return fmt.Sprintf("INC-%d-%d", time.Now().Unix(), e.counter)
}

func (e *Engine) storeIncident(inc *Incident) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.incidents[inc.ID] = inc
	e.log.Info("incident created",
		zap.String("id", inc.ID),
		zap.String("severity", string(inc.Severity)),
		zap.String("root_endpoint", inc.RootCause.Endpoint),
		zap.Float64("confidence", inc.RootCause.Confidence),
	)
}

// GetActiveIncidents returns every incident still active and within TTL,
// sorted by severity descending (critical first) then first_detected
// ascending.
func (e *Engine) GetActiveIncidents() []*Incident {
	e.mu.RLock()
	defer e.mu.RUnlock()

	now := time.Now()
	var out []*Incident
	for _, inc := range e.incidents {
		if inc.IsActive(now, e.cfg.IncidentTTL) {
			out = append(out, inc)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		ri, rj := severityRank(out[i].Severity), severityRank(out[j].Severity)
		if ri != rj {
			return ri > rj
		}
		return out[i].FirstDetected.Before(out[j].FirstDetected)
	})
	return out
}

// GetIncidentByID returns the incident regardless of its active/resolved
// or TTL state, or nil if unknown.
func (e *Engine) GetIncidentByID(id string) *Incident {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.incidents[id]
}

// ResolveIncident transitions an incident to resolved and records
// resolved_at. Idempotent: resolving an already-resolved incident leaves
// its original resolved_at untouched and returns no error.
func (e *Engine) ResolveIncident(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	inc, ok := e.incidents[id]
	if !ok {
		return fmt.Errorf("incident not found: %s", id)
	}
	if inc.Status == StatusResolved {
		return nil
	}

	now := time.Now()
	inc.Status = StatusResolved
	inc.ResolvedAt = &now
	inc.LastUpdated = now
	e.log.Info("incident resolved", zap.String("id", id))
	return nil
}

func unionTraceIDs(group []model.Anomaly) []string {
	set := make(map[string]struct{})
	for _, a := range group {
		for _, id := range a.TraceIDs {
			set[id] = struct{}{}
		}
	}
	return setToSortedSlice(set)
}

func setToSortedSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// mostFrequent returns the key with the highest count, breaking ties by
// lexical order of the key for determinism.
func mostFrequent(counts map[string]int) string {
	best := ""
	bestCount := -1
	for k, c := range counts {
		if c > bestCount || (c == bestCount && k < best) {
			best = k
			bestCount = c
		}
	}
	return best
}

func severityRank(s model.Severity) int {
	switch s {
	case model.SeverityCritical:
		return 3
	case model.SeverityHigh:
		return 2
	case model.SeverityMedium:
		return 1
	default:
		return 0
	}
}

func title(group []model.Anomaly, root string) string {
	hasError, hasLatency := false, false
	for _, a := range group {
		switch a.Kind {
		case model.KindError:
			hasError = true
		case model.KindLatency:
			hasLatency = true
		}
	}
	switch {
	case hasError:
		return fmt.Sprintf("Error spike detected in %s", root)
	case hasLatency:
		return fmt.Sprintf("Latency spike detected in %s", root)
	default:
		return fmt.Sprintf("Service degradation detected in %s", root)
	}
}

func description(group []model.Anomaly, root string) string {
	for _, a := range group {
		if a.Endpoint != root {
			continue
		}
		switch a.Kind {
		case model.KindLatency:
			return fmt.Sprintf("Latency spike: %.0fms (baseline: %.0fms, %.1fx slower)", a.CurrentMs, a.BaselineMs, a.Deviation)
		case model.KindError:
			return fmt.Sprintf("Error spike: %.0f%% error rate (%d failures)", a.ErrorRate*100, a.ErrorCount)
		case model.KindSilence:
			return "Endpoint stopped responding"
		}
	}
	return fmt.Sprintf("Issue detected in %s", root)
}
