// Copyright (C) 2024 right-sizer contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package telemetry implements the Telemetry Store: an append-only record
// of request observations with (endpoint, timestamp) and (trace_id)
// lookups, sufficient for the Analyzer's per-tick queries and the RCA
// engine's trace replay.
package telemetry

import (
	"sort"
	"sync"
	"time"

	"aiops-engine/model"
)

// Store is a concurrency-safe, in-memory telemetry store. It is
// soft-durable per spec: acceptable to lose state across restarts,
// provided the query contract holds for the process lifetime.
type Store struct {
	mu sync.RWMutex

	// byEndpoint holds every record for an endpoint, in insertion order.
	// Each endpoint's slice is append-only; queries filter it by window
	// and then sort the result by timestamp.
	byEndpoint map[string][]model.TelemetryRecord

	// byTrace indexes the same records by trace id for RCA replay.
	byTrace map[string][]model.TelemetryRecord
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		byEndpoint: make(map[string][]model.TelemetryRecord),
		byTrace:    make(map[string][]model.TelemetryRecord),
	}
}

// StoreMetric appends a record. Safe for concurrent callers.
func (s *Store) StoreMetric(r model.TelemetryRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byEndpoint[r.Endpoint] = append(s.byEndpoint[r.Endpoint], r)
	s.byTrace[r.TraceID] = append(s.byTrace[r.TraceID], r)
}

// GetRecentMetrics returns every record with timestamp > now-window,
// newest first. If endpoint is non-empty, results are filtered to it;
// otherwise every endpoint is scanned.
func (s *Store) GetRecentMetrics(endpoint string, window time.Duration) []model.TelemetryRecord {
	cutoff := time.Now().Add(-window)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.TelemetryRecord
	if endpoint != "" {
		out = filterAfter(s.byEndpoint[endpoint], cutoff)
	} else {
		for _, records := range s.byEndpoint {
			out = append(out, filterAfter(records, cutoff)...)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

func filterAfter(records []model.TelemetryRecord, cutoff time.Time) []model.TelemetryRecord {
	var out []model.TelemetryRecord
	for _, r := range records {
		if r.Timestamp.After(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

// GetMetricsByTrace returns every record for trace_id, sorted ascending
// by timestamp (the order the RCA engine replays a call chain in).
func (s *Store) GetMetricsByTrace(traceID string) []model.TelemetryRecord {
	s.mu.RLock()
	records := append([]model.TelemetryRecord(nil), s.byTrace[traceID]...)
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp.Before(records[j].Timestamp) })
	return records
}

// GetEndpointStats computes the zero-safe aggregate for endpoint over the
// given window: request count, mean latency, 5xx error rate, and a status
// code histogram.
func (s *Store) GetEndpointStats(endpoint string, window time.Duration) model.EndpointStats {
	records := s.GetRecentMetrics(endpoint, window)

	stats := model.EndpointStats{
		Endpoint:            endpoint,
		StatusDistribution:  map[int]int{},
	}
	if len(records) == 0 {
		return stats
	}

	var totalLatency float64
	var errorCount int
	for _, r := range records {
		totalLatency += r.LatencyMs
		if r.IsServerError() {
			errorCount++
		}
		stats.StatusDistribution[r.StatusCode]++
	}

	stats.RequestCount = len(records)
	stats.AvgLatencyMs = totalLatency / float64(len(records))
	stats.ErrorRate = float64(errorCount) / float64(len(records))
	return stats
}

// GetAllEndpoints auto-discovers every endpoint that has ever had a
// record stored, so the Analyzer never needs a manually maintained list.
func (s *Store) GetAllEndpoints() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	endpoints := make([]string, 0, len(s.byEndpoint))
	for endpoint, records := range s.byEndpoint {
		if len(records) == 0 {
			continue
		}
		endpoints = append(endpoints, endpoint)
	}
	sort.Strings(endpoints)
	return endpoints
}

// Prune drops records older than maxAge across every endpoint and trace
// index. Optional: the spec allows unbounded retention, but a
// long-running process benefits from bounding memory use. Queries over
// windows <= BASELINE_WINDOW_MINUTES remain intact as long as maxAge
// exceeds that window.
func (s *Store) Prune(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	for endpoint, records := range s.byEndpoint {
		kept := filterAfter(records, cutoff)
		if len(kept) == 0 {
			delete(s.byEndpoint, endpoint)
		} else {
			s.byEndpoint[endpoint] = kept
		}
	}
	for traceID, records := range s.byTrace {
		kept := filterAfter(records, cutoff)
		if len(kept) == 0 {
			delete(s.byTrace, traceID)
		} else {
			s.byTrace[traceID] = kept
		}
	}
}
