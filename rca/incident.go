// Copyright (C) 2024 right-sizer contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package rca implements the RCA Engine: it groups anomalies from one
// analyzer tick by temporal proximity, replays traces to find the most
// likely root endpoint, and materializes incidents with a TTL-bounded
// active lifecycle. Adapted from the operator's alert manager — same
// RWMutex-table-plus-lifecycle shape, retargeted at trace-correlated
// incidents instead of per-pod resource alerts.
package rca

import (
	"time"

	"aiops-engine/model"
)

// RootCause is the RCA engine's best guess at which endpoint started the
// failure chain.
type RootCause struct {
	Endpoint    string  `json:"endpoint"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
}

// SampleTrace is one reconstructed call chain kept on an incident for
// operator inspection.
type SampleTrace struct {
	TraceID       string   `json:"trace_id"`
	RootEndpoint  string   `json:"root_endpoint"`
	RootStatus    int      `json:"root_status"`
	AffectedChain []string `json:"affected_chain"`
}

// TraceCorrelation summarizes how many traces fed an incident's RCA.
type TraceCorrelation struct {
	TotalTraces  int           `json:"total_traces"`
	SampleTraces []SampleTrace `json:"sample_traces"`
}

// MaxSampleTraces bounds TraceCorrelation.SampleTraces.
const MaxSampleTraces = 5

// IncidentStatus is the incident lifecycle state.
type IncidentStatus string

const (
	StatusActive   IncidentStatus = "active"
	StatusResolved IncidentStatus = "resolved"
)

// Incident is a deduplicated, severity-ranked bundle of anomalies with an
// inferred root endpoint.
type Incident struct {
	ID                string           `json:"id"`
	Severity          model.Severity   `json:"severity"`
	Status            IncidentStatus   `json:"status"`
	Title             string           `json:"title"`
	RootCause         RootCause        `json:"root_cause"`
	AffectedEndpoints []string         `json:"affected_endpoints"`
	Anomalies         []model.Anomaly  `json:"anomalies"`
	TraceCorrelation  *TraceCorrelation `json:"trace_correlation,omitempty"`
	FirstDetected     time.Time        `json:"first_detected"`
	LastUpdated       time.Time        `json:"last_updated"`
	ResolvedAt        *time.Time       `json:"resolved_at,omitempty"`
}

// IsActive reports whether the incident should appear in the active
// listing: status active and updated within the TTL.
func (inc *Incident) IsActive(now time.Time, ttl time.Duration) bool {
	return inc.Status == StatusActive && now.Sub(inc.LastUpdated) < ttl
}
