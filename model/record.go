// Package model holds the wire/storage shapes shared by every AIOps
// component: telemetry records, the severity scale, and the reserved
// path prefixes the Analyzer must never treat as business traffic.
package model

import (
	"time"

	aerrors "aiops-engine/errors"
)

// Severity is the shared ordering used by anomalies and incidents.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// MaxSeverity returns the highest-ranked severity among those given,
// defaulting to SeverityMedium for an empty input (mirrors the source's
// own default weighting for unspecified severities).
func MaxSeverity(severities ...Severity) Severity {
	max := SeverityMedium
	maxRank := severityRank[SeverityMedium]
	seen := false
	for _, s := range severities {
		r, ok := severityRank[s]
		if !ok {
			r = severityRank[SeverityMedium]
		}
		if !seen || r > maxRank {
			max = s
			maxRank = r
			seen = true
		}
	}
	return max
}

// ReservedPrefixes are endpoint-path prefixes the Analyzer excludes from
// every detection pass: the engine's own control surface and the failure
// injector's control surface.
var ReservedPrefixes = []string{"/aiops/", "/simulate/"}

// IsReservedEndpoint reports whether endpoint belongs to the engine's own
// control surface rather than the monitored service.
func IsReservedEndpoint(endpoint string) bool {
	for _, prefix := range ReservedPrefixes {
		if len(endpoint) >= len(prefix) && endpoint[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// TelemetryRecord is one completed request observation. Immutable after
// insert; the Store never hands out a pointer a caller could mutate.
type TelemetryRecord struct {
	ServiceName  string    `json:"service_name"`
	Endpoint     string    `json:"endpoint"`
	Method       string    `json:"method"`
	StatusCode   int       `json:"status_code"`
	LatencyMs    float64   `json:"latency_ms"`
	ErrorMessage string    `json:"error_message,omitempty"`
	TraceID      string    `json:"trace_id"`
	Timestamp    time.Time `json:"timestamp"`
}

// Validate enforces the record invariants from the data model: a non-empty
// trace id, non-negative latency, and an error message only on 5xx.
func (r TelemetryRecord) Validate() error {
	if r.TraceID == "" {
		return aerrors.ValidationError("TelemetryRecord.Validate", "trace_id must not be empty")
	}
	if r.LatencyMs < 0 {
		return aerrors.ValidationErrorf("TelemetryRecord.Validate", "latency_ms must be >= 0, got %f", r.LatencyMs)
	}
	if r.ErrorMessage != "" && r.StatusCode < 500 {
		return aerrors.ValidationErrorf("TelemetryRecord.Validate", "error_message set on non-5xx status %d", r.StatusCode)
	}
	return nil
}

// IsSuccess reports whether the record counts as a successful response for
// baseline-learning purposes (200-299).
func (r TelemetryRecord) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsServerError reports whether the record counts as a 5xx failure.
func (r TelemetryRecord) IsServerError() bool {
	return r.StatusCode >= 500
}

// EndpointStats is the zero-safe aggregate returned by get_endpoint_stats.
type EndpointStats struct {
	Endpoint          string        `json:"endpoint"`
	RequestCount      int           `json:"request_count"`
	AvgLatencyMs      float64       `json:"avg_latency_ms"`
	ErrorRate         float64       `json:"error_rate"`
	StatusDistribution map[int]int `json:"status_distribution"`
}
