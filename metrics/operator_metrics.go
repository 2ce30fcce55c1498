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

package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// EngineMetrics holds all Prometheus metrics for the AIOps engine.
type EngineMetrics struct {
	RecordsIngestedTotal *prometheus.CounterVec

	AnomaliesDetectedTotal *prometheus.CounterVec

	IncidentsCreatedTotal *prometheus.CounterVec
	IncidentsActive       prometheus.Gauge

	TickDuration   prometheus.Histogram
	TickErrorTotal prometheus.Counter

	StreamConnections prometheus.Gauge
	AuditEntriesTotal *prometheus.CounterVec

	CircuitBreakerStateTotal *prometheus.CounterVec
}

var (
	engineMetricsInstance *EngineMetrics
	engineMetricsOnce     sync.Once
)

// NewEngineMetrics creates and registers all Prometheus metrics. Uses a
// singleton pattern to prevent duplicate registration.
func NewEngineMetrics() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineMetricsInstance = createEngineMetrics()
	})
	return engineMetricsInstance
}

func createEngineMetrics() *EngineMetrics {
	m := &EngineMetrics{
		RecordsIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aiops_records_ingested_total",
				Help: "Total number of telemetry records ingested",
			},
			[]string{"endpoint", "status"},
		),

		AnomaliesDetectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aiops_anomalies_detected_total",
				Help: "Total number of anomalies detected, by kind and endpoint",
			},
			[]string{"type", "endpoint"},
		),

		IncidentsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aiops_incidents_created_total",
				Help: "Total number of incidents created, by severity",
			},
			[]string{"severity"},
		),

		IncidentsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aiops_incidents_active",
			Help: "Current number of active (unresolved, unexpired) incidents",
		}),

		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aiops_tick_duration_seconds",
			Help:    "Time spent running one scheduler tick (analysis + correlation)",
			Buckets: prometheus.DefBuckets,
		}),

		TickErrorTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aiops_tick_errors_total",
			Help: "Total number of scheduler ticks that recovered from a panic",
		}),

		StreamConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aiops_stream_connections",
			Help: "Current number of open /aiops/stream websocket connections",
		}),

		AuditEntriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aiops_audit_entries_total",
				Help: "Total number of audit trail entries written, by action",
			},
			[]string{"action"},
		),

		CircuitBreakerStateTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aiops_circuit_breaker_state_total",
				Help: "Total number of circuit breaker state transitions, by breaker name and new state",
			},
			[]string{"name", "state"},
		),
	}

	safeRegister(
		m.RecordsIngestedTotal,
		m.AnomaliesDetectedTotal,
		m.IncidentsCreatedTotal,
		m.IncidentsActive,
		m.TickDuration,
		m.TickErrorTotal,
		m.StreamConnections,
		m.AuditEntriesTotal,
		m.CircuitBreakerStateTotal,
	)

	return m
}

// safeRegister registers Prometheus collectors, ignoring AlreadyRegisteredError.
func safeRegister(collectors ...prometheus.Collector) {
	for _, collector := range collectors {
		if err := prometheus.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				continue
			}
		}
	}
}

// RecordIngest records one ingested telemetry record.
func (m *EngineMetrics) RecordIngest(endpoint string, status int) {
	if m == nil {
		return
	}
	m.RecordsIngestedTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

// RecordAnomaly records one detected anomaly.
func (m *EngineMetrics) RecordAnomaly(kind, endpoint string) {
	if m == nil {
		return
	}
	m.AnomaliesDetectedTotal.WithLabelValues(kind, endpoint).Inc()
}

// RecordIncidentCreated records a newly created incident.
func (m *EngineMetrics) RecordIncidentCreated(severity string) {
	if m == nil {
		return
	}
	m.IncidentsCreatedTotal.WithLabelValues(severity).Inc()
}

// SetActiveIncidents sets the current active-incident gauge.
func (m *EngineMetrics) SetActiveIncidents(count int) {
	if m == nil {
		return
	}
	m.IncidentsActive.Set(float64(count))
}

// RecordTick records one scheduler tick's duration.
func (m *EngineMetrics) RecordTick(duration time.Duration) {
	if m == nil {
		return
	}
	m.TickDuration.Observe(duration.Seconds())
}

// RecordTickError records a tick that recovered from a panic.
func (m *EngineMetrics) RecordTickError() {
	if m == nil {
		return
	}
	m.TickErrorTotal.Inc()
}

// SetStreamConnections sets the current open-websocket-connection gauge.
func (m *EngineMetrics) SetStreamConnections(count int) {
	if m == nil {
		return
	}
	m.StreamConnections.Set(float64(count))
}

// RecordAuditEntry records one audit trail write.
func (m *EngineMetrics) RecordAuditEntry(action string) {
	if m == nil {
		return
	}
	m.AuditEntriesTotal.WithLabelValues(action).Inc()
}

// RecordCircuitBreakerTransition records a circuit breaker moving into a
// new state.
func (m *EngineMetrics) RecordCircuitBreakerTransition(name, state string) {
	if m == nil {
		return
	}
	m.CircuitBreakerStateTotal.WithLabelValues(name, state).Inc()
}

// StartMetricsServer starts the Prometheus metrics HTTP server.
func StartMetricsServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(":"+strconv.Itoa(port), mux)
}

// Timer is a helper for measuring operation durations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed duration since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration observes the elapsed duration in the given histogram.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}
