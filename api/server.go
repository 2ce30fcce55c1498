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

// Package api implements the Read API: the JSON-over-HTTP control/read
// surface described in the external interfaces section, plus the
// supplemental live-event stream, audit trail, health checks and the
// failure-injection control surface.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"aiops-engine/anomaly"
	"aiops-engine/audit"
	"aiops-engine/config"
	"aiops-engine/events"
	"aiops-engine/health"
	"aiops-engine/logger"
	"aiops-engine/metrics"
	"aiops-engine/model"
	"aiops-engine/rca"
	"aiops-engine/scheduler"
	"aiops-engine/simulate"
	"aiops-engine/telemetry"
	"aiops-engine/tracecontext"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	serverReadHeaderTimeout = 30 * time.Second
	serverReadTimeout       = 120 * time.Second
	serverWriteTimeout      = 120 * time.Second
	serverIdleTimeout       = 180 * time.Second

	healthScoreMax              = 100.0
	healthScoreErrorWeight       = 50.0
	healthScoreLatencyPenalty    = 30.0
	healthScoreLatencyThreshold  = 2.0
	healthStatusHealthyFloor     = 80.0
	healthStatusDegradedFloor    = 50.0
)

// Server is the Read API: a thin read-only view over the store,
// analyzer and RCA engine, plus the supplemental control endpoints
// (stream, health, metrics, failure injection).
type Server struct {
	cfg       *config.Config
	store     *telemetry.Store
	analyzer  *anomaly.Analyzer
	rca       *rca.Engine
	scheduler *scheduler.Scheduler
	injector  *simulate.Injector

	bus      *events.EventBus
	stream   *events.Stream
	auditLog *audit.Logger
	checker  *health.Checker
	metrics  *metrics.EngineMetrics
}

// NewServer creates a Server wired to every engine component. bus,
// stream, auditLog, checker and engineMetrics are optional (nil-safe) so
// tests can exercise the pure read surface in isolation.
func NewServer(
	cfg *config.Config,
	store *telemetry.Store,
	analyzer *anomaly.Analyzer,
	rcaEngine *rca.Engine,
	sched *scheduler.Scheduler,
	injector *simulate.Injector,
	bus *events.EventBus,
	stream *events.Stream,
	auditLog *audit.Logger,
	checker *health.Checker,
	engineMetrics *metrics.EngineMetrics,
) *Server {
	return &Server{
		cfg:       cfg,
		store:     store,
		analyzer:  analyzer,
		rca:       rcaEngine,
		scheduler: sched,
		injector:  injector,
		bus:       bus,
		stream:    stream,
		auditLog:  auditLog,
		checker:   checker,
		metrics:   engineMetrics,
	}
}

// Start starts the API server and blocks until it exits.
func (s *Server) Start(port int) error {
	logger.Info("starting API server on port %d", port)

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.traceMiddleware(mux),
		ReadHeaderTimeout: serverReadHeaderTimeout,
		ReadTimeout:       serverReadTimeout,
		WriteTimeout:      serverWriteTimeout,
		IdleTimeout:       serverIdleTimeout,
	}

	logger.Info("API server started on port %d", port)
	return server.ListenAndServe()
}

// Handler returns the routed http.Handler without starting a listener,
// for tests and for embedding behind another server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return s.traceMiddleware(mux)
}

// traceMiddleware reads or mints the trace header and echoes it on every
// response, per the external interfaces contract.
func (s *Server) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := tracecontext.FromRequest(r)
		tracecontext.Echo(w, traceID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/aiops/metrics", s.handleMetrics)
	mux.HandleFunc("/aiops/incidents", s.handleIncidents)
	mux.HandleFunc("/aiops/incidents/", s.handleIncidentByID)
	mux.HandleFunc("/aiops/analyze", s.handleAnalyze)

	if s.stream != nil {
		mux.HandleFunc("/aiops/stream", s.stream.ServeHTTP)
	}

	mux.HandleFunc("/healthz", s.handleLiveness)
	mux.HandleFunc("/readyz", s.handleReadiness)

	if s.metrics != nil {
		mux.Handle("/metrics", promhttp.Handler())
	}

	mux.HandleFunc("/simulate/delay", s.handleSimulateDelay)
	mux.HandleFunc("/simulate/error", s.handleSimulateErrorRate)
	mux.HandleFunc("/simulate/clear", s.handleSimulateClear)
}

// handleMetrics implements GET /aiops/metrics: per-endpoint request
// count, latency, error rate, status histogram, learned baseline and
// derived health score over the baseline window (cfg.BaselineWindow),
// matching the source's get_endpoint_stats default.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	window := s.cfg.BaselineWindow
	baselines := s.analyzer.Baselines()

	out := make(map[string]map[string]interface{})
	for _, endpoint := range s.store.GetAllEndpoints() {
		if model.IsReservedEndpoint(endpoint) {
			continue
		}
		stats := s.store.GetEndpointStats(endpoint, window)
		baseline := baselines[endpoint]

		score, status := healthScore(stats.AvgLatencyMs, stats.ErrorRate, baseline)

		out[endpoint] = map[string]interface{}{
			"request_count":       stats.RequestCount,
			"avg_latency_ms":      stats.AvgLatencyMs,
			"error_rate":          stats.ErrorRate,
			"status_distribution": stats.StatusDistribution,
			"baseline_latency_ms": baseline,
			"health": map[string]interface{}{
				"health_score": score,
				"status":       status,
			},
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"metrics":   out,
	})
}

// healthScore implements the spec's health-score formula: start at 100,
// subtract 50*error_rate, subtract 30 if avg_latency exceeds 2x baseline,
// clamp to >= 0.
func healthScore(avgLatency, errorRate, baseline float64) (float64, string) {
	score := healthScoreMax - healthScoreErrorWeight*errorRate
	if baseline > 0 && avgLatency > healthScoreLatencyThreshold*baseline {
		score -= healthScoreLatencyPenalty
	}
	if score < 0 {
		score = 0
	}

	status := "critical"
	switch {
	case score > healthStatusHealthyFloor:
		status = "healthy"
	case score > healthStatusDegradedFloor:
		status = "degraded"
	}
	return score, status
}

// handleIncidents implements GET /aiops/incidents.
func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	active := s.rca.GetActiveIncidents()
	if s.metrics != nil {
		s.metrics.SetActiveIncidents(len(active))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp":       time.Now().UTC(),
		"active_incidents": active,
		"incident_count":  len(active),
	})
}

// handleIncidentByID implements GET /aiops/incidents/{id} and
// POST /aiops/incidents/{id}/resolve, dispatched on the trailing path
// segment.
func (s *Server) handleIncidentByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/aiops/incidents/")
	rest = strings.TrimSuffix(rest, "/")

	if rest == "" {
		writeError(w, http.StatusNotFound, "incident id required")
		return
	}

	if id, ok := strings.CutSuffix(rest, "/resolve"); ok {
		s.handleResolveIncident(w, r, id)
		return
	}

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	inc := s.rca.GetIncidentByID(rest)
	if inc == nil {
		writeError(w, http.StatusNotFound, "incident not found: "+rest)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (s *Server) handleResolveIncident(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := s.rca.ResolveIncident(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	if s.auditLog != nil {
		s.auditLog.LogIncidentResolved("api", id)
	}
	if s.metrics != nil {
		s.metrics.RecordAuditEntry("incident_resolved")
	}
	if s.bus != nil {
		s.bus.PublishAsync(events.NewEvent(events.EventIncidentResolved, "", model.SeverityLow, "incident resolved: "+id).
			WithIncidentID(id))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "resolved",
		"incident_id": id,
	})
}

// handleAnalyze implements POST /aiops/analyze: a synchronous manual
// tick, safe to call concurrently with the background scheduler (the
// scheduler itself serializes ticks).
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	timer := metrics.NewTimer()
	tick, created := s.scheduler.Trigger()
	if s.metrics != nil {
		timer.ObserveDuration(s.metrics.TickDuration)
	}

	if s.checker != nil {
		lastTick, _ := s.scheduler.LastTick()
		if !lastTick.IsZero() {
			s.checker.RecordTick(lastTick)
		}
	}

	for _, inc := range created {
		if s.auditLog != nil {
			s.auditLog.LogIncidentCreated(inc.ID, inc.RootCause.Endpoint, string(inc.Severity))
		}
		if s.metrics != nil {
			s.metrics.RecordIncidentCreated(string(inc.Severity))
			s.metrics.RecordAuditEntry("incident_created")
		}
		if s.bus != nil {
			s.bus.PublishAsync(events.NewEvent(events.EventIncidentCreated, inc.RootCause.Endpoint, inc.Severity, inc.Title).
				WithIncidentID(inc.ID))
		}
	}

	if s.auditLog != nil {
		s.auditLog.LogAnalyzeTriggered("api", len(tick.Anomalies), len(created))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"analysis": map[string]interface{}{
			"status":             "completed",
			"timestamp":          tick.Timestamp,
			"anomalies_detected": len(tick.Anomalies),
			"anomalies":          tick.Anomalies,
		},
		"incidents_created": len(created),
	})
}

// handleLiveness implements GET /healthz: always 200 unless the process
// itself cannot serve requests.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"live": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"live": s.checker.IsLive()})
}

// handleReadiness implements GET /readyz: 503 if any component is
// unhealthy or the scheduler's last tick is stale.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"ready": true})
		return
	}

	ready, reasons := s.checker.IsReady()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"ready":   ready,
		"reasons": reasons,
	})
}

// handleSimulateDelay implements POST /simulate/delay?endpoint=...&duration=...
// (duration in milliseconds, matching the injector's set_delay contract).
func (s *Server) handleSimulateDelay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	endpoint := r.URL.Query().Get("endpoint")
	durationParam := r.URL.Query().Get("duration")
	if endpoint == "" || durationParam == "" {
		writeError(w, http.StatusBadRequest, "endpoint and duration parameters are required")
		return
	}

	ms, err := strconv.Atoi(durationParam)
	if err != nil || ms < 0 {
		writeError(w, http.StatusBadRequest, "duration must be a non-negative integer (milliseconds)")
		return
	}

	s.injector.SetDelay(endpoint, time.Duration(ms)*time.Millisecond)
	writeJSON(w, http.StatusOK, map[string]interface{}{"endpoint": endpoint, "delay_ms": ms})
}

// handleSimulateErrorRate implements POST /simulate/error?endpoint=...&rate=...
func (s *Server) handleSimulateErrorRate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	endpoint := r.URL.Query().Get("endpoint")
	rateParam := r.URL.Query().Get("rate")
	if endpoint == "" || rateParam == "" {
		writeError(w, http.StatusBadRequest, "endpoint and rate parameters are required")
		return
	}

	rate, err := strconv.ParseFloat(rateParam, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "rate must be a number between 0 and 1")
		return
	}

	s.injector.SetErrorRate(endpoint, rate)
	writeJSON(w, http.StatusOK, map[string]interface{}{"endpoint": endpoint, "error_rate": rate})
}

// handleSimulateClear implements POST /simulate/clear?endpoint=... (or no
// endpoint param to clear every injected behavior).
func (s *Server) handleSimulateClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	endpoint := r.URL.Query().Get("endpoint")
	if endpoint == "" {
		s.injector.ClearAll()
		writeJSON(w, http.StatusOK, map[string]interface{}{"cleared": "all"})
		return
	}

	s.injector.ClearEndpoint(endpoint)
	writeJSON(w, http.StatusOK, map[string]interface{}{"cleared": endpoint})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response: %v", err)
	}
}

// writeError writes the spec's JSON error envelope: {"error": "..."}.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
