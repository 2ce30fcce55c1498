package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"aiops-engine/anomaly"
	"aiops-engine/config"
	"aiops-engine/model"
	"aiops-engine/rca"
	"aiops-engine/scheduler"
	"aiops-engine/simulate"
	"aiops-engine/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T) (*Server, *telemetry.Store) {
	t.Helper()
	cfg := config.Defaults()
	store := telemetry.New()
	az := anomaly.New(store, cfg)
	rcaEngine := rca.New(store, cfg, nil)
	sched := scheduler.New(az, rcaEngine, cfg.TickInterval)
	injector := simulate.NewInjector()

	return NewServer(cfg, store, az, rcaEngine, sched, injector, nil, nil, nil, nil, nil), store
}

func seedRecords(store *telemetry.Store, endpoint string, n int, status int, latency float64) {
	for i := 0; i < n; i++ {
		store.StoreMetric(model.TelemetryRecord{
			Endpoint:   endpoint,
			Method:     http.MethodGet,
			StatusCode: status,
			LatencyMs:  latency,
			TraceID:    fmt.Sprintf("trace-%s-%d", endpoint, i),
			Timestamp:  time.Now(),
		})
	}
}

func TestHandleMetricsReturnsPerEndpointAggregate(t *testing.T) {
	s, store := testServer(t)
	seedRecords(store, "/payment", 5, 200, 50)

	req := httptest.NewRequest(http.MethodGet, "/aiops/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Metrics map[string]struct {
			RequestCount int     `json:"request_count"`
			AvgLatencyMs float64 `json:"avg_latency_ms"`
		} `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	got, ok := body.Metrics["/payment"]
	require.True(t, ok)
	assert.Equal(t, 5, got.RequestCount)
	assert.Equal(t, 50.0, got.AvgLatencyMs)
}

func TestHandleMetricsExcludesReservedEndpoints(t *testing.T) {
	s, store := testServer(t)
	seedRecords(store, "/aiops/metrics", 3, 200, 10)

	req := httptest.NewRequest(http.MethodGet, "/aiops/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var body struct {
		Metrics map[string]interface{} `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	_, present := body.Metrics["/aiops/metrics"]
	assert.False(t, present)
}

func TestHandleIncidentsEmptyInitially(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/aiops/incidents", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		IncidentCount int `json:"incident_count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0, body.IncidentCount)
}

func TestHandleIncidentByIDNotFound(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/aiops/incidents/INC-missing-1", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["error"])
}

func TestHandleResolveIncidentNotFound(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/aiops/incidents/INC-missing-1/resolve", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleAnalyzeTriggersSynchronousTick(t *testing.T) {
	s, store := testServer(t)
	seedRecords(store, "/payment", 1, 200, 5)

	req := httptest.NewRequest(http.MethodPost, "/aiops/analyze", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Analysis struct {
			Status            string `json:"status"`
			AnomaliesDetected int    `json:"anomalies_detected"`
		} `json:"analysis"`
		IncidentsCreated int `json:"incidents_created"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "completed", body.Analysis.Status)
	assert.GreaterOrEqual(t, body.Analysis.AnomaliesDetected, 0)
}

func TestHandleAnalyzeRejectsGet(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/aiops/analyze", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleIncidentsLifecycleEndToEnd(t *testing.T) {
	cfg := config.Defaults()
	cfg.MinSamplesForBaseline = 3
	store := telemetry.New()
	az := anomaly.New(store, cfg)
	rcaEngine := rca.New(store, cfg, nil)
	sched := scheduler.New(az, rcaEngine, cfg.TickInterval)
	s := NewServer(cfg, store, az, rcaEngine, sched, simulate.NewInjector(), nil, nil, nil, nil, nil)

	now := time.Now()
	for i := 0; i < 20; i++ {
		store.StoreMetric(model.TelemetryRecord{
			Endpoint:   "/payment",
			Method:     http.MethodGet,
			StatusCode: 200,
			LatencyMs:  50,
			TraceID:    fmt.Sprintf("baseline-%d", i),
			Timestamp:  now.Add(-30 * time.Minute),
		})
	}
	for i := 0; i < 5; i++ {
		store.StoreMetric(model.TelemetryRecord{
			Endpoint:   "/payment",
			Method:     http.MethodGet,
			StatusCode: 200,
			LatencyMs:  5000,
			TraceID:    fmt.Sprintf("spike-%d", i),
			Timestamp:  now,
		})
	}

	analyzeReq := httptest.NewRequest(http.MethodPost, "/aiops/analyze", nil)
	analyzeRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(analyzeRec, analyzeReq)
	require.Equal(t, http.StatusOK, analyzeRec.Code)

	listReq := httptest.NewRequest(http.MethodGet, "/aiops/incidents", nil)
	listRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(listRec, listReq)

	var list struct {
		IncidentCount   int `json:"incident_count"`
		ActiveIncidents []struct {
			ID string `json:"id"`
		} `json:"active_incidents"`
	}
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &list))
	require.Greater(t, list.IncidentCount, 0)

	id := list.ActiveIncidents[0].ID
	resolveReq := httptest.NewRequest(http.MethodPost, "/aiops/incidents/"+id+"/resolve", nil)
	resolveRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(resolveRec, resolveReq)
	require.Equal(t, http.StatusOK, resolveRec.Code)

	listRec2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(listRec2, httptest.NewRequest(http.MethodGet, "/aiops/incidents", nil))
	var list2 struct {
		IncidentCount int `json:"incident_count"`
	}
	require.NoError(t, json.Unmarshal(listRec2.Body.Bytes(), &list2))
	assert.Equal(t, 0, list2.IncidentCount)
}

func TestHandleLivenessAlwaysOK(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleReadinessOKWithoutChecker(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleSimulateDelayAndClear(t *testing.T) {
	s, _ := testServer(t)

	delayReq := httptest.NewRequest(http.MethodPost, "/simulate/delay?endpoint=/payment&duration=100", nil)
	delayRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(delayRec, delayReq)
	require.Equal(t, http.StatusOK, delayRec.Code)

	assert.Equal(t, 100*time.Millisecond, s.injector.Config()["/payment"].Delay)

	clearReq := httptest.NewRequest(http.MethodPost, "/simulate/clear?endpoint=/payment", nil)
	clearRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(clearRec, clearReq)
	require.Equal(t, http.StatusOK, clearRec.Code)

	_, exists := s.injector.Config()["/payment"]
	assert.False(t, exists)
}

func TestHandleSimulateErrorRateRejectsMissingParams(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/simulate/error", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTraceHeaderEchoedOnResponse(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/aiops/incidents", nil)
	req.Header.Set("X-Trace-ID", "trace-abc-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "trace-abc-123", rec.Header().Get("X-Trace-ID"))
}

func TestTraceHeaderMintedWhenAbsent(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/aiops/incidents", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))
}

func TestHealthScoreFormula(t *testing.T) {
	score, status := healthScore(50, 0, 50)
	assert.Equal(t, 100.0, score)
	assert.Equal(t, "healthy", status)

	score, status = healthScore(200, 0, 50)
	assert.Equal(t, 70.0, score)
	assert.Equal(t, "degraded", status)

	score, status = healthScore(50, 0.5, 50)
	assert.Equal(t, 75.0, score)
	assert.Equal(t, "degraded", status)

	score, status = healthScore(200, 0.8, 50)
	assert.Equal(t, 30.0, score)
	assert.Equal(t, "critical", status)
}
