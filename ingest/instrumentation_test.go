package ingest

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"aiops-engine/simulate"
	"aiops-engine/telemetry"
	"aiops-engine/tracecontext"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapRecordsSuccessfulRequest(t *testing.T) {
	store := telemetry.New()
	in := New("api-service", store, nil)

	handler := in.Wrap("/payment", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/payment", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(tracecontext.Header))

	records := store.GetRecentMetrics("/payment", time.Hour)
	require.Len(t, records, 1)
	assert.Equal(t, http.StatusOK, records[0].StatusCode)
	assert.Empty(t, records[0].ErrorMessage)
}

func TestWrapRecordsPanicAs500(t *testing.T) {
	store := telemetry.New()
	in := New("api-service", store, nil)

	handler := in.Wrap("/checkout", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	records := store.GetRecentMetrics("/checkout", time.Hour)
	require.Len(t, records, 1)
	assert.Equal(t, 500, records[0].StatusCode)
	assert.Contains(t, records[0].ErrorMessage, "boom")
}

func TestWrapPropagatesInboundTraceID(t *testing.T) {
	store := telemetry.New()
	in := New("api-service", store, nil)

	var seenTrace string
	handler := in.Wrap("/payment", func(w http.ResponseWriter, r *http.Request) {
		seenTrace = tracecontext.FromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodPost, "/payment", nil)
	req.Header.Set(tracecontext.Header, "upstream-trace")
	w := httptest.NewRecorder()
	handler(w, req)

	assert.Equal(t, "upstream-trace", seenTrace)
	assert.Equal(t, "upstream-trace", w.Header().Get(tracecontext.Header))

	records := store.GetRecentMetrics("/payment", time.Hour)
	require.Len(t, records, 1)
	assert.Equal(t, "upstream-trace", records[0].TraceID)
}

func TestWrapSkipsStorageForReservedEndpoints(t *testing.T) {
	store := telemetry.New()
	in := New("api-service", store, nil)

	handler := in.Wrap("/aiops/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/aiops/metrics", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	assert.Empty(t, store.GetRecentMetrics("/aiops/metrics", time.Hour))
}

func TestRecordDropsInvalidRecord(t *testing.T) {
	store := telemetry.New()
	in := New("api-service", store, nil)

	in.record("/payment", http.MethodPost, "", time.Now(), http.StatusOK, "")

	assert.Empty(t, store.GetRecentMetrics("/payment", time.Hour))
}

func TestWrapAppliesInjectedFailure(t *testing.T) {
	store := telemetry.New()
	injector := simulate.NewInjector()
	injector.SetErrorRate("/inventory", 1.0)
	in := New("api-service", store, injector)

	called := false
	handler := in.Wrap("/inventory", func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/inventory", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	records := store.GetRecentMetrics("/inventory", time.Hour)
	require.Len(t, records, 1)
	assert.Equal(t, http.StatusServiceUnavailable, records[0].StatusCode)
}
