package demoservice

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"aiops-engine/tracecontext"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withTrace mimics what ingest.Instrumentation.Wrap does: mint/read the
// trace header and stash it in the request context before the handler runs.
func withTrace(r *http.Request) *http.Request {
	id := tracecontext.FromRequest(r)
	return r.WithContext(tracecontext.WithTraceID(r.Context(), id))
}

func TestPaymentReturnsApproved(t *testing.T) {
	s := New("http://example.invalid", nil)

	req := httptest.NewRequest(http.MethodPost, "/payment", nil)
	rec := httptest.NewRecorder()
	s.Payment(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "approved", body["status"])
}

func TestPaymentRejectsGet(t *testing.T) {
	s := New("http://example.invalid", nil)

	req := httptest.NewRequest(http.MethodGet, "/payment", nil)
	rec := httptest.NewRecorder()
	s.Payment(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestInventoryListsItems(t *testing.T) {
	s := New("http://example.invalid", nil)

	req := httptest.NewRequest(http.MethodGet, "/inventory", nil)
	rec := httptest.NewRecorder()
	s.Inventory(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Items []inventoryItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Items)
}

func TestCheckoutCallsPaymentAndForwardsTraceHeader(t *testing.T) {
	var gotTraceID string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTraceID = r.Header.Get("X-Trace-ID")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	s := New(upstream.URL, nil)

	req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
	req.Header.Set("X-Trace-ID", "trace-checkout-1")
	req = withTrace(req)
	rec := httptest.NewRecorder()
	s.Checkout(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "trace-checkout-1", gotTraceID)
}

func TestCheckoutReturnsBadGatewayWhenPaymentUnreachable(t *testing.T) {
	s := New("http://127.0.0.1:1", nil)

	req := withTrace(httptest.NewRequest(http.MethodPost, "/checkout", nil))
	rec := httptest.NewRecorder()
	s.Checkout(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHealthAlwaysOK(t *testing.T) {
	s := New("http://example.invalid", nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Health(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
