// Package demoservice implements the monitored demo service: a small set
// of illustrative HTTP handlers (payment, inventory, checkout, health)
// that exist only to give the ingest instrumentation and failure
// injector something real to wrap end to end. Checkout calls payment
// over HTTP, forwarding the trace header, producing the multi-hop call
// chain the RCA engine's trace replay is built to reconstruct.
package demoservice

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"aiops-engine/logger"
	"aiops-engine/metrics"
	"aiops-engine/retry"
	"aiops-engine/tracecontext"
)

const (
	checkoutCircuitBreakerName = "checkout->payment"
	checkoutTimeout            = 5 * time.Second
)

// inventoryItem is one entry in the demo catalog.
type inventoryItem struct {
	SKU   string `json:"sku"`
	Stock int    `json:"stock"`
}

// Service holds the small amount of in-memory state the demo handlers
// need: a fake product catalog and the client used for the
// checkout -> payment hop.
type Service struct {
	baseURL string
	client  *http.Client
	cb      *retry.CircuitBreaker

	mu    sync.Mutex
	stock map[string]int
}

// New creates a demo Service that calls itself at baseURL (e.g.
// "http://localhost:8080") for the checkout -> payment hop. engineMetrics
// may be nil; the service's circuit breaker reports its state transitions
// there when it isn't.
func New(baseURL string, engineMetrics *metrics.EngineMetrics) *Service {
	cb := retry.NewCircuitBreaker(checkoutCircuitBreakerName, retry.DefaultCircuitBreakerConfig())
	cb.OnStateChange(func(name string, state retry.CircuitBreakerState) {
		engineMetrics.RecordCircuitBreakerTransition(name, state.String())
	})

	return &Service{
		baseURL: baseURL,
		client:  &http.Client{Timeout: checkoutTimeout},
		cb:      cb,
		stock: map[string]int{
			"sku-widget":    42,
			"sku-gadget":    7,
			"sku-gizmo":     0,
			"sku-doohickey": 128,
		},
	}
}

// Payment handles POST /payment. It is the leaf call in the demo chain:
// checkout calls it, and the failure injector (wired ahead of it in the
// ingest middleware) is what actually produces interesting telemetry.
func (s *Service) Payment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	traceID := tracecontext.FromContext(r.Context())
	amount := 9.99 + rand.Float64()*90
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "approved",
		"transaction_id": fmt.Sprintf("txn-%d", time.Now().UnixNano()),
		"amount":         amount,
		"trace_id":       traceID,
	})
}

// Inventory handles GET /inventory, returning the current stock levels.
func (s *Service) Inventory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.mu.Lock()
	items := make([]inventoryItem, 0, len(s.stock))
	for sku, qty := range s.stock {
		items = append(items, inventoryItem{SKU: sku, Stock: qty})
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// Checkout handles POST /checkout. It calls payment over HTTP, forwarding
// the inbound trace id, so the two records land in the same trace and the
// RCA engine can replay checkout -> payment as a single chain.
func (s *Service) Checkout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	traceID := tracecontext.FromContext(r.Context())

	err := s.cb.ExecuteWithContext(r.Context(), func(ctx context.Context) error {
		return s.callPayment(ctx, traceID)
	})
	if err != nil {
		logger.Warn("checkout: payment call failed [trace=%s]: %v", traceID, err)
		writeError(w, http.StatusBadGateway, "payment unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "order_placed",
		"order_id": fmt.Sprintf("order-%d", time.Now().UnixNano()),
		"trace_id": traceID,
	})
}

func (s *Service) callPayment(ctx context.Context, traceID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/payment", nil)
	if err != nil {
		return err
	}
	tracecontext.Forward(req, traceID)

	resp, err := s.client.Do(req)
	if err != nil {
		return retry.WrapNetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("payment returned status %d", resp.StatusCode)
	}
	return nil
}

// Health handles GET /health for the demo service itself, distinct from
// the engine's own /healthz and /readyz.
func (s *Service) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
