// Package ingest implements the Ingest Instrumentation component: a
// middleware that wraps every monitored handler, times it, captures its
// outcome as exactly one TelemetryRecord, and turns an unhandled panic
// into a 500 response with a stack rendering instead of crashing the
// worker goroutine.
package ingest

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"aiops-engine/logger"
	"aiops-engine/model"
	"aiops-engine/simulate"
	"aiops-engine/telemetry"
	"aiops-engine/tracecontext"
)

// statusRecorder captures the status code a handler writes, defaulting
// to 200 the way net/http itself does when WriteHeader is never called.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.status = status
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

// Instrumentation wires a Store (and, optionally, a failure Injector) into
// an HTTP middleware chain.
type Instrumentation struct {
	serviceName string
	store       *telemetry.Store
	injector    *simulate.Injector
}

// New creates an Instrumentation bound to a service name and store. The
// injector may be nil to disable failure injection entirely.
func New(serviceName string, store *telemetry.Store, injector *simulate.Injector) *Instrumentation {
	return &Instrumentation{serviceName: serviceName, store: store, injector: injector}
}

// Wrap returns next wrapped so that every completed request produces
// exactly one telemetry record and the trace header is minted/echoed.
//
// Records for the reserved /aiops/ and /simulate/ prefixes are never
// stored, mirroring the source collector's own choice to skip its
// telemetry endpoints (avoids instrumenting the instrumentation). This is
// one of two contract-compliant choices per spec 4.C; the Analyzer also
// independently skips these prefixes at read time regardless.
func (in *Instrumentation) Wrap(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		traceID := tracecontext.FromRequest(r)
		tracecontext.Echo(w, traceID)
		ctx := tracecontext.WithTraceID(r.Context(), traceID)
		r = r.WithContext(ctx)

		if in.injector != nil {
			if err := in.injector.Inject(r.Context(), endpoint); err != nil {
				in.record(endpoint, r.Method, traceID, time.Now(), http.StatusServiceUnavailable, err.Error())
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if p := recover(); p != nil {
				stack := string(debug.Stack())
				msg := fmt.Sprintf("panic: %v\n%s", p, stack)
				logger.Error("unhandled panic in %s [trace=%s]: %v", endpoint, traceID, p)
				if !rec.wroteHeader {
					http.Error(rec, "internal server error", http.StatusInternalServerError)
				}
				in.record(endpoint, r.Method, traceID, start, http.StatusInternalServerError, msg)
			}
		}()

		next(rec, r)

		in.record(endpoint, r.Method, traceID, start, rec.status, "")
	}
}

// record stores exactly one TelemetryRecord for a completed request,
// unless endpoint belongs to the engine's own reserved control surface.
func (in *Instrumentation) record(endpoint, method, traceID string, start time.Time, status int, errMsg string) {
	if model.IsReservedEndpoint(endpoint) {
		return
	}
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0
	r := model.TelemetryRecord{
		ServiceName: in.serviceName,
		Endpoint:    endpoint,
		Method:      method,
		StatusCode:  status,
		LatencyMs:   latencyMs,
		TraceID:     traceID,
		Timestamp:   time.Now().UTC(),
	}
	if status >= 500 && errMsg != "" {
		r.ErrorMessage = errMsg
	}
	if err := r.Validate(); err != nil {
		logger.Warn("dropping invalid telemetry record for %s [trace=%s]: %v", endpoint, traceID, err)
		return
	}
	in.store.StoreMetric(r)
}
