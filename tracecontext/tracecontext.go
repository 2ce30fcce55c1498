// Package tracecontext implements the Trace Context component: an opaque
// request identifier read from (or minted for) every inbound request,
// echoed on the response, and forwardable to peer calls so the RCA engine
// can reconstruct a multi-hop call chain from nothing but this header.
package tracecontext

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Header is the sole mechanism by which the RCA engine correlates
// records across endpoints.
const Header = "X-Trace-ID"

type contextKey int

const traceIDKey contextKey = 0

// FromRequest reads Header from an inbound request, minting a fresh v4
// identifier if it is absent or empty. Any non-empty value is returned
// as-is: no format check is made, so a malformed value is carried through
// rather than replaced by a new id, and the request is never failed.
func FromRequest(r *http.Request) string {
	if id := r.Header.Get(Header); id != "" {
		return id
	}
	return uuid.NewString()
}

// WithTraceID returns a context carrying id for downstream retrieval.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// FromContext extracts the trace id set by WithTraceID, or "" if none.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// Echo sets Header on the outbound response so the caller (and any
// intermediary) can see which trace id this request was assigned.
func Echo(w http.ResponseWriter, id string) {
	w.Header().Set(Header, id)
}

// Forward attaches id to an outbound request a handler makes to a peer
// service, so downstream records share the same trace id.
func Forward(req *http.Request, id string) {
	req.Header.Set(Header, id)
}
