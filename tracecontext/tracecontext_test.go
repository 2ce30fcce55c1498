package tracecontext

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromRequestPropagatesInboundHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/payment", nil)
	r.Header.Set(Header, "inbound-trace")

	assert.Equal(t, "inbound-trace", FromRequest(r))
}

func TestFromRequestMintsWhenAbsent(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/payment", nil)

	id := FromRequest(r)
	assert.NotEmpty(t, id)
}

func TestFromRequestMintsWhenBlank(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/payment", nil)
	r.Header.Set(Header, "")

	assert.NotEmpty(t, FromRequest(r))
}

func TestEchoSetsResponseHeader(t *testing.T) {
	w := httptest.NewRecorder()
	Echo(w, "trace-123")

	assert.Equal(t, "trace-123", w.Header().Get(Header))
}

func TestContextRoundTrip(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-abc")
	assert.Equal(t, "trace-abc", FromContext(ctx))
}

func TestForwardSetsRequestHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/payment", nil)
	Forward(req, "trace-xyz")

	assert.Equal(t, "trace-xyz", req.Header.Get(Header))
}
