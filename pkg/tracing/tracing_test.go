package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	traceparent = "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01"
	traceID     = "0af7651916cd43dd8448eb211c80319c"
)

func TestExtractInject_RoundTrip(t *testing.T) {
	t.Parallel()

	in := http.Header{}
	in.Set("traceparent", traceparent)
	in.Set("tracestate", "vendor=abc")
	in.Set("baggage", "tenant=acme")

	ctx := Extract(t.Context(), in)
	assert.Equal(t, traceID, TraceID(ctx))

	out := http.Header{}
	Inject(ctx, out)
	assert.Equal(t, traceparent, out.Get("traceparent"))
	assert.Equal(t, "vendor=abc", out.Get("tracestate"))
	assert.Equal(t, "tenant=acme", out.Get("baggage"))
}

func TestExtract_Invalid(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"empty":          "",
		"garbage":        "not-a-traceparent",
		"zero trace id":  "00-00000000000000000000000000000000-b7ad6b7169203331-01",
		"short span id":  "00-0af7651916cd43dd8448eb211c80319c-b7ad6b71-01",
		"bad version ff": "ff-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01",
	}
	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			in := http.Header{}
			if header != "" {
				in.Set("traceparent", header)
			}
			ctx := Extract(t.Context(), in)
			assert.Empty(t, TraceID(ctx))

			out := http.Header{}
			Inject(ctx, out)
			assert.Empty(t, out.Get("traceparent"))
		})
	}
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	var got string
	h := Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = TraceID(r.Context())
	}))

	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	r.Header.Set("traceparent", traceparent)
	h.ServeHTTP(httptest.NewRecorder(), r)
	assert.Equal(t, traceID, got)
}
