package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientPropagatesTrace(t *testing.T) {
	tracer := newTestTracer(t, 1.0)

	var gotTraceID, gotSpanID string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTraceID = r.Header.Get(HeaderTraceID)
		gotSpanID = r.Header.Get(HeaderSpanID)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	parent, ctx := tracer.StartSpan(context.Background(), "op-a")

	client := NewHTTPClient(tracer)
	resp, err := client.R().SetContext(ctx).Get(upstream.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())

	assert.Equal(t, parent.TraceID(), gotTraceID, "outbound call carries the caller's trace")
	assert.NotEmpty(t, gotSpanID)
	assert.NotEqual(t, parent.SpanID(), gotSpanID, "the client span, not the parent, crosses the wire")

	parent.Finish()

	trace, err := tracer.GetTrace(context.Background(), parent.TraceID())
	require.NoError(t, err)
	require.Equal(t, 2, trace.SpanCount)

	clientSpan := findSpan(t, trace, "GET "+upstream.URL)
	assert.Equal(t, KindClient, clientSpan.Kind)
	assert.Equal(t, parent.SpanID(), clientSpan.ParentSpanID)
	assert.Equal(t, StatusOK, clientSpan.Status)
}

func TestHTTPClientMarksErrorResponses(t *testing.T) {
	tracer := newTestTracer(t, 1.0)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	parent, ctx := tracer.StartSpan(context.Background(), "op-a")

	client := NewHTTPClient(tracer)
	resp, err := client.R().SetContext(ctx).Get(upstream.URL)
	require.NoError(t, err)
	require.True(t, resp.IsError())

	parent.Finish()

	trace, getErr := tracer.GetTrace(context.Background(), parent.TraceID())
	require.NoError(t, getErr)

	clientSpan := findSpan(t, trace, "GET "+upstream.URL)
	assert.Equal(t, StatusError, clientSpan.Status)
}
