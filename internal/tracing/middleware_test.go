package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

func newTestRouter(tracer *Tracer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(HTTPMiddleware(tracer))
	return router
}

func TestHTTPMiddlewareNewTrace(t *testing.T) {
	tracer := newTestTracer(t, 1.0)
	router := newTestRouter(tracer)

	var seenTraceID, seenSpanID string
	router.GET("/work", func(c *gin.Context) {
		seenTraceID = CurrentTraceID(c.Request.Context())
		seenSpanID = CurrentSpanID(c.Request.Context())
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/work", nil))

	require.NotEmpty(t, seenTraceID, "handler runs inside the server span")
	assert.Equal(t, seenTraceID, rec.Header().Get(HeaderTraceID))
	assert.Equal(t, seenSpanID, rec.Header().Get(HeaderSpanID))

	trace, err := tracer.GetTrace(context.Background(), seenTraceID)
	require.NoError(t, err)
	require.NotNil(t, trace.RootSpan)
	assert.Equal(t, "GET /work", trace.RootSpan.OperationName)
	assert.Equal(t, KindServer, trace.RootSpan.Kind)
	assert.Equal(t, "200", trace.RootSpan.Tags["http.status"])
}

func TestHTTPMiddlewareRequestID(t *testing.T) {
	tracer := newTestTracer(t, 1.0)
	router := newTestRouter(tracer)

	router.GET("/work", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/work", nil))

	minted := rec.Header().Get(HeaderRequestID)
	require.NotEmpty(t, minted)
	assert.True(t, strings.HasPrefix(minted, "req_"))

	trace, err := tracer.GetTrace(context.Background(), rec.Header().Get(HeaderTraceID))
	require.NoError(t, err)
	assert.Equal(t, minted, trace.Spans[0].Tags["request_id"])

	// An incoming request ID is kept, not replaced.
	req := httptest.NewRequest(http.MethodGet, "/work", nil)
	req.Header.Set(HeaderRequestID, "req_upstream")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "req_upstream", rec.Header().Get(HeaderRequestID))
}

func TestHTTPMiddlewareContinuesRemoteTrace(t *testing.T) {
	tracer := newTestTracer(t, 1.0)
	router := newTestRouter(tracer)

	router.GET("/work", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/work", nil)
	req.Header.Set(HeaderTraceID, "trace_upstream")
	req.Header.Set(HeaderSpanID, "span_upstream")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "trace_upstream", rec.Header().Get(HeaderTraceID))

	trace, err := tracer.GetTrace(context.Background(), "trace_upstream")
	require.NoError(t, err)
	require.Equal(t, 1, trace.SpanCount)
	assert.Equal(t, "span_upstream", trace.Spans[0].ParentSpanID)
}

func TestHTTPMiddlewareMarksServerErrors(t *testing.T) {
	tracer := newTestTracer(t, 1.0)
	router := newTestRouter(tracer)

	router.GET("/broken", func(c *gin.Context) {
		c.Status(http.StatusInternalServerError)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/broken", nil))

	traceID := rec.Header().Get(HeaderTraceID)
	require.NotEmpty(t, traceID)

	trace, err := tracer.GetTrace(context.Background(), traceID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, trace.Spans[0].Status)
	assert.Equal(t, 1, trace.ErrorCount)
}

func TestHTTPMiddlewareUnsampled(t *testing.T) {
	tracer := newTestTracer(t, 0)
	router := newTestRouter(tracer)

	router.GET("/work", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/work", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(HeaderTraceID), "unsampled requests carry no trace headers")
}

func TestGRPCServerInterceptor(t *testing.T) {
	tracer := newTestTracer(t, 1.0)
	interceptor := GRPCUnaryServerInterceptor(tracer)

	md := metadata.New(map[string]string{
		HeaderTraceID: "trace_upstream",
		HeaderSpanID:  "span_upstream",
	})
	ctx := metadata.NewIncomingContext(context.Background(), md)

	info := &grpc.UnaryServerInfo{FullMethod: "/ops.Monitor/Watch"}
	var handlerTraceID string
	resp, err := interceptor(ctx, "request", info, func(ctx context.Context, _ interface{}) (interface{}, error) {
		handlerTraceID = CurrentTraceID(ctx)
		return "response", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "response", resp)
	assert.Equal(t, "trace_upstream", handlerTraceID)

	trace, err := tracer.GetTrace(context.Background(), "trace_upstream")
	require.NoError(t, err)
	require.Equal(t, 1, trace.SpanCount)
	assert.Equal(t, "/ops.Monitor/Watch", trace.Spans[0].OperationName)
	assert.Equal(t, "span_upstream", trace.Spans[0].ParentSpanID)
	assert.Equal(t, KindServer, trace.Spans[0].Kind)
}

func TestGRPCServerInterceptorRecordsErrors(t *testing.T) {
	tracer := newTestTracer(t, 1.0)
	interceptor := GRPCUnaryServerInterceptor(tracer)

	info := &grpc.UnaryServerInfo{FullMethod: "/ops.Monitor/Watch"}
	_, err := interceptor(context.Background(), "request", info, func(context.Context, interface{}) (interface{}, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, uint64(1), tracer.Metrics().Errors)
}

func TestGRPCClientInterceptorInjectsMetadata(t *testing.T) {
	tracer := newTestTracer(t, 1.0)
	interceptor := GRPCUnaryClientInterceptor(tracer)

	parent, ctx := tracer.StartSpan(context.Background(), "op-a")

	var outgoing metadata.MD
	invoker := func(ctx context.Context, _ string, _, _ interface{}, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
		outgoing, _ = metadata.FromOutgoingContext(ctx)
		return nil
	}

	err := interceptor(ctx, "/ops.Monitor/Watch", "req", "reply", nil, invoker)
	require.NoError(t, err)

	require.NotNil(t, outgoing)
	assert.Equal(t, []string{parent.TraceID()}, outgoing.Get(HeaderTraceID))
	assert.NotEmpty(t, outgoing.Get(HeaderSpanID))
	parent.Finish()
}
