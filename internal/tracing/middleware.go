package tracing

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/andrewcho-dev/opsconductor-ng-sub010/internal/shared/id"
)

// HeaderRequestID correlates a single request across log lines and
// spans. Unlike the trace headers it is per-hop: an incoming value is
// kept, a missing one is minted here.
const HeaderRequestID = "X-Request-Id"

// HTTPMiddleware creates Gin middleware that extracts an incoming trace
// context, opens a server span for the request, and propagates the new
// context to handlers. The response carries the trace headers so clients
// can correlate.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = id.NewRequestID().String()
		}
		c.Header(HeaderRequestID, requestID)

		headers := map[string]string{
			HeaderTraceID:      c.GetHeader(HeaderTraceID),
			HeaderSpanID:       c.GetHeader(HeaderSpanID),
			HeaderParentSpanID: c.GetHeader(HeaderParentSpanID),
			HeaderBaggage:      c.GetHeader(HeaderBaggage),
		}

		opts := []StartOption{WithKind(KindServer)}
		if parent, ok := Extract(headers); ok {
			opts = append(opts, WithParent(parent))
		}

		operation := c.Request.Method + " " + c.FullPath()
		span, ctx := tracer.StartSpan(c.Request.Context(), operation, opts...)
		span.SetTag("http.method", c.Request.Method)
		span.SetTag("http.url", c.Request.URL.String())
		span.SetTag("http.host", c.Request.Host)
		span.SetTag("request_id", requestID)

		c.Request = c.Request.WithContext(ctx)

		if span.Sampled() {
			c.Header(HeaderTraceID, span.TraceID())
			c.Header(HeaderSpanID, span.SpanID())
		}

		c.Next()

		status := c.Writer.Status()
		span.SetTag("http.status", strconv.Itoa(status))

		if len(c.Errors) > 0 {
			span.Finish(WithError(c.Errors.Last()))
		} else if status >= 500 {
			span.Finish(WithStatus(StatusError))
		} else {
			span.Finish()
		}
	}
}

// GRPCUnaryServerInterceptor extracts trace context from incoming
// metadata and opens a server span per call.
func GRPCUnaryServerInterceptor(tracer *Tracer) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		opts := []StartOption{WithKind(KindServer)}
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if parent, ok := Extract(headersFromMetadata(md)); ok {
				opts = append(opts, WithParent(parent))
			}
		}

		span, ctx := tracer.StartSpan(ctx, info.FullMethod, opts...)
		span.SetTag("rpc.system", "grpc")
		span.SetTag("rpc.method", info.FullMethod)

		resp, err := handler(ctx, req)
		if err != nil {
			span.Finish(WithError(err))
		} else {
			span.Finish()
		}
		return resp, err
	}
}

// GRPCUnaryClientInterceptor opens a client span per outgoing call and
// injects the trace context into metadata.
func GRPCUnaryClientInterceptor(tracer *Tracer) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		span, ctx := tracer.StartSpan(ctx, method, WithKind(KindClient))
		span.SetTag("rpc.system", "grpc")
		span.SetTag("rpc.method", method)

		if span.Sampled() {
			headers := make(map[string]string)
			Inject(span.Context(), headers)
			pairs := make([]string, 0, len(headers)*2)
			for k, v := range headers {
				pairs = append(pairs, k, v)
			}
			ctx = metadata.AppendToOutgoingContext(ctx, pairs...)
		}

		err := invoker(ctx, method, req, reply, cc, opts...)
		if err != nil {
			span.Finish(WithError(err))
		} else {
			span.Finish()
		}
		return err
	}
}

// headersFromMetadata maps lowercase gRPC metadata keys back to the
// canonical header names Extract expects.
func headersFromMetadata(md metadata.MD) map[string]string {
	headers := make(map[string]string, 4)
	for _, key := range []string{HeaderTraceID, HeaderSpanID, HeaderParentSpanID, HeaderBaggage} {
		if vals := md.Get(key); len(vals) > 0 {
			headers[key] = vals[0]
		}
	}
	return headers
}
