package tracing

import (
	"context"
	"encoding/json"
)

// Propagation headers (wire contract).
const (
	HeaderTraceID      = "X-Trace-Id"
	HeaderSpanID       = "X-Span-Id"
	HeaderParentSpanID = "X-Parent-Span-Id"
	HeaderBaggage      = "X-Trace-Baggage"
)

// TraceContext is the propagation token carried across service
// boundaries.
type TraceContext struct {
	TraceID      string            `json:"trace_id"`
	SpanID       string            `json:"span_id"`
	ParentSpanID string            `json:"parent_span_id,omitempty"`
	Baggage      map[string]string `json:"baggage,omitempty"`
}

// Valid reports whether the two mandatory fields are present.
func (tc TraceContext) Valid() bool {
	return tc.TraceID != "" && tc.SpanID != ""
}

// Inject writes the context into transport headers.
func Inject(tc TraceContext, headers map[string]string) {
	if !tc.Valid() {
		return
	}
	headers[HeaderTraceID] = tc.TraceID
	headers[HeaderSpanID] = tc.SpanID
	if tc.ParentSpanID != "" {
		headers[HeaderParentSpanID] = tc.ParentSpanID
	}
	if len(tc.Baggage) > 0 {
		if encoded, err := json.Marshal(tc.Baggage); err == nil {
			headers[HeaderBaggage] = string(encoded)
		}
	}
}

// Extract reads a context from transport headers. Absence of the
// mandatory headers means no context, not an error. Malformed baggage is
// dropped silently.
func Extract(headers map[string]string) (TraceContext, bool) {
	tc := TraceContext{
		TraceID:      headers[HeaderTraceID],
		SpanID:       headers[HeaderSpanID],
		ParentSpanID: headers[HeaderParentSpanID],
	}
	if !tc.Valid() {
		return TraceContext{}, false
	}
	if raw := headers[HeaderBaggage]; raw != "" {
		var baggage map[string]string
		if err := json.Unmarshal([]byte(raw), &baggage); err == nil {
			tc.Baggage = baggage
		}
	}
	return tc, true
}

// spanContextKey scopes the current span to a context.Context. Deriving
// a child context per span gives the save/restore-on-exit discipline for
// free: callers holding the parent context still see the parent span.
type spanContextKey struct{}

// ContextWithSpan returns a context carrying the span as current.
func ContextWithSpan(ctx context.Context, span SpanHandle) context.Context {
	return context.WithValue(ctx, spanContextKey{}, span)
}

// SpanFromContext returns the current span, if any.
func SpanFromContext(ctx context.Context) (SpanHandle, bool) {
	span, ok := ctx.Value(spanContextKey{}).(SpanHandle)
	return span, ok
}

// CurrentTraceID returns the trace ID of the current span, or empty.
func CurrentTraceID(ctx context.Context) string {
	if span, ok := SpanFromContext(ctx); ok {
		return span.TraceID()
	}
	return ""
}

// CurrentSpanID returns the span ID of the current span, or empty.
func CurrentSpanID(ctx context.Context) string {
	if span, ok := SpanFromContext(ctx); ok {
		return span.SpanID()
	}
	return ""
}

// CurrentContext returns the propagation context of the current span.
func CurrentContext(ctx context.Context) (TraceContext, bool) {
	span, ok := SpanFromContext(ctx)
	if !ok || !span.Sampled() {
		return TraceContext{}, false
	}
	return span.Context(), true
}
