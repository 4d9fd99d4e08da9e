package tracing

import (
	"sort"
	"time"
)

// Trace is the aggregate of all spans sharing one trace ID. It is
// derived on demand, never created directly.
type Trace struct {
	TraceID      string        `json:"trace_id"`
	Spans        []*Span       `json:"spans"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	Duration     time.Duration `json:"duration"`
	RootSpan     *Span         `json:"root_span,omitempty"`
	SpanCount    int           `json:"span_count"`
	ServiceCount int           `json:"service_count"`
	ErrorCount   int           `json:"error_count"`
}

// assembleTrace builds the aggregate from member spans: time-ordered,
// root located as the span with no parent, min/max timestamps and counts
// computed over members.
func assembleTrace(traceID string, spans []*Span) *Trace {
	sort.Slice(spans, func(i, j int) bool {
		return spans[i].StartTime.Before(spans[j].StartTime)
	})

	trace := &Trace{
		TraceID:   traceID,
		Spans:     spans,
		SpanCount: len(spans),
	}

	services := make(map[string]struct{})
	for _, span := range spans {
		services[span.ServiceName] = struct{}{}

		if span.ParentSpanID == "" && trace.RootSpan == nil {
			trace.RootSpan = span
		}
		if span.Status == StatusError {
			trace.ErrorCount++
		}
		if trace.StartTime.IsZero() || span.StartTime.Before(trace.StartTime) {
			trace.StartTime = span.StartTime
		}
		if span.EndTime.After(trace.EndTime) {
			trace.EndTime = span.EndTime
		}
	}
	trace.ServiceCount = len(services)

	if !trace.StartTime.IsZero() && !trace.EndTime.IsZero() {
		trace.Duration = trace.EndTime.Sub(trace.StartTime)
	}

	return trace
}
