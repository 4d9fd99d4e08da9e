package tracing

import (
	"sync"
	"time"
)

// SpanKind classifies the role of the unit of work.
type SpanKind string

const (
	KindInternal SpanKind = "internal"
	KindServer   SpanKind = "server"
	KindClient   SpanKind = "client"
	KindProducer SpanKind = "producer"
	KindConsumer SpanKind = "consumer"
)

// SpanStatus is the terminal state of a span.
type SpanStatus string

const (
	StatusOK      SpanStatus = "ok"
	StatusError   SpanStatus = "error"
	StatusTimeout SpanStatus = "timeout"
)

// Event is a timestamped named occurrence within a span.
type Event struct {
	Name       string                 `json:"name"`
	Timestamp  time.Time              `json:"timestamp"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// LogEntry is a leveled log record attached to a span.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Span is a single timed unit of work within a trace. It serializes to
// JSON for the span store.
type Span struct {
	TraceID       string                 `json:"trace_id"`
	SpanID        string                 `json:"span_id"`
	ParentSpanID  string                 `json:"parent_span_id,omitempty"`
	OperationName string                 `json:"operation_name"`
	ServiceName   string                 `json:"service_name"`
	Kind          SpanKind               `json:"kind"`
	StartTime     time.Time              `json:"start_time"`
	EndTime       time.Time              `json:"end_time,omitempty"`
	Duration      time.Duration          `json:"duration,omitempty"`
	Status        SpanStatus             `json:"status"`
	Attributes    map[string]interface{} `json:"attributes,omitempty"`
	Events        []Event                `json:"events,omitempty"`
	Tags          map[string]string      `json:"tags,omitempty"`
	Logs          []LogEntry             `json:"logs,omitempty"`
}

// SpanHandle is the capability callers hold while a span is open. The
// tracer returns a recording handle for sampled spans and a no-op handle
// otherwise, so call sites never branch on whether tracing is active.
type SpanHandle interface {
	// TraceID returns the trace this span belongs to, empty when unsampled.
	TraceID() string
	// SpanID returns this span's ID, empty when unsampled.
	SpanID() string
	// Context returns the propagation context for this span.
	Context() TraceContext
	// Sampled reports whether this span records anything.
	Sampled() bool

	// SetAttribute sets a key/value attribute while the span is open.
	SetAttribute(key string, value interface{})
	// SetTag sets a string tag.
	SetTag(key, value string)
	// AddEvent appends a timestamped event.
	AddEvent(name string, attributes map[string]interface{})
	// Log appends a leveled log entry.
	Log(level, message string, fields map[string]interface{})

	// Finish closes the span exactly once: it freezes end time, duration
	// and status, persists the span, and triggers trace completion
	// detection. Later calls are ignored.
	Finish(opts ...FinishOption)
}

// FinishOption adjusts how a span is finished.
type FinishOption func(*finishConfig)

type finishConfig struct {
	status SpanStatus
	err    error
}

// WithStatus finishes the span with an explicit status.
func WithStatus(status SpanStatus) FinishOption {
	return func(c *finishConfig) { c.status = status }
}

// WithError finishes the span as errored, recording the error as
// attributes.
func WithError(err error) FinishOption {
	return func(c *finishConfig) { c.err = err }
}

// activeSpan is the recording SpanHandle implementation.
type activeSpan struct {
	tracer *Tracer

	mu       sync.Mutex
	span     *Span
	baggage  map[string]string
	finished bool
}

func (s *activeSpan) TraceID() string { return s.span.TraceID }
func (s *activeSpan) SpanID() string  { return s.span.SpanID }
func (s *activeSpan) Sampled() bool   { return true }

func (s *activeSpan) Context() TraceContext {
	return TraceContext{
		TraceID:      s.span.TraceID,
		SpanID:       s.span.SpanID,
		ParentSpanID: s.span.ParentSpanID,
		Baggage:      s.baggage,
	}
}

func (s *activeSpan) SetAttribute(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.span.Attributes[key] = value
}

func (s *activeSpan) SetTag(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.span.Tags[key] = value
}

func (s *activeSpan) AddEvent(name string, attributes map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.span.Events = append(s.span.Events, Event{
		Name:       name,
		Timestamp:  time.Now(),
		Attributes: attributes,
	})
}

func (s *activeSpan) Log(level, message string, fields map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.span.Logs = append(s.span.Logs, LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
		Fields:    fields,
	})
}

func (s *activeSpan) Finish(opts ...FinishOption) {
	cfg := finishConfig{status: StatusOK}
	for _, opt := range opts {
		opt(&cfg)
	}
	s.tracer.finishSpan(s, cfg)
}

// noopSpan satisfies SpanHandle for unsampled traces.
type noopSpan struct{}

func (noopSpan) TraceID() string                             { return "" }
func (noopSpan) SpanID() string                              { return "" }
func (noopSpan) Context() TraceContext                       { return TraceContext{} }
func (noopSpan) Sampled() bool                               { return false }
func (noopSpan) SetAttribute(string, interface{})            {}
func (noopSpan) SetTag(string, string)                       {}
func (noopSpan) AddEvent(string, map[string]interface{})     {}
func (noopSpan) Log(string, string, map[string]interface{})  {}
func (noopSpan) Finish(...FinishOption)                      {}
