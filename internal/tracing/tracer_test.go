package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-ng-sub010/internal/store"
)

// failingSpanStore simulates a store outage for fail-open tests.
type failingSpanStore struct{}

func (failingSpanStore) SaveSpan(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func (failingSpanStore) GetSpan(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func (failingSpanStore) AddSpanToTrace(context.Context, string, string, time.Duration) error {
	return errors.New("connection refused")
}

func (failingSpanStore) TraceSpanIDs(context.Context, string) ([]string, error) {
	return nil, errors.New("connection refused")
}

func newTestTracer(t *testing.T, samplingRate float64) *Tracer {
	t.Helper()
	tracer := New(Config{
		ServiceName:  "monitoring",
		SamplingRate: samplingRate,
	}, store.NewMemory(), nil, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = tracer.Shutdown(ctx)
	})
	return tracer
}

func TestSpanNesting(t *testing.T) {
	tracer := newTestTracer(t, 1.0)
	ctx := context.Background()

	parent, parentCtx := tracer.StartSpan(ctx, "op-a")
	child, childCtx := tracer.StartSpan(parentCtx, "op-b")

	assert.Equal(t, parent.TraceID(), child.TraceID(), "child joins the parent's trace")
	assert.Equal(t, parent.SpanID(), child.Context().ParentSpanID)
	assert.NotEqual(t, parent.SpanID(), child.SpanID())

	// The current span follows context derivation: the parent's context
	// still sees the parent after the child scope opened.
	assert.Equal(t, child.SpanID(), CurrentSpanID(childCtx))
	assert.Equal(t, parent.SpanID(), CurrentSpanID(parentCtx))

	child.Finish()
	parent.Finish()

	// Finishing the child does not disturb what parentCtx refers to.
	assert.Equal(t, parent.SpanID(), CurrentSpanID(parentCtx))
}

func TestTraceCompletion(t *testing.T) {
	tracer := newTestTracer(t, 1.0)
	ctx := context.Background()

	parent, parentCtx := tracer.StartSpan(ctx, "op-a")
	child, _ := tracer.StartSpan(parentCtx, "op-b")
	traceID := parent.TraceID()

	child.Finish()

	// The parent is still open, so the trace is not complete: GetTrace
	// reconstructs a partial view from the store.
	partial, err := tracer.GetTrace(ctx, traceID)
	require.NoError(t, err)
	assert.Equal(t, 1, partial.SpanCount)
	assert.Equal(t, uint64(0), tracer.Metrics().Traces)

	parent.Finish()

	trace, err := tracer.GetTrace(ctx, traceID)
	require.NoError(t, err)
	assert.Equal(t, 2, trace.SpanCount)
	require.NotNil(t, trace.RootSpan)
	assert.Equal(t, "op-a", trace.RootSpan.OperationName)

	childSpan := findSpan(t, trace, "op-b")
	assert.Equal(t, trace.RootSpan.SpanID, childSpan.ParentSpanID)
	assert.GreaterOrEqual(t, trace.Duration, time.Duration(0))

	stats := tracer.Metrics()
	assert.Equal(t, uint64(1), stats.Traces)
	assert.Equal(t, uint64(2), stats.Spans)
	assert.Equal(t, 0, stats.ActiveSpans)
}

func TestGetTraceNotFound(t *testing.T) {
	tracer := newTestTracer(t, 1.0)

	_, err := tracer.GetTrace(context.Background(), "trace_nope")
	assert.ErrorIs(t, err, ErrTraceNotFound)
}

func TestDoubleFinishIgnored(t *testing.T) {
	tracer := newTestTracer(t, 1.0)

	span, _ := tracer.StartSpan(context.Background(), "op-a")
	span.Finish(WithError(errors.New("boom")))
	span.Finish(WithError(errors.New("boom again")))
	span.Finish()

	stats := tracer.Metrics()
	assert.Equal(t, uint64(1), stats.Errors, "only the first finish counts")
	assert.Equal(t, 0, stats.ActiveSpans)

	trace, err := tracer.GetTrace(context.Background(), span.TraceID())
	require.NoError(t, err)
	assert.Equal(t, 1, trace.SpanCount)
	assert.Equal(t, StatusError, trace.Spans[0].Status)
}

func TestFinishRecordsError(t *testing.T) {
	tracer := newTestTracer(t, 1.0)

	span, _ := tracer.StartSpan(context.Background(), "op-a")
	span.Finish(WithError(errors.New("disk full")))

	trace, err := tracer.GetTrace(context.Background(), span.TraceID())
	require.NoError(t, err)

	recorded := trace.Spans[0]
	assert.Equal(t, StatusError, recorded.Status)
	assert.Equal(t, true, recorded.Attributes["error"])
	assert.Equal(t, "disk full", recorded.Attributes["error.message"])
	assert.NotEmpty(t, recorded.Attributes["error.type"])
	assert.Equal(t, 1, trace.ErrorCount)
}

func TestUnsampledSpansAreNoops(t *testing.T) {
	tracer := newTestTracer(t, 0)
	ctx := context.Background()

	span, spanCtx := tracer.StartSpan(ctx, "op-a")
	assert.False(t, span.Sampled())
	assert.Empty(t, span.TraceID())
	assert.Empty(t, CurrentTraceID(spanCtx))

	// Every handle method is safe on an unsampled span.
	span.SetAttribute("k", "v")
	span.SetTag("k", "v")
	span.AddEvent("e", nil)
	span.Log("info", "m", nil)
	span.Finish()

	// Descendants inherit the decision: nothing is recorded anywhere in
	// the trace.
	child, _ := tracer.StartSpan(spanCtx, "op-b")
	assert.False(t, child.Sampled())
	child.Finish()

	stats := tracer.Metrics()
	assert.Equal(t, uint64(0), stats.Spans)
	assert.Equal(t, 0, stats.ActiveSpans)
}

func TestFinishSurvivesStoreOutage(t *testing.T) {
	tracer := New(Config{
		ServiceName:  "monitoring",
		SamplingRate: 1.0,
	}, failingSpanStore{}, nil, zap.NewNop())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = tracer.Shutdown(ctx)
	}()

	span, _ := tracer.StartSpan(context.Background(), "op-a")
	assert.NotPanics(t, func() { span.Finish() }, "persistence failures never reach the caller")
	assert.Equal(t, 0, tracer.Metrics().ActiveSpans)
}

func TestRemoteParent(t *testing.T) {
	tracer := newTestTracer(t, 1.0)

	remote, ok := Extract(map[string]string{
		HeaderTraceID: "trace_remote",
		HeaderSpanID:  "span_remote",
		HeaderBaggage: `{"tenant":"acme"}`,
	})
	require.True(t, ok)

	span, _ := tracer.StartSpan(context.Background(), "op-a", WithParent(remote), WithKind(KindServer))
	assert.Equal(t, "trace_remote", span.TraceID())
	assert.Equal(t, "span_remote", span.Context().ParentSpanID)
	assert.Equal(t, "acme", span.Context().Baggage["tenant"])
	span.Finish()
}

func TestTraced(t *testing.T) {
	tracer := newTestTracer(t, 1.0)

	var traceID string
	err := tracer.Traced(context.Background(), "op-a", func(ctx context.Context) error {
		traceID = CurrentTraceID(ctx)
		return errors.New("boom")
	})
	require.EqualError(t, err, "boom")

	trace, getErr := tracer.GetTrace(context.Background(), traceID)
	require.NoError(t, getErr)
	assert.Equal(t, StatusError, trace.Spans[0].Status)
}

func TestSearchTraces(t *testing.T) {
	tracer := newTestTracer(t, 1.0)
	ctx := context.Background()

	finishTrace := func(operation string, fail bool) string {
		span, _ := tracer.StartSpan(ctx, operation)
		if fail {
			span.Finish(WithError(errors.New("boom")))
		} else {
			span.Finish()
		}
		return span.TraceID()
	}

	okTrace := finishTrace("fetch-metrics", false)
	errTrace := finishTrace("run-workflow", true)
	finishTrace("fetch-metrics", false)

	byOperation := tracer.SearchTraces(SearchFilter{Operation: "run-workflow"}, 10)
	require.Len(t, byOperation, 1)
	assert.Equal(t, errTrace, byOperation[0].TraceID)

	hasErrors := true
	byErrors := tracer.SearchTraces(SearchFilter{HasErrors: &hasErrors}, 10)
	require.Len(t, byErrors, 1)
	assert.Equal(t, errTrace, byErrors[0].TraceID)

	noErrors := false
	clean := tracer.SearchTraces(SearchFilter{HasErrors: &noErrors}, 10)
	assert.Len(t, clean, 2)

	byService := tracer.SearchTraces(SearchFilter{Service: "MONITORING"}, 10)
	assert.Len(t, byService, 3, "service match is case-insensitive")

	limited := tracer.SearchTraces(SearchFilter{}, 1)
	require.Len(t, limited, 1)

	none := tracer.SearchTraces(SearchFilter{Operation: "missing"}, 10)
	assert.Empty(t, none)

	// okTrace is visible in the cache alongside the others.
	all := tracer.SearchTraces(SearchFilter{}, 0)
	assert.Len(t, all, 3)
	assert.True(t, containsTrace(all, okTrace))
}

func TestSpanMutationsAfterFinishIgnored(t *testing.T) {
	tracer := newTestTracer(t, 1.0)

	span, _ := tracer.StartSpan(context.Background(), "op-a")
	span.SetAttribute("before", 1)
	span.Finish()

	span.SetAttribute("after", 2)
	span.SetTag("after", "2")
	span.AddEvent("after", nil)
	span.Log("info", "after", nil)

	trace, err := tracer.GetTrace(context.Background(), span.TraceID())
	require.NoError(t, err)

	recorded := trace.Spans[0]
	assert.Contains(t, recorded.Attributes, "before")
	assert.NotContains(t, recorded.Attributes, "after")
	assert.NotContains(t, recorded.Tags, "after")
	assert.Empty(t, recorded.Events)
	assert.Empty(t, recorded.Logs)
}

func findSpan(t *testing.T, trace *Trace, operation string) *Span {
	t.Helper()
	for _, span := range trace.Spans {
		if span.OperationName == operation {
			return span
		}
	}
	t.Fatalf("span %q not found in trace %s", operation, trace.TraceID)
	return nil
}

func containsTrace(traces []*Trace, traceID string) bool {
	for _, trace := range traces {
		if trace.TraceID == traceID {
			return true
		}
	}
	return false
}
