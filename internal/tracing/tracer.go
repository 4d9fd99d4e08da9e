package tracing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-ng-sub010/internal/monitoring"
	"github.com/andrewcho-dev/opsconductor-ng-sub010/internal/shared/id"
	"github.com/andrewcho-dev/opsconductor-ng-sub010/internal/store"
)

// ErrTraceNotFound is returned when no spans exist for a trace ID.
var ErrTraceNotFound = errors.New("trace not found")

// Config defines tracing engine configuration.
type Config struct {
	// ServiceName is recorded on every span this tracer creates.
	ServiceName string
	// SamplingRate is the probability a new trace is recorded; 1.0
	// samples everything.
	SamplingRate float64
	// MaxTraceDuration bounds span TTLs in the store and cache
	// retention.
	MaxTraceDuration time.Duration
	// CleanupInterval is the period of the completed-trace cache
	// eviction loop.
	CleanupInterval time.Duration
	// ExportInterval is the period of the aggregate metrics export loop.
	ExportInterval time.Duration
}

// DefaultConfig returns production-ready tracing configuration.
func DefaultConfig(service string) Config {
	return Config{
		ServiceName:      service,
		SamplingRate:     1.0,
		MaxTraceDuration: time.Hour,
		CleanupInterval:  5 * time.Minute,
		ExportInterval:   time.Minute,
	}
}

// Stats is a snapshot of the engine's aggregate counters.
type Stats struct {
	Traces      uint64 `json:"traces"`
	Spans       uint64 `json:"spans"`
	Errors      uint64 `json:"errors"`
	ActiveSpans int    `json:"active_spans"`
}

// Tracer manages the full lifecycle of spans and traces: creation,
// correlation, persistence, queries, and background maintenance. It is
// constructed explicitly and injected; there is no package-level
// instance.
type Tracer struct {
	cfg     Config
	store   store.SpanStore
	metrics *monitoring.Metrics
	logger  *zap.Logger

	mu        sync.RWMutex
	active    map[string]*activeSpan // by span ID
	completed map[string]*Trace      // completed-trace cache, by trace ID

	traceCount uint64
	spanCount  uint64
	errorCount uint64

	loopCancel context.CancelFunc
	loops      sync.WaitGroup
}

// New creates a tracer and starts its background maintenance loops.
// metrics may be nil.
func New(cfg Config, st store.SpanStore, metrics *monitoring.Metrics, logger *zap.Logger) *Tracer {
	if cfg.MaxTraceDuration <= 0 {
		cfg.MaxTraceDuration = time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	if cfg.ExportInterval <= 0 {
		cfg.ExportInterval = time.Minute
	}

	t := &Tracer{
		cfg:       cfg,
		store:     st,
		metrics:   metrics,
		logger:    logger,
		active:    make(map[string]*activeSpan),
		completed: make(map[string]*Trace),
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	t.loopCancel = cancel
	t.loops.Add(2)
	go t.runCleanup(loopCtx)
	go t.runExport(loopCtx)

	return t
}

// Shutdown cancels the background loops and waits for them to exit.
func (t *Tracer) Shutdown(ctx context.Context) error {
	t.loopCancel()

	done := make(chan struct{})
	go func() {
		t.loops.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartOption adjusts span creation.
type StartOption func(*startConfig)

type startConfig struct {
	kind      SpanKind
	parent    TraceContext
	hasParent bool
}

// WithKind sets the span kind; defaults to internal.
func WithKind(kind SpanKind) StartOption {
	return func(c *startConfig) { c.kind = kind }
}

// WithParent extends the trace described by an extracted remote context.
func WithParent(parent TraceContext) StartOption {
	return func(c *startConfig) {
		if parent.Valid() {
			c.parent = parent
			c.hasParent = true
		}
	}
}

// StartSpan begins a span for a unit of work. The sampling decision is
// applied first: unsampled spans get a no-op handle whose every method
// is safe. A parent comes either from an explicit WithParent (remote
// context) or from the current span in ctx (local nesting); otherwise a
// fresh trace is minted. The returned context carries the new span as
// current; the caller's ctx still holds the previous one.
func (t *Tracer) StartSpan(ctx context.Context, operation string, opts ...StartOption) (SpanHandle, context.Context) {
	cfg := startConfig{kind: KindInternal}
	for _, opt := range opts {
		opt(&cfg)
	}

	// Local parent wins the sampling decision so a trace is recorded
	// consistently or not at all.
	if local, ok := SpanFromContext(ctx); ok {
		if !local.Sampled() {
			return noopSpan{}, ctx
		}
		if !cfg.hasParent {
			cfg.parent = local.Context()
			cfg.hasParent = true
		}
	} else if !t.sampled() {
		noop := noopSpan{}
		return noop, ContextWithSpan(ctx, noop)
	}

	span := &Span{
		SpanID:        id.NewSpanID().String(),
		OperationName: operation,
		ServiceName:   t.cfg.ServiceName,
		Kind:          cfg.kind,
		StartTime:     time.Now(),
		Status:        StatusOK,
		Attributes:    make(map[string]interface{}),
		Tags:          make(map[string]string),
	}

	var baggage map[string]string
	if cfg.hasParent {
		span.TraceID = cfg.parent.TraceID
		span.ParentSpanID = cfg.parent.SpanID
		baggage = cfg.parent.Baggage
	} else {
		span.TraceID = id.NewTraceID().String()
	}

	handle := &activeSpan{tracer: t, span: span, baggage: baggage}

	t.mu.Lock()
	t.active[span.SpanID] = handle
	t.mu.Unlock()

	atomic.AddUint64(&t.spanCount, 1)
	if t.metrics != nil {
		t.metrics.RecordSpanStarted()
	}

	return handle, ContextWithSpan(ctx, handle)
}

// Traced runs fn inside a span, finishing it with the returned error.
// The primary interface remains explicit StartSpan/Finish; this is the
// convenience wrapper for straight-line call sites.
func (t *Tracer) Traced(ctx context.Context, operation string, fn func(ctx context.Context) error, opts ...StartOption) error {
	span, ctx := t.StartSpan(ctx, operation, opts...)
	err := fn(ctx)
	if err != nil {
		span.Finish(WithError(err))
	} else {
		span.Finish()
	}
	return err
}

// sampled rolls the per-call sampling decision.
func (t *Tracer) sampled() bool {
	if t.cfg.SamplingRate >= 1.0 {
		return true
	}
	if t.cfg.SamplingRate <= 0 {
		return false
	}
	return rand.Float64() < t.cfg.SamplingRate
}

// finishSpan closes a span exactly once: freezes timing and status,
// removes it from the active set, persists it best-effort, and triggers
// completion detection. Store failures are logged and swallowed;
// observability must never affect business outcomes.
func (t *Tracer) finishSpan(s *activeSpan, cfg finishConfig) {
	s.mu.Lock()
	if s.finished {
		// First finish wins; later finishes are ignored.
		s.mu.Unlock()
		return
	}
	s.finished = true

	span := s.span
	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	span.Status = cfg.status
	if cfg.err != nil {
		span.Status = StatusError
		span.Attributes["error"] = true
		span.Attributes["error.message"] = cfg.err.Error()
		span.Attributes["error.type"] = errorType(cfg.err)
	}
	s.mu.Unlock()

	if span.Status == StatusError {
		atomic.AddUint64(&t.errorCount, 1)
	}

	t.mu.Lock()
	delete(t.active, span.SpanID)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.RecordSpanFinished(span.ServiceName, string(span.Kind), string(span.Status), span.Duration)
	}

	ctx := context.Background()
	if err := t.persistSpan(ctx, span); err != nil {
		t.logger.Warn("failed to persist span",
			zap.String("trace_id", span.TraceID),
			zap.String("span_id", span.SpanID),
			zap.Error(err),
		)
		if t.metrics != nil {
			t.metrics.RecordSpanDropped()
			t.metrics.RecordStoreError("save_span")
		}
		return
	}

	t.checkTraceCompletion(ctx, span.TraceID)
}

func (t *Tracer) persistSpan(ctx context.Context, span *Span) error {
	data, err := json.Marshal(span)
	if err != nil {
		return err
	}
	if err := t.store.SaveSpan(ctx, span.SpanID, data, t.cfg.MaxTraceDuration); err != nil {
		return err
	}
	return t.store.AddSpanToTrace(ctx, span.TraceID, span.SpanID, t.cfg.MaxTraceDuration)
}

// checkTraceCompletion detects completion by absence: a trace is
// complete when no span sharing its trace ID remains in the active set.
// Pull-based and best-effort; a trace whose root never finishes is never
// marked complete and its spans age out of the store via TTL.
func (t *Tracer) checkTraceCompletion(ctx context.Context, traceID string) {
	t.mu.RLock()
	_, alreadyComplete := t.completed[traceID]
	if alreadyComplete {
		t.mu.RUnlock()
		return
	}
	for _, handle := range t.active {
		if handle.span.TraceID == traceID {
			// A sibling is still open; defer to its finish.
			t.mu.RUnlock()
			return
		}
	}
	t.mu.RUnlock()

	spanIDs, err := t.store.TraceSpanIDs(ctx, traceID)
	if err != nil {
		t.logger.Warn("trace completion check failed",
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
		return
	}
	if len(spanIDs) == 0 {
		return
	}

	spans, err := t.loadSpans(ctx, spanIDs)
	if err != nil || len(spans) == 0 {
		return
	}

	trace := assembleTrace(traceID, spans)

	t.mu.Lock()
	if _, exists := t.completed[traceID]; exists {
		t.mu.Unlock()
		return
	}
	t.completed[traceID] = trace
	t.mu.Unlock()

	atomic.AddUint64(&t.traceCount, 1)
	if t.metrics != nil {
		t.metrics.RecordTraceCompleted()
	}
}

// loadSpans loads spans by ID, skipping entries the store has expired.
func (t *Tracer) loadSpans(ctx context.Context, spanIDs []string) ([]*Span, error) {
	spans := make([]*Span, 0, len(spanIDs))
	for _, spanID := range spanIDs {
		data, err := t.store.GetSpan(ctx, spanID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var span Span
		if err := json.Unmarshal(data, &span); err != nil {
			t.logger.Warn("skipping undecodable span",
				zap.String("span_id", spanID),
				zap.Error(err),
			)
			continue
		}
		spans = append(spans, &span)
	}
	return spans, nil
}

// GetTrace returns a trace by ID: from the completed-trace cache when
// present, otherwise reconstructed from the store. Mid-flight traces are
// returned partially.
func (t *Tracer) GetTrace(ctx context.Context, traceID string) (*Trace, error) {
	t.mu.RLock()
	cached, ok := t.completed[traceID]
	t.mu.RUnlock()
	if ok {
		return cached, nil
	}

	spanIDs, err := t.store.TraceSpanIDs(ctx, traceID)
	if err != nil {
		return nil, err
	}
	if len(spanIDs) == 0 {
		return nil, ErrTraceNotFound
	}

	spans, err := t.loadSpans(ctx, spanIDs)
	if err != nil {
		return nil, err
	}
	if len(spans) == 0 {
		return nil, ErrTraceNotFound
	}

	return assembleTrace(traceID, spans), nil
}

// Metrics returns a snapshot of the engine's aggregate counters.
func (t *Tracer) Metrics() Stats {
	t.mu.RLock()
	active := len(t.active)
	t.mu.RUnlock()

	return Stats{
		Traces:      atomic.LoadUint64(&t.traceCount),
		Spans:       atomic.LoadUint64(&t.spanCount),
		Errors:      atomic.LoadUint64(&t.errorCount),
		ActiveSpans: active,
	}
}

// runCleanup evicts completed traces older than the max trace duration
// from the in-memory cache. The underlying store self-expires via TTL
// and is not touched here.
func (t *Tracer) runCleanup(ctx context.Context) {
	defer t.loops.Done()

	ticker := time.NewTicker(t.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.evictStale()
		}
	}
}

func (t *Tracer) evictStale() {
	cutoff := time.Now().Add(-t.cfg.MaxTraceDuration)

	t.mu.Lock()
	evicted := 0
	for traceID, trace := range t.completed {
		if trace.StartTime.Before(cutoff) {
			delete(t.completed, traceID)
			evicted++
		}
	}
	t.mu.Unlock()

	if evicted > 0 {
		t.logger.Debug("evicted stale traces from cache", zap.Int("count", evicted))
	}
}

// runExport periodically emits aggregate counters. This is the hook
// point for an external export integration; none is wired here.
func (t *Tracer) runExport(ctx context.Context) {
	defer t.loops.Done()

	ticker := time.NewTicker(t.cfg.ExportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := t.Metrics()
			t.logger.Info("tracing stats",
				zap.Uint64("traces", stats.Traces),
				zap.Uint64("spans", stats.Spans),
				zap.Uint64("errors", stats.Errors),
				zap.Int("active_spans", stats.ActiveSpans),
			)
			if t.metrics != nil {
				t.metrics.UpdateUptime()
			}
		}
	}
}

// errorType names the concrete error type for span attributes.
func errorType(err error) string {
	return fmt.Sprintf("%T", err)
}
