/*
Package tracing implements the distributed tracing engine: span and
trace lifecycle, context propagation across service boundaries, span
persistence with TTL, trace completion detection, and in-memory trace
search.

# Overview

A Tracer is constructed explicitly with its store and logger and
injected where needed; there is no lazily-initialized global. Spans are
created with StartSpan, annotated through their handle, and closed
exactly once with Finish. Finished spans are persisted to the span store
keyed by span ID, indexed per trace, and bounded by TTL.

# Sampling

The sampling decision happens at StartSpan. Unsampled spans receive a
no-op handle implementing the same SpanHandle interface, so
instrumentation code never branches on whether tracing is active. A
trace is sampled consistently: children of an unsampled span are
unsampled.

# Current Span

The current span travels in context.Context, Go's execution-scoped
storage. Because StartSpan derives a child context rather than mutating
shared state, concurrently running requests never observe each other's
trace context, and the prior span is naturally restored when a scope's
context goes out of use.

# Trace Completion

Completion is detected, not declared: when a span finishes and no span
sharing its trace ID remains in the active set, the trace is assembled
from the store and cached. A trace whose root span never finishes (for
example after a crash) is never marked complete; its spans remain
individually readable until their TTL expires.

# Search

SearchTraces operates only over the in-memory completed-trace cache.
Traces evicted by the cleanup loop or never completed are not
searchable. This bounds search memory and is intentional.

# Failure Semantics

All store I/O degrades gracefully: a store outage means spans are not
durably recorded while it lasts, and nothing is raised to the
instrumented caller.

# Usage

	tracer := tracing.New(tracing.DefaultConfig("backend"), client, metrics, logger)
	defer tracer.Shutdown(ctx)

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "resolve-incident")
	span.SetTag("incident.id", incidentID)
	defer span.Finish()
*/
package tracing
