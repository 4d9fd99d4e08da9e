package tracing

import (
	"sort"
	"strings"
	"time"
)

// SearchFilter narrows a trace search. All fields are optional and
// AND-combined.
type SearchFilter struct {
	// Service matches traces with at least one span from this service.
	Service string
	// Operation matches traces containing this operation name.
	Operation string
	// MinDuration/MaxDuration bound the whole-trace duration.
	MinDuration time.Duration
	MaxDuration time.Duration
	// HasErrors filters on the presence of errored spans.
	HasErrors *bool
	// Start/End bound the trace start time.
	Start time.Time
	End   time.Time
}

// SearchTraces queries the in-memory completed-trace cache. Traces that
// were evicted by the cleanup loop or never completed are not visible
// here; this bounds search memory and is a documented limitation, with
// individual spans still reachable in the store until their TTL expires.
// Results are newest-first, truncated to limit.
func (t *Tracer) SearchTraces(filter SearchFilter, limit int) []*Trace {
	t.mu.RLock()
	matches := make([]*Trace, 0, len(t.completed))
	for _, trace := range t.completed {
		if matchesFilter(trace, filter) {
			matches = append(matches, trace)
		}
	}
	t.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].StartTime.After(matches[j].StartTime)
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

func matchesFilter(trace *Trace, filter SearchFilter) bool {
	if filter.Service != "" && !traceHasService(trace, filter.Service) {
		return false
	}
	if filter.Operation != "" && !traceHasOperation(trace, filter.Operation) {
		return false
	}
	if filter.MinDuration > 0 && trace.Duration < filter.MinDuration {
		return false
	}
	if filter.MaxDuration > 0 && trace.Duration > filter.MaxDuration {
		return false
	}
	if filter.HasErrors != nil && (trace.ErrorCount > 0) != *filter.HasErrors {
		return false
	}
	if !filter.Start.IsZero() && trace.StartTime.Before(filter.Start) {
		return false
	}
	if !filter.End.IsZero() && trace.StartTime.After(filter.End) {
		return false
	}
	return true
}

func traceHasService(trace *Trace, service string) bool {
	for _, span := range trace.Spans {
		if strings.EqualFold(span.ServiceName, service) {
			return true
		}
	}
	return false
}

func traceHasOperation(trace *Trace, operation string) bool {
	for _, span := range trace.Spans {
		if span.OperationName == operation {
			return true
		}
	}
	return false
}
