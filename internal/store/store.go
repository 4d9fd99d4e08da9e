package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("key not found in store")

// SpanStore persists finished spans and the per-trace span index.
type SpanStore interface {
	// SaveSpan stores a serialized span keyed by span ID with a TTL.
	SaveSpan(ctx context.Context, spanID string, data []byte, ttl time.Duration) error

	// GetSpan loads a serialized span. Returns ErrNotFound for missing spans.
	GetSpan(ctx context.Context, spanID string) ([]byte, error)

	// AddSpanToTrace adds a span ID to the trace's index set and refreshes
	// the set's TTL.
	AddSpanToTrace(ctx context.Context, traceID, spanID string, ttl time.Duration) error

	// TraceSpanIDs returns all span IDs indexed under a trace.
	TraceSpanIDs(ctx context.Context, traceID string) ([]string, error)
}

// TokenResult is the outcome of an atomic token bucket take.
type TokenResult struct {
	Allowed   bool
	Remaining float64
}

// WindowResult is the outcome of an atomic sliding window admission.
type WindowResult struct {
	Allowed bool
	Count   int64
	// Oldest is the oldest surviving request timestamp; zero when the
	// window is empty.
	Oldest time.Time
}

// CounterResult is the outcome of an atomic fixed window increment.
type CounterResult struct {
	Allowed bool
	Count   int64
}

// CounterStore provides the atomic primitives the rate-limit algorithms
// require. Each call is a single atomic operation: two concurrent calls
// for the same key never both admit when only one slot remains.
type CounterStore interface {
	// TakeToken refills the bucket proportionally to elapsed time (capped
	// at capacity) and attempts to take one token.
	TakeToken(ctx context.Context, key string, capacity int64, refillPerSec float64, ttl time.Duration, now time.Time) (TokenResult, error)

	// SlidingWindowAdmit evicts timestamps older than the window, counts
	// survivors, and admits by inserting now when under max.
	SlidingWindowAdmit(ctx context.Context, key string, window time.Duration, max int64, now time.Time) (WindowResult, error)

	// FixedWindowIncr increments the window counter, decrementing back on
	// overflow so denials do not inflate the count.
	FixedWindowIncr(ctx context.Context, key string, ttl time.Duration, max int64) (CounterResult, error)

	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

// Store combines both store roles; the Redis client and the in-memory
// implementation satisfy it.
type Store interface {
	SpanStore
	CounterStore
}
