package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store with the same semantics as the Redis
// client, guarded by a single mutex. Atomicity across concurrent callers
// comes from the lock instead of server-side scripts. Used in tests and
// single-process development.
type Memory struct {
	mu        sync.Mutex
	spans     map[string]memEntry
	traceSets map[string]memSet
	buckets   map[string]*memBucket
	windows   map[string][]time.Time
	counters  map[string]*memCounter
}

type memEntry struct {
	data    []byte
	expires time.Time
}

type memSet struct {
	members map[string]struct{}
	expires time.Time
}

type memBucket struct {
	tokens     float64
	lastRefill time.Time
}

type memCounter struct {
	count   int64
	expires time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		spans:     make(map[string]memEntry),
		traceSets: make(map[string]memSet),
		buckets:   make(map[string]*memBucket),
		windows:   make(map[string][]time.Time),
		counters:  make(map[string]*memCounter),
	}
}

// SaveSpan stores a serialized span.
func (m *Memory) SaveSpan(_ context.Context, spanID string, data []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.spans[spanID] = memEntry{data: data, expires: time.Now().Add(ttl)}
	return nil
}

// GetSpan loads a serialized span.
func (m *Memory) GetSpan(_ context.Context, spanID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.spans[spanID]
	if !ok || time.Now().After(entry.expires) {
		delete(m.spans, spanID)
		return nil, ErrNotFound
	}
	return entry.data, nil
}

// AddSpanToTrace indexes a span ID under its trace.
func (m *Memory) AddSpanToTrace(_ context.Context, traceID, spanID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.traceSets[traceID]
	if !ok || time.Now().After(set.expires) {
		set = memSet{members: make(map[string]struct{})}
	}
	set.members[spanID] = struct{}{}
	set.expires = time.Now().Add(ttl)
	m.traceSets[traceID] = set
	return nil
}

// TraceSpanIDs returns the span IDs indexed under a trace.
func (m *Memory) TraceSpanIDs(_ context.Context, traceID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.traceSets[traceID]
	if !ok || time.Now().After(set.expires) {
		return nil, nil
	}
	ids := make([]string, 0, len(set.members))
	for id := range set.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// TakeToken mirrors the Redis token bucket script.
func (m *Memory) TakeToken(_ context.Context, key string, capacity int64, refillPerSec float64, _ time.Duration, now time.Time) (TokenResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket, ok := m.buckets[key]
	if !ok {
		bucket = &memBucket{tokens: float64(capacity), lastRefill: now}
		m.buckets[key] = bucket
	}

	elapsed := now.Sub(bucket.lastRefill).Seconds()
	if elapsed > 0 {
		bucket.tokens += elapsed * refillPerSec
		if bucket.tokens > float64(capacity) {
			bucket.tokens = float64(capacity)
		}
	}
	bucket.lastRefill = now

	if bucket.tokens >= 1 {
		bucket.tokens--
		return TokenResult{Allowed: true, Remaining: bucket.tokens}, nil
	}
	return TokenResult{Allowed: false, Remaining: bucket.tokens}, nil
}

// SlidingWindowAdmit mirrors the Redis sliding window script.
func (m *Memory) SlidingWindowAdmit(_ context.Context, key string, window time.Duration, max int64, now time.Time) (WindowResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-window)
	kept := m.windows[key][:0]
	for _, ts := range m.windows[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	m.windows[key] = kept

	count := int64(len(kept))
	if count < max {
		m.windows[key] = append(kept, now)
		return WindowResult{Allowed: true, Count: count + 1}, nil
	}

	res := WindowResult{Allowed: false, Count: count}
	if count > 0 {
		res.Oldest = kept[0]
	}
	return res, nil
}

// FixedWindowIncr mirrors the Redis fixed window script.
func (m *Memory) FixedWindowIncr(_ context.Context, key string, ttl time.Duration, max int64) (CounterResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counter, ok := m.counters[key]
	if !ok || time.Now().After(counter.expires) {
		counter = &memCounter{expires: time.Now().Add(ttl)}
		m.counters[key] = counter
	}

	counter.count++
	if counter.count > max {
		counter.count--
		return CounterResult{Allowed: false, Count: counter.count}, nil
	}
	return CounterResult{Allowed: true, Count: counter.count}, nil
}

// Delete removes keys from every namespace.
func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.spans, key)
		delete(m.traceSets, key)
		delete(m.buckets, key)
		delete(m.windows, key)
		delete(m.counters, key)
	}
	return nil
}
