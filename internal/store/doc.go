/*
Package store provides access to the shared distributed store (Redis)
backing span persistence and rate-limit counters.

# Overview

Both engines talk to one Redis-compatible store through two narrow
interfaces: SpanStore (span blobs and per-trace index sets, TTL-bounded)
and CounterStore (atomic rate-limit primitives). The rate-limit
primitives execute as server-side Lua scripts so that a single check is
one atomic round trip; a read-modify-write from the client would race
under concurrent checks for the same identifier.

# Failure Model

Every operation carries a bounded timeout and runs through a circuit
breaker. When the store is down callers receive an error promptly and
apply their documented fallback: the rate limiter fails open, the tracer
logs and skips persistence. Store outages never propagate into business
logic.

# Keys

	span:<span_id>                                         serialized span (JSON), TTL-bounded
	trace:<trace_id>:spans                                 set of span IDs, TTL-bounded
	rate_limit:token_bucket:<policy>:<identifier>          hash {tokens, last_refill}
	rate_limit:sliding_window:<policy>:<identifier>        sorted set of request timestamps
	rate_limit:fixed_window:<policy>:<identifier>:<start>  integer counter

# Usage

	client, err := store.Connect(cfg.Redis, logger)
	if err != nil { ... }
	defer client.Close()

An in-memory implementation (store.NewMemory) provides the same
semantics behind a mutex for tests and single-process development.
*/
package store
