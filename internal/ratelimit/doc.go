/*
Package ratelimit implements the distributed rate limit engine: named
policies, interchangeable algorithms, allow/deny lists, composite
checks, and the standard X-RateLimit-* response headers.

# Algorithms

Three strategies, selected per policy:

  - token_bucket: continuous refill up to a burst capacity, one token
    per admitted request.
  - sliding_window: a log of request timestamps within a moving window.
  - fixed_window: a counter per discrete window, reset at boundaries.

sliding_window_counter is registered as an alias of sliding_window.

Every algorithm's store interaction is a single atomic operation (a
server-side script in the Redis client), so two concurrent checks for
the same identifier never both pass when only one slot remains.

# Scope

A policy's scope decides what its counters are keyed by. Global policies
share a single counter across all callers, so they bound aggregate
traffic; per-user, per-IP, and per-endpoint policies get one counter per
identifier. Allow and deny lists always match the caller identity, even
for global policies. The middleware resolves identifiers per scope via
Identity; direct Check callers pass the caller identity and the manager
normalizes the global key itself.

# Fail-Open

Store errors never deny a request: the check is allowed with a
diagnostic reason, a counter is bumped, and a warning is logged. This is
a deliberate availability-over-enforcement choice.

# Permissive Defaults

Checking an unregistered policy name or an unknown algorithm yields
"allowed, unlimited". Unconfigured limits are no limit, not deny-all.

# Usage

	manager := ratelimit.NewManager(client, metrics, logger)
	manager.AddConfig(ratelimit.Config{Name: "export", Algorithm: ratelimit.AlgorithmFixedWindow, ...})

	check := manager.Check(ctx, "per_user", userID)
	if !check.Allowed() {
		// respond 429 with ratelimit.Headers(check)
	}

	router.Use(ratelimit.Middleware(manager, "global_api", "per_ip"))
*/
package ratelimit
