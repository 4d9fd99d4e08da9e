/*
Package monitoring provides Prometheus-based metrics for the tracing and
rate-limit engines.

# Overview

Metrics are registered on a per-instance registry rather than the global
default, so tests can construct collectors freely and the /metrics
endpoint serves exactly this process's registry.

# Usage

	metrics := monitoring.NewMetrics()

	// Gin middleware for HTTP request metrics
	router.Use(monitoring.Middleware(metrics))

	// Expose the endpoint
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Record engine events
	metrics.RecordSpanFinished("monitoring", "server", "ok", duration)
	metrics.RecordRateLimitCheck("per_user", "denied")
*/
package monitoring
