// Package main is the entry point for the observability server.
//
// This application hosts the distributed tracing engine and the rate
// limit engine behind a single HTTP surface, backed by Redis for
// cross-instance span storage and atomic rate limit counters.
//
// The server provides:
//   - REST API for trace retrieval and search
//   - Rate limit policy management and remote checks
//   - Prometheus metrics
//   - Trace propagation middleware for HTTP and gRPC
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	./server -port 8000 -redis localhost:6379
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
