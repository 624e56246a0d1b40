// Package main provides the collaborative document editing engine.

// This package contains the main application entry point. The actual API
// documentation is organized into subpackages:

// - internal/position: logical positions and vector clocks
// - internal/ot: operational transformation engine
// - internal/crdt: replicated node set for the CRDT path
// - internal/document: document state, op log, checkpoints, rollback
// - internal/session: per-connection session and permission checks
// - internal/ordering: per-document sequence gap-fill queue
// - internal/fabric: reliable pub/sub fan-out across instances
// - internal/registry: instance heartbeats, circuit breakers, load balancing
// - internal/cache: transform result memoization and the Redis client
// - internal/websocket: transport-facing hub wiring sessions to connections
// - internal/database: checkpoint persistence
// - internal/middleware: HTTP middleware (rate limiting, correlation, metrics)

// See the individual package documentation for detailed API reference.
package main
