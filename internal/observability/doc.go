// Package observability provides structured logging and metrics for the
// dashboard backend.
//
// This package implements:
//   - Structured logging (zap-based), configured per environment
//   - Prometheus metrics for the authentication pipeline: token validation
//     outcomes and latency, key set cache behavior, identity provisioning,
//     and lockout activity
//
// Collectors are registered on the default registry and exposed through the
// /metrics endpoint.
package observability
