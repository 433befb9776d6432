// Package http serves the operational HTTP endpoints of appshell.
//
// # Endpoints
//
//	GET /healthz  - component health as JSON (200 healthy, 503 degraded)
//	GET /metrics  - Prometheus exposition of dispatch, event and audit metrics
//
// Actions are not dispatched over HTTP by this package; path and verb routing
// belongs to a separate adapter layer.
package http
