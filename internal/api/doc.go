// Package api implements the HTTP REST API and WebSocket server for Tier List Core.
//
// This package provides:
//   - REST endpoints for accounts, tiers and items under /api/v1
//   - WebSocket hub broadcasting tier and item changes
//   - Ticket-based WebSocket auth so bearer tokens never appear in URLs
//   - Middleware stack (request ID, logging, recovery, CORS, body limit, auth gate)
//   - Per-IP rate limiting on login and registration
//
// # Security
//
// The auth.Gate only resolves a bearer token into a principal; it never
// rejects a request. Each handler asks the auth.Policy whether the principal
// may perform its action, and maps the denial to 401 or 403. Every token
// failure produces the same 401 body as a missing token.
//
// # Graceful Degradation
//
// MQTT, InfluxDB, Redis and the audit trail are optional. Without them the
// REST API and WebSocket hub keep working; events, time-series points and
// audit entries are simply not produced.
//
// Lifecycle:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
