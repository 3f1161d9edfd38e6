// Package api implements the HTTP REST API and WebSocket event stream for
// the Gray Logic agent.
//
// This package provides:
//   - Read endpoints for links, configurations, runtime metrics and history
//   - A write endpoint routing values to linked devices
//   - A WebSocket hub that is also a runtime event sink
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Routes
//
//	GET  /api/v1/health
//	GET  /api/v1/metrics
//	GET  /api/v1/configurations
//	GET  /api/v1/configurations/{id}/history
//	GET  /api/v1/links
//	GET  /api/v1/links/{asset}/{attribute}
//	GET  /api/v1/links/{asset}/{attribute}/history
//	POST /api/v1/links/{asset}/{attribute}/write
//	GET  /api/v1/ws
//
// # Write Errors
//
// Writes to unlinked attributes return 404 and writes to read-only
// attributes return 409; in both cases nothing is sent to the device.
//
// # Graceful Degradation
//
// History endpoints return 503 when no database is configured. Everything
// else works without MQTT, InfluxDB or SQLite.
package api
