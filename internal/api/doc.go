// Package api hosts the HTTP server, middleware, and REST handlers for the
// topic news service. Notable routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET, POST /api/v1/topics and DELETE /api/v1/topics/{name} to manage topics.
//   - GET /api/v1/news/{topic} and /api/v1/logs to read stored items and visit logs.
//   - GET /api/v1/scheduler for the scrape loop's state.
//   - GET /api/v1/ws/news/{topic} to stream newly stored items over a WebSocket.
//
// Errors share one body shape: {"error": CODE, "message": text, "status": "error"}.
package api
