// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access to stored runs. Notable routes:
//   - GET /healthz and /readyz for liveness/readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs and /v1/runs/{run_id}/... for run metadata, records,
//     summaries, and progress timelines. All run routes are read-only.
package api
