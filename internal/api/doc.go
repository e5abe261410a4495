// Package api hosts the operational HTTP endpoint of a harvest run.
// Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/run for the progress of the current run.
package api
