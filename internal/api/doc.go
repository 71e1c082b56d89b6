// Package api hosts the status server a search run exposes while it runs.
// Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for the latest counters of the current run.
//   - GET /v1/runs/{run_id} and /v1/runs/{run_id}/snapshots for runs recorded
//     through the RunRepository.
package api
