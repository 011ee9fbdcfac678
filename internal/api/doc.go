// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - POST /api/scrape runs a batch and answers once every job is terminal.
//   - POST /api/scrape/async creates the jobs, queues the batch and answers
//     with the job IDs to poll.
//   - GET /api/scrape and /api/scrape/{id} report job history and status.
//   - GET /api/media, /api/media/stats and GET/DELETE /api/media/{id} expose
//     the media catalog.
//   - GET /healthz, /readyz and /metrics for probes and Prometheus.
package api
