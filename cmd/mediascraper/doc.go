// Package main hosts the media scraper service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server validates submitted URL batches and either
//     runs them inline (POST /api/scrape) or creates the jobs and queues the
//     batch (POST /api/scrape/async). Job status, job history and the media
//     catalog are served from the same store.
//   - Orchestrator: every URL becomes a job. Jobs run concurrently under one
//     fetch semaphore shared by all batches; each job fetches the page with
//     Colly, extracts image and video references with goquery and writes them
//     in chunks. Failed attempts are retried with jittered backoff up to the
//     configured limit, after which partial media is purged and the job fails.
//   - Queue & workers: async batches flow through an in-memory or Redis list
//     queue and are drained by a fixed worker pool via the dispatcher.
//   - Persistence & fanout: jobs and media live in memory or in Postgres
//     (pgx, goose migrations). Raw pages can be archived to memory, local
//     disk or GCS, and settled jobs are announced on Pub/Sub when a topic is
//     configured.
//   - Configuration & plumbing: Viper populates config from env/files; zap
//     provides structured logging; Prometheus metrics are exported via the
//     metrics middleware and /metrics handler.
//
// Quick checklist:
//   - Configure env vars: SCRAPER_SERVER_PORT, SCRAPER_SCRAPER_CONCURRENCY,
//     SCRAPER_HTTP_TIMEOUT_SECONDS, SCRAPER_DB_DSN, SCRAPER_QUEUE_BACKEND,
//     SCRAPER_STORAGE_BACKEND, SCRAPER_PUBSUB_PROJECT_ID.
//   - Run locally: go run ./cmd/mediascraper -config config.yaml
//   - Apply migrations only: go run ./cmd/mediascraper -migrate
package main
