// Package orchestrator runs scrape batches: it creates one job per URL, fans
// the jobs out under a process-wide fetch limit, retries failed attempts and
// reports per-job outcomes once every job has settled.
package orchestrator
