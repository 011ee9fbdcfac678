// Package scrape defines the domain types, collaborator interfaces and error
// taxonomy shared by the extraction pipeline, the orchestrator, the storage
// adapters and the HTTP surface.
package scrape
