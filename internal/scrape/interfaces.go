package scrape

import (
	"context"
	"io"
	"time"
)

// Store is the data-access collaborator used by the orchestrator and the API.
type Store interface {
	// CreateJobs persists every job or none of them.
	CreateJobs(ctx context.Context, jobs []Job) error
	UpdateStatus(ctx context.Context, jobID string, status JobStatus, attempt int, errMsg string) error
	// InsertMedia writes one chunk atomically; rows already present for (job, url) are skipped.
	InsertMedia(ctx context.Context, jobID string, records []MediaRecord) error
	DeleteMediaByJob(ctx context.Context, jobID string) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	CountMediaByJob(ctx context.Context, jobID string) (int, error)
	FindMediaByJob(ctx context.Context, jobID string) ([]MediaRecord, error)
}

// Catalog serves the read-side queries behind the listing endpoints.
type Catalog interface {
	ListJobs(ctx context.Context, page Page, status JobStatus) (JobPage, error)
	ListMedia(ctx context.Context, page Page, filter MediaFilter) (MediaPage, error)
	GetMedia(ctx context.Context, id string) (MediaRecord, error)
	DeleteMedia(ctx context.Context, id string) error
	Stats(ctx context.Context) (Stats, error)
}

// Fetcher performs a single bounded HTTP GET.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (RawPage, error)
}

// Extractor turns page markup into media candidates.
type Extractor interface {
	Extract(html string, baseURL string) ([]MediaCandidate, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes job notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for archive object names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and media IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Queue provides enqueue/dequeue semantics for asynchronously submitted batches.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// QueueItem carries the already-created jobs of one async batch.
type QueueItem struct {
	BatchID   string   `json:"batch_id"`
	Jobs      []JobRef `json:"jobs"`
	Submitted int64    `json:"submitted"`
}

// JobRef identifies a created job and the URL it owns.
type JobRef struct {
	ID        string `json:"id"`
	SourceURL string `json:"source_url"`
}
