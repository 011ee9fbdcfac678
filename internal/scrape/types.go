package scrape

import (
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the store.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions can occur from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// MediaType distinguishes image and video references.
type MediaType string

// Media type values.
const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// Valid reports whether t is a known media type.
func (t MediaType) Valid() bool {
	return t == MediaTypeImage || t == MediaTypeVideo
}

// Job is the unit of work tracking one URL's fetch-extract-persist lifecycle.
type Job struct {
	ID           string    `json:"id"`
	SourceURL    string    `json:"sourceUrl"`
	Status       JobStatus `json:"status"`
	Attempt      int       `json:"attempt"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// MediaCandidate is a media reference discovered by the extractor.
type MediaCandidate struct {
	URL    string    `json:"url"`
	Type   MediaType `json:"type"`
	Alt    *string   `json:"alt,omitempty"`
	Title  *string   `json:"title,omitempty"`
	Width  *int      `json:"width,omitempty"`
	Height *int      `json:"height,omitempty"`
}

// MediaRecord is a persisted media reference owned by a completed job.
type MediaRecord struct {
	ID        string    `json:"id"`
	JobID     string    `json:"jobId"`
	SourceURL string    `json:"sourceUrl"`
	URL       string    `json:"url"`
	Type      MediaType `json:"type"`
	Alt       *string   `json:"alt,omitempty"`
	Title     *string   `json:"title,omitempty"`
	Width     *int      `json:"width,omitempty"`
	Height    *int      `json:"height,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// JobOutcome is the externally visible summary of one job.
type JobOutcome struct {
	JobID        string    `json:"jobId"`
	SourceURL    string    `json:"sourceUrl"`
	Status       JobStatus `json:"status"`
	MediaCount   int       `json:"mediaCount"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

// BatchResult aggregates the outcomes of one submitted batch in submission order.
type BatchResult struct {
	TotalRequests int          `json:"totalRequests"`
	Results       []JobOutcome `json:"results"`
}

// RawPage is the body and metadata returned by a successful fetch.
type RawPage struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Page describes a one-based page request.
type Page struct {
	Page  int
	Limit int
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// Pagination describes the position of a returned page.
type Pagination struct {
	Page        int  `json:"page"`
	Limit       int  `json:"limit"`
	TotalItems  int  `json:"totalItems"`
	TotalPages  int  `json:"totalPages"`
	HasNextPage bool `json:"hasNextPage"`
	HasPrevPage bool `json:"hasPrevPage"`
}

// NewPagination computes page metadata for total matching rows.
func NewPagination(p Page, total int) Pagination {
	pages := 0
	if p.Limit > 0 {
		pages = (total + p.Limit - 1) / p.Limit
	}
	return Pagination{
		Page:        p.Page,
		Limit:       p.Limit,
		TotalItems:  total,
		TotalPages:  pages,
		HasNextPage: p.Page < pages,
		HasPrevPage: p.Page > 1,
	}
}

// MediaFilter narrows media listings.
type MediaFilter struct {
	Type      MediaType
	Search    string
	SourceURL string
}

// MediaPage is one page of media records.
type MediaPage struct {
	Data       []MediaRecord `json:"data"`
	Pagination Pagination    `json:"pagination"`
}

// JobPage is one page of job history.
type JobPage struct {
	Data       []JobOutcome `json:"data"`
	Pagination Pagination   `json:"pagination"`
}

// Stats summarizes stored media and jobs.
type Stats struct {
	MediaByType map[MediaType]int `json:"mediaByType"`
	JobsByState map[JobStatus]int `json:"jobsByStatus"`
	TotalMedia  int               `json:"totalMedia"`
}
