package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/media-scraper/internal/scrape"
)

// Store provides an in-memory implementation of scrape.Store and
// scrape.Catalog for development and tests.
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]scrape.Job
	media   map[string][]scrape.MediaRecord
	mediaBy map[string]string
	seq     map[string]int
	next    int
}

// NewStore constructs a Store.
func NewStore() *Store {
	return &Store{
		jobs:    make(map[string]scrape.Job),
		media:   make(map[string][]scrape.MediaRecord),
		mediaBy: make(map[string]string),
		seq:     make(map[string]int),
	}
}

// CreateJobs stores every job or none of them.
func (s *Store) CreateJobs(_ context.Context, jobs []scrape.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		if _, exists := s.jobs[job.ID]; exists {
			return fmt.Errorf("job %s already exists", job.ID)
		}
		if _, dup := seen[job.ID]; dup {
			return fmt.Errorf("job %s duplicated in batch", job.ID)
		}
		seen[job.ID] = struct{}{}
	}
	for _, job := range jobs {
		s.jobs[job.ID] = job
		s.seq[job.ID] = s.next
		s.next++
	}
	return nil
}

// UpdateStatus records a lifecycle transition.
func (s *Store) UpdateStatus(
	_ context.Context,
	jobID string,
	status scrape.JobStatus,
	attempt int,
	errMsg string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.ErrNotFound
	}
	job.Status = status
	job.Attempt = attempt
	job.ErrorMessage = errMsg
	job.UpdatedAt = time.Now().UTC()
	s.jobs[jobID] = job
	return nil
}

// InsertMedia appends a chunk, skipping URLs the job already owns.
func (s *Store) InsertMedia(_ context.Context, jobID string, records []scrape.MediaRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return scrape.ErrNotFound
	}
	existing := make(map[string]struct{}, len(s.media[jobID]))
	for _, m := range s.media[jobID] {
		existing[m.URL] = struct{}{}
	}
	for _, rec := range records {
		if _, dup := existing[rec.URL]; dup {
			continue
		}
		existing[rec.URL] = struct{}{}
		rec.JobID = jobID
		s.media[jobID] = append(s.media[jobID], rec)
		s.mediaBy[rec.ID] = jobID
	}
	return nil
}

// DeleteMediaByJob removes every media row owned by the job.
func (s *Store) DeleteMediaByJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.media[jobID] {
		delete(s.mediaBy, m.ID)
	}
	delete(s.media, jobID)
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, jobID string) (scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, scrape.ErrNotFound
	}
	return job, nil
}

// CountMediaByJob returns the number of media rows owned by the job.
func (s *Store) CountMediaByJob(_ context.Context, jobID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.media[jobID]), nil
}

// FindMediaByJob returns a copy of the job's media rows in insertion order.
func (s *Store) FindMediaByJob(_ context.Context, jobID string) ([]scrape.MediaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.media[jobID]
	out := make([]scrape.MediaRecord, len(rows))
	copy(out, rows)
	return out, nil
}

// ListJobs returns job summaries, newest first.
func (s *Store) ListJobs(_ context.Context, page scrape.Page, status scrape.JobStatus) (scrape.JobPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]scrape.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if status != "" && job.Status != status {
			continue
		}
		matched = append(matched, job)
	}
	sort.Slice(matched, func(i, j int) bool {
		return s.seq[matched[i].ID] > s.seq[matched[j].ID]
	})
	total := len(matched)
	matched = window(matched, page)
	data := make([]scrape.JobOutcome, 0, len(matched))
	for _, job := range matched {
		out := scrape.JobOutcome{
			JobID:        job.ID,
			SourceURL:    job.SourceURL,
			Status:       job.Status,
			ErrorMessage: job.ErrorMessage,
		}
		if job.Status == scrape.JobStatusCompleted {
			out.MediaCount = len(s.media[job.ID])
		}
		data = append(data, out)
	}
	return scrape.JobPage{Data: data, Pagination: scrape.NewPagination(page, total)}, nil
}

// ListMedia returns matching media rows, newest job first.
func (s *Store) ListMedia(_ context.Context, page scrape.Page, filter scrape.MediaFilter) (scrape.MediaPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobIDs := make([]string, 0, len(s.media))
	for id := range s.media {
		jobIDs = append(jobIDs, id)
	}
	sort.Slice(jobIDs, func(i, j int) bool { return s.seq[jobIDs[i]] > s.seq[jobIDs[j]] })

	search := strings.ToLower(filter.Search)
	var matched []scrape.MediaRecord
	for _, id := range jobIDs {
		for _, m := range s.media[id] {
			if filter.Type != "" && m.Type != filter.Type {
				continue
			}
			if filter.SourceURL != "" && m.SourceURL != filter.SourceURL {
				continue
			}
			if search != "" && !matchesSearch(m, search) {
				continue
			}
			matched = append(matched, m)
		}
	}
	total := len(matched)
	data := window(matched, page)
	if data == nil {
		data = []scrape.MediaRecord{}
	}
	return scrape.MediaPage{Data: data, Pagination: scrape.NewPagination(page, total)}, nil
}

// GetMedia fetches a media row by ID.
func (s *Store) GetMedia(_ context.Context, id string) (scrape.MediaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobID, ok := s.mediaBy[id]
	if !ok {
		return scrape.MediaRecord{}, scrape.ErrNotFound
	}
	for _, m := range s.media[jobID] {
		if m.ID == id {
			return m, nil
		}
	}
	return scrape.MediaRecord{}, scrape.ErrNotFound
}

// DeleteMedia removes a single media row.
func (s *Store) DeleteMedia(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobID, ok := s.mediaBy[id]
	if !ok {
		return scrape.ErrNotFound
	}
	rows := s.media[jobID]
	for i, m := range rows {
		if m.ID == id {
			s.media[jobID] = append(rows[:i:i], rows[i+1:]...)
			break
		}
	}
	delete(s.mediaBy, id)
	return nil
}

// Stats counts media by type and jobs by status.
func (s *Store) Stats(_ context.Context) (scrape.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := scrape.Stats{
		MediaByType: map[scrape.MediaType]int{scrape.MediaTypeImage: 0, scrape.MediaTypeVideo: 0},
		JobsByState: map[scrape.JobStatus]int{},
	}
	for _, rows := range s.media {
		for _, m := range rows {
			stats.MediaByType[m.Type]++
			stats.TotalMedia++
		}
	}
	for _, job := range s.jobs {
		stats.JobsByState[job.Status]++
	}
	return stats, nil
}

func matchesSearch(m scrape.MediaRecord, needle string) bool {
	if strings.Contains(strings.ToLower(m.URL), needle) {
		return true
	}
	if m.Alt != nil && strings.Contains(strings.ToLower(*m.Alt), needle) {
		return true
	}
	return m.Title != nil && strings.Contains(strings.ToLower(*m.Title), needle)
}

func window[T any](items []T, page scrape.Page) []T {
	start := page.Offset()
	if start >= len(items) {
		return nil
	}
	end := len(items)
	if page.Limit > 0 && start+page.Limit < end {
		end = start + page.Limit
	}
	return items[start:end]
}
