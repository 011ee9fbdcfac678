package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/media-scraper/internal/scrape"
)

type fakeScraper struct {
	mu        sync.Mutex
	submitted [][]string
	created   [][]string
	abandoned []string
	result    scrape.BatchResult
	jobs      []scrape.Job
	outcomes  map[string]scrape.JobOutcome
	media     map[string][]scrape.MediaRecord
	delay     time.Duration
	err       error
}

func (f *fakeScraper) SubmitBatch(_ context.Context, urls []string) (scrape.BatchResult, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, urls)
	if f.err != nil {
		return scrape.BatchResult{}, f.err
	}
	return f.result, nil
}

func (f *fakeScraper) CreateBatch(_ context.Context, urls []string) ([]scrape.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, urls)
	if f.err != nil {
		return nil, f.err
	}
	return f.jobs, nil
}

func (f *fakeScraper) AbandonBatch(_ context.Context, jobs []scrape.Job, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range jobs {
		f.abandoned = append(f.abandoned, job.ID+": "+reason)
	}
	return nil
}

func (f *fakeScraper) GetStatus(_ context.Context, jobID string) (scrape.JobOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return scrape.JobOutcome{}, f.err
	}
	out, ok := f.outcomes[jobID]
	if !ok {
		return scrape.JobOutcome{}, scrape.ErrNotFound
	}
	return out, nil
}

func (f *fakeScraper) JobMedia(_ context.Context, jobID string) ([]scrape.MediaRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.outcomes[jobID]; !ok {
		return nil, scrape.ErrNotFound
	}
	return f.media[jobID], nil
}

type fakeIDGen struct {
	ids []string
	idx int
}

func (g *fakeIDGen) NewID() (string, error) {
	if g.idx >= len(g.ids) {
		return "", errors.New("no more ids")
	}
	id := g.ids[g.idx]
	g.idx++
	return id, nil
}

type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time {
	return c.now
}

type failingQueue struct {
	err error
}

func (q failingQueue) Enqueue(context.Context, scrape.QueueItem) error {
	return q.err
}
