package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/media-scraper/internal/scrape"
	"github.com/JakeFAU/media-scraper/internal/storage/memory"
)

type fakeIDGen struct {
	n atomic.Int64
}

func (g *fakeIDGen) NewID() (string, error) {
	return fmt.Sprintf("id-%04d", g.n.Add(1)), nil
}

type failingIDGen struct{}

func (failingIDGen) NewID() (string, error) { return "", errors.New("entropy exhausted") }

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

// funcFetcher adapts a function to scrape.Fetcher and counts calls.
type funcFetcher struct {
	calls atomic.Int64
	fn    func(ctx context.Context, url string) (scrape.RawPage, error)
}

func (f *funcFetcher) Fetch(ctx context.Context, url string) (scrape.RawPage, error) {
	f.calls.Add(1)
	return f.fn(ctx, url)
}

func htmlFetcher(body string) *funcFetcher {
	return &funcFetcher{fn: func(_ context.Context, url string) (scrape.RawPage, error) {
		return scrape.RawPage{URL: url, StatusCode: 200, Body: []byte(body)}, nil
	}}
}

// concurrencyFetcher tracks the peak number of simultaneous calls.
type concurrencyFetcher struct {
	mu      sync.Mutex
	current int
	peak    int
	delay   time.Duration
}

func (f *concurrencyFetcher) Fetch(_ context.Context, url string) (scrape.RawPage, error) {
	f.mu.Lock()
	f.current++
	if f.current > f.peak {
		f.peak = f.current
	}
	f.mu.Unlock()

	time.Sleep(f.delay)

	f.mu.Lock()
	f.current--
	f.mu.Unlock()
	return scrape.RawPage{URL: url, StatusCode: 200, Body: []byte(`<img src="/a.png">`)}, nil
}

func (f *concurrencyFetcher) Peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

type errExtractor struct {
	calls atomic.Int64
	fail  int64
	next  scrape.Extractor
}

func (e *errExtractor) Extract(html, base string) ([]scrape.MediaCandidate, error) {
	if e.calls.Add(1) <= e.fail {
		return nil, errors.New("parser exploded")
	}
	return e.next.Extract(html, base)
}

// flakyStore wraps the memory store and injects write failures.
type flakyStore struct {
	*memory.Store

	createErr error

	mu           sync.Mutex
	insertCalls  int
	insertSizes  []int
	failInsertAt map[int]bool
	failAllAfter int
}

func newFlakyStore() *flakyStore {
	return &flakyStore{Store: memory.NewStore(), failInsertAt: map[int]bool{}}
}

func (s *flakyStore) CreateJobs(ctx context.Context, jobs []scrape.Job) error {
	if s.createErr != nil {
		return s.createErr
	}
	return s.Store.CreateJobs(ctx, jobs)
}

func (s *flakyStore) InsertMedia(ctx context.Context, jobID string, records []scrape.MediaRecord) error {
	s.mu.Lock()
	s.insertCalls++
	call := s.insertCalls
	s.insertSizes = append(s.insertSizes, len(records))
	fail := s.failInsertAt[call] || (s.failAllAfter > 0 && call > s.failAllAfter)
	s.mu.Unlock()
	if fail {
		return errors.New("connection reset by peer")
	}
	return s.Store.InsertMedia(ctx, jobID, records)
}

func (s *flakyStore) sizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.insertSizes...)
}
