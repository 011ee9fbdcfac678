package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/media-scraper/internal/metrics"
	"github.com/JakeFAU/media-scraper/internal/scrape"
)

// Config holds orchestrator limits. Zero values fall back to the defaults below.
type Config struct {
	Concurrency    int
	MaxRetries     int
	MediaChunkSize int
	MaxBatchSize   int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	NotifyTopic    string
}

const (
	defaultConcurrency    = 100
	defaultMaxRetries     = 3
	defaultMediaChunkSize = 100
)

// Dependencies are the collaborators injected into an Orchestrator.
// Archive, Hasher and Publisher are optional.
type Dependencies struct {
	Store     scrape.Store
	Fetcher   scrape.Fetcher
	Extractor scrape.Extractor
	IDs       scrape.IDGenerator
	Clock     scrape.Clock
	Archive   scrape.BlobStore
	Hasher    scrape.Hasher
	Publisher scrape.Publisher
}

// Orchestrator owns the fetch limiter shared by every batch it runs.
type Orchestrator struct {
	cfg     Config
	deps    Dependencies
	sem     *semaphore.Weighted
	backoff *ExponentialBackoff
	logger  *zap.Logger
}

// New validates the configuration and constructs an Orchestrator.
func New(cfg Config, deps Dependencies, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Store == nil || deps.Fetcher == nil || deps.Extractor == nil || deps.IDs == nil || deps.Clock == nil {
		return nil, errors.New("orchestrator requires store, fetcher, extractor, id generator and clock")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.MediaChunkSize <= 0 {
		cfg.MediaChunkSize = defaultMediaChunkSize
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = scrape.MaxBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		backoff: NewExponentialBackoff(cfg.BackoffInitial, cfg.BackoffMax),
		logger:  logger.Named("orchestrator"),
	}, nil
}

// SubmitBatch creates one job per URL, processes all of them and returns once
// every job is terminal. Only validation and job-creation failures are returned
// as errors; per-job failures are reported in the result.
func (o *Orchestrator) SubmitBatch(ctx context.Context, urls []string) (scrape.BatchResult, error) {
	jobs, err := o.CreateBatch(ctx, urls)
	if err != nil {
		return scrape.BatchResult{}, err
	}
	return o.RunBatch(ctx, jobs), nil
}

// CreateBatch persists one pending job per URL in a single all-or-none write.
func (o *Orchestrator) CreateBatch(ctx context.Context, urls []string) ([]scrape.Job, error) {
	if err := scrape.ValidateBatchSize(urls, o.cfg.MaxBatchSize); err != nil {
		return nil, err
	}
	now := o.deps.Clock.Now()
	jobs := make([]scrape.Job, len(urls))
	for i, u := range urls {
		id, err := o.deps.IDs.NewID()
		if err != nil {
			return nil, &scrape.PersistenceError{Op: "create jobs", Err: fmt.Errorf("generate job id: %w", err)}
		}
		jobs[i] = scrape.Job{
			ID:        id,
			SourceURL: u,
			Status:    scrape.JobStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	if err := o.deps.Store.CreateJobs(ctx, jobs); err != nil {
		return nil, &scrape.PersistenceError{Op: "create jobs", Err: err}
	}
	metrics.ObserveBatch(len(jobs))
	o.logger.Info("batch created", zap.Int("jobs", len(jobs)))
	return jobs, nil
}

// RunBatch processes already-created jobs and joins on all of them. Caller
// cancellation does not abort in-flight jobs.
func (o *Orchestrator) RunBatch(ctx context.Context, jobs []scrape.Job) scrape.BatchResult {
	ctx = context.WithoutCancel(ctx)
	results := make([]scrape.JobOutcome, len(jobs))

	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = o.processJob(ctx, job)
		}()
	}
	wg.Wait()

	return scrape.BatchResult{TotalRequests: len(jobs), Results: results}
}

// AbandonBatch marks created jobs as failed without running them. It is used
// when a batch could not be handed to the queue.
func (o *Orchestrator) AbandonBatch(ctx context.Context, jobs []scrape.Job, reason string) error {
	var errs []error
	for _, job := range jobs {
		if err := o.deps.Store.UpdateStatus(ctx, job.ID, scrape.JobStatusFailed, 0, reason); err != nil {
			errs = append(errs, fmt.Errorf("abandon job %s: %w", job.ID, err))
			continue
		}
		metrics.ObserveJob(string(scrape.JobStatusFailed), 0)
	}
	return errors.Join(errs...)
}

// GetStatus reports the current state of a job. Media counts are only
// reported for completed jobs.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID string) (scrape.JobOutcome, error) {
	job, err := o.deps.Store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, scrape.ErrNotFound) {
			return scrape.JobOutcome{}, scrape.ErrNotFound
		}
		return scrape.JobOutcome{}, fmt.Errorf("get job: %w", err)
	}
	out := scrape.JobOutcome{
		JobID:        job.ID,
		SourceURL:    job.SourceURL,
		Status:       job.Status,
		ErrorMessage: job.ErrorMessage,
	}
	if job.Status == scrape.JobStatusCompleted {
		count, err := o.deps.Store.CountMediaByJob(ctx, jobID)
		if err != nil {
			return scrape.JobOutcome{}, fmt.Errorf("count media: %w", err)
		}
		out.MediaCount = count
	}
	return out, nil
}

// JobMedia returns the media recorded for a job, or scrape.ErrNotFound when
// the job does not exist.
func (o *Orchestrator) JobMedia(ctx context.Context, jobID string) ([]scrape.MediaRecord, error) {
	if _, err := o.deps.Store.GetJob(ctx, jobID); err != nil {
		if errors.Is(err, scrape.ErrNotFound) {
			return nil, scrape.ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	records, err := o.deps.Store.FindMediaByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("find media: %w", err)
	}
	return records, nil
}

func (o *Orchestrator) processJob(ctx context.Context, job scrape.Job) scrape.JobOutcome {
	log := o.logger.With(zap.String("job_id", job.ID), zap.String("url", job.SourceURL))
	outcome := scrape.JobOutcome{JobID: job.ID, SourceURL: job.SourceURL}

	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxRetries; attempt++ {
		count, err := o.attempt(ctx, job, attempt)
		if err == nil {
			outcome.Status = scrape.JobStatusCompleted
			outcome.MediaCount = count
			log.Info("job completed", zap.Int("attempt", attempt), zap.Int("media", count))
			metrics.ObserveJob(string(scrape.JobStatusCompleted), attempt)
			o.notify(ctx, outcome)
			return outcome
		}
		lastErr = err
		log.Warn("attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt < o.cfg.MaxRetries {
			if waitErr := o.backoff.Wait(ctx, attempt); waitErr != nil {
				log.Warn("backoff interrupted", zap.Error(waitErr))
			}
		}
	}

	if err := o.deps.Store.DeleteMediaByJob(ctx, job.ID); err != nil {
		log.Error("purge partial media", zap.Error(err))
	}
	msg := lastErr.Error()
	if err := o.deps.Store.UpdateStatus(ctx, job.ID, scrape.JobStatusFailed, o.cfg.MaxRetries, msg); err != nil {
		log.Error("record failed status", zap.Error(err))
	}
	outcome.Status = scrape.JobStatusFailed
	outcome.ErrorMessage = msg
	log.Error("job failed", zap.Int("attempts", o.cfg.MaxRetries), zap.String("error", msg))
	metrics.ObserveJob(string(scrape.JobStatusFailed), o.cfg.MaxRetries)
	o.notify(ctx, outcome)
	return outcome
}

// attempt runs fetch, extract and persist once and returns the number of
// media records the job owns on success.
func (o *Orchestrator) attempt(ctx context.Context, job scrape.Job, attempt int) (int, error) {
	if err := o.deps.Store.UpdateStatus(ctx, job.ID, scrape.JobStatusProcessing, attempt, ""); err != nil {
		return 0, &scrape.PersistenceError{Op: "mark processing", Err: err}
	}

	page, err := o.fetch(ctx, job.SourceURL)
	if err != nil {
		return 0, err
	}
	o.archive(ctx, job, page)

	base := page.FinalURL
	if base == "" {
		base = job.SourceURL
	}
	candidates, err := o.deps.Extractor.Extract(string(page.Body), base)
	if err != nil {
		var extractErr *scrape.ExtractionError
		if !errors.As(err, &extractErr) {
			err = &scrape.ExtractionError{URL: job.SourceURL, Err: err}
		}
		return 0, err
	}

	records, err := o.buildRecords(job, candidates)
	if err != nil {
		return 0, err
	}
	if err := o.persist(ctx, job.ID, records); err != nil {
		return 0, err
	}
	if err := o.deps.Store.UpdateStatus(ctx, job.ID, scrape.JobStatusCompleted, attempt, ""); err != nil {
		return 0, &scrape.PersistenceError{Op: "mark completed", Err: err}
	}
	return len(records), nil
}

// fetch holds one limiter slot for the duration of a single GET.
func (o *Orchestrator) fetch(ctx context.Context, url string) (scrape.RawPage, error) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return scrape.RawPage{}, &scrape.FetchError{URL: url, Err: fmt.Errorf("acquire fetch slot: %w", err)}
	}
	defer o.sem.Release(1)
	metrics.IncInflightFetches()
	defer metrics.DecInflightFetches()

	start := time.Now()
	page, err := o.deps.Fetcher.Fetch(ctx, url)
	outcome := "success"
	if err != nil {
		outcome = "error"
		var fetchErr *scrape.FetchError
		if errors.As(err, &fetchErr) && fetchErr.Timeout {
			outcome = "timeout"
		} else if !errors.As(err, &fetchErr) {
			err = &scrape.FetchError{URL: url, Err: err}
		}
	}
	metrics.ObserveFetch(url, outcome, len(page.Body), time.Since(start))
	if err != nil {
		return scrape.RawPage{}, err
	}
	return page, nil
}

func (o *Orchestrator) buildRecords(job scrape.Job, candidates []scrape.MediaCandidate) ([]scrape.MediaRecord, error) {
	now := o.deps.Clock.Now()
	records := make([]scrape.MediaRecord, 0, len(candidates))
	for _, c := range candidates {
		id, err := o.deps.IDs.NewID()
		if err != nil {
			return nil, &scrape.PersistenceError{Op: "insert media", Err: fmt.Errorf("generate media id: %w", err)}
		}
		records = append(records, scrape.MediaRecord{
			ID:        id,
			JobID:     job.ID,
			SourceURL: job.SourceURL,
			URL:       c.URL,
			Type:      c.Type,
			Alt:       c.Alt,
			Title:     c.Title,
			Width:     c.Width,
			Height:    c.Height,
			CreatedAt: now,
		})
	}
	return records, nil
}

func (o *Orchestrator) persist(ctx context.Context, jobID string, records []scrape.MediaRecord) error {
	for start := 0; start < len(records); start += o.cfg.MediaChunkSize {
		end := min(start+o.cfg.MediaChunkSize, len(records))
		if err := o.deps.Store.InsertMedia(ctx, jobID, records[start:end]); err != nil {
			return &scrape.PersistenceError{Op: "insert media", Err: err}
		}
	}
	byType := make(map[scrape.MediaType]int, 2)
	for _, r := range records {
		byType[r.Type]++
	}
	for kind, n := range byType {
		metrics.ObserveMedia(string(kind), n)
	}
	return nil
}

// archive stores the raw page body when an archive is configured. Failures are
// logged and never fail the attempt.
func (o *Orchestrator) archive(ctx context.Context, job scrape.Job, page scrape.RawPage) {
	if o.deps.Archive == nil || o.deps.Hasher == nil {
		return
	}
	digest, err := o.deps.Hasher.Hash(page.Body)
	if err != nil {
		o.logger.Warn("hash page body", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	path := fmt.Sprintf("pages/%s/%s.html", job.ID, digest)
	uri, err := o.deps.Archive.PutObject(ctx, path, "text/html", bytes.NewReader(page.Body))
	if err != nil {
		o.logger.Warn("archive page", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	o.logger.Debug("page archived", zap.String("job_id", job.ID), zap.String("uri", uri))
}

// notify publishes a settled job's outcome when a publisher is configured.
func (o *Orchestrator) notify(ctx context.Context, outcome scrape.JobOutcome) {
	if o.deps.Publisher == nil || o.cfg.NotifyTopic == "" {
		return
	}
	if _, err := o.deps.Publisher.Publish(ctx, o.cfg.NotifyTopic, outcome); err != nil {
		o.logger.Warn("publish job outcome", zap.String("job_id", outcome.JobID), zap.Error(err))
	}
}
