package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	ids "github.com/JakeFAU/media-scraper/internal/id/uuid"
	"github.com/JakeFAU/media-scraper/internal/scrape"
)

const enqueueTimeout = 5 * time.Second

type scrapeRequest struct {
	URLs []string `json:"urls"`
}

type asyncAccepted struct {
	BatchID string   `json:"batchId"`
	JobIDs  []string `json:"jobIds"`
}

func (s *Server) decodeURLs(r *http.Request) ([]string, error) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, &scrape.ValidationError{Field: "body", Reason: "invalid JSON"}
	}
	if err := scrape.ValidateURLs(req.URLs, s.opts.MaxBatchSize); err != nil {
		return nil, err
	}
	return req.URLs, nil
}

// submitBatch handles POST /api/scrape and answers once every job settled.
func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	urls, err := s.decodeURLs(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	result, err := s.deps.Scraper.SubmitBatch(r.Context(), urls)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusAccepted, result, fmt.Sprintf("Processing %d URLs", len(urls)))
}

// submitAsyncBatch handles POST /api/scrape/async. Jobs exist before the
// response is written, so their IDs can be polled immediately.
func (s *Server) submitAsyncBatch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Queue == nil {
		writeError(w, http.StatusServiceUnavailable, "Service Unavailable", "async queue is not configured")
		return
	}
	urls, err := s.decodeURLs(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	jobs, err := s.deps.Scraper.CreateBatch(r.Context(), urls)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	batchID, err := s.deps.IDs.NewID()
	if err != nil {
		s.abandon(r.Context(), jobs, fmt.Errorf("generate batch id: %w", err))
		s.writeServiceError(w, r, fmt.Errorf("generate batch id: %w", err))
		return
	}
	item := scrape.QueueItem{
		BatchID:   batchID,
		Jobs:      make([]scrape.JobRef, len(jobs)),
		Submitted: s.deps.Clock.Now().Unix(),
	}
	jobIDs := make([]string, len(jobs))
	for i, job := range jobs {
		item.Jobs[i] = scrape.JobRef{ID: job.ID, SourceURL: job.SourceURL}
		jobIDs[i] = job.ID
	}

	queueCtx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	if err := s.deps.Queue.Enqueue(queueCtx, item); err != nil {
		err = fmt.Errorf("enqueue batch: %w", err)
		s.abandon(r.Context(), jobs, err)
		s.writeServiceError(w, r, err)
		return
	}
	s.logger.Info("batch queued", zap.String("batch_id", batchID), zap.Int("jobs", len(jobs)))
	writeData(w, http.StatusAccepted, asyncAccepted{BatchID: batchID, JobIDs: jobIDs},
		fmt.Sprintf("Queued %d URLs", len(urls)))
}

func (s *Server) abandon(ctx context.Context, jobs []scrape.Job, cause error) {
	if err := s.deps.Scraper.AbandonBatch(context.WithoutCancel(ctx), jobs, cause.Error()); err != nil {
		s.logger.Error("abandon batch", zap.Error(err))
	}
}

// getJobStatus handles GET /api/scrape/{id}.
func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !ids.Valid(id) {
		s.writeServiceError(w, r, &scrape.ValidationError{Field: "id", Reason: "must be a UUID"})
		return
	}
	outcome, err := s.deps.Scraper.GetStatus(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, outcome, "")
}

// getJobMedia handles GET /api/scrape/{id}/media.
func (s *Server) getJobMedia(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !ids.Valid(id) {
		s.writeServiceError(w, r, &scrape.ValidationError{Field: "id", Reason: "must be a UUID"})
		return
	}
	records, err := s.deps.Scraper.JobMedia(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if records == nil {
		records = []scrape.MediaRecord{}
	}
	writeData(w, http.StatusOK, records, "")
}

// listJobs handles GET /api/scrape?page=&limit=&status=.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	status, err := parseStatus(r.URL.Query().Get("status"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	jobs, err := s.deps.Catalog.ListJobs(r.Context(), page, status)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, jobs, "")
}
