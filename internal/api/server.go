package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/media-scraper/internal/metrics"
	"github.com/JakeFAU/media-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/media-scraper/internal/scrape"
)

// Scraper is the orchestrator surface the handlers drive.
type Scraper interface {
	SubmitBatch(ctx context.Context, urls []string) (scrape.BatchResult, error)
	CreateBatch(ctx context.Context, urls []string) ([]scrape.Job, error)
	AbandonBatch(ctx context.Context, jobs []scrape.Job, reason string) error
	GetStatus(ctx context.Context, jobID string) (scrape.JobOutcome, error)
	JobMedia(ctx context.Context, jobID string) ([]scrape.MediaRecord, error)
}

// Enqueuer hands async batches to the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, item scrape.QueueItem) error
}

// Dependencies wires the server to the rest of the service. Limiter and
// Ready are optional.
type Dependencies struct {
	Scraper Scraper
	Catalog scrape.Catalog
	Queue   Enqueuer
	IDs     scrape.IDGenerator
	Clock   scrape.Clock
	Limiter *ratelimit.Limiter
	Ready   func(context.Context) error
}

// Options tunes request handling.
type Options struct {
	// APIKey enables X-API-Key authentication on /api routes when set.
	APIKey string
	// RequestTimeout bounds every /api route except the synchronous
	// POST /api/scrape, which runs until each job settles.
	RequestTimeout time.Duration
	MaxBatchSize   int
}

// Server wires HTTP handlers to the orchestrator and catalog.
type Server struct {
	router chi.Router
	deps   Dependencies
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Dependencies, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = scrape.MaxBatchSize
	}
	metrics.Init()
	s := &Server{
		deps:   deps,
		opts:   opts,
		logger: logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		if deps.Limiter != nil {
			r.Use(rateLimitMiddleware(deps.Limiter))
		}
		r.Post("/scrape", s.submitBatch)
		r.Group(func(r chi.Router) {
			if opts.RequestTimeout > 0 {
				r.Use(timeoutMiddleware(opts.RequestTimeout))
			}
			r.Post("/scrape/async", s.submitAsyncBatch)
			r.Get("/scrape", s.listJobs)
			r.Get("/scrape/{id}", s.getJobStatus)
			r.Get("/scrape/{id}/media", s.getJobMedia)
			r.Get("/media", s.listMedia)
			r.Get("/media/stats", s.mediaStats)
			r.Get("/media/{id}", s.getMedia)
			r.Delete("/media/{id}", s.deleteMedia)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not Found", "Route "+r.Method+" "+r.URL.Path+" not found")
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"success":false,"error":"Request timed out"}`)
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitMiddleware(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientKey(r)) {
				metrics.ObserveRateLimited()
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "Too Many Requests",
					"Too many requests from this IP, please try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKey identifies the caller by address; RealIP has already applied
// forwarding headers.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
