// Package server builds the application graph from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/media-scraper/internal/api"
	"github.com/JakeFAU/media-scraper/internal/clock/system"
	"github.com/JakeFAU/media-scraper/internal/config"
	"github.com/JakeFAU/media-scraper/internal/dispatcher"
	"github.com/JakeFAU/media-scraper/internal/extractor"
	collyfetcher "github.com/JakeFAU/media-scraper/internal/fetcher/colly"
	"github.com/JakeFAU/media-scraper/internal/hash/sha256"
	"github.com/JakeFAU/media-scraper/internal/id/uuid"
	"github.com/JakeFAU/media-scraper/internal/orchestrator"
	"github.com/JakeFAU/media-scraper/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/media-scraper/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/media-scraper/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/media-scraper/internal/queue/memory"
	queueRedis "github.com/JakeFAU/media-scraper/internal/queue/redis"
	"github.com/JakeFAU/media-scraper/internal/scrape"
	gcsstorage "github.com/JakeFAU/media-scraper/internal/storage/gcs"
	localstorage "github.com/JakeFAU/media-scraper/internal/storage/local"
	memoryStorage "github.com/JakeFAU/media-scraper/internal/storage/memory"
	pgstore "github.com/JakeFAU/media-scraper/internal/storage/postgres"
	"github.com/JakeFAU/media-scraper/internal/worker"
)

// store is what both the orchestrator and the catalog handlers need.
type store interface {
	scrape.Store
	scrape.Catalog
}

// App contains the application's dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	apiServer    *api.Server
	orch         *orchestrator.Orchestrator
	dispatch     *dispatcher.Dispatcher
	store        store
	pgStore      *pgstore.Store
	memQueue     *queueMemory.Queue
	redisClient  *goredis.Client
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	gcsClient    *storage.Client
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Build creates the application's dependencies. On error every resource
// opened so far is released.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure()
		}
	}()

	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("queue", cfg.Queue.Backend),
		zap.String("storage", cfg.Storage.Backend),
		zap.Bool("postgres", cfg.DB.DSN != ""),
	)

	if err = app.setupStore(ctx); err != nil {
		return nil, err
	}
	archive, err := app.setupArchive(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:      cfg.HTTP.UserAgent,
		RespectRobots:  cfg.HTTP.RespectRobots,
		Timeout:        cfg.FetchTimeout(),
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		MaxRedirects:   cfg.HTTP.MaxRedirects,
		BlockedDomains: cfg.HTTP.BlockedDomains,
	})
	ids := uuid.New()
	clock := system.New()
	app.orch, err = orchestrator.New(orchestrator.Config{
		Concurrency:    cfg.Scraper.Concurrency,
		MaxRetries:     cfg.Scraper.MaxRetries,
		MediaChunkSize: cfg.Scraper.MediaChunkSize,
		MaxBatchSize:   cfg.Scraper.MaxBatchSize,
		BackoffInitial: time.Duration(cfg.Scraper.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.Scraper.BackoffMaxMs) * time.Millisecond,
		NotifyTopic:    cfg.Scraper.NotifyTopic,
	}, orchestrator.Dependencies{
		Store:     app.store,
		Fetcher:   fetcher,
		Extractor: extractor.New(),
		IDs:       ids,
		Clock:     clock,
		Archive:   archive,
		Hasher:    sha256.New(),
		Publisher: publisher,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}

	queue, err := app.setupQueue()
	if err != nil {
		return nil, err
	}
	workers := make([]*worker.Worker, 0, cfg.Queue.Workers)
	for i := 0; i < cfg.Queue.Workers; i++ {
		workers = append(workers, worker.New(queue, app.orch, logger.Named("worker").With(zap.Int("index", i))))
	}
	app.dispatch = dispatcher.New(queue, workers)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{RPS: cfg.RateLimit.RPS, Burst: cfg.RateLimit.Burst})
		app.logger.Info("rate limiter enabled",
			zap.Float64("rps", cfg.RateLimit.RPS),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
	}
	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	app.apiServer = api.NewServer(api.Dependencies{
		Scraper: app.orch,
		Catalog: app.store,
		Queue:   app.dispatch,
		IDs:     ids,
		Clock:   clock,
		Limiter: limiter,
		Ready:   app.ready,
	}, api.Options{
		APIKey:         apiKey,
		RequestTimeout: cfg.RequestTimeout(),
		MaxBatchSize:   cfg.Scraper.MaxBatchSize,
	}, logger)

	return app, nil
}

func (a *App) setupStore(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no DSN specified for database, using in-memory store")
		a.store = memoryStorage.NewStore()
		return nil
	}
	if a.cfg.DB.AutoMigrate {
		if err := pgstore.Migrate(ctx, a.cfg.DB.DSN); err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
		a.logger.Info("database migrations applied")
	}
	pg, err := pgstore.NewStore(ctx, pgstore.StoreConfig{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("postgres store init failed: %w", err)
	}
	a.pgStore = pg
	a.store = pg
	a.logger.Info("postgres store initialized", zap.Int32("max_conns", a.cfg.DB.MaxConns))
	return nil
}

func (a *App) setupArchive(ctx context.Context) (scrape.BlobStore, error) {
	if !a.cfg.Scraper.ArchivePages {
		return nil, nil
	}
	switch a.cfg.Storage.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: a.cfg.Storage.GCSBucket,
			Prefix: a.cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS page archive", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return blobStore, nil
	case "local":
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local page archive", zap.String("path", a.cfg.Storage.LocalDir))
		return blobStore, nil
	default:
		a.logger.Info("using in-memory page archive")
		return memoryStorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (scrape.Publisher, error) {
	if a.cfg.Scraper.NotifyTopic == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub project configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.publisher = gcppublisher.New(client)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.Scraper.NotifyTopic),
	)
	return a.publisher, nil
}

func (a *App) setupQueue() (scrape.Queue, error) {
	if a.cfg.Queue.Backend == "redis" {
		a.redisClient = goredis.NewClient(&goredis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		q, err := queueRedis.New(a.redisClient, queueRedis.Config{
			Key:         a.cfg.Queue.Key,
			PollTimeout: time.Duration(a.cfg.Queue.PollSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("redis queue init failed: %w", err)
		}
		a.logger.Info("using redis batch queue", zap.String("addr", a.cfg.Redis.Addr), zap.String("key", a.cfg.Queue.Key))
		return q, nil
	}
	a.memQueue = queueMemory.NewQueue(a.cfg.Queue.Capacity)
	a.logger.Info("using in-memory batch queue", zap.Int("capacity", a.cfg.Queue.Capacity))
	return a.memQueue, nil
}

func (a *App) ready(ctx context.Context) error {
	if a.pgStore != nil {
		if err := a.pgStore.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Run starts the dispatcher and HTTP server and blocks until the context is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Queue.Workers))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	<-dispatchDone
	a.Close()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases every external resource.
func (a *App) Close() {
	if a.memQueue != nil {
		a.memQueue.Close()
	}
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.publisher != nil {
		a.publisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}
