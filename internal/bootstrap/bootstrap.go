package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	httpadapter "github.com/kirillkom/casefile/internal/adapters/http"
	"github.com/kirillkom/casefile/internal/config"
	"github.com/kirillkom/casefile/internal/core/domain"
	"github.com/kirillkom/casefile/internal/core/ports"
	"github.com/kirillkom/casefile/internal/core/registry"
	"github.com/kirillkom/casefile/internal/core/usecase"
	"github.com/kirillkom/casefile/internal/infrastructure/docsapi"
	"github.com/kirillkom/casefile/internal/infrastructure/extractor/pdfinfo"
	"github.com/kirillkom/casefile/internal/infrastructure/queue/nats"
	"github.com/kirillkom/casefile/internal/infrastructure/resilience"
	"github.com/kirillkom/casefile/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/casefile/internal/infrastructure/storage/minio"
	"github.com/kirillkom/casefile/internal/observability/metrics"
	"github.com/kirillkom/casefile/internal/observability/tracing"
)

type Options struct {
	Logger         *slog.Logger
	Prompter       ports.MetadataPrompter
	OnUnauthorized ports.UnauthorizedHandler
}

type App struct {
	Config config.Config
	Logger *slog.Logger

	Metrics  *metrics.CoordinatorMetrics
	API      *docsapi.Client
	Registry *registry.Registry
	Session  *Session

	Uploads  *usecase.UploadQueueManager
	Analysis *usecase.AnalysisOrchestrator
	Bulk     *usecase.BulkCoordinator

	Events     ports.EventPublisher
	Subscriber ports.EventSubscriber
	Sink       ports.DownloadSink

	closeFn func()
}

// Session remembers that the API rejected the token and reports it once.
type Session struct {
	expired atomic.Bool
	handler ports.UnauthorizedHandler
}

func (s *Session) Expired() bool {
	return s.expired.Load()
}

func (s *Session) Handle(err error) {
	if !s.expired.CompareAndSwap(false, true) {
		return
	}
	if s.handler != nil {
		s.handler(err)
	}
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := metrics.NewCoordinatorMetrics("casefile")
	session := &Session{handler: opts.OnUnauthorized}

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Service:     "casefile",
		Exporter:    cfg.TracingExporter,
		SampleRatio: cfg.TracingSampleRatio,
		Writer:      os.Stderr,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	closers := []func(){func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing_shutdown_failed", "error", err)
		}
	}}

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    cfg.RetryMaxAttempts,
		RetryInitialBackoff: time.Duration(cfg.RetryInitialBackoffMS) * time.Millisecond,
		RetryMaxBackoff:     time.Duration(cfg.RetryMaxBackoffMS) * time.Millisecond,
		RetryMultiplier:     cfg.RetryMultiplier,
		BreakerEnabled:      cfg.BreakerEnabled,
		Operations:          resilience.DefaultOperationPolicies(),
	},
		resilience.WithLogger(logger),
		resilience.WithRetryHook(m.ObserveRetry),
	)

	api := docsapi.New(cfg.APIBaseURL, cfg.APIToken,
		docsapi.WithExecutor(executor),
		docsapi.WithRequestTimeout(cfg.RequestTimeout()),
		docsapi.WithRateLimit(cfg.RequestRatePerSecond, cfg.RequestBurst),
		docsapi.WithRequestObserver(m.ObserveRequest),
		docsapi.WithLogger(logger),
	)

	var (
		events     ports.EventPublisher
		subscriber ports.EventSubscriber
	)
	if cfg.NATSURL != "" {
		bus, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if err != nil {
			runClosers(closers)
			return nil, fmt.Errorf("init event bus: %w", err)
		}
		events, subscriber = bus, bus
		closers = append(closers, bus.Close)
	}

	sink, err := newSink(ctx, cfg)
	if err != nil {
		runClosers(closers)
		return nil, err
	}

	reg := registry.New(api,
		registry.WithPageSize(cfg.PageSize),
		registry.WithLogger(logger),
	)

	common := []usecase.Option{
		usecase.WithLogger(logger),
		usecase.WithMetrics(m),
		usecase.WithEvents(events),
		usecase.WithUnauthorizedHandler(session.Handle),
	}

	uploads := usecase.NewUploadQueueManager(api, reg, opts.Prompter, pdfinfo.NewCounter(), usecase.UploadQueueConfig{
		Policy: domain.UploadPolicy{
			AllowedMimeTypes: cfg.UploadAllowedMimeTypes,
			MaxSizeBytes:     cfg.UploadMaxSizeBytes,
		},
		Concurrency: cfg.UploadConcurrency,
	}, common...)

	analysis := usecase.NewAnalysisOrchestrator(api, reg, usecase.AnalysisConfig{
		Timeout:    cfg.AnalysisTimeout(),
		AskTimeout: cfg.AskTimeout(),
	}, common...)

	bulk := usecase.NewBulkCoordinator(api, reg, analysis, usecase.NewSelection(), sink, usecase.BulkConfig{
		Concurrency: cfg.BulkConcurrency,
		BatchTags:   cfg.BulkBatchTags,
	}, common...)

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           httpadapter.NewRouter(m.Handler(), uploads, session, logger).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin_server_failed", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
		closers = append(closers, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	return &App{
		Config: cfg,
		Logger: logger,

		Metrics:  m,
		API:      api,
		Registry: reg,
		Session:  session,

		Uploads:  uploads,
		Analysis: analysis,
		Bulk:     bulk,

		Events:     events,
		Subscriber: subscriber,
		Sink:       sink,

		closeFn: func() { runClosers(closers) },
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// runClosers releases resources in reverse order of acquisition.
func runClosers(closers []func()) {
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

// newSink prefers the S3-compatible bucket when configured, else the download directory.
func newSink(ctx context.Context, cfg config.Config) (ports.DownloadSink, error) {
	if cfg.MinIOEndpoint != "" {
		store, err := minio.New(ctx, minio.Config{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			Prefix:    cfg.MinIOPrefix,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("init minio sink: %w", err)
		}
		return store, nil
	}
	store, err := localfs.New(cfg.DownloadDir)
	if err != nil {
		return nil, fmt.Errorf("init download dir: %w", err)
	}
	return store, nil
}
