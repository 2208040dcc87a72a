package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"voiceinsight/internal/config"
	"voiceinsight/internal/core/domain"
	"voiceinsight/internal/core/ports"
	"voiceinsight/internal/core/usecase"
	"voiceinsight/internal/infrastructure/cache/redis"
	"voiceinsight/internal/infrastructure/nlp"
	"voiceinsight/internal/infrastructure/queue/nats"
	"voiceinsight/internal/infrastructure/repository/postgres"
	"voiceinsight/internal/infrastructure/resilience"
	"voiceinsight/internal/infrastructure/storage/localfs"
	"voiceinsight/internal/infrastructure/stt"
	"voiceinsight/internal/observability/metrics"
)

type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Registry *domain.InsightTypeRegistry

	Queue    ports.JobQueue
	Calls    ports.CallRepository
	UploadUC ports.CallUploader
	QueryUC  ports.CallQueryService
	ExportUC ports.InsightExporter

	processDeps processDeps

	closeFn func()
}

type processDeps struct {
	calls       ports.CallRepository
	transcripts ports.TranscriptRepository
	insights    ports.InsightRepository
	transcriber ports.Transcriber
	analyzer    ports.Analyzer
	cache       ports.StatusCache
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	registry, err := insightRegistry(cfg)
	if err != nil {
		return nil, err
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	calls := postgres.NewCallRepository(db)
	transcripts := postgres.NewTranscriptRepository(db)
	insights := postgres.NewInsightRepository(db)

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init audio storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init job queue: %w", err)
	}

	var cache ports.StatusCache
	var cacheCloser interface{ Close() error }
	if cfg.RedisAddr != "" {
		statusCache, err := redis.NewStatusCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.StatusCacheTTL, logger)
		if err != nil {
			// The cache is an accelerator, not a dependency.
			logger.Warn("status cache disabled", "error", err)
		} else {
			cache = statusCache
			cacheCloser = statusCache
		}
	}

	transcriber := stt.New(cfg.STTURL, cfg.STTModel, storage, executor)
	analyzer := nlp.New(cfg.NLPURL, cfg.NLPModel, registry, executor)

	uploadUC := usecase.NewUploadCallUseCase(calls, storage, queue, cfg.MaxUploadSize, cfg.AllowedAudioExtensions)
	queryUC := usecase.NewQueryCallsUseCase(calls, insights, storage, queue, cache, registry, logger)
	exportUC := usecase.NewExportInsightsUseCase(insights, registry)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Registry: registry,

		Queue:    queue,
		Calls:    calls,
		UploadUC: uploadUC,
		QueryUC:  queryUC,
		ExportUC: exportUC,

		processDeps: processDeps{
			calls:       calls,
			transcripts: transcripts,
			insights:    insights,
			transcriber: transcriber,
			analyzer:    analyzer,
			cache:       cache,
		},

		closeFn: func() {
			queue.Close()
			if cacheCloser != nil {
				_ = cacheCloser.Close()
			}
			_ = db.Close()
		},
	}, nil
}

// NewProcessor builds the pipeline use case. The worker metrics hook, when
// given, observes retry scheduling and dead-lettering through a queue
// decorator.
func (a *App) NewProcessor(workerMetrics *metrics.WorkerMetrics, service string) ports.CallProcessor {
	queue := a.Queue
	if workerMetrics != nil {
		queue = &instrumentedQueue{inner: queue, metrics: workerMetrics, service: service}
	}
	return usecase.NewProcessCallUseCase(
		a.processDeps.calls,
		a.processDeps.transcripts,
		a.processDeps.insights,
		a.processDeps.transcriber,
		a.processDeps.analyzer,
		queue,
		a.processDeps.cache,
		a.Registry,
		a.Logger,
		usecase.PipelineConfig{
			StageTimeout:      a.Config.PipelineStageTimeout,
			MaxAttempts:       a.Config.PipelineMaxAttempts,
			RetryInitialDelay: a.Config.PipelineRetryInitialDelay,
			RetryMaxDelay:     a.Config.PipelineRetryMaxDelay,
		},
	)
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func insightRegistry(cfg config.Config) (*domain.InsightTypeRegistry, error) {
	names, err := config.LoadInsightTypes(cfg.InsightTypesFile)
	if err != nil {
		return nil, fmt.Errorf("load insight types: %w", err)
	}
	if len(names) == 0 {
		return domain.DefaultInsightTypes(), nil
	}
	types := make([]domain.InsightType, 0, len(names))
	for _, name := range names {
		types = append(types, domain.InsightType(name))
	}
	return domain.NewInsightTypeRegistry(types), nil
}

// instrumentedQueue counts retry scheduling and dead-letter publishes without
// leaking metrics into the use case layer.
type instrumentedQueue struct {
	inner   ports.JobQueue
	metrics *metrics.WorkerMetrics
	service string
}

func (q *instrumentedQueue) Enqueue(ctx context.Context, job domain.ProcessingJob) error {
	return q.inner.Enqueue(ctx, job)
}

func (q *instrumentedQueue) EnqueueAfter(ctx context.Context, job domain.ProcessingJob, delay time.Duration) error {
	err := q.inner.EnqueueAfter(ctx, job, delay)
	if err == nil {
		q.metrics.RecordRetryScheduled(q.service)
	}
	return err
}

func (q *instrumentedQueue) DeadLetter(ctx context.Context, job domain.ProcessingJob, reason string) error {
	err := q.inner.DeadLetter(ctx, job, reason)
	if err == nil {
		q.metrics.RecordDeadLetter(q.service)
	}
	return err
}

func (q *instrumentedQueue) Subscribe(ctx context.Context, handler func(context.Context, domain.ProcessingJob) error) error {
	return q.inner.Subscribe(ctx, handler)
}
