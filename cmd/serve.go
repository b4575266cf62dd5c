package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/redditextract/redditextract/internal/api"
	"github.com/redditextract/redditextract/internal/clock/system"
	"github.com/redditextract/redditextract/internal/config"
	"github.com/redditextract/redditextract/internal/dispatcher"
	redditfetcher "github.com/redditextract/redditextract/internal/fetcher/reddit"
	"github.com/redditextract/redditextract/internal/format"
	"github.com/redditextract/redditextract/internal/id/uuid"
	"github.com/redditextract/redditextract/internal/logging"
	"github.com/redditextract/redditextract/internal/metrics"
	"github.com/redditextract/redditextract/internal/progress"
	"github.com/redditextract/redditextract/internal/progress/sinks"
	queueMemory "github.com/redditextract/redditextract/internal/queue/memory"
	"github.com/redditextract/redditextract/internal/scrape"
	memoryStorage "github.com/redditextract/redditextract/internal/storage/memory"
	"github.com/redditextract/redditextract/internal/storage/postgres"
	"github.com/redditextract/redditextract/internal/webhook"
	"github.com/redditextract/redditextract/internal/worker"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the scrape service",
		Long: `Starts the HTTP API, the worker pool consuming the job queue, the
webhook delivery dispatcher and the retention sweeper. The process runs
until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(parent context.Context, cfg config.Config) error {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()

	var store scrape.JobStore
	switch cfg.Storage.Backend {
	case "postgres":
		pgStore, err := postgres.NewJobStore(ctx, postgres.Config{
			DSN:      cfg.Storage.DSN,
			MaxConns: int32(cfg.Storage.MaxOpenConns),
		}, idGen, clock)
		if err != nil {
			return fmt.Errorf("postgres store init: %w", err)
		}
		defer pgStore.Close()
		store = pgStore
	default:
		store = memoryStorage.NewJobStore(idGen, clock)
	}

	queue := queueMemory.NewQueue(cfg.Scraper.QueueDepth)

	gateway, err := redditfetcher.New(fetcherConfig(cfg))
	if err != nil {
		return fmt.Errorf("fetch gateway init: %w", err)
	}

	fetchRetry := scrape.NewBackoff(
		cfg.FetchRetry.MaxAttempts,
		time.Duration(cfg.FetchRetry.BackoffInitialMs)*time.Millisecond,
		time.Duration(cfg.FetchRetry.BackoffMaxMs)*time.Millisecond,
	)
	engine := worker.NewEngine(gateway, fetchRetry, clock, worker.EngineConfig{
		FetchTimeout: cfg.FetchTimeout(),
	}, logger.Named("engine"))

	formatter := format.New()
	webhookRetry := scrape.NewBackoff(
		cfg.Webhook.MaxAttempts,
		time.Duration(cfg.Webhook.BackoffInitialMs)*time.Millisecond,
		time.Duration(cfg.Webhook.BackoffMaxMs)*time.Millisecond,
	)
	deliverer := webhook.New(store, formatter, webhookRetry, clock, webhook.Config{
		Timeout:    time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second,
		Workers:    cfg.Webhook.Workers,
		QueueDepth: cfg.Webhook.QueueDepth,
	}, logger.Named("webhook"))

	hub := progress.NewHub(
		progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
	)

	var workers []*worker.Worker
	for i := 0; i < cfg.Scraper.Workers; i++ {
		workers = append(workers, worker.New(
			queue,
			store,
			engine,
			deliverer,
			hub,
			clock,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers)

	apiServer := api.NewServer(store, dispatch, engine, formatter, clock, api.Config{
		RequestTimeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		SyncTimeout:    cfg.SyncTimeout(),
		Limits: api.Limits{
			DefaultMaxItems: cfg.Scraper.DefaultMaxItems,
			MaxItemsCeiling: cfg.Scraper.MaxItemsCeiling,
		},
	}, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", cfg.Scraper.Workers))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("webhook dispatcher started", zap.Int("workers", cfg.Webhook.Workers))
		deliverer.Run(ctx)
	}()

	go runSweeper(ctx, store, clock, cfg, logger.Named("sweeper"))

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("progress hub shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

func fetcherConfig(cfg config.Config) redditfetcher.Config {
	return redditfetcher.Config{
		BaseURL:           cfg.Reddit.BaseURL,
		UserAgent:         cfg.Reddit.UserAgent,
		Timeout:           time.Duration(cfg.Reddit.TimeoutSeconds) * time.Second,
		Proxies:           cfg.Reddit.Proxies,
		RequestsPerSecond: cfg.Reddit.RequestsPerSecond,
		Burst:             cfg.Reddit.Burst,
	}
}

// runSweeper periodically evicts terminal jobs older than the retention
// window.
func runSweeper(ctx context.Context, store scrape.JobStore, clock scrape.Clock, cfg config.Config, logger *zap.Logger) {
	interval := time.Duration(cfg.Jobs.SweepIntervalMin) * time.Minute
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := clock.Now().Add(-cfg.Retention())
			removed, err := store.Sweep(ctx, cutoff)
			if err != nil {
				logger.Error("sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("swept terminal jobs", zap.Int("removed", removed))
			}
		}
	}
}
