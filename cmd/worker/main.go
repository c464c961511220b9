package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stay-revenue/internal/app"
	jobmetrics "github.com/odyssey-erp/stay-revenue/internal/jobs"
	"github.com/odyssey-erp/stay-revenue/internal/observability"
	"github.com/odyssey-erp/stay-revenue/internal/platform/cache"
	"github.com/odyssey-erp/stay-revenue/internal/platform/db"
	"github.com/odyssey-erp/stay-revenue/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns, ApplicationName: "stayrev-worker"})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	queueOpt := cache.QueueOpt(cfg.RedisAddr)
	jobClient, err := jobs.NewClient(queueOpt, cfg.JobMaxRetry)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	services, err := app.NewServices(app.ServiceDeps{
		Config:    cfg,
		Pool:      pool,
		Redis:     redisClient,
		Logger:    logger,
		Metrics:   metrics,
		Scheduler: jobClient,
	})
	if err != nil {
		logger.Error("init services", slog.Any("error", err))
		os.Exit(1)
	}

	jm := jobmetrics.NewMetrics(metrics.Registerer())
	recomputeJob := jobs.NewRecomputeJob(services.Ingestion, services.Reporter, logger, jm)
	handlers := []jobs.TaskHandler{
		{Type: jobs.TaskRevenueRecompute, Handler: recomputeJob.Handle},
	}
	purgeJob := jobs.NewPurgeJob(services.Idempotency, cfg.IdempotencyRetention, logger, jm)
	handlers = append(handlers, jobs.TaskHandler{Type: jobs.TaskIdempotencyPurge, Handler: purgeJob.Handle})
	cron := []jobs.CronRegistration{{Spec: cfg.PurgeCron, Task: jobs.NewPurgeTask()}}
	if services.Sync != nil {
		syncJob := jobs.NewSyncJob(services.Listings, services.Sync, cfg.SyncConcurrency, cfg.SyncLookback, logger, jm)
		handlers = append(handlers, jobs.TaskHandler{Type: jobs.TaskReservationSync, Handler: syncJob.Handle})
		syncTask, err := jobs.NewSyncTask("", time.Time{})
		if err != nil {
			logger.Error("build sync task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.SyncCron, Task: syncTask, Options: []asynq.Option{asynq.MaxRetry(cfg.JobMaxRetry)}})
	} else {
		logger.Warn("SYNC_FEED_URL not set, reservation sync disabled")
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   queueOpt,
		Logger:      logger,
		Concurrency: cfg.SyncConcurrency + 1,
		RetryDelay:  cfg.JobRetryDelay,
		Reporter:    services.Reporter,
		Handlers:    handlers,
		Cron:        cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			_ = metricsServer.Close()
		}()
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
