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
	"github.com/odyssey-erp/stay-revenue/internal/channels"
	"github.com/odyssey-erp/stay-revenue/internal/ingestion"
	"github.com/odyssey-erp/stay-revenue/internal/listings"
	"github.com/odyssey-erp/stay-revenue/internal/observability"
	"github.com/odyssey-erp/stay-revenue/internal/platform/cache"
	"github.com/odyssey-erp/stay-revenue/internal/platform/db"
	"github.com/odyssey-erp/stay-revenue/internal/reconciliation"
	"github.com/odyssey-erp/stay-revenue/internal/reservations"
	"github.com/odyssey-erp/stay-revenue/internal/revenue"
	"github.com/odyssey-erp/stay-revenue/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns, ApplicationName: "stayrev"})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	jobClient, err := jobs.NewClient(cache.QueueOpt(cfg.RedisAddr), cfg.JobMaxRetry)
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
		Pool:      dbpool,
		Redis:     redisClient,
		Logger:    logger,
		Metrics:   metrics,
		Scheduler: jobClient,
	})
	if err != nil {
		logger.Error("init services", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(cache.QueueOpt(cfg.RedisAddr))
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:                logger,
		Config:                cfg,
		IngestionHandler:      ingestion.NewHandler(logger, services.Ingestion, cfg.WebhookRateLimit),
		RevenueHandler:        revenue.NewHandler(logger, services.Revenue),
		ReservationsHandler:   reservations.NewHandler(logger, services.Reservations),
		ReconciliationHandler: reconciliation.NewHandler(logger, services.Reconciliation),
		ListingsHandler:       listings.NewHandler(logger, services.Listings),
		ChannelsHandler:       channels.NewHandler(services.Channels),
		JobHandler:            jobs.NewHandler(inspector, logger),
		Metrics:               metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
