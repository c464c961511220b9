package app

import (
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stay-revenue/internal/channels"
	"github.com/odyssey-erp/stay-revenue/internal/ingestion"
	"github.com/odyssey-erp/stay-revenue/internal/listings"
	"github.com/odyssey-erp/stay-revenue/internal/observability"
	"github.com/odyssey-erp/stay-revenue/internal/reconciliation"
	"github.com/odyssey-erp/stay-revenue/internal/reservations"
	"github.com/odyssey-erp/stay-revenue/internal/revenue"
	"github.com/odyssey-erp/stay-revenue/internal/shared"
)

// Services is the composed domain layer shared by the server and the worker.
type Services struct {
	Channels       *channels.Table
	Reservations   *reservations.Repository
	Listings       *listings.Cache
	Revenue        *revenue.Service
	Ingestion      *ingestion.Service
	Sync           *ingestion.SyncService
	Reconciliation *reconciliation.Service
	Reporter       *observability.Reporter
	Idempotency    *shared.IdempotencyStore
}

// ServiceDeps are the infrastructure handles Services is built from.
type ServiceDeps struct {
	Config    *Config
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Logger    *slog.Logger
	Metrics   *observability.Metrics
	Scheduler observability.RecomputeScheduler
}

// NewServices wires repositories, caches and services.
func NewServices(deps ServiceDeps) (*Services, error) {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	table, err := channels.Load(cfg.ChannelMapPath)
	if err != nil {
		return nil, err
	}
	auth, err := ingestion.NewAuthenticator(cfg.WebhookSecret, cfg.WebhookSecretHash)
	if err != nil {
		return nil, fmt.Errorf("webhook auth: %w", err)
	}

	reporter := observability.NewReporter(logger, deps.Metrics, observability.NewPGFailureStore(deps.Pool), deps.Scheduler)

	reservationRepo := reservations.NewRepository(deps.Pool)
	listingCache := listings.NewCache(deps.Redis, cfg.ListingCacheTTL, listings.NewRepository(deps.Pool), logger)
	revenueService := revenue.NewService(revenue.NewRepository(deps.Pool), cfg.ProcessorFee(), logger)

	ingestionService := ingestion.NewService(ingestion.Deps{
		Store:    reservationRepo,
		Listings: listingCache,
		Revenue:  revenueService,
		Channels: table,
		Auth:     auth,
		Reporter: reporter,
		Logger:   logger,
	})

	var syncService *ingestion.SyncService
	if cfg.SyncFeedURL != "" {
		feed := ingestion.NewHTTPFeed(cfg.SyncFeedURL, cfg.SyncFeedToken, cfg.AppRequestTimeout)
		syncService = ingestion.NewSyncService(feed, ingestionService, logger)
	}

	idempotency := shared.NewIdempotencyStore(deps.Pool)
	reconService := reconciliation.NewService(reconciliation.Deps{
		Repo:     reconciliation.NewRepository(deps.Pool),
		Payouts:  revenueService,
		Audit:    shared.NewAuditLogger(deps.Pool),
		Observer: reporter,
		Options: reconciliation.Options{
			MaxGroupSize: cfg.ReconMaxGroup,
			MaxResults:   cfg.ReconMaxCandidates,
		},
		Logger: logger,
	})

	return &Services{
		Channels:       table,
		Reservations:   reservationRepo,
		Listings:       listingCache,
		Revenue:        revenueService,
		Ingestion:      ingestionService,
		Sync:           syncService,
		Reconciliation: reconService,
		Reporter:       reporter,
		Idempotency:    idempotency,
	}, nil
}
