package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stay-revenue/internal/channels"
	"github.com/odyssey-erp/stay-revenue/internal/ingestion"
	"github.com/odyssey-erp/stay-revenue/internal/listings"
	"github.com/odyssey-erp/stay-revenue/internal/observability"
	"github.com/odyssey-erp/stay-revenue/internal/reconciliation"
	"github.com/odyssey-erp/stay-revenue/internal/reservations"
	"github.com/odyssey-erp/stay-revenue/internal/revenue"
	"github.com/odyssey-erp/stay-revenue/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger                *slog.Logger
	Config                *Config
	IngestionHandler      *ingestion.Handler
	RevenueHandler        *revenue.Handler
	ReservationsHandler   *reservations.Handler
	ReconciliationHandler *reconciliation.Handler
	ListingsHandler       *listings.Handler
	ChannelsHandler       *channels.Handler
	JobHandler            *jobs.Handler
	Metrics               *observability.Metrics
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.IngestionHandler != nil {
		r.Route("/webhooks", params.IngestionHandler.MountRoutes)
	}

	token := ""
	if params.Config != nil {
		token = params.Config.OperatorToken
	}
	r.Route("/api", func(r chi.Router) {
		r.Use(OperatorAuth(token, params.Logger))
		if params.RevenueHandler != nil {
			r.Route("/revenue", params.RevenueHandler.MountRoutes)
		}
		if params.ReservationsHandler != nil {
			r.Route("/reservations", params.ReservationsHandler.MountRoutes)
		}
		if params.ReconciliationHandler != nil {
			r.Route("/reconciliation", params.ReconciliationHandler.MountRoutes)
		}
		if params.ListingsHandler != nil {
			r.Route("/listings", params.ListingsHandler.MountRoutes)
		}
		if params.ChannelsHandler != nil {
			r.Route("/channels", params.ChannelsHandler.MountRoutes)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
