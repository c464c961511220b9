package listings

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stay-revenue/internal/platform/httpx"
)

// CachedLookup is the cache surface the operator API needs.
type CachedLookup interface {
	Lookup
	Bump(ctx context.Context) error
}

// Handler exposes listings to the operator console.
type Handler struct {
	logger *slog.Logger
	cache  CachedLookup
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, cache CachedLookup) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, cache: cache}
}

// MountRoutes registers listing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listActive)
	r.Get("/{productID}", h.get)
	r.Post("/cache/refresh", h.refresh)
}

func (h *Handler) listActive(w http.ResponseWriter, r *http.Request) {
	rows, err := h.cache.ListActive(r.Context())
	if err != nil {
		h.logger.Error("list listings", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	listing, err := h.cache.FindByProductID(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listing)
}

// refresh drops cached listings after pricing rules change in the database.
func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.Bump(r.Context()); err != nil {
		h.logger.Error("bump listing cache", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
