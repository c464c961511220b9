package reservations

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stay-revenue/internal/platform/httpx"
)

// Reader is the read surface used by Handler.
type Reader interface {
	Get(ctx context.Context, id int64) (Reservation, error)
	List(ctx context.Context, filter ListFilter) ([]Reservation, error)
}

// Handler serves reservation lookups for the operator console.
type Handler struct {
	logger *slog.Logger
	repo   Reader
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, repo Reader) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes registers reservation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Status: Status(q.Get("status"))}
	if v := q.Get("listing_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.FieldProblem(w, map[string]string{"listing_id": "must be an integer"})
			return
		}
		filter.ListingID = id
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	rows, err := h.repo.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list reservations", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.FieldProblem(w, map[string]string{"id": "must be an integer"})
		return
	}
	res, err := h.repo.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}
