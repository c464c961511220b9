package revenue

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stay-revenue/internal/platform/httpx"
)

// Handler serves computed revenue breakdowns.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers revenue routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{reservationID}", h.getBreakdown)
}

func (h *Handler) getBreakdown(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "reservationID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.FieldProblem(w, map[string]string{"reservationID": "must be a positive integer"})
		return
	}
	breakdown, err := h.service.Breakdown(r.Context(), id)
	if err != nil {
		if httpx.StatusFor(err) == http.StatusInternalServerError {
			h.logger.Error("revenue breakdown", slog.Int64("reservation_id", id), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, breakdown)
}
