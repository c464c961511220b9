package reconciliation

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stay-revenue/internal/platform/httpx"
	"github.com/odyssey-erp/stay-revenue/internal/shared"
)

// Operations is the service surface used by Handler.
type Operations interface {
	WorkingSet(ctx context.Context) (WorkingSet, error)
	Preview(ctx context.Context, sel Selection) (Summary, error)
	Commit(ctx context.Context, sel Selection) (Record, error)
	Dismiss(ctx context.Context, id int64, actor string) (Transaction, error)
	Restore(ctx context.Context, id int64, actor string) (Transaction, error)
	ImportTransactions(ctx context.Context, rows []ImportRow) (ImportResult, error)
	Suggest(ctx context.Context) ([]Candidate, error)
}

// Handler exposes the operator reconciliation API.
type Handler struct {
	logger  *slog.Logger
	service Operations
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service Operations) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers reconciliation routes. Authentication is applied by
// the caller.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/working-set", h.getWorkingSet)
	r.Get("/suggestions", h.getSuggestions)
	r.Post("/preview", h.postPreview)
	r.Post("/commit", h.postCommit)
	r.Post("/transactions/import", h.postImport)
	r.Post("/transactions/{id}/dismiss", h.postDismiss)
	r.Post("/transactions/{id}/restore", h.postRestore)
}

type importRequest struct {
	Transactions []ImportRow `json:"transactions"`
}

func (h *Handler) getWorkingSet(w http.ResponseWriter, r *http.Request) {
	ws, err := h.service.WorkingSet(r.Context())
	if err != nil {
		h.fail(w, "working set", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ws)
}

func (h *Handler) getSuggestions(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.service.Suggest(r.Context())
	if err != nil {
		h.fail(w, "suggestions", err)
		return
	}
	if candidates == nil {
		candidates = []Candidate{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"candidates": candidates})
}

func (h *Handler) postPreview(w http.ResponseWriter, r *http.Request) {
	var sel Selection
	if err := httpx.DecodeJSON(r, &sel); err != nil {
		httpx.RespondError(w, err)
		return
	}
	summary, err := h.service.Preview(r.Context(), sel)
	if err != nil {
		h.fail(w, "preview", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) postCommit(w http.ResponseWriter, r *http.Request) {
	var sel Selection
	if err := httpx.DecodeJSON(r, &sel); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if sel.IdempotencyKey == "" {
		sel.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	sel.Actor = shared.OperatorFromContext(r.Context())
	rec, err := h.service.Commit(r.Context(), sel)
	if err != nil {
		h.fail(w, "commit", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) postImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.ImportTransactions(r.Context(), req.Transactions)
	if err != nil {
		h.fail(w, "import", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) postDismiss(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Dismiss)
}

func (h *Handler) postRestore(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Restore)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64, string) (Transaction, error)) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.FieldProblem(w, map[string]string{"id": "must be a positive integer"})
		return
	}
	t, err := fn(r.Context(), id, shared.OperatorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "transition", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if fields := shared.Fields(err); fields != nil {
		httpx.FieldProblem(w, fields)
		return
	}
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error("reconciliation "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
