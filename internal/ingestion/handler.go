package ingestion

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/stay-revenue/internal/platform/httpx"
)

// EventHandler applies a webhook payload.
type EventHandler interface {
	Handle(ctx context.Context, p Payload) (Outcome, error)
}

// Handler exposes the channel webhook.
type Handler struct {
	logger    *slog.Logger
	service   EventHandler
	rateLimit int
}

// NewHandler builds Handler instance. rateLimit caps requests per minute per
// source IP; zero disables the limit.
func NewHandler(logger *slog.Logger, service EventHandler, rateLimit int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rateLimit: rateLimit}
}

// MountRoutes registers webhook routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(gr chi.Router) {
		if h.rateLimit > 0 {
			gr.Use(httprate.Limit(h.rateLimit, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					httpx.JSON(w, http.StatusTooManyRequests, Response{IsError: true, Code: "RATE_LIMITED", Message: "too many requests"})
				}),
			))
		}
		gr.Post("/channel", h.receive)
	})
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	var p Payload
	if err := httpx.DecodeJSON(r, &p); err != nil {
		httpx.JSON(w, http.StatusBadRequest, Response{IsError: true, Code: codeFor(err), Message: err.Error()})
		return
	}
	out, err := h.service.Handle(r.Context(), p)
	if err != nil {
		status := httpx.StatusFor(err)
		msg := err.Error()
		if status == http.StatusInternalServerError {
			h.logger.Error("webhook failed",
				slog.String("action", string(p.Action)),
				slog.String("reservation_id", p.ReservationID),
				slog.Any("error", err),
			)
			msg = "internal error"
		}
		httpx.JSON(w, status, Response{AltID: altID(out), IsError: true, Code: codeFor(err), Message: msg})
		return
	}
	resp := Response{AltID: altID(out), Code: "OK", Message: message(out)}
	httpx.JSON(w, http.StatusOK, resp)
}

func altID(out Outcome) string {
	if out.Reservation.ID == 0 {
		return ""
	}
	return strconv.FormatInt(out.Reservation.ID, 10)
}

func message(out Outcome) string {
	switch {
	case out.RevenueFailed():
		return "reservation saved; revenue queued for repair"
	case out.Unchanged:
		return "reservation already cancelled"
	case out.Created:
		return "reservation created"
	case out.Action == ActionCancel:
		return "reservation cancelled"
	default:
		return "reservation updated"
	}
}

func codeFor(err error) string {
	switch httpx.StatusFor(err) {
	case http.StatusBadRequest:
		return "VALIDATION_ERROR"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusBadGateway:
		return "UPSTREAM_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}
