package channels

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stay-revenue/internal/platform/httpx"
)

// Handler shows operators how reported channel names are mapped.
type Handler struct {
	table *Table
}

// NewHandler builds a Handler over table.
func NewHandler(table *Table) *Handler {
	return &Handler{table: table}
}

// MountRoutes registers channel routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/lookup", h.lookup)
}

type channelView struct {
	Channel Channel  `json:"channel"`
	Aliases []string `json:"aliases"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	out := make([]channelView, 0, len(All))
	for _, ch := range All {
		aliases := h.table.Aliases(ch)
		if aliases == nil {
			aliases = []string{}
		}
		out = append(out, channelView{Channel: ch, Aliases: aliases})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	httpx.JSON(w, http.StatusOK, map[string]any{"name": name, "channel": h.table.Lookup(name)})
}
