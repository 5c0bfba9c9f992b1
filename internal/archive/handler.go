package archive

import (
	"net/http"

	"bibliopanel/internal/httpapi"

	"github.com/go-chi/chi/v5"
)

const defaultRecent = 5

type Handler struct {
	log *Log
}

func NewHandler(log *Log) *Handler {
	return &Handler{log: log}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/archives", h.handleBrowse)
	r.Get("/archives/stats", h.handleStats)
	r.Get("/archives/recent", h.handleRecent)
}

func (h *Handler) handleBrowse(w http.ResponseWriter, r *http.Request) {
	q, err := httpapi.ListQuery(r)
	if err != nil {
		httpapi.WriteDomainError(w, r, err)
		return
	}
	page, err := h.log.Browse(r.Context(), q)
	if err != nil {
		httpapi.WriteDomainError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.log.Stats(r.Context())
	if err != nil {
		httpapi.WriteDomainError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, st)
}

func (h *Handler) handleRecent(w http.ResponseWriter, r *http.Request) {
	n := defaultRecent
	if raw := r.URL.Query().Get("n"); raw != "" {
		var err error
		if n, err = httpapi.IntParam(raw, "n"); err != nil {
			httpapi.WriteDomainError(w, r, err)
			return
		}
	}
	entries, err := h.log.Recent(r.Context(), n)
	if err != nil {
		httpapi.WriteDomainError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, entries)
}
