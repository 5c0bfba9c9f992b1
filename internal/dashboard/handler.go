package dashboard

import (
	"net/http"

	"bibliopanel/internal/httpapi"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/dashboard", h.handleOverview)
}

// PublicRoutes are served without authentication.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Get("/landing", h.handleLanding)
}

func (h *Handler) handleOverview(w http.ResponseWriter, r *http.Request) {
	ov, err := h.service.Overview(r.Context())
	if err != nil {
		httpapi.WriteDomainError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, ov)
}

func (h *Handler) handleLanding(w http.ResponseWriter, r *http.Request) {
	httpapi.WriteJSON(w, http.StatusOK, h.service.Landing(r.Context()))
}
