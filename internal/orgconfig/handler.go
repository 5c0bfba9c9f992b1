package orgconfig

import (
	"net/http"

	"bibliopanel/internal/httpapi"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	binding *ThemeBinding
}

func NewHandler(binding *ThemeBinding) *Handler {
	return &Handler{binding: binding}
}

var errorMappings = []httpapi.Mapping{
	{Err: ErrInvalidSettings, Status: http.StatusUnprocessableEntity, Code: "INVALID_SETTINGS"},
}

// PublicRoutes serves what the landing page needs before login.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Get("/theme", h.handleTheme)
	r.Get("/theme.css", h.handleThemeCSS)
	r.Get("/settings", h.handleSettings)
}

func (h *Handler) Routes(r chi.Router) {
	r.Put("/settings", h.handleSave)
}

func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	httpapi.WriteJSON(w, http.StatusOK, h.binding.Settings().Settings(r.Context()))
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	var req Settings
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteDomainError(w, r, err, errorMappings...)
		return
	}
	if err := h.binding.Settings().Save(r.Context(), req); err != nil {
		httpapi.WriteDomainError(w, r, err, errorMappings...)
		return
	}
	h.binding.Sync(r.Context())
	httpapi.WriteJSON(w, http.StatusOK, h.binding.Settings().Settings(r.Context()))
}

func (h *Handler) handleTheme(w http.ResponseWriter, r *http.Request) {
	httpapi.WriteJSON(w, http.StatusOK, h.binding.Theme().Current())
}

func (h *Handler) handleThemeCSS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(h.binding.Theme().Current().CSSVariables()))
}
