// internal/auth/handler.go
package auth

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

var errorMappings = []httpapi.Mapping{
	{Err: ErrInvalidCredentials, Status: http.StatusUnauthorized, Code: "INVALID_CREDENTIALS"},
	{Err: ErrRateLimited, Status: http.StatusTooManyRequests, Code: "RATE_LIMITED"},
}

// PublicRoutes registers the login endpoint.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Post("/auth/login", h.handleLogin)
}

// Routes registers endpoints that need an authenticated admin.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/auth/me", h.handleMe)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteDomainError(w, r, err, errorMappings...)
		return
	}
	resp, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		httpapi.WriteDomainError(w, r, err, errorMappings...)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFrom(r.Context())
	if !ok {
		httpapi.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "not authenticated")
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, Admin{ID: claims.Subject, Email: claims.Email, Name: claims.Name})
}
