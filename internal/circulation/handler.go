// internal/circulation/handler.go
package circulation

import (
	"net/http"

	"bibliopanel/internal/httpapi"
	"bibliopanel/internal/logger"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

var errorMappings = []httpapi.Mapping{
	{Err: ErrSlotOutOfRange, Status: http.StatusBadRequest, Code: "SLOT_OUT_OF_RANGE"},
	{Err: ErrUserNotFound, Status: http.StatusNotFound, Code: "USER_NOT_FOUND"},
	{Err: ErrDocumentNotFound, Status: http.StatusNotFound, Code: "DOCUMENT_NOT_FOUND"},
	{Err: ErrInvalidState, Status: http.StatusConflict, Code: "INVALID_STATE"},
	{Err: ErrSlotEmpty, Status: http.StatusUnprocessableEntity, Code: "SLOT_EMPTY"},
}

// Routes mounts the circulation endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/loans", h.handleActiveLoans)
	r.Get("/loans/stats", h.handleLoanStats)
	r.Get("/reservations", h.handleActiveReservations)
	r.Get("/reservations/stats", h.handleReservationStats)

	r.Route("/users/{email}", func(r chi.Router) {
		r.Get("/", h.handleGetUser)
		r.Get("/can-borrow", h.handleCanBorrow)
		r.Get("/next-slot", h.handleNextSlot)
		r.Post("/slots/{slot}/validate", h.handleValidate)
		r.Post("/slots/{slot}/return", h.handleReturn)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	httpapi.WriteDomainError(w, r, err, errorMappings...)
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.GetUser(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	slot, err := httpapi.IntParam(chi.URLParam(r, "slot"), "slot")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := h.service.ValidateReservation(r.Context(), chi.URLParam(r, "email"), slot)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	slot, err := httpapi.IntParam(chi.URLParam(r, "slot"), "slot")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := h.service.ReturnDocument(r.Context(), chi.URLParam(r, "email"), slot)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) handleActiveLoans(w http.ResponseWriter, r *http.Request) {
	holders, err := h.service.ActiveLoans(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, holders)
}

func (h *Handler) handleActiveReservations(w http.ResponseWriter, r *http.Request) {
	holders, err := h.service.ActiveReservations(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, holders)
}

// Statistics degrade to defaults instead of failing the dashboard.
func (h *Handler) handleLoanStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.LoanStatistics(r.Context())
	if err != nil {
		logger.WarnContext(r.Context(), "loan statistics unavailable, serving defaults", "error", err)
	}
	httpapi.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleReservationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.ReservationStatistics(r.Context())
	if err != nil {
		logger.WarnContext(r.Context(), "reservation statistics unavailable, serving defaults", "error", err)
	}
	httpapi.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleCanBorrow(w http.ResponseWriter, r *http.Request) {
	check, err := h.service.CanBorrow(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, check)
}

func (h *Handler) handleNextSlot(w http.ResponseWriter, r *http.Request) {
	slot, ok, err := h.service.FindNextAvailableSlot(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"slot": slot, "available": ok})
}
