// internal/students/handler.go
package students

import (
	"net/http"
	"strconv"

	"bibliopanel/internal/httpapi"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

var errorMappings = []httpapi.Mapping{
	{Err: ErrNotFound, Status: http.StatusNotFound, Code: "STUDENT_NOT_FOUND"},
	{Err: ErrUnknownAction, Status: http.StatusBadRequest, Code: "UNKNOWN_ACTION"},
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/students", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/stats", h.handleStats)
		r.Post("/bulk", h.handleBulk)
		r.Get("/{id}", h.handleGet)
		r.Post("/{id}/block", h.handleBlock)
		r.Post("/{id}/unblock", h.handleUnblock)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	httpapi.WriteDomainError(w, r, err, errorMappings...)
}

func filtersFrom(r *http.Request) (Filters, error) {
	v := r.URL.Query()
	f := Filters{
		Search:     v.Get("search"),
		Status:     v.Get("status"),
		Level:      v.Get("level"),
		Department: v.Get("department"),
		SortBy:     v.Get("sortBy"),
	}
	for name, dst := range map[string]*int{"page": &f.Page, "size": &f.Size} {
		if raw := v.Get(name); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return f, &httpapi.BadRequestError{Fields: map[string]string{name: "must be an integer"}}
			}
			*dst = n
		}
	}
	return f, httpapi.ValidateStruct(f)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	f, err := filtersFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.service.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, st)
}

func (h *Handler) handleBlock(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Block(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, st)
}

func (h *Handler) handleUnblock(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Unblock(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, st)
}

func (h *Handler) handleBulk(w http.ResponseWriter, r *http.Request) {
	var req BulkAction
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.service.Bulk(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, st)
}
