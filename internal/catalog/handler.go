// internal/catalog/handler.go
package catalog

import (
	"net/http"

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
	{Err: ErrNotFound, Status: http.StatusNotFound, Code: "DOCUMENT_NOT_FOUND"},
	{Err: ErrUnknownKind, Status: http.StatusNotFound, Code: "UNKNOWN_KIND"},
	{Err: ErrInvalidCopies, Status: http.StatusUnprocessableEntity, Code: "INVALID_COPIES"},
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/departments", h.handleListDepartments)
	r.Post("/departments", h.handleAddDepartment)

	r.Route("/catalog/{kind}", func(r chi.Router) {
		r.Get("/", h.handleBrowse)
		r.Post("/", h.handleAdd)
		r.Get("/{id}", h.handleGet)
		r.Patch("/{id}", h.handleUpdate)
		r.Delete("/{id}", h.handleRemove)
		r.Put("/{id}/copies", h.handleUpdateCopies)
		r.Post("/{id}/comments", h.handleAddComment)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	httpapi.WriteDomainError(w, r, err, errorMappings...)
}

func kindParam(r *http.Request) Kind {
	return Kind(chi.URLParam(r, "kind"))
}

func (h *Handler) handleBrowse(w http.ResponseWriter, r *http.Request) {
	q, err := httpapi.ListQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.service.Browse(r.Context(), kindParam(r), r.URL.Query().Get("category"), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req NewDocument
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	doc, err := h.service.Add(r.Context(), kindParam(r), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, doc)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.Get(r.Context(), kindParam(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, doc)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req DocumentUpdate
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	doc, err := h.service.Update(r.Context(), kindParam(r), chi.URLParam(r, "id"), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, doc)
}

func (h *Handler) handleUpdateCopies(w http.ResponseWriter, r *http.Request) {
	var req StockChange
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	doc, err := h.service.UpdateCopies(r.Context(), kindParam(r), chi.URLParam(r, "id"), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, doc)
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Remove(r.Context(), kindParam(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var req NewComment
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.service.AddComment(r.Context(), kindParam(r), chi.URLParam(r, "id"), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) handleListDepartments(w http.ResponseWriter, r *http.Request) {
	deps, err := h.service.ListDepartments(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, deps)
}

func (h *Handler) handleAddDepartment(w http.ResponseWriter, r *http.Request) {
	var req NewDepartment
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.service.AddDepartment(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, d)
}
