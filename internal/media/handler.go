package media

import (
	"errors"
	"net/http"
	"strings"

	"bibliopanel/internal/httpapi"

	"github.com/go-chi/chi/v5"
)

const maxUploadBytes = 20 << 20

type Handler struct {
	uploader Uploader
}

func NewHandler(uploader Uploader) *Handler {
	return &Handler{uploader: uploader}
}

var errorMappings = []httpapi.Mapping{
	{Err: ErrEmptyFile, Status: http.StatusBadRequest, Code: "EMPTY_FILE"},
	{Err: ErrUnavailable, Status: http.StatusServiceUnavailable, Code: "MEDIA_UNAVAILABLE"},
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/media", h.handleUpload)
}

// handleUpload accepts a multipart form with a "file" part and an optional
// comma separated "tags" field.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			httpapi.WriteError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "file exceeds 20MB")
			return
		}
		httpapi.WriteError(w, http.StatusBadRequest, "INVALID_FORM", "expected multipart form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "MISSING_FILE", "file part is required")
		return
	}
	defer file.Close()

	var tags []string
	for _, t := range strings.Split(r.FormValue("tags"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}

	url, err := h.uploader.Upload(r.Context(), header.Filename, file, tags)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			httpapi.WriteError(w, http.StatusBadGateway, "MEDIA_REJECTED", se.Message)
			return
		}
		httpapi.WriteDomainError(w, r, err, errorMappings...)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, map[string]string{"url": url})
}
