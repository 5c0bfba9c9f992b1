package chat

import (
	"encoding/json"
	"fmt"
	"net/http"

	"bibliopanel/internal/httpapi"
	"bibliopanel/internal/logger"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

var errorMappings = []httpapi.Mapping{
	{Err: ErrUserNotFound, Status: http.StatusNotFound, Code: "USER_NOT_FOUND"},
	{Err: ErrEmptyMessage, Status: http.StatusBadRequest, Code: "EMPTY_MESSAGE"},
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/chat", func(r chi.Router) {
		r.Get("/conversations", h.handleConversations)
		r.Get("/conversations/stream", h.handleStream)
		r.Get("/unread", h.handleUnread)
		r.Get("/{email}/messages", h.handleMessages)
		r.Post("/{email}/messages", h.handleSend)
		r.Post("/{email}/read", h.handleMarkRead)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	httpapi.WriteDomainError(w, r, err, errorMappings...)
}

func (h *Handler) handleConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.service.Conversations(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, convs)
}

func (h *Handler) handleUnread(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.UnreadCount(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]int{"unread": n})
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.service.Messages(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, msgs)
}

type sendRequest struct {
	Text string `json:"text" validate:"notblank,max=2000"`
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	msg, err := h.service.Send(r.Context(), chi.URLParam(r, "email"), req.Text)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, msg)
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.service.MarkRead(r.Context(), chi.URLParam(r, "email")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStream pushes the conversation list as server-sent events.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpapi.WriteError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "streaming unsupported")
		return
	}
	updates := make(chan []Conversation, 1)
	// keep only the latest list; never block the store's notifier
	stop, err := h.service.Watch(r.Context(), func(convs []Conversation) {
		for {
			select {
			case updates <- convs:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	for {
		select {
		case <-r.Context().Done():
			return
		case convs := <-updates:
			payload, err := json.Marshal(map[string]any{"conversations": convs, "unread": unreadCount(convs)})
			if err != nil {
				logger.WarnContext(r.Context(), "encode conversations", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: conversations\ndata: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
