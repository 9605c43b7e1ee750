package notify

import (
	"net/http"

	"github.com/bissquit/task-garden/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
)

// Handler lets the view drain pending toasts.
type Handler struct {
	feed *Feed
}

// NewHandler creates a new notification handler.
func NewHandler(feed *Feed) *Handler {
	return &Handler{feed: feed}
}

// RegisterRoutes registers notification routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/notifications", h.Drain)
}

// Drain handles GET /notifications request. Returned toasts are removed.
func (h *Handler) Drain(w http.ResponseWriter, r *http.Request) {
	httputil.Success(w, http.StatusOK, h.feed.Drain())
}
