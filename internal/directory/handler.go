package directory

import (
	"net/http"

	"github.com/bissquit/task-garden/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
)

// Handler exposes the roster over HTTP.
type Handler struct {
	store *Store
}

// NewHandler creates a new directory handler.
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes registers roster routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/users", h.List)
	r.Get("/users/{id}", h.Get)
}

// List handles GET /users request.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	httputil.Success(w, http.StatusOK, h.store.All())
}

// Get handles GET /users/{id} request.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := h.store.GetByID(chi.URLParam(r, "id"))
	if !ok {
		httputil.Error(w, http.StatusNotFound, "user not found")
		return
	}
	httputil.Success(w, http.StatusOK, user)
}
