package session

import (
	"encoding/json"
	"net/http"

	"github.com/bissquit/task-garden/internal/backend"
	"github.com/bissquit/task-garden/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: backend.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid email or password"},
	{Error: backend.ErrRateLimited, Status: http.StatusTooManyRequests},
	{Error: backend.ErrEmailExists, Status: http.StatusConflict, Message: "email already registered"},
	{Error: ErrInvalidSignUp, Status: http.StatusBadRequest, Message: "invalid sign-up data"},
	{Error: ErrLoginFailed, Status: http.StatusBadGateway, Message: "login failed"},
	{Error: ErrRegisterFailed, Status: http.StatusBadGateway, Message: "registration failed"},
	{Error: ErrClosed, Status: http.StatusServiceUnavailable},
}

// Handler exposes the session store over HTTP.
type Handler struct {
	store     *Store
	validator *validator.Validate
}

// NewHandler creates a new session handler.
func NewHandler(store *Store) *Handler {
	return &Handler{
		store:     store,
		validator: validator.New(),
	}
}

// RegisterRoutes registers session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/session", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.Post("/register", h.Register)
	})
}

// LoginRequest represents the request body for logging in.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Get handles GET /session request.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	httputil.Success(w, http.StatusOK, h.store.Snapshot())
}

// Login handles POST /session/login request. The identity is resolved
// asynchronously; clients poll GET /session.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	if err := h.store.Login(r.Context(), req.Email, req.Password); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusAccepted, h.store.Snapshot())
}

// Logout handles POST /session/logout request.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	// The local identity is cleared even when the remote sign-out fails.
	_ = h.store.Logout(r.Context())
	httputil.NoContent(w)
}

// Register handles POST /session/register request.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	if err := h.store.Register(r.Context(), req); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, h.store.Snapshot())
}
