package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bissquit/task-garden/internal/domain"
	"github.com/bissquit/task-garden/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

const dateLayout = "2006-01-02"

// Dashboard constants.
const (
	DefaultRecentLimit = 5
	MaxRecentLimit     = 50
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrNotAuthenticated, Status: http.StatusUnauthorized},
	{Error: ErrPermissionDenied, Status: http.StatusForbidden},
	{Error: ErrNoAssignees, Status: http.StatusBadRequest},
	{Error: ErrInvalidDateRange, Status: http.StatusBadRequest},
	{Error: ErrInvalidTask, Status: http.StatusBadRequest},
	{Error: ErrTaskNotFound, Status: http.StatusNotFound},
	{Error: ErrPartialWrite, Status: http.StatusInternalServerError, Message: "task was partially saved"},
}

// UserLookup resolves assignee ids to display names.
type UserLookup interface {
	GetByID(id string) (domain.User, bool)
}

// Handler exposes the task store over HTTP.
type Handler struct {
	store     *Store
	users     UserLookup
	validator *validator.Validate
}

// NewHandler creates a new tasks handler.
func NewHandler(store *Store, users UserLookup) *Handler {
	return &Handler{
		store:     store,
		users:     users,
		validator: validator.New(),
	}
}

// RegisterRoutes registers task routes. All of them expect an identity.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Post("/reload", h.Reload)
		r.Get("/{id}", h.Get)
		r.Patch("/{id}", h.Update)
		r.Put("/{id}/status", h.UpdateStatus)
		r.Delete("/{id}", h.Delete)
	})
	r.Get("/board", h.Board)
	r.Get("/dashboard", h.Dashboard)
}

// TaskResponse is the wire form of a task. Dates are calendar dates.
type TaskResponse struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Unit         string            `json:"unit"`
	Assignees    []string          `json:"assignees"`
	StartDate    string            `json:"start_date"`
	EndDate      string            `json:"end_date"`
	Status       domain.TaskStatus `json:"status"`
	CreatedBy    string            `json:"created_by"`
	Observations string            `json:"observations"`
	CreatedAt    time.Time         `json:"created_at"`
}

func toResponse(t domain.Task) TaskResponse {
	assignees := t.Assignees
	if assignees == nil {
		assignees = make([]string, 0)
	}
	return TaskResponse{
		ID:           t.ID,
		Title:        t.Title,
		Description:  t.Description,
		Unit:         t.Unit,
		Assignees:    assignees,
		StartDate:    t.StartDate.Format(dateLayout),
		EndDate:      t.EndDate.Format(dateLayout),
		Status:       t.Status,
		CreatedBy:    t.CreatedBy,
		Observations: t.Observations,
		CreatedAt:    t.CreatedAt,
	}
}

func toResponses(tasks []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toResponse(t))
	}
	return out
}

// CreateTaskRequest represents the request body for creating a task.
type CreateTaskRequest struct {
	Title        string   `json:"title" validate:"required,max=255"`
	Description  string   `json:"description"`
	Unit         string   `json:"unit" validate:"max=255"`
	Assignees    []string `json:"assignees" validate:"required,min=1"`
	StartDate    string   `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate      string   `json:"end_date" validate:"required,datetime=2006-01-02"`
	Status       string   `json:"status" validate:"omitempty,oneof=todo progress completed"`
	Observations string   `json:"observations"`
}

// ToDomain converts the request to a draft. Dates are already validated.
func (r *CreateTaskRequest) ToDomain() Draft {
	start, _ := time.Parse(dateLayout, r.StartDate)
	end, _ := time.Parse(dateLayout, r.EndDate)
	return Draft{
		Title:        r.Title,
		Description:  r.Description,
		Unit:         r.Unit,
		Assignees:    r.Assignees,
		StartDate:    start,
		EndDate:      end,
		Status:       domain.TaskStatus(r.Status),
		Observations: r.Observations,
	}
}

// UpdateTaskRequest represents the request body for patching a task.
type UpdateTaskRequest struct {
	Title        *string   `json:"title" validate:"omitempty,max=255"`
	Description  *string   `json:"description"`
	Unit         *string   `json:"unit" validate:"omitempty,max=255"`
	Assignees    *[]string `json:"assignees"`
	StartDate    *string   `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate      *string   `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	Status       *string   `json:"status" validate:"omitempty,oneof=todo progress completed"`
	Observations *string   `json:"observations"`
}

// ToDomain converts the request to a patch. Dates are already validated.
func (r *UpdateTaskRequest) ToDomain() domain.TaskPatch {
	patch := domain.TaskPatch{
		Title:        r.Title,
		Description:  r.Description,
		Unit:         r.Unit,
		Observations: r.Observations,
		Assignees:    r.Assignees,
	}
	if r.StartDate != nil {
		d, _ := time.Parse(dateLayout, *r.StartDate)
		patch.StartDate = &d
	}
	if r.EndDate != nil {
		d, _ := time.Parse(dateLayout, *r.EndDate)
		patch.EndDate = &d
	}
	if r.Status != nil {
		s := domain.TaskStatus(*r.Status)
		patch.Status = &s
	}
	return patch
}

// UpdateStatusRequest represents the request body for moving a task.
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=todo progress completed"`
}

// List handles GET /tasks request. Supports ?status= and ?q= filters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var tasks []domain.Task

	if q := r.URL.Query().Get("q"); q != "" {
		tasks = h.store.Search(q)
	} else {
		tasks = h.store.Tasks()
	}

	if s := r.URL.Query().Get("status"); s != "" {
		status := domain.TaskStatus(s)
		if !status.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid status")
			return
		}
		filtered := tasks[:0]
		for _, t := range tasks {
			if t.Status == status {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}

	httputil.Success(w, http.StatusOK, toResponses(tasks))
}

// Get handles GET /tasks/{id} request.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	task, ok := h.store.GetByID(chi.URLParam(r, "id"))
	if !ok {
		httputil.Error(w, http.StatusNotFound, "task not found")
		return
	}
	httputil.Success(w, http.StatusOK, toResponse(task))
}

// Create handles POST /tasks request.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	task, err := h.store.CreateTask(r.Context(), req.ToDomain())
	if err != nil {
		h.handleError(r.Context(), w, err)
		return
	}

	httputil.Success(w, http.StatusCreated, toResponse(task))
}

// Update handles PATCH /tasks/{id} request.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	if err := h.store.Update(r.Context(), id, req.ToDomain()); err != nil {
		h.handleError(r.Context(), w, err)
		return
	}

	h.respondTask(w, id)
}

// UpdateStatus handles PUT /tasks/{id}/status request.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	if err := h.store.UpdateStatus(r.Context(), id, domain.TaskStatus(req.Status)); err != nil {
		h.handleError(r.Context(), w, err)
		return
	}

	h.respondTask(w, id)
}

// Delete handles DELETE /tasks/{id} request.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.handleError(r.Context(), w, err)
		return
	}
	httputil.NoContent(w)
}

// Reload handles POST /tasks/reload request.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Load(r.Context()); err != nil {
		httputil.Error(w, http.StatusBadGateway, "failed to load tasks")
		return
	}
	httputil.Success(w, http.StatusOK, toResponses(h.store.Tasks()))
}

// ColumnResponse is one Kanban column.
type ColumnResponse struct {
	Status domain.TaskStatus `json:"status"`
	Tasks  []TaskResponse    `json:"tasks"`
}

// Board handles GET /board request.
func (h *Handler) Board(w http.ResponseWriter, r *http.Request) {
	board := h.store.Board()
	out := make([]ColumnResponse, 0, len(board))
	for _, c := range board {
		out = append(out, ColumnResponse{Status: c.Status, Tasks: toResponses(c.Tasks)})
	}
	httputil.Success(w, http.StatusOK, out)
}

// UserProgressResponse is per-assignee progress with a display name.
type UserProgressResponse struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
}

func (h *Handler) lookupUser(id string) (domain.User, bool) {
	if h.users == nil {
		return domain.User{}, false
	}
	return h.users.GetByID(id)
}

// DashboardResponse aggregates counts and the most recent tasks.
type DashboardResponse struct {
	Total    int                       `json:"total"`
	ByStatus map[domain.TaskStatus]int `json:"by_status"`
	PerUser  []UserProgressResponse    `json:"per_user"`
	Recent   []TaskResponse            `json:"recent"`
}

// Dashboard handles GET /dashboard request. Supports ?recent= (default 5, max 50).
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	limit := DefaultRecentLimit
	if v := r.URL.Query().Get("recent"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.Error(w, http.StatusBadRequest, "invalid recent parameter")
			return
		}
		limit = min(n, MaxRecentLimit)
	}

	stats := h.store.Stats()
	perUser := make([]UserProgressResponse, 0, len(stats.PerUser))
	for _, p := range stats.PerUser {
		// Assignees missing from the roster are not listed.
		u, ok := h.lookupUser(p.UserID)
		if !ok {
			continue
		}
		perUser = append(perUser, UserProgressResponse{
			UserID:    p.UserID,
			Name:      u.Name,
			Total:     p.Total,
			Completed: p.Completed,
		})
	}

	httputil.Success(w, http.StatusOK, DashboardResponse{
		Total:    stats.Total,
		ByStatus: stats.ByStatus,
		PerUser:  perUser,
		Recent:   toResponses(h.store.Recent(limit)),
	})
}

func (h *Handler) respondTask(w http.ResponseWriter, id string) {
	task, ok := h.store.GetByID(id)
	if !ok {
		// The write succeeded but the task left the visible set.
		httputil.NoContent(w)
		return
	}
	httputil.Success(w, http.StatusOK, toResponse(task))
}

func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		httputil.ValidationError(w, verrs)
		return
	}
	httputil.HandleError(ctx, w, err, errorMappings)
}
