// Package backend defines the remote data store the client stores talk to:
// a row store for profiles, tasks and assignments plus a session-based auth API.
package backend

import (
	"context"
	"time"

	"github.com/bissquit/task-garden/internal/domain"
)

// Session is an authenticated backend session.
type Session struct {
	UserID      string
	Email       string
	AccessToken string
	ExpiresAt   time.Time
}

// SignUpInput holds account data; Name and Role travel as account metadata
// and are copied into the profile row by the backend.
type SignUpInput struct {
	Email    string
	Password string
	Name     string
	Role     domain.Role
}

// Account is the auth record created by SignUp.
type Account struct {
	ID    string
	Email string
}

// AuthEventType names an auth-state transition.
type AuthEventType string

// Auth events.
const (
	AuthEventSignedIn  AuthEventType = "SIGNED_IN"
	AuthEventSignedOut AuthEventType = "SIGNED_OUT"
)

// AuthEvent is delivered to auth-state listeners. Session is nil on sign-out.
type AuthEvent struct {
	Type    AuthEventType
	Session *Session
}

// AuthListener receives auth events in the order the backend emits them.
type AuthListener func(AuthEvent)

// Auth is the session-based authentication API.
type Auth interface {
	SignUp(ctx context.Context, input SignUpInput) (*Account, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
	// Session returns the current session, or nil when there is none.
	Session(ctx context.Context) (*Session, error)
	// OnAuthStateChange registers a listener and returns its unsubscribe func.
	OnAuthStateChange(listener AuthListener) (unsubscribe func())
}

// Profiles reads identity rows.
type Profiles interface {
	// GetProfile returns nil, nil when no row exists yet.
	GetProfile(ctx context.Context, id string) (*domain.User, error)
	ListProfiles(ctx context.Context) ([]domain.User, error)
}

// TaskRows reads and writes the tasks and task_assignments tables.
// List methods return every task with its full assignee list in one round trip.
type TaskRows interface {
	// InsertTask stores the row without assignees and fills ID and CreatedAt.
	InsertTask(ctx context.Context, task *domain.Task) error
	// UpdateTask applies the column part of the patch.
	UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) error
	DeleteTask(ctx context.Context, id string) error

	ListTasksByCreator(ctx context.Context, creatorID string) ([]domain.Task, error)
	ListTasksByAssignee(ctx context.Context, userID string) ([]domain.Task, error)

	InsertAssignments(ctx context.Context, taskID string, userIDs []string) error
	DeleteAssignments(ctx context.Context, taskID string) error
}

// Backend is everything the client stores need.
type Backend interface {
	Auth
	Profiles
	TaskRows
}
