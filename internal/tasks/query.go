package tasks

import (
	"context"

	"github.com/bissquit/task-garden/internal/backend"
	"github.com/bissquit/task-garden/internal/domain"
)

// VisibilityQuery loads the tasks one identity may see.
type VisibilityQuery interface {
	Name() string
	Load(ctx context.Context, rows backend.TaskRows) ([]domain.Task, error)
}

// CreatedBy is the admin path: tasks the admin created, whoever they are assigned to.
type CreatedBy struct {
	AdminID string
}

// Name implements VisibilityQuery.
func (CreatedBy) Name() string { return "created_by" }

// Load implements VisibilityQuery.
func (q CreatedBy) Load(ctx context.Context, rows backend.TaskRows) ([]domain.Task, error) {
	return rows.ListTasksByCreator(ctx, q.AdminID)
}

// AssignedTo is the user path: tasks with an assignment row for the user.
type AssignedTo struct {
	UserID string
}

// Name implements VisibilityQuery.
func (AssignedTo) Name() string { return "assigned_to" }

// Load implements VisibilityQuery.
func (q AssignedTo) Load(ctx context.Context, rows backend.TaskRows) ([]domain.Task, error) {
	return rows.ListTasksByAssignee(ctx, q.UserID)
}

// QueryFor picks the visibility query for an identity. Anonymous identities get none.
func QueryFor(u *domain.User) VisibilityQuery {
	switch {
	case u == nil:
		return nil
	case u.IsAdmin():
		return CreatedBy{AdminID: u.ID}
	default:
		return AssignedTo{UserID: u.ID}
	}
}
