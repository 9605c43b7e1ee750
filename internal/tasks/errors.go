package tasks

import "errors"

// Task store errors.
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidTask      = errors.New("invalid task")
	ErrNoAssignees      = errors.New("task must have at least one assignee")
	ErrInvalidDateRange = errors.New("end date is before start date")
	ErrTaskNotFound     = errors.New("task not found")
	// ErrPartialWrite means an earlier step of a multi-step write reached the
	// backend before a later step failed.
	ErrPartialWrite = errors.New("partial write")
)
