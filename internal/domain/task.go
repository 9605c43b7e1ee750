package domain

import (
	"slices"
	"time"
)

// TaskStatus represents the Kanban column a task sits in.
type TaskStatus string

// Task statuses. Any status may move to any other.
const (
	TaskStatusTodo      TaskStatus = "todo"
	TaskStatusProgress  TaskStatus = "progress"
	TaskStatusCompleted TaskStatus = "completed"
)

// TaskStatuses lists statuses in board order.
var TaskStatuses = []TaskStatus{TaskStatusTodo, TaskStatusProgress, TaskStatusCompleted}

// IsValid checks if the task status is valid.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusTodo, TaskStatusProgress, TaskStatusCompleted:
		return true
	}
	return false
}

// Task is a unit of work created by an admin and assigned to users.
// StartDate and EndDate are calendar dates (UTC midnight).
type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Unit         string     `json:"unit"`
	Assignees    []string   `json:"assignees"`
	StartDate    time.Time  `json:"start_date"`
	EndDate      time.Time  `json:"end_date"`
	Status       TaskStatus `json:"status"`
	CreatedBy    string     `json:"created_by"`
	Observations string     `json:"observations"`
	CreatedAt    time.Time  `json:"created_at"`
}

// IsAssignedTo reports whether userID is among the task assignees.
func (t *Task) IsAssignedTo(userID string) bool {
	return slices.Contains(t.Assignees, userID)
}

// Clone returns a deep copy so callers never share the assignee slice.
func (t Task) Clone() Task {
	t.Assignees = slices.Clone(t.Assignees)
	if t.Assignees == nil {
		t.Assignees = make([]string, 0)
	}
	return t
}

// Assignment links one task to one user.
type Assignment struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	UserID     string    `json:"user_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

// TaskPatch holds the mutable fields of a task. Nil means "leave unchanged".
// Assignees is applied as a full replacement of the assignment rows.
type TaskPatch struct {
	Title        *string
	Description  *string
	Unit         *string
	StartDate    *time.Time
	EndDate      *time.Time
	Status       *TaskStatus
	Observations *string
	Assignees    *[]string
}

// HasColumns reports whether the patch touches the tasks row itself.
func (p TaskPatch) HasColumns() bool {
	return p.Title != nil || p.Description != nil || p.Unit != nil ||
		p.StartDate != nil || p.EndDate != nil || p.Status != nil ||
		p.Observations != nil
}

// IsEmpty reports whether the patch changes nothing.
func (p TaskPatch) IsEmpty() bool {
	return !p.HasColumns() && p.Assignees == nil
}

// Apply returns a copy of t with the patch applied.
func (p TaskPatch) Apply(t Task) Task {
	t = t.Clone()
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Unit != nil {
		t.Unit = *p.Unit
	}
	if p.StartDate != nil {
		t.StartDate = *p.StartDate
	}
	if p.EndDate != nil {
		t.EndDate = *p.EndDate
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Observations != nil {
		t.Observations = *p.Observations
	}
	if p.Assignees != nil {
		t.Assignees = slices.Clone(*p.Assignees)
	}
	return t
}

// DateOnly truncates t to a UTC calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
