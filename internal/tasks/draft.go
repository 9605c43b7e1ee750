package tasks

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/bissquit/task-garden/internal/domain"
	"github.com/go-playground/validator/v10"
)

// Draft is the data needed to create a task.
type Draft struct {
	Title        string            `json:"title" validate:"required,max=255"`
	Description  string            `json:"description"`
	Unit         string            `json:"unit" validate:"max=255"`
	Assignees    []string          `json:"assignees" validate:"required,min=1,unique,dive,required"`
	StartDate    time.Time         `json:"start_date" validate:"required"`
	EndDate      time.Time         `json:"end_date" validate:"required"`
	Status       domain.TaskStatus `json:"status" validate:"omitempty,oneof=todo progress completed"`
	Observations string            `json:"observations"`
}

// validateDraft checks a draft and returns the task it describes.
func validateDraft(v *validator.Validate, d Draft) (domain.Task, error) {
	if err := v.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				if fe.StructField() == "Assignees" && (fe.Tag() == "required" || fe.Tag() == "min") {
					return domain.Task{}, fmt.Errorf("%w: %w", ErrInvalidTask, ErrNoAssignees)
				}
			}
		}
		return domain.Task{}, fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}

	start := domain.DateOnly(d.StartDate)
	end := domain.DateOnly(d.EndDate)
	if end.Before(start) {
		return domain.Task{}, fmt.Errorf("%w: %w", ErrInvalidTask, ErrInvalidDateRange)
	}

	status := d.Status
	if status == "" {
		status = domain.TaskStatusTodo
	}

	return domain.Task{
		Title:        d.Title,
		Description:  d.Description,
		Unit:         d.Unit,
		Assignees:    slices.Clone(d.Assignees),
		StartDate:    start,
		EndDate:      end,
		Status:       status,
		Observations: d.Observations,
	}, nil
}

// normalizePatch validates a patch and returns it with dates truncated and
// assignees de-duplicated. current is the locally known task, if any.
func normalizePatch(p domain.TaskPatch, current *domain.Task) (domain.TaskPatch, error) {
	if p.IsEmpty() {
		return p, fmt.Errorf("%w: nothing to update", ErrInvalidTask)
	}
	if p.Title != nil && *p.Title == "" {
		return p, fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	if p.Status != nil && !p.Status.IsValid() {
		return p, fmt.Errorf("%w: unknown status %q", ErrInvalidTask, *p.Status)
	}

	if p.StartDate != nil {
		d := domain.DateOnly(*p.StartDate)
		p.StartDate = &d
	}
	if p.EndDate != nil {
		d := domain.DateOnly(*p.EndDate)
		p.EndDate = &d
	}

	var start, end *time.Time
	if current != nil {
		start, end = &current.StartDate, &current.EndDate
	}
	if p.StartDate != nil {
		start = p.StartDate
	}
	if p.EndDate != nil {
		end = p.EndDate
	}
	if (p.StartDate != nil || p.EndDate != nil) && start != nil && end != nil && end.Before(*start) {
		return p, fmt.Errorf("%w: %w", ErrInvalidTask, ErrInvalidDateRange)
	}

	if p.Assignees != nil {
		seen := make(map[string]bool, len(*p.Assignees))
		ids := make([]string, 0, len(*p.Assignees))
		for _, id := range *p.Assignees {
			if id == "" {
				return p, fmt.Errorf("%w: empty assignee id", ErrInvalidTask)
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			return p, fmt.Errorf("%w: %w", ErrInvalidTask, ErrNoAssignees)
		}
		p.Assignees = &ids
	}

	return p, nil
}
