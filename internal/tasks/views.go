package tasks

import (
	"cmp"
	"slices"
	"strings"

	"github.com/bissquit/task-garden/internal/domain"
	"golang.org/x/text/cases"
)

// Tasks returns a copy of the visible set.
func (s *Store) Tasks() []domain.Task {
	return s.filter(func(domain.Task) bool { return true })
}

// GetByID returns the visible task with id.
func (s *Store) GetByID(id string) (domain.Task, bool) {
	for _, t := range s.state.Get().Tasks {
		if t.ID == id {
			return t.Clone(), true
		}
	}
	return domain.Task{}, false
}

// GetByStatus returns the visible tasks in one status.
func (s *Store) GetByStatus(status domain.TaskStatus) []domain.Task {
	return s.filter(func(t domain.Task) bool { return t.Status == status })
}

// GetVisibleByStatus is GetByStatus; the local set is already scoped to the identity.
func (s *Store) GetVisibleByStatus(status domain.TaskStatus) []domain.Task {
	return s.GetByStatus(status)
}

// Search returns tasks whose title, description or unit contains term,
// ignoring case. An empty term matches everything.
func (s *Store) Search(term string) []domain.Task {
	fold := cases.Fold()
	needle := fold.String(strings.TrimSpace(term))
	if needle == "" {
		return s.Tasks()
	}
	return s.filter(func(t domain.Task) bool {
		return strings.Contains(fold.String(t.Title), needle) ||
			strings.Contains(fold.String(t.Description), needle) ||
			strings.Contains(fold.String(t.Unit), needle)
	})
}

// Column is one Kanban column.
type Column struct {
	Status domain.TaskStatus `json:"status"`
	Tasks  []domain.Task     `json:"tasks"`
}

// Board groups the visible set into columns in board order.
func (s *Store) Board() []Column {
	tasks := s.state.Get().Tasks
	columns := make([]Column, 0, len(domain.TaskStatuses))
	for _, status := range domain.TaskStatuses {
		col := Column{Status: status, Tasks: make([]domain.Task, 0)}
		for _, t := range tasks {
			if t.Status == status {
				col.Tasks = append(col.Tasks, t.Clone())
			}
		}
		columns = append(columns, col)
	}
	return columns
}

// UserProgress counts one assignee's tasks.
type UserProgress struct {
	UserID    string `json:"user_id"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
}

// Stats summarizes the visible set for the dashboard.
type Stats struct {
	Total    int                       `json:"total"`
	ByStatus map[domain.TaskStatus]int `json:"by_status"`
	PerUser  []UserProgress            `json:"per_user"`
}

// Stats counts tasks per status and per assignee. Users without tasks are
// omitted; PerUser is ordered by total descending.
func (s *Store) Stats() Stats {
	tasks := s.state.Get().Tasks

	stats := Stats{
		Total:    len(tasks),
		ByStatus: make(map[domain.TaskStatus]int, len(domain.TaskStatuses)),
		PerUser:  make([]UserProgress, 0),
	}
	for _, status := range domain.TaskStatuses {
		stats.ByStatus[status] = 0
	}

	index := make(map[string]int)
	for _, t := range tasks {
		stats.ByStatus[t.Status]++
		for _, userID := range t.Assignees {
			i, ok := index[userID]
			if !ok {
				i = len(stats.PerUser)
				index[userID] = i
				stats.PerUser = append(stats.PerUser, UserProgress{UserID: userID})
			}
			stats.PerUser[i].Total++
			if t.Status == domain.TaskStatusCompleted {
				stats.PerUser[i].Completed++
			}
		}
	}

	slices.SortStableFunc(stats.PerUser, func(a, b UserProgress) int {
		if c := cmp.Compare(b.Total, a.Total); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	return stats
}

// Recent returns up to n tasks, newest first.
func (s *Store) Recent(n int) []domain.Task {
	tasks := s.Tasks()
	slices.SortStableFunc(tasks, func(a, b domain.Task) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if n >= 0 && len(tasks) > n {
		tasks = tasks[:n]
	}
	return tasks
}

func (s *Store) filter(match func(domain.Task) bool) []domain.Task {
	tasks := s.state.Get().Tasks
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if match(t) {
			out = append(out, t.Clone())
		}
	}
	return out
}
