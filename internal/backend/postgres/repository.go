// Package postgres provides the PostgreSQL implementation of the backend.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bissquit/task-garden/internal/backend"
	"github.com/bissquit/task-garden/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQL error codes the adapter translates.
const (
	codeInvalidText      = "22P02"
	codeForeignKey       = "23503"
	codeUniqueViolation  = "23505"
	codeCheckViolation   = "23514"
	codeNotNullViolation = "23502"
)

// Repository implements backend.Profiles and backend.TaskRows.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// translate maps constraint failures to backend sentinels.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeForeignKey, codeUniqueViolation, codeCheckViolation, codeNotNullViolation:
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, backend.ErrConstraint)
	case codeInvalidText:
		return backend.ErrNotFound
	}
	return err
}

// GetProfile returns the profile row, or nil when it does not exist yet.
func (r *Repository) GetProfile(ctx context.Context, id string) (*domain.User, error) {
	query := `
		SELECT id::text, name, email, role, COALESCE(avatar, '')
		FROM profiles
		WHERE id = $1
	`
	var u domain.User
	err := r.db.QueryRow(ctx, query, id).Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Avatar)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(translate(err), backend.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &u, nil
}

// ListProfiles returns every profile ordered by name.
func (r *Repository) ListProfiles(ctx context.Context) ([]domain.User, error) {
	query := `
		SELECT id::text, name, email, role, COALESCE(avatar, '')
		FROM profiles
		ORDER BY name, id
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Avatar); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return users, nil
}

// InsertTask stores the task row. Assignees are written separately.
func (r *Repository) InsertTask(ctx context.Context, task *domain.Task) error {
	query := `
		INSERT INTO tasks (title, description, unit, start_date, end_date, status, created_by, observations)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id::text, created_at
	`
	err := r.db.QueryRow(ctx, query,
		task.Title,
		task.Description,
		task.Unit,
		task.StartDate,
		task.EndDate,
		task.Status,
		task.CreatedBy,
		task.Observations,
	).Scan(&task.ID, &task.CreatedAt)

	if err != nil {
		return fmt.Errorf("insert task: %w", translate(err))
	}
	return nil
}

// UpdateTask applies the column part of patch.
func (r *Repository) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) error {
	sets := make([]string, 0, 8)
	args := []any{id}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Unit != nil {
		add("unit", *patch.Unit)
	}
	if patch.StartDate != nil {
		add("start_date", *patch.StartDate)
	}
	if patch.EndDate != nil {
		add("end_date", *patch.EndDate)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.Observations != nil {
		add("observations", *patch.Observations)
	}
	sets = append(sets, "updated_at = NOW()")

	query := `UPDATE tasks SET ` + strings.Join(sets, ", ") + ` WHERE id = $1`
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		if errors.Is(translate(err), backend.ErrNotFound) {
			return backend.ErrNotFound
		}
		return fmt.Errorf("update task: %w", translate(err))
	}
	if result.RowsAffected() == 0 {
		return backend.ErrNotFound
	}
	return nil
}

// DeleteTask deletes the task row. Assignment rows must be removed first.
func (r *Repository) DeleteTask(ctx context.Context, id string) error {
	result, err := r.db.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		if errors.Is(translate(err), backend.ErrNotFound) {
			return backend.ErrNotFound
		}
		return fmt.Errorf("delete task: %w", translate(err))
	}
	if result.RowsAffected() == 0 {
		return backend.ErrNotFound
	}
	return nil
}

const taskColumns = `
	t.id::text, t.title, t.description, t.unit, t.start_date, t.end_date,
	t.status, t.created_by::text, t.observations, t.created_at,
	COALESCE(
		array_agg(a.user_id::text ORDER BY a.assigned_at, a.id) FILTER (WHERE a.user_id IS NOT NULL),
		'{}'::text[]
	) AS assignees
`

// ListTasksByCreator filters directly on created_by.
func (r *Repository) ListTasksByCreator(ctx context.Context, creatorID string) ([]domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks t
		LEFT JOIN task_assignments a ON a.task_id = t.id
		WHERE t.created_by = $1
		GROUP BY t.id
		ORDER BY t.created_at, t.id
	`
	return r.listTasks(ctx, "list tasks by creator", query, creatorID)
}

// ListTasksByAssignee inner-joins the caller's assignment rows and aggregates
// the full assignee list from a second join.
func (r *Repository) ListTasksByAssignee(ctx context.Context, userID string) ([]domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks t
		INNER JOIN task_assignments mine ON mine.task_id = t.id AND mine.user_id = $1
		LEFT JOIN task_assignments a ON a.task_id = t.id
		GROUP BY t.id
		ORDER BY t.created_at, t.id
	`
	return r.listTasks(ctx, "list tasks by assignee", query, userID)
}

func (r *Repository) listTasks(ctx context.Context, op, query, arg string) ([]domain.Task, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		if errors.Is(translate(err), backend.ErrNotFound) {
			return make([]domain.Task, 0), nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	tasks := make([]domain.Task, 0)
	for rows.Next() {
		var t domain.Task
		err := rows.Scan(
			&t.ID,
			&t.Title,
			&t.Description,
			&t.Unit,
			&t.StartDate,
			&t.EndDate,
			&t.Status,
			&t.CreatedBy,
			&t.Observations,
			&t.CreatedAt,
			&t.Assignees,
		)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.StartDate = domain.DateOnly(t.StartDate)
		t.EndDate = domain.DateOnly(t.EndDate)
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		if errors.Is(translate(err), backend.ErrNotFound) {
			return make([]domain.Task, 0), nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return tasks, nil
}

// InsertAssignments writes all rows in one statement, so the batch is all-or-nothing.
func (r *Repository) InsertAssignments(ctx context.Context, taskID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	query := `
		INSERT INTO task_assignments (task_id, user_id)
		SELECT $1, u.user_id
		FROM unnest($2::uuid[]) WITH ORDINALITY AS u(user_id, ord)
		ORDER BY u.ord
	`
	if _, err := r.db.Exec(ctx, query, taskID, userIDs); err != nil {
		return fmt.Errorf("insert assignments: %w", translate(err))
	}
	return nil
}

// DeleteAssignments removes every assignment row of a task.
func (r *Repository) DeleteAssignments(ctx context.Context, taskID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM task_assignments WHERE task_id = $1`, taskID); err != nil {
		if errors.Is(translate(err), backend.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("delete assignments: %w", err)
	}
	return nil
}
