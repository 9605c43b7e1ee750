//go:build integration

package postgres

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/bissquit/task-garden/internal/backend"
	"github.com/bissquit/task-garden/internal/domain"
	"github.com/bissquit/task-garden/internal/testutil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testDB *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	pgContainer, err := testutil.NewMigratedPostgresContainer(ctx)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}

	testDB, err = pgxpool.New(ctx, pgContainer.ConnectionString)
	if err != nil {
		log.Fatalf("create test db pool: %v", err)
	}

	code := m.Run()

	testDB.Close()
	if err := pgContainer.Terminate(ctx); err != nil {
		log.Printf("terminate postgres: %v", err)
	}
	os.Exit(code)
}

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b := New(testDB, AuthConfig{Secret: "test-secret", BcryptCost: bcrypt.MinCost})
	t.Cleanup(b.Close)
	return b
}

func uniqueEmail(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8] + "@example.com"
}

func signUp(t *testing.T, b *Backend, role domain.Role) string {
	t.Helper()
	acc, err := b.SignUp(context.Background(), backend.SignUpInput{
		Email:    uniqueEmail(string(role)),
		Password: "secret123",
		Name:     "Test " + string(role),
		Role:     role,
	})
	require.NoError(t, err)
	return acc.ID
}

func TestBackend_SignUpTriggerCreatesProfile(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	email := uniqueEmail("ana")
	acc, err := b.SignUp(ctx, backend.SignUpInput{
		Email:    email,
		Password: "secret123",
		Name:     "Ana",
		Role:     domain.RoleAdmin,
	})
	require.NoError(t, err)

	profile, err := b.GetProfile(ctx, acc.ID)
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "Ana", profile.Name)
	assert.Equal(t, domain.RoleAdmin, profile.Role)

	_, err = b.SignUp(ctx, backend.SignUpInput{Email: email, Password: "x"})
	assert.ErrorIs(t, err, backend.ErrEmailExists)

	missing, err := b.GetProfile(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)

	malformed, err := b.GetProfile(ctx, "not-a-uuid")
	require.NoError(t, err)
	assert.Nil(t, malformed)
}

func TestBackend_SignInSession(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	email := uniqueEmail("u")
	_, err := b.SignUp(ctx, backend.SignUpInput{Email: email, Password: "secret123", Name: "U", Role: domain.RoleUser})
	require.NoError(t, err)

	events := make(chan backend.AuthEvent, 2)
	b.OnAuthStateChange(func(ev backend.AuthEvent) { events <- ev })

	_, err = b.SignIn(ctx, email, "wrong")
	assert.ErrorIs(t, err, backend.ErrInvalidCredentials)

	session, err := b.SignIn(ctx, email, "secret123")
	require.NoError(t, err)

	current, err := b.Session(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, session.UserID, current.UserID)

	select {
	case ev := <-events:
		assert.Equal(t, backend.AuthEventSignedIn, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no sign-in event")
	}
}

func TestRepository_VisibilityQueries(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	admin := signUp(t, b, domain.RoleAdmin)
	otherAdmin := signUp(t, b, domain.RoleAdmin)
	u1 := signUp(t, b, domain.RoleUser)
	u2 := signUp(t, b, domain.RoleUser)

	start := domain.DateOnly(time.Now())
	mine := &domain.Task{
		Title:     "mine",
		Unit:      "TI",
		StartDate: start,
		EndDate:   start.AddDate(0, 0, 3),
		Status:    domain.TaskStatusTodo,
		CreatedBy: admin,
	}
	require.NoError(t, b.InsertTask(ctx, mine))
	require.NoError(t, b.InsertAssignments(ctx, mine.ID, []string{u1, u2}))

	theirs := &domain.Task{
		Title:     "theirs",
		StartDate: start,
		EndDate:   start,
		Status:    domain.TaskStatusProgress,
		CreatedBy: otherAdmin,
	}
	require.NoError(t, b.InsertTask(ctx, theirs))
	require.NoError(t, b.InsertAssignments(ctx, theirs.ID, []string{u2}))

	byCreator, err := b.ListTasksByCreator(ctx, admin)
	require.NoError(t, err)
	require.Len(t, byCreator, 1)
	assert.Equal(t, mine.ID, byCreator[0].ID)
	assert.ElementsMatch(t, []string{u1, u2}, byCreator[0].Assignees)
	assert.True(t, start.Equal(byCreator[0].StartDate))

	byU1, err := b.ListTasksByAssignee(ctx, u1)
	require.NoError(t, err)
	require.Len(t, byU1, 1)
	assert.ElementsMatch(t, []string{u1, u2}, byU1[0].Assignees, "user path must return the full assignee list")

	byU2, err := b.ListTasksByAssignee(ctx, u2)
	require.NoError(t, err)
	assert.Len(t, byU2, 2)

	orphan := &domain.Task{Title: "orphan", StartDate: start, EndDate: start, Status: domain.TaskStatusTodo, CreatedBy: admin}
	require.NoError(t, b.InsertTask(ctx, orphan))
	byCreator, err = b.ListTasksByCreator(ctx, admin)
	require.NoError(t, err)
	require.Len(t, byCreator, 2)
	assert.Empty(t, byCreator[1].Assignees)
}

func TestRepository_UpdateReplaceDelete(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	admin := signUp(t, b, domain.RoleAdmin)
	u1 := signUp(t, b, domain.RoleUser)
	u2 := signUp(t, b, domain.RoleUser)

	start := domain.DateOnly(time.Now())
	task := &domain.Task{Title: "t", StartDate: start, EndDate: start, Status: domain.TaskStatusTodo, CreatedBy: admin}
	require.NoError(t, b.InsertTask(ctx, task))
	require.NoError(t, b.InsertAssignments(ctx, task.ID, []string{u1, u2}))

	status := domain.TaskStatusCompleted
	require.NoError(t, b.UpdateTask(ctx, task.ID, domain.TaskPatch{Status: &status}))

	require.NoError(t, b.DeleteAssignments(ctx, task.ID))
	require.NoError(t, b.InsertAssignments(ctx, task.ID, []string{u2}))

	tasks, err := b.ListTasksByCreator(ctx, admin)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.TaskStatusCompleted, tasks[0].Status)
	assert.Equal(t, []string{u2}, tasks[0].Assignees)

	err = b.DeleteTask(ctx, task.ID)
	assert.ErrorIs(t, err, backend.ErrConstraint, "assignments still reference the task")

	require.NoError(t, b.DeleteAssignments(ctx, task.ID))
	require.NoError(t, b.DeleteTask(ctx, task.ID))

	assert.ErrorIs(t, b.DeleteTask(ctx, task.ID), backend.ErrNotFound)
	assert.ErrorIs(t, b.UpdateTask(ctx, task.ID, domain.TaskPatch{Status: &status}), backend.ErrNotFound)
}

func TestRepository_InsertAssignmentsAllOrNothing(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	admin := signUp(t, b, domain.RoleAdmin)
	u1 := signUp(t, b, domain.RoleUser)

	start := domain.DateOnly(time.Now())
	task := &domain.Task{Title: "t", StartDate: start, EndDate: start, Status: domain.TaskStatusTodo, CreatedBy: admin}
	require.NoError(t, b.InsertTask(ctx, task))

	err := b.InsertAssignments(ctx, task.ID, []string{u1, uuid.NewString()})
	assert.ErrorIs(t, err, backend.ErrConstraint)

	tasks, err := b.ListTasksByCreator(ctx, admin)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Empty(t, tasks[0].Assignees)
}
