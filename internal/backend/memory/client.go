package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bissquit/task-garden/internal/backend"
	"github.com/bissquit/task-garden/internal/domain"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Op names a backend call for failure injection and call counting.
type Op string

// Backend operations.
const (
	OpSignUp            Op = "sign_up"
	OpSignIn            Op = "sign_in"
	OpSignOut           Op = "sign_out"
	OpSession           Op = "session"
	OpGetProfile        Op = "get_profile"
	OpListProfiles      Op = "list_profiles"
	OpInsertTask        Op = "insert_task"
	OpUpdateTask        Op = "update_task"
	OpDeleteTask        Op = "delete_task"
	OpListByCreator     Op = "list_tasks_by_creator"
	OpListByAssignee    Op = "list_tasks_by_assignee"
	OpInsertAssignments Op = "insert_assignments"
	OpDeleteAssignments Op = "delete_assignments"
)

// Client is one application's connection to a Store. It owns its session.
type Client struct {
	store  *Store
	events *backend.Broadcaster

	mu       sync.Mutex
	session  *backend.Session
	calls    map[Op]int
	failNext map[Op][]error
	failAll  map[Op]error
	hooks    map[Op]func()
}

var _ backend.Backend = (*Client)(nil)

// NewClient creates a client on store.
func (s *Store) NewClient() *Client {
	return &Client{
		store:    s,
		events:   backend.NewBroadcaster(0),
		calls:    make(map[Op]int),
		failNext: make(map[Op][]error),
		failAll:  make(map[Op]error),
		hooks:    make(map[Op]func()),
	}
}

// Close stops auth event delivery.
func (c *Client) Close() {
	c.events.Close()
}

// FailNext makes the next call of op return err.
func (c *Client) FailNext(op Op, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext[op] = append(c.failNext[op], err)
}

// FailAlways makes every call of op return err until ClearFailures.
func (c *Client) FailAlways(op Op, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failAll[op] = err
}

// ClearFailures removes injected failures.
func (c *Client) ClearFailures() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = make(map[Op][]error)
	c.failAll = make(map[Op]error)
}

// OnCall runs hook at the start of every call of op, before failure injection.
func (c *Client) OnCall(op Op, hook func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks[op] = hook
}

// Calls returns how many times op was called.
func (c *Client) Calls(op Op) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// TotalCalls returns the number of backend calls of any kind.
func (c *Client) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	for _, v := range c.calls {
		n += v
	}
	return n
}

func (c *Client) enter(op Op) error {
	c.mu.Lock()
	c.calls[op]++
	hook := c.hooks[op]
	c.mu.Unlock()

	if hook != nil {
		hook()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if queued := c.failNext[op]; len(queued) > 0 {
		c.failNext[op] = queued[1:]
		return queued[0]
	}
	return c.failAll[op]
}

// SignUp creates an account; the profile row follows through the simulated trigger.
func (c *Client) SignUp(_ context.Context, input backend.SignUpInput) (*backend.Account, error) {
	if err := c.enter(OpSignUp); err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(input.Email))
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.MinCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	s := c.store
	s.mu.Lock()
	if _, exists := s.accounts[email]; exists {
		s.mu.Unlock()
		return nil, backend.ErrEmailExists
	}
	acc := &account{id: uuid.NewString(), email: email, passwordHash: hash}
	s.accounts[email] = acc
	if !s.cfg.SkipProfiles {
		s.profiles[acc.id] = &profileRow{
			user: domain.User{
				ID:    acc.id,
				Name:  input.Name,
				Email: email,
				Role:  input.Role,
			},
			missesLeft: s.cfg.ProfileLag,
		}
	}
	autoSignIn := s.cfg.AutoSignIn
	s.mu.Unlock()

	if autoSignIn {
		c.startSession(acc)
	}

	return &backend.Account{ID: acc.id, Email: acc.email}, nil
}

// SignIn verifies credentials and starts a session.
func (c *Client) SignIn(_ context.Context, email, password string) (*backend.Session, error) {
	if err := c.enter(OpSignIn); err != nil {
		return nil, err
	}

	s := c.store
	s.mu.Lock()
	acc, ok := s.accounts[strings.ToLower(strings.TrimSpace(email))]
	s.mu.Unlock()
	if !ok {
		return nil, backend.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(password)); err != nil {
		return nil, backend.ErrInvalidCredentials
	}

	return c.startSession(acc), nil
}

func (c *Client) startSession(acc *account) *backend.Session {
	now := c.store.now()
	session := &backend.Session{
		UserID:      acc.id,
		Email:       acc.email,
		AccessToken: uuid.NewString(),
		ExpiresAt:   now.Add(c.store.cfg.SessionDuration),
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	copied := *session
	c.events.Emit(backend.AuthEvent{Type: backend.AuthEventSignedIn, Session: &copied})
	return session
}

// SignOut drops the session and emits SIGNED_OUT.
func (c *Client) SignOut(_ context.Context) error {
	if err := c.enter(OpSignOut); err != nil {
		return err
	}

	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()

	c.events.Emit(backend.AuthEvent{Type: backend.AuthEventSignedOut})
	return nil
}

// Session returns the current unexpired session or nil.
func (c *Client) Session(_ context.Context) (*backend.Session, error) {
	if err := c.enter(OpSession); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || !c.store.now().Before(c.session.ExpiresAt) {
		return nil, nil
	}
	copied := *c.session
	return &copied, nil
}

// OnAuthStateChange registers an auth listener.
func (c *Client) OnAuthStateChange(listener backend.AuthListener) func() {
	return c.events.Subscribe(listener)
}

// GetProfile returns the profile row, or nil while the trigger has not caught up.
func (c *Client) GetProfile(_ context.Context, id string) (*domain.User, error) {
	if err := c.enter(OpGetProfile); err != nil {
		return nil, err
	}

	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.profiles[id]
	if !ok {
		return nil, nil
	}
	if row.missesLeft > 0 {
		row.missesLeft--
		return nil, nil
	}
	u := row.user
	return &u, nil
}

// ListProfiles returns visible profiles ordered by name.
func (c *Client) ListProfiles(_ context.Context) ([]domain.User, error) {
	if err := c.enter(OpListProfiles); err != nil {
		return nil, err
	}

	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]domain.User, 0, len(s.profiles))
	for _, row := range s.profiles {
		if row.missesLeft > 0 {
			continue
		}
		users = append(users, row.user)
	}
	sortUsers(users)
	return users, nil
}

// InsertTask stores the task row without assignees.
func (c *Client) InsertTask(_ context.Context, task *domain.Task) error {
	if err := c.enter(OpInsertTask); err != nil {
		return err
	}

	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	row := task.Clone()
	row.ID = uuid.NewString()
	row.CreatedAt = s.now()
	row.Assignees = nil
	s.tasks[row.ID] = &taskRow{task: row, seq: s.seq}

	task.ID = row.ID
	task.CreatedAt = row.CreatedAt
	return nil
}

// UpdateTask applies the column part of patch.
func (c *Client) UpdateTask(_ context.Context, id string, patch domain.TaskPatch) error {
	if err := c.enter(OpUpdateTask); err != nil {
		return err
	}

	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.tasks[id]
	if !ok {
		return backend.ErrNotFound
	}
	columns := patch
	columns.Assignees = nil
	row.task = columns.Apply(row.task)
	return nil
}

// DeleteTask removes a task row. Assignment rows must be gone first.
func (c *Client) DeleteTask(_ context.Context, id string) error {
	if err := c.enter(OpDeleteTask); err != nil {
		return err
	}

	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return backend.ErrNotFound
	}
	for _, a := range s.assignments {
		if a.TaskID == id {
			return fmt.Errorf("delete task %s: assignments still reference it: %w", id, backend.ErrConstraint)
		}
	}
	delete(s.tasks, id)
	return nil
}

// ListTasksByCreator returns tasks created by creatorID with their assignees.
func (c *Client) ListTasksByCreator(_ context.Context, creatorID string) ([]domain.Task, error) {
	if err := c.enter(OpListByCreator); err != nil {
		return nil, err
	}

	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.collectLocked(func(row *taskRow) bool {
		return row.task.CreatedBy == creatorID
	}), nil
}

// ListTasksByAssignee returns tasks with an assignment row for userID.
func (c *Client) ListTasksByAssignee(_ context.Context, userID string) ([]domain.Task, error) {
	if err := c.enter(OpListByAssignee); err != nil {
		return nil, err
	}

	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	assigned := make(map[string]bool)
	for _, a := range s.assignments {
		if a.UserID == userID {
			assigned[a.TaskID] = true
		}
	}
	return s.collectLocked(func(row *taskRow) bool {
		return assigned[row.task.ID]
	}), nil
}

// InsertAssignments adds one row per user. The batch is all-or-nothing.
func (c *Client) InsertAssignments(_ context.Context, taskID string, userIDs []string) error {
	if err := c.enter(OpInsertAssignments); err != nil {
		return err
	}
	if len(userIDs) == 0 {
		return nil
	}

	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[taskID]; !ok {
		return fmt.Errorf("insert assignments: task %s: %w", taskID, backend.ErrConstraint)
	}

	existing := make(map[string]bool)
	for _, a := range s.assignments {
		if a.TaskID == taskID {
			existing[a.UserID] = true
		}
	}

	batch := make([]domain.Assignment, 0, len(userIDs))
	for _, userID := range userIDs {
		if _, ok := s.profiles[userID]; !ok {
			return fmt.Errorf("insert assignments: user %s: %w", userID, backend.ErrConstraint)
		}
		if existing[userID] {
			return fmt.Errorf("insert assignments: duplicate user %s: %w", userID, backend.ErrConstraint)
		}
		existing[userID] = true
		batch = append(batch, domain.Assignment{
			ID:         uuid.NewString(),
			TaskID:     taskID,
			UserID:     userID,
			AssignedAt: s.now(),
		})
	}

	s.assignments = append(s.assignments, batch...)
	return nil
}

// DeleteAssignments removes every assignment row of a task.
func (c *Client) DeleteAssignments(_ context.Context, taskID string) error {
	if err := c.enter(OpDeleteAssignments); err != nil {
		return err
	}

	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.assignments[:0]
	for _, a := range s.assignments {
		if a.TaskID != taskID {
			kept = append(kept, a)
		}
	}
	s.assignments = kept
	return nil
}

// Expire forces the current session to be expired.
func (c *Client) Expire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		c.session.ExpiresAt = time.Time{}
	}
}

// ErrInjected is a convenience error for failure injection.
var ErrInjected = errors.New("injected backend failure")
