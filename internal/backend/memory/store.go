// Package memory provides an in-process backend with the same contract as the
// PostgreSQL adapter. Several clients can share one Store, each with its own session.
package memory

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/bissquit/task-garden/internal/domain"
)

// Config tunes the simulated backend.
type Config struct {
	// ProfileLag is the number of profile lookups that miss after sign-up
	// before the profile row becomes visible.
	ProfileLag int
	// SkipProfiles disables the sign-up trigger that creates profile rows.
	SkipProfiles bool
	// AutoSignIn signs the new account in on SignUp.
	AutoSignIn bool
	// SessionDuration bounds session lifetime. Zero means one hour.
	SessionDuration time.Duration
}

type account struct {
	id           string
	email        string
	passwordHash []byte
}

type profileRow struct {
	user       domain.User
	missesLeft int
}

type taskRow struct {
	task domain.Task
	seq  int64
}

// Store holds the shared tables.
type Store struct {
	mu          sync.Mutex
	cfg         Config
	accounts    map[string]*account
	profiles    map[string]*profileRow
	tasks       map[string]*taskRow
	assignments []domain.Assignment
	seq         int64
	now         func() time.Time
}

// NewStore creates an empty store.
func NewStore(cfg Config) *Store {
	if cfg.SessionDuration <= 0 {
		cfg.SessionDuration = time.Hour
	}
	return &Store{
		cfg:      cfg,
		accounts: make(map[string]*account),
		profiles: make(map[string]*profileRow),
		tasks:    make(map[string]*taskRow),
		now:      time.Now,
	}
}

// PutProfile inserts or replaces a visible profile row without an account.
func (s *Store) PutProfile(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[u.ID] = &profileRow{user: u}
}

// AssignmentCount returns the number of assignment rows for a task.
func (s *Store) AssignmentCount(taskID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for _, a := range s.assignments {
		if a.TaskID == taskID {
			n++
		}
	}
	return n
}

// TaskExists reports whether a task row exists.
func (s *Store) TaskExists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[id]
	return ok
}

// assigneesLocked returns the user ids assigned to a task in insertion order.
func (s *Store) assigneesLocked(taskID string) []string {
	ids := make([]string, 0)
	for _, a := range s.assignments {
		if a.TaskID == taskID {
			ids = append(ids, a.UserID)
		}
	}
	return ids
}

func (s *Store) collectLocked(match func(*taskRow) bool) []domain.Task {
	rows := make([]*taskRow, 0)
	for _, row := range s.tasks {
		if match(row) {
			rows = append(rows, row)
		}
	}
	slices.SortFunc(rows, func(a, b *taskRow) int {
		return cmp.Compare(a.seq, b.seq)
	})

	out := make([]domain.Task, 0, len(rows))
	for _, row := range rows {
		t := row.task.Clone()
		t.Assignees = s.assigneesLocked(t.ID)
		out = append(out, t)
	}
	return out
}
