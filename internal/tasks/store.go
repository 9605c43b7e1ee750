// Package tasks holds the client-side view of the tasks visible to the current
// identity and translates writes into backend commands.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bissquit/task-garden/internal/backend"
	"github.com/bissquit/task-garden/internal/domain"
	"github.com/bissquit/task-garden/internal/notify"
	"github.com/bissquit/task-garden/internal/pkg/ctxlog"
	"github.com/bissquit/task-garden/internal/pkg/metrics"
	"github.com/bissquit/task-garden/internal/pkg/observable"
	"github.com/go-playground/validator/v10"
)

const storeName = "tasks"

// Snapshot is the observable task state.
type Snapshot struct {
	Tasks   []domain.Task `json:"tasks"`
	UserID  string        `json:"user_id,omitempty"`
	Loaded  bool          `json:"loaded"`
	Loading bool          `json:"loading"`
	// Saving is set while at least one write is in flight.
	Saving bool `json:"saving"`
}

// Config contains task store settings.
type Config struct {
	// CompensateOrphans deletes a freshly inserted task row when its
	// assignment insert fails.
	CompensateOrphans bool
}

// IdentitySource provides the current identity and its changes.
type IdentitySource interface {
	CurrentUser() *domain.User
	SubscribeIdentity(fn func(*domain.User)) func()
}

// Store exclusively owns the visible task collection.
type Store struct {
	rows      backend.TaskRows
	notifier  notify.Notifier
	cfg       Config
	validator *validator.Validate
	state     *observable.Value[Snapshot]

	mu         sync.Mutex
	identity   *domain.User
	generation uint64
	loadSeq    uint64
	appliedSeq uint64
	writes     int
	wg         sync.WaitGroup
}

// NewStore creates a task store with no identity.
func NewStore(rows backend.TaskRows, notifier notify.Notifier, cfg Config) *Store {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Store{
		rows:      rows,
		notifier:  notifier,
		cfg:       cfg,
		validator: validator.New(),
		state:     observable.New(Snapshot{Tasks: make([]domain.Task, 0)}),
	}
}

// Follow reloads the visible set on every identity change of source. The
// returned func stops following and waits for loads it started.
func (s *Store) Follow(ctx context.Context, source IdentitySource) func() {
	var (
		followMu sync.Mutex
		stopped  bool
	)
	unsubscribe := source.SubscribeIdentity(func(u *domain.User) {
		followMu.Lock()
		defer followMu.Unlock()
		if stopped {
			return
		}
		s.setIdentity(u)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_ = s.Load(ctx)
		}()
	})

	s.setIdentity(source.CurrentUser())
	_ = s.Load(ctx)

	return func() {
		unsubscribe()
		followMu.Lock()
		stopped = true
		followMu.Unlock()
		s.wg.Wait()
	}
}

// SetIdentity switches the identity and reloads the visible set.
func (s *Store) SetIdentity(ctx context.Context, u *domain.User) error {
	s.setIdentity(u)
	return s.Load(ctx)
}

func (s *Store) setIdentity(u *domain.User) {
	var copied *domain.User
	if u != nil {
		c := *u
		copied = &c
	}

	s.mu.Lock()
	s.identity = copied
	s.generation++
	s.mu.Unlock()
}

func (s *Store) current() (*domain.User, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return nil, s.generation
	}
	u := *s.identity
	return &u, s.generation
}

// Load re-runs the visibility query for the current identity. Anonymous
// identities get an empty set without a backend call. A failed load resolves
// to an empty set as well.
func (s *Store) Load(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreOp(storeName, "load", start, err) }()

	u, generation := s.current()

	s.mu.Lock()
	s.loadSeq++
	seq := s.loadSeq
	s.mu.Unlock()

	query := QueryFor(u)
	if query == nil {
		s.applyLoad(generation, seq, nil, make([]domain.Task, 0))
		return nil
	}

	s.state.Update(func(snap Snapshot) Snapshot {
		snap.Loading = true
		return snap
	})

	logger := ctxlog.FromContext(ctx).With("user_id", u.ID, "query", query.Name())

	loaded, err := query.Load(ctx, s.rows)
	if err != nil {
		visibilityLoads.WithLabelValues(query.Name(), metrics.ResultError).Inc()
		logger.Warn("load tasks failed", "error", err)
		if s.applyLoad(generation, seq, u, make([]domain.Task, 0)) {
			s.notifier.Notify(ctx, notify.LevelWarning, notify.KeyTasksLoadFailed)
		}
		return fmt.Errorf("load tasks: %w", err)
	}
	visibilityLoads.WithLabelValues(query.Name(), metrics.ResultOK).Inc()

	if !s.applyLoad(generation, seq, u, loaded) {
		logger.Debug("discarded load for previous identity")
	}
	return nil
}

// applyLoad installs a load result only if the identity that requested it is
// still current and no newer load has been applied.
func (s *Store) applyLoad(generation, seq uint64, u *domain.User, loaded []domain.Task) bool {
	applied := s.state.UpdateIf(func(snap Snapshot) (Snapshot, bool) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if generation != s.generation || seq < s.appliedSeq {
			return snap, false
		}
		s.appliedSeq = seq

		tasks := make([]domain.Task, 0, len(loaded))
		for _, t := range loaded {
			tasks = append(tasks, t.Clone())
		}
		snap.Tasks = tasks
		snap.UserID = ""
		if u != nil {
			snap.UserID = u.ID
		}
		snap.Loaded = true
		snap.Loading = false
		return snap, true
	})

	if applied {
		tasksLoaded.Set(float64(len(loaded)))
	} else {
		discardedLoads.Inc()
	}
	return applied
}

// Create inserts a task and its assignment rows, then reloads. Only admins may create.
func (s *Store) Create(ctx context.Context, draft Draft) error {
	_, err := s.CreateTask(ctx, draft)
	return err
}

// CreateTask is Create returning the stored task.
func (s *Store) CreateTask(ctx context.Context, draft Draft) (_ domain.Task, err error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreOp(storeName, "create", start, err) }()

	u, _ := s.current()
	if u == nil {
		s.notifier.Notify(ctx, notify.LevelError, notify.KeyTasksNotAuthenticated)
		return domain.Task{}, ErrNotAuthenticated
	}
	if !u.IsAdmin() {
		s.notifier.Notify(ctx, notify.LevelError, notify.KeyTasksCreateForbidden)
		return domain.Task{}, fmt.Errorf("create task: %w", ErrPermissionDenied)
	}

	task, err := validateDraft(s.validator, draft)
	if err != nil {
		s.notifyInvalid(ctx, err)
		return domain.Task{}, err
	}
	task.CreatedBy = u.ID

	done := s.beginWrite()
	defer done()

	logger := ctxlog.FromContext(ctx).With("user_id", u.ID)

	if err := s.rows.InsertTask(ctx, &task); err != nil {
		logger.Error("insert task failed", "error", err)
		s.notifier.Notify(ctx, notify.LevelError, notify.KeyTasksCreateFailed)
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	logger = logger.With("task_id", task.ID)

	if err := s.rows.InsertAssignments(ctx, task.ID, task.Assignees); err != nil {
		logger.Error("insert assignments failed", "error", err)
		if s.cfg.CompensateOrphans {
			s.compensateOrphan(ctx, task.ID)
		} else {
			logger.Warn("task row left without assignees")
		}
		s.notifier.Notify(ctx, notify.LevelError, notify.KeyTasksCreateFailed)
		return domain.Task{}, fmt.Errorf("%w: insert assignments: %w", ErrPartialWrite, err)
	}

	logger.Info("task created", "assignees", len(task.Assignees))
	s.notifier.Notify(ctx, notify.LevelSuccess, notify.KeyTasksCreated)
	_ = s.Load(ctx)
	if stored, ok := s.GetByID(task.ID); ok {
		return stored, nil
	}
	return task, nil
}

func (s *Store) compensateOrphan(ctx context.Context, taskID string) {
	logger := ctxlog.FromContext(ctx).With("task_id", taskID)

	// The failed batch may have been partly written by a non-atomic backend.
	if err := s.rows.DeleteAssignments(ctx, taskID); err != nil {
		logger.Error("compensating assignment delete failed", "error", err)
	}
	if err := s.rows.DeleteTask(ctx, taskID); err != nil {
		orphansCompensated.WithLabelValues(metrics.ResultError).Inc()
		logger.Error("orphaned task could not be removed", "error", err)
		return
	}
	orphansCompensated.WithLabelValues(metrics.ResultOK).Inc()
	logger.Info("orphaned task removed")
}

// Update writes any subset of mutable fields and reloads. Assignees, when
// present, replace the whole assignment set.
func (s *Store) Update(ctx context.Context, id string, patch domain.TaskPatch) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreOp(storeName, "update", start, err) }()

	u, _ := s.current()
	if u == nil {
		s.notifier.Notify(ctx, notify.LevelError, notify.KeyTasksNotAuthenticated)
		return ErrNotAuthenticated
	}

	var current *domain.Task
	if t, ok := s.GetByID(id); ok {
		current = &t
	}

	patch, err = normalizePatch(patch, current)
	if err != nil {
		s.notifyInvalid(ctx, err)
		return err
	}

	done := s.beginWrite()
	defer done()

	logger := ctxlog.FromContext(ctx).With("user_id", u.ID, "task_id", id)
	wrote := false

	fail := func(step string, err error) error {
		logger.Error("update task failed", "step", step, "error", err)
		if errors.Is(err, backend.ErrNotFound) {
			s.notifier.Notify(ctx, notify.LevelError, notify.KeyTasksNotFound)
			err = fmt.Errorf("%s: %w", step, ErrTaskNotFound)
		} else {
			s.notifier.Notify(ctx, notify.LevelError, notify.KeyTasksUpdateFailed)
			err = fmt.Errorf("%s: %w", step, err)
		}
		if wrote {
			return fmt.Errorf("%w: %w", ErrPartialWrite, err)
		}
		return err
	}

	if patch.HasColumns() {
		if err := s.rows.UpdateTask(ctx, id, patch); err != nil {
			return fail("update task", err)
		}
		wrote = true
	}

	if patch.Assignees != nil {
		if err := s.rows.DeleteAssignments(ctx, id); err != nil {
			return fail("delete assignments", err)
		}
		wrote = true
		if err := s.rows.InsertAssignments(ctx, id, *patch.Assignees); err != nil {
			return fail("insert assignments", err)
		}
	}

	s.notifier.Notify(ctx, notify.LevelSuccess, notify.KeyTasksUpdated)
	_ = s.Load(ctx)
	return nil
}

// UpdateStatus moves a task to another column. Any status may follow any other.
func (s *Store) UpdateStatus(ctx context.Context, id string, status domain.TaskStatus) error {
	return s.Update(ctx, id, domain.TaskPatch{Status: &status})
}

// Delete removes the assignment rows, then the task row, then the local copy.
// Only admins may delete.
func (s *Store) Delete(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreOp(storeName, "delete", start, err) }()

	u, generation := s.current()
	if u == nil {
		s.notifier.Notify(ctx, notify.LevelError, notify.KeyTasksNotAuthenticated)
		return ErrNotAuthenticated
	}
	if !u.IsAdmin() {
		s.notifier.Notify(ctx, notify.LevelError, notify.KeyTasksDeleteForbidden)
		return fmt.Errorf("delete task: %w", ErrPermissionDenied)
	}

	done := s.beginWrite()
	defer done()

	logger := ctxlog.FromContext(ctx).With("user_id", u.ID, "task_id", id)

	if err := s.rows.DeleteAssignments(ctx, id); err != nil {
		logger.Error("delete assignments failed", "error", err)
		s.notifier.Notify(ctx, notify.LevelError, notify.KeyTasksDeleteFailed)
		return fmt.Errorf("delete assignments: %w", err)
	}

	if err := s.rows.DeleteTask(ctx, id); err != nil {
		logger.Error("delete task failed", "error", err)
		if errors.Is(err, backend.ErrNotFound) {
			s.notifier.Notify(ctx, notify.LevelError, notify.KeyTasksNotFound)
			return fmt.Errorf("delete task: %w", ErrTaskNotFound)
		}
		s.notifier.Notify(ctx, notify.LevelError, notify.KeyTasksDeleteFailed)
		return fmt.Errorf("%w: delete task: %w", ErrPartialWrite, err)
	}

	s.state.UpdateIf(func(snap Snapshot) (Snapshot, bool) {
		s.mu.Lock()
		stale := generation != s.generation
		s.mu.Unlock()
		if stale {
			return snap, false
		}
		snap.Tasks = slices.DeleteFunc(slices.Clone(snap.Tasks), func(t domain.Task) bool {
			return t.ID == id
		})
		return snap, true
	})
	tasksLoaded.Set(float64(len(s.state.Get().Tasks)))

	logger.Info("task deleted")
	s.notifier.Notify(ctx, notify.LevelSuccess, notify.KeyTasksDeleted)
	return nil
}

func (s *Store) beginWrite() func() {
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
	s.publishSaving()

	return func() {
		s.mu.Lock()
		s.writes--
		s.mu.Unlock()
		s.publishSaving()
	}
}

func (s *Store) publishSaving() {
	s.state.UpdateIf(func(snap Snapshot) (Snapshot, bool) {
		s.mu.Lock()
		saving := s.writes > 0
		s.mu.Unlock()
		if snap.Saving == saving {
			return snap, false
		}
		snap.Saving = saving
		return snap, true
	})
}

func (s *Store) notifyInvalid(ctx context.Context, err error) {
	switch {
	case errors.Is(err, ErrNoAssignees):
		s.notifier.Notify(ctx, notify.LevelError, notify.KeyTasksNoAssignees)
	case errors.Is(err, ErrInvalidDateRange):
		s.notifier.Notify(ctx, notify.LevelError, notify.KeyTasksInvalidDates)
	default:
		s.notifier.Notify(ctx, notify.LevelError, notify.KeyTasksInvalid)
	}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	return s.state.Get()
}

// Subscribe registers fn for every state change.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	return s.state.Subscribe(fn)
}
