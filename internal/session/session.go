// Package session tracks who is logged in and resolves their profile.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bissquit/task-garden/internal/backend"
	"github.com/bissquit/task-garden/internal/domain"
	"github.com/bissquit/task-garden/internal/notify"
	"github.com/bissquit/task-garden/internal/pkg/ctxlog"
	"github.com/bissquit/task-garden/internal/pkg/metrics"
	"github.com/bissquit/task-garden/internal/pkg/observable"
	"github.com/bissquit/task-garden/internal/pkg/retry"
	"github.com/go-playground/validator/v10"
)

const storeName = "session"

// State is the session lifecycle state.
type State string

// Session states.
const (
	StateUninitialized State = "uninitialized"
	StateResolving     State = "resolving"
	StateAuthenticated State = "authenticated"
	StateAnonymous     State = "anonymous"
)

// Snapshot is the observable session state. User is set only when State is
// StateAuthenticated.
type Snapshot struct {
	State       State        `json:"state"`
	User        *domain.User `json:"user"`
	Initialized bool         `json:"initialized"`
	Loading     bool         `json:"loading"`
}

// Backend is the part of the backend the session store uses.
type Backend interface {
	backend.Auth
	backend.Profiles
}

// ProfileRetryConfig bounds profile resolution.
type ProfileRetryConfig struct {
	MaxAttempts int
	// Backoff is the linear step after a backend error.
	Backoff time.Duration
	// MissingBackoff is the linear step while the profile row does not exist
	// yet. Zero means Backoff.
	MissingBackoff time.Duration
}

func (c ProfileRetryConfig) wait(attempt int, missing bool) time.Duration {
	step := c.Backoff
	if missing && c.MissingBackoff > 0 {
		step = c.MissingBackoff
	}
	return retry.Linear(step)(attempt)
}

// Config contains session store settings.
type Config struct {
	ProfileRetry ProfileRetryConfig
}

// DefaultConfig returns the settings the store uses when none are given.
func DefaultConfig() Config {
	return Config{
		ProfileRetry: ProfileRetryConfig{
			MaxAttempts:    3,
			Backoff:        500 * time.Millisecond,
			MissingBackoff: time.Second,
		},
	}
}

// RegisterInput is the data needed to create an account.
type RegisterInput struct {
	Name     string      `json:"name" validate:"required,max=255"`
	Email    string      `json:"email" validate:"required,email"`
	Password string      `json:"password" validate:"required,min=6"`
	Role     domain.Role `json:"role" validate:"required,oneof=admin user"`
}

// Store is the single source of truth for the logged-in identity.
type Store struct {
	backend   Backend
	notifier  notify.Notifier
	cfg       Config
	validator *validator.Validate
	state     *observable.Value[Snapshot]

	mu          sync.Mutex
	epoch       uint64
	started     bool
	closed      bool
	unsubscribe func()
	baseCtx     context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewStore creates a session store. Call Start before use.
func NewStore(b Backend, notifier notify.Notifier, cfg Config) *Store {
	if cfg.ProfileRetry.MaxAttempts <= 0 {
		cfg.ProfileRetry.MaxAttempts = DefaultConfig().ProfileRetry.MaxAttempts
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Store{
		backend:   b,
		notifier:  notifier,
		cfg:       cfg,
		validator: validator.New(),
		state:     observable.New(Snapshot{State: StateUninitialized}),
	}
}

// Start registers the auth-state listener and performs the initial session check.
func (s *Store) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.baseCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.unsubscribe = s.backend.OnAuthStateChange(s.handleAuthEvent)
	epoch := s.nextEpochLocked()
	s.mu.Unlock()

	s.setIf(epoch, func(snap Snapshot) Snapshot {
		snap.State = StateResolving
		snap.Loading = true
		return snap
	})

	session, err := s.backend.Session(ctx)
	if err != nil {
		ctxlog.FromContext(ctx).Error("session check failed", "error", err)
		s.notifier.Notify(ctx, notify.LevelWarning, notify.KeySessionCheckFailed)
		s.setIf(epoch, anonymous)
		return
	}
	if session == nil {
		s.setIf(epoch, anonymous)
		return
	}

	s.resolveAndApply(ctx, epoch, session.UserID)
}

// Close removes the auth listener. Work still in flight is discarded.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubscribe := s.unsubscribe
	cancel := s.cancel
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	return s.state.Get()
}

// Subscribe registers fn for every state change.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	return s.state.Subscribe(fn)
}

// CurrentUser returns a copy of the resolved identity, or nil.
func (s *Store) CurrentUser() *domain.User {
	snap := s.state.Get()
	if snap.State != StateAuthenticated || snap.User == nil {
		return nil
	}
	u := *snap.User
	return &u
}

// SubscribeIdentity calls fn whenever the resolved identity changes, including
// becoming nil. Transitions that keep the same identity are not reported.
func (s *Store) SubscribeIdentity(fn func(*domain.User)) func() {
	var mu sync.Mutex
	last := s.CurrentUser()
	return s.state.Subscribe(func(snap Snapshot) {
		var current *domain.User
		if snap.State == StateAuthenticated && snap.User != nil {
			u := *snap.User
			current = &u
		}

		mu.Lock()
		changed := !sameIdentity(last, current)
		last = current
		mu.Unlock()

		if changed {
			fn(current)
		}
	})
}

// Login clears any previous session and exchanges credentials. The identity is
// populated later by the SIGNED_IN event.
func (s *Store) Login(ctx context.Context, email, password string) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreOp(storeName, "login", start, err) }()

	if s.isClosed() {
		return ErrClosed
	}

	s.state.Update(func(snap Snapshot) Snapshot {
		snap.Loading = true
		return snap
	})

	if err := s.backend.SignOut(ctx); err != nil {
		ctxlog.FromContext(ctx).Warn("clear previous session failed", "error", err)
	}

	if _, err := s.backend.SignIn(ctx, email, password); err != nil {
		ctxlog.FromContext(ctx).Warn("login failed", "error", err)
		s.notifier.Notify(ctx, notify.LevelError, notify.KeySessionLoginFailed, err.Error())
		s.state.Update(func(snap Snapshot) Snapshot {
			snap.Loading = false
			return snap
		})
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	s.notifier.Notify(ctx, notify.LevelSuccess, notify.KeySessionLoginSuccess)
	return nil
}

// Logout invalidates the remote session and always clears the local identity.
func (s *Store) Logout(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreOp(storeName, "logout", start, err) }()

	err = s.backend.SignOut(ctx)

	s.mu.Lock()
	epoch := s.nextEpochLocked()
	s.mu.Unlock()
	s.setIf(epoch, anonymous)

	if err != nil {
		ctxlog.FromContext(ctx).Warn("remote sign-out failed", "error", err)
		s.notifier.Notify(ctx, notify.LevelWarning, notify.KeySessionLogoutFailed, err.Error())
		return fmt.Errorf("sign out: %w", err)
	}

	s.notifier.Notify(ctx, notify.LevelInfo, notify.KeySessionLogout)
	return nil
}

// Register creates an account with name and role as metadata. Whether the new
// account is signed in depends on the backend; the auth event path handles both.
func (s *Store) Register(ctx context.Context, input RegisterInput) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreOp(storeName, "register", start, err) }()

	if err := s.validator.Struct(input); err != nil {
		s.notifier.Notify(ctx, notify.LevelError, notify.KeySessionInvalidSignUp)
		return fmt.Errorf("%w: %w", ErrInvalidSignUp, err)
	}

	s.state.Update(func(snap Snapshot) Snapshot {
		snap.Loading = true
		return snap
	})
	defer s.state.Update(func(snap Snapshot) Snapshot {
		if snap.State != StateResolving {
			snap.Loading = false
		}
		return snap
	})

	_, err = s.backend.SignUp(ctx, backend.SignUpInput{
		Email:    input.Email,
		Password: input.Password,
		Name:     input.Name,
		Role:     input.Role,
	})
	if err != nil {
		ctxlog.FromContext(ctx).Warn("registration failed", "error", err)
		s.notifier.Notify(ctx, notify.LevelError, notify.KeySessionRegisterFailed, err.Error())
		return fmt.Errorf("%w: %w", ErrRegisterFailed, err)
	}

	s.notifier.Notify(ctx, notify.LevelSuccess, notify.KeySessionRegistered)
	return nil
}

// ResolveProfile fetches the profile row for a session identity key, retrying
// while the row is missing or the backend fails.
func (s *Store) ResolveProfile(ctx context.Context, userID string) (*domain.User, error) {
	logger := ctxlog.FromContext(ctx).With("user_id", userID)

	// missing is written by the attempt and read by the backoff that follows it.
	var missing bool
	policy := retry.Policy{
		MaxAttempts: s.cfg.ProfileRetry.MaxAttempts,
		Backoff: func(attempt int) time.Duration {
			return s.cfg.ProfileRetry.wait(attempt, missing)
		},
		Notify: func(attempt int, wait time.Duration, err error) {
			logger.Debug("profile not available yet, retrying", "attempt", attempt, "backoff", wait, "error", err)
		},
	}

	var user *domain.User
	err := retry.Do(ctx, policy, func(ctx context.Context, _ int) error {
		u, err := s.backend.GetProfile(ctx, userID)
		missing = err == nil && u == nil
		if err != nil {
			return err
		}
		if u == nil {
			return ErrProfileNotFound
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolve profile: %w", err)
	}
	return user, nil
}

func (s *Store) handleAuthEvent(event backend.AuthEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	epoch := s.nextEpochLocked()
	ctx := s.baseCtx
	s.mu.Unlock()

	switch event.Type {
	case backend.AuthEventSignedOut:
		s.setIf(epoch, anonymous)

	case backend.AuthEventSignedIn:
		if event.Session == nil {
			s.setIf(epoch, anonymous)
			return
		}
		s.setIf(epoch, func(snap Snapshot) Snapshot {
			snap.State = StateResolving
			snap.User = nil
			snap.Loading = true
			return snap
		})

		userID := event.Session.UserID
		s.goTracked(func() {
			s.resolveAndApply(ctx, epoch, userID)
		})
	}
}

// goTracked runs fn on its own goroutine unless the store is closed. Close
// waits for every goroutine started here.
func (s *Store) goTracked(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Store) resolveAndApply(ctx context.Context, epoch uint64, userID string) {
	start := time.Now()
	user, err := s.ResolveProfile(ctx, userID)
	metrics.ObserveStoreOp(storeName, "resolve_profile", start, err)

	if !s.isCurrent(epoch) {
		return
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		ctxlog.FromContext(ctx).Error("profile resolution failed, forcing logout",
			"user_id", userID,
			"error", err,
		)
		s.notifier.Notify(ctx, notify.LevelError, notify.KeySessionProfileFailed)
		s.setIf(epoch, anonymous)
		if signOutErr := s.backend.SignOut(ctx); signOutErr != nil {
			ctxlog.FromContext(ctx).Warn("forced sign-out failed", "error", signOutErr)
		}
		return
	}

	s.setIf(epoch, func(Snapshot) Snapshot {
		return Snapshot{State: StateAuthenticated, User: user, Initialized: true}
	})
}

func (s *Store) nextEpochLocked() uint64 {
	s.epoch++
	return s.epoch
}

func (s *Store) isCurrent(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.epoch == epoch
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// setIf applies fn only while epoch is the latest auth transition.
func (s *Store) setIf(epoch uint64, fn func(Snapshot) Snapshot) {
	s.state.UpdateIf(func(snap Snapshot) (Snapshot, bool) {
		if !s.isCurrent(epoch) {
			return snap, false
		}
		return fn(snap), true
	})
}

func anonymous(Snapshot) Snapshot {
	return Snapshot{State: StateAnonymous, Initialized: true}
}

func sameIdentity(a, b *domain.User) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID && a.Role == b.Role
}
