package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/task-garden/internal/backend"
	"github.com/bissquit/task-garden/internal/backend/memory"
	"github.com/bissquit/task-garden/internal/domain"
	"github.com/bissquit/task-garden/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type recordedToast struct {
	level notify.Level
	key   notify.Key
}

type mockNotifier struct {
	mu     sync.Mutex
	toasts []recordedToast
}

func (m *mockNotifier) Notify(_ context.Context, level notify.Level, key notify.Key, _ ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toasts = append(m.toasts, recordedToast{level: level, key: key})
}

func (m *mockNotifier) has(key notify.Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.toasts {
		if t.key == key {
			return true
		}
	}
	return false
}

func testConfig() Config {
	return Config{ProfileRetry: ProfileRetryConfig{MaxAttempts: 3, Backoff: time.Millisecond}}
}

type fixture struct {
	store    *memory.Store
	client   *memory.Client
	notifier *mockNotifier
	session  *Store
}

func newFixture(t *testing.T, cfg memory.Config) *fixture {
	t.Helper()
	store := memory.NewStore(cfg)
	client := store.NewClient()
	notifier := &mockNotifier{}
	s := NewStore(client, notifier, testConfig())
	t.Cleanup(func() {
		s.Close()
		client.Close()
	})
	return &fixture{store: store, client: client, notifier: notifier, session: s}
}

func (f *fixture) signUp(t *testing.T, email string, role domain.Role) string {
	t.Helper()
	acc, err := f.client.SignUp(context.Background(), backend.SignUpInput{
		Email:    email,
		Password: "secret123",
		Name:     "Name " + email,
		Role:     role,
	})
	require.NoError(t, err)
	return acc.ID
}

func (f *fixture) eventuallyState(t *testing.T, want State) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool {
		snap := f.session.Snapshot()
		return snap.State == want && !snap.Loading
	}, waitFor, tick, "state should become %s", want)
	return f.session.Snapshot()
}

func TestStore_StartWithoutSession(t *testing.T) {
	f := newFixture(t, memory.Config{})

	assert.Equal(t, StateUninitialized, f.session.Snapshot().State)
	assert.False(t, f.session.Snapshot().Initialized)

	f.session.Start(context.Background())

	snap := f.session.Snapshot()
	assert.Equal(t, StateAnonymous, snap.State)
	assert.True(t, snap.Initialized)
	assert.False(t, snap.Loading)
	assert.Nil(t, f.session.CurrentUser())
}

func TestStore_StartWithExistingSession(t *testing.T) {
	f := newFixture(t, memory.Config{})
	id := f.signUp(t, "admin@example.com", domain.RoleAdmin)
	_, err := f.client.SignIn(context.Background(), "admin@example.com", "secret123")
	require.NoError(t, err)

	f.session.Start(context.Background())

	snap := f.eventuallyState(t, StateAuthenticated)
	require.NotNil(t, snap.User)
	assert.Equal(t, id, snap.User.ID)
	assert.Equal(t, domain.RoleAdmin, snap.User.Role)
}

func TestStore_StartSessionCheckFails(t *testing.T) {
	f := newFixture(t, memory.Config{})
	f.client.FailNext(memory.OpSession, memory.ErrInjected)

	f.session.Start(context.Background())

	snap := f.session.Snapshot()
	assert.Equal(t, StateAnonymous, snap.State)
	assert.True(t, snap.Initialized)
	assert.True(t, f.notifier.has(notify.KeySessionCheckFailed))
}

func TestStore_LoginResolvesIdentity(t *testing.T) {
	f := newFixture(t, memory.Config{})
	id := f.signUp(t, "user@example.com", domain.RoleUser)
	f.session.Start(context.Background())

	err := f.session.Login(context.Background(), "user@example.com", "secret123")
	require.NoError(t, err)

	snap := f.eventuallyState(t, StateAuthenticated)
	require.NotNil(t, snap.User)
	assert.Equal(t, id, snap.User.ID)
	assert.Equal(t, domain.RoleUser, snap.User.Role)
	assert.True(t, f.notifier.has(notify.KeySessionLoginSuccess))
	assert.Equal(t, 1, f.client.Calls(memory.OpSignOut), "login clears any previous session first")
}

func TestStore_LoginInvalidCredentials(t *testing.T) {
	f := newFixture(t, memory.Config{})
	f.signUp(t, "user@example.com", domain.RoleUser)
	f.session.Start(context.Background())

	err := f.session.Login(context.Background(), "user@example.com", "wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoginFailed)
	assert.ErrorIs(t, err, backend.ErrInvalidCredentials)

	snap := f.eventuallyState(t, StateAnonymous)
	assert.Nil(t, snap.User)
	assert.True(t, f.notifier.has(notify.KeySessionLoginFailed))
}

func TestStore_ProfileAppearsWithinRetryBudget(t *testing.T) {
	f := newFixture(t, memory.Config{ProfileLag: 2})
	f.signUp(t, "late@example.com", domain.RoleAdmin)
	f.session.Start(context.Background())

	require.NoError(t, f.session.Login(context.Background(), "late@example.com", "secret123"))

	snap := f.eventuallyState(t, StateAuthenticated)
	assert.Equal(t, domain.RoleAdmin, snap.User.Role)
	assert.Equal(t, 3, f.client.Calls(memory.OpGetProfile))
}

func TestStore_ProfileNeverAppearsForcesLogout(t *testing.T) {
	f := newFixture(t, memory.Config{SkipProfiles: true})
	f.signUp(t, "ghost@example.com", domain.RoleUser)
	f.session.Start(context.Background())

	require.NoError(t, f.session.Login(context.Background(), "ghost@example.com", "secret123"))

	require.Eventually(t, func() bool {
		return f.notifier.has(notify.KeySessionProfileFailed)
	}, waitFor, tick)

	snap := f.eventuallyState(t, StateAnonymous)
	assert.Nil(t, snap.User)
	assert.Equal(t, 3, f.client.Calls(memory.OpGetProfile))

	require.Eventually(t, func() bool {
		current, err := f.client.Session(context.Background())
		return err == nil && current == nil
	}, waitFor, tick, "remote session must be invalidated")
}

func TestStore_ProfileBackendErrorForcesLogout(t *testing.T) {
	f := newFixture(t, memory.Config{})
	f.signUp(t, "u@example.com", domain.RoleUser)
	f.session.Start(context.Background())
	f.client.FailAlways(memory.OpGetProfile, memory.ErrInjected)

	require.NoError(t, f.session.Login(context.Background(), "u@example.com", "secret123"))

	require.Eventually(t, func() bool {
		return f.notifier.has(notify.KeySessionProfileFailed)
	}, waitFor, tick)
	f.eventuallyState(t, StateAnonymous)
}

func TestStore_StaleResolutionDiscarded(t *testing.T) {
	f := newFixture(t, memory.Config{})
	f.signUp(t, "u@example.com", domain.RoleUser)
	f.session.Start(context.Background())

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.client.OnCall(memory.OpGetProfile, func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	})

	require.NoError(t, f.session.Login(context.Background(), "u@example.com", "secret123"))

	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("profile resolution did not start")
	}

	require.NoError(t, f.session.Logout(context.Background()))
	close(release)

	// give the released resolution time to finish
	time.Sleep(50 * time.Millisecond)

	snap := f.session.Snapshot()
	assert.Equal(t, StateAnonymous, snap.State)
	assert.Nil(t, snap.User)
}

func TestStore_LogoutClearsIdentityWhenRemoteFails(t *testing.T) {
	f := newFixture(t, memory.Config{})
	f.signUp(t, "u@example.com", domain.RoleUser)
	f.session.Start(context.Background())
	require.NoError(t, f.session.Login(context.Background(), "u@example.com", "secret123"))
	f.eventuallyState(t, StateAuthenticated)

	f.client.FailNext(memory.OpSignOut, memory.ErrInjected)

	err := f.session.Logout(context.Background())
	assert.ErrorIs(t, err, memory.ErrInjected)

	snap := f.session.Snapshot()
	assert.Equal(t, StateAnonymous, snap.State)
	assert.Nil(t, f.session.CurrentUser())
	assert.True(t, f.notifier.has(notify.KeySessionLogoutFailed))
}

func TestStore_RegisterValidation(t *testing.T) {
	f := newFixture(t, memory.Config{})
	f.session.Start(context.Background())

	tests := []struct {
		name  string
		input RegisterInput
	}{
		{"missing name", RegisterInput{Email: "a@example.com", Password: "secret1", Role: domain.RoleUser}},
		{"bad email", RegisterInput{Name: "A", Email: "nope", Password: "secret1", Role: domain.RoleUser}},
		{"short password", RegisterInput{Name: "A", Email: "a@example.com", Password: "123", Role: domain.RoleUser}},
		{"unknown role", RegisterInput{Name: "A", Email: "a@example.com", Password: "secret1", Role: "root"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.session.Register(context.Background(), tt.input)
			assert.ErrorIs(t, err, ErrInvalidSignUp)
		})
	}

	assert.Equal(t, 0, f.client.Calls(memory.OpSignUp))
	assert.True(t, f.notifier.has(notify.KeySessionInvalidSignUp))
}

func TestStore_RegisterWithoutAutoSignIn(t *testing.T) {
	f := newFixture(t, memory.Config{})
	f.session.Start(context.Background())

	err := f.session.Register(context.Background(), RegisterInput{
		Name: "Ana", Email: "ana@example.com", Password: "secret1", Role: domain.RoleAdmin,
	})
	require.NoError(t, err)
	assert.True(t, f.notifier.has(notify.KeySessionRegistered))

	snap := f.session.Snapshot()
	assert.Equal(t, StateAnonymous, snap.State)
	assert.False(t, snap.Loading)

	err = f.session.Register(context.Background(), RegisterInput{
		Name: "Ana", Email: "ana@example.com", Password: "secret1", Role: domain.RoleAdmin,
	})
	assert.ErrorIs(t, err, ErrRegisterFailed)
	assert.ErrorIs(t, err, backend.ErrEmailExists)
}

func TestStore_RegisterWithAutoSignIn(t *testing.T) {
	f := newFixture(t, memory.Config{AutoSignIn: true, ProfileLag: 1})
	f.session.Start(context.Background())

	err := f.session.Register(context.Background(), RegisterInput{
		Name: "Ana", Email: "ana@example.com", Password: "secret1", Role: domain.RoleAdmin,
	})
	require.NoError(t, err)

	snap := f.eventuallyState(t, StateAuthenticated)
	assert.Equal(t, "Ana", snap.User.Name)
	assert.Equal(t, domain.RoleAdmin, snap.User.Role)
}

func TestStore_SubscribeIdentity(t *testing.T) {
	f := newFixture(t, memory.Config{})
	f.signUp(t, "u@example.com", domain.RoleUser)

	var mu sync.Mutex
	var seen []*domain.User
	f.session.SubscribeIdentity(func(u *domain.User) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, u)
	})

	f.session.Start(context.Background())
	require.NoError(t, f.session.Login(context.Background(), "u@example.com", "secret123"))
	f.eventuallyState(t, StateAuthenticated)
	require.NoError(t, f.session.Logout(context.Background()))
	f.eventuallyState(t, StateAnonymous)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	require.NotNil(t, seen[0])
	assert.Equal(t, domain.RoleUser, seen[0].Role)
	assert.Nil(t, seen[1])
}

func TestStore_CloseIgnoresLaterEvents(t *testing.T) {
	f := newFixture(t, memory.Config{})
	f.signUp(t, "u@example.com", domain.RoleUser)
	f.session.Start(context.Background())

	f.session.Close()

	_, err := f.client.SignIn(context.Background(), "u@example.com", "secret123")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, StateAnonymous, f.session.Snapshot().State)
	assert.True(t, errors.Is(f.session.Login(context.Background(), "u@example.com", "secret123"), ErrClosed))
}

func TestStore_ResolveProfileExhausted(t *testing.T) {
	f := newFixture(t, memory.Config{SkipProfiles: true})
	id := f.signUp(t, "ghost@example.com", domain.RoleUser)

	user, err := f.session.ResolveProfile(context.Background(), id)
	assert.Nil(t, user)
	assert.ErrorIs(t, err, ErrProfileNotFound)
	assert.Equal(t, 3, f.client.Calls(memory.OpGetProfile))
}

func TestStore_AuthEventAfterCloseStartsNoResolution(t *testing.T) {
	f := newFixture(t, memory.Config{})
	id := f.signUp(t, "late@example.com", domain.RoleUser)
	f.session.Close()

	f.session.handleAuthEvent(backend.AuthEvent{
		Type:    backend.AuthEventSignedIn,
		Session: &backend.Session{UserID: id},
	})
	f.session.Close()

	assert.Zero(t, f.client.Calls(memory.OpGetProfile))
	assert.Equal(t, StateAnonymous, f.session.Snapshot().State)
}

func TestProfileRetryConfig_Wait(t *testing.T) {
	defaults := DefaultConfig().ProfileRetry

	tests := []struct {
		name     string
		cfg      ProfileRetryConfig
		attempt  int
		missing  bool
		expected time.Duration
	}{
		{"backend error first attempt", defaults, 1, false, 500 * time.Millisecond},
		{"backend error second attempt", defaults, 2, false, time.Second},
		{"missing row first attempt", defaults, 1, true, time.Second},
		{"missing row second attempt", defaults, 2, true, 2 * time.Second},
		{"missing step falls back", ProfileRetryConfig{Backoff: 10 * time.Millisecond}, 3, true, 30 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.cfg.wait(tt.attempt, tt.missing))
		})
	}
}
