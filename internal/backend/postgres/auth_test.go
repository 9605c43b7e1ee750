package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/bissquit/task-garden/internal/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestAuth_IssueAndParse(t *testing.T) {
	a := NewAuth(nil, AuthConfig{Secret: "test-secret", SessionDuration: time.Minute})
	defer a.Close()

	session, err := a.issue("user-1", "u@example.com")
	require.NoError(t, err)

	parsed, err := a.parse(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", parsed.UserID)
	assert.Equal(t, "u@example.com", parsed.Email)
	assert.WithinDuration(t, session.ExpiresAt, parsed.ExpiresAt, time.Second)
}

func TestAuth_ParseRejectsForeignSecret(t *testing.T) {
	issuer := NewAuth(nil, AuthConfig{Secret: "one"})
	defer issuer.Close()
	verifier := NewAuth(nil, AuthConfig{Secret: "two"})
	defer verifier.Close()

	session, err := issuer.issue("user-1", "u@example.com")
	require.NoError(t, err)

	_, err = verifier.parse(session.AccessToken)
	assert.Error(t, err)
}

func TestAuth_SessionExpires(t *testing.T) {
	a := NewAuth(nil, AuthConfig{Secret: "test-secret", SessionDuration: time.Minute})
	defer a.Close()

	now := time.Now()
	a.now = func() time.Time { return now }

	session, err := a.issue("user-1", "u@example.com")
	require.NoError(t, err)
	a.token = session.AccessToken

	current, err := a.Session(context.Background())
	require.NoError(t, err)
	require.NotNil(t, current)

	a.now = func() time.Time { return now.Add(2 * time.Minute) }

	current, err = a.Session(context.Background())
	require.NoError(t, err)
	assert.Nil(t, current)
}

func TestAuth_SignOutEmitsEvent(t *testing.T) {
	a := NewAuth(nil, AuthConfig{Secret: "test-secret"})
	defer a.Close()

	events := make(chan backend.AuthEvent, 1)
	a.OnAuthStateChange(func(ev backend.AuthEvent) { events <- ev })

	a.token = "anything"
	require.NoError(t, a.SignOut(context.Background()))

	select {
	case ev := <-events:
		assert.Equal(t, backend.AuthEventSignedOut, ev.Type)
		assert.Nil(t, ev.Session)
	case <-time.After(time.Second):
		t.Fatal("no sign-out event")
	}

	current, err := a.Session(context.Background())
	require.NoError(t, err)
	assert.Nil(t, current)
}

func TestAuth_SignInThrottled(t *testing.T) {
	a := NewAuth(nil, AuthConfig{Secret: "s", SignInRate: rate.Every(time.Hour), SignInBurst: 1})
	defer a.Close()

	assert.True(t, a.limiter("u@example.com").Allow())
	assert.False(t, a.limiter("u@example.com").Allow())
	assert.True(t, a.limiter("other@example.com").Allow())

	_, err := a.SignIn(context.Background(), " U@Example.com ", "pw")
	assert.ErrorIs(t, err, backend.ErrRateLimited)
}
