package backend

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []AuthEventType
}

func (r *recorder) listen(e AuthEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e.Type)
}

func (r *recorder) snapshot() []AuthEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AuthEventType(nil), r.events...)
}

func TestBroadcaster_DeliversInOrder(t *testing.T) {
	b := NewBroadcaster(4)
	defer b.Close()

	rec := &recorder{}
	b.Subscribe(rec.listen)

	want := []AuthEventType{
		AuthEventSignedOut, AuthEventSignedIn, AuthEventSignedOut,
		AuthEventSignedIn, AuthEventSignedIn, AuthEventSignedOut,
	}
	for _, typ := range want {
		b.Emit(AuthEvent{Type: typ})
	}

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == len(want)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, rec.snapshot())
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewBroadcaster(4)
	defer b.Close()

	kept := &recorder{}
	dropped := &recorder{}
	b.Subscribe(kept.listen)
	unsubscribe := b.Subscribe(dropped.listen)
	unsubscribe()

	b.Emit(AuthEvent{Type: AuthEventSignedIn})

	require.Eventually(t, func() bool {
		return len(kept.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, dropped.snapshot())
}

func TestBroadcaster_SurvivesPanickingListener(t *testing.T) {
	b := NewBroadcaster(4)
	defer b.Close()

	rec := &recorder{}
	b.Subscribe(func(AuthEvent) { panic("boom") })
	b.Subscribe(rec.listen)

	b.Emit(AuthEvent{Type: AuthEventSignedIn})
	b.Emit(AuthEvent{Type: AuthEventSignedOut})

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestBroadcaster_EmitAfterCloseIsDropped(t *testing.T) {
	b := NewBroadcaster(1)
	b.Close()

	assert.NotPanics(t, func() {
		b.Emit(AuthEvent{Type: AuthEventSignedIn})
		b.Emit(AuthEvent{Type: AuthEventSignedIn})
	})
}
