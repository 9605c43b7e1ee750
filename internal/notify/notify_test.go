package notify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalizer_Languages(t *testing.T) {
	tests := []struct {
		name     string
		locale   string
		key      Key
		args     []any
		expected string
	}{
		{"portuguese", "pt-BR", KeyTasksCreated, nil, "Tarefa criada com sucesso"},
		{"english", "en", KeyTasksCreated, nil, "Task created successfully"},
		{"default is portuguese", "", KeyTasksDeleted, nil, "Tarefa excluída"},
		{"malformed falls back to english", "%%%", KeyTasksDeleted, nil, "Task deleted"},
		{"unknown falls back to english", "de", KeyTasksDeleted, nil, "Task deleted"},
		{"arguments", "en", KeySessionLoginFailed, []any{"invalid email or password"}, "Failed to login: invalid email or password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLocalizer(tt.locale)
			assert.Equal(t, tt.expected, l.Message(tt.key, tt.args...))
		})
	}
}

func TestCatalog_EveryKeyTranslated(t *testing.T) {
	for tag, messages := range translations {
		for other, otherMessages := range translations {
			for key := range otherMessages {
				_, ok := messages[key]
				assert.True(t, ok, "%s missing in %s (present in %s)", key, tag, other)
			}
		}
	}
}

func TestService_NotifyRecordsToast(t *testing.T) {
	svc := NewService(Config{Locale: "en", Capacity: 10})
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	svc.Notify(context.Background(), LevelError, KeyTasksCreateForbidden)

	toasts := svc.Feed().Drain()
	require.Len(t, toasts, 1)
	assert.Equal(t, Toast{
		Level:   LevelError,
		Key:     KeyTasksCreateForbidden,
		Message: "Only admins can create tasks",
		At:      fixed,
	}, toasts[0])
	assert.Zero(t, svc.Feed().Len())
}

func TestFeed_DropsOldestWhenFull(t *testing.T) {
	feed := NewFeed(3)

	for i := 0; i < 5; i++ {
		feed.Push(Toast{Message: fmt.Sprint(i)})
	}

	toasts := feed.Drain()
	require.Len(t, toasts, 3)
	assert.Equal(t, "2", toasts[0].Message)
	assert.Equal(t, "4", toasts[2].Message)
}
