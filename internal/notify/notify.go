// Package notify is the transient, toast-style channel through which stores tell
// the view about the outcome of their operations.
package notify

import (
	"context"
	"time"

	"github.com/bissquit/task-garden/internal/pkg/ctxlog"
)

// Level is the severity of a toast.
type Level string

// Toast levels.
const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Toast is a short, localized, human-readable message.
type Toast struct {
	Level   Level     `json:"level"`
	Key     Key       `json:"key"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notifier posts toasts.
type Notifier interface {
	Notify(ctx context.Context, level Level, key Key, args ...any)
}

// Config contains notification settings.
type Config struct {
	Locale   string
	Capacity int
}

// Service localizes toasts, logs them and keeps them in a Feed for the view.
type Service struct {
	localizer *Localizer
	feed      *Feed
	now       func() time.Time
}

// NewService creates a notification service.
func NewService(cfg Config) *Service {
	return &Service{
		localizer: NewLocalizer(cfg.Locale),
		feed:      NewFeed(cfg.Capacity),
		now:       time.Now,
	}
}

// Notify localizes and records a toast.
func (s *Service) Notify(ctx context.Context, level Level, key Key, args ...any) {
	toast := Toast{
		Level:   level,
		Key:     key,
		Message: s.localizer.Message(key, args...),
		At:      s.now(),
	}

	s.feed.Push(toast)
	recordToast(level)

	logger := ctxlog.FromContext(ctx)
	attrs := []any{"key", string(key), "message", toast.Message}
	switch level {
	case LevelError:
		logger.Error("toast", attrs...)
	case LevelWarning:
		logger.Warn("toast", attrs...)
	default:
		logger.Debug("toast", attrs...)
	}
}

// Feed returns the buffer the view drains.
func (s *Service) Feed() *Feed {
	return s.feed
}

// Discard is a Notifier that drops every toast.
type Discard struct{}

// Notify implements Notifier.
func (Discard) Notify(_ context.Context, _ Level, _ Key, _ ...any) {}

var _ Notifier = Discard{}
var _ Notifier = (*Service)(nil)
