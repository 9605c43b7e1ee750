package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/bissquit/task-garden/internal/pkg/ctxlog"
)

// ErrorMapping maps a sentinel error to a status. An empty Message exposes err.Error().
type ErrorMapping struct {
	Error   error
	Status  int
	Message string
}

// HandleError writes the response of the first mapping err matches. Server-side
// failures are logged with their cause; the client only sees the message.
// Backend timeouts become 504 and anything unmapped becomes 500.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	for _, m := range mappings {
		if !errors.Is(err, m.Error) {
			continue
		}
		msg := m.Message
		if msg == "" {
			msg = err.Error()
		}
		if m.Status >= http.StatusInternalServerError {
			ctxlog.FromContext(ctx).Error("request failed", "status", m.Status, "error", err)
		}
		Error(w, m.Status, msg)
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		ctxlog.FromContext(ctx).Warn("backend timeout", "error", err)
		Error(w, http.StatusGatewayTimeout, "backend timeout")
		return
	}

	ctxlog.FromContext(ctx).Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}
