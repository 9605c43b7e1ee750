package httputil

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bissquit/task-garden/internal/pkg/ctxlog"
	"github.com/go-chi/chi/v5/middleware"
)

// RequestLoggerMiddleware puts a request-scoped logger into the context and
// logs every request once it completes. The logger carries the request id and,
// when identity is non-nil and resolved, the user id, so store operations
// triggered by the request are attributed to the user.
func RequestLoggerMiddleware(base *slog.Logger, identity IdentityReader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			logger := base.With("request_id", middleware.GetReqID(r.Context()))
			if identity != nil {
				if u := identity.CurrentUser(); u != nil {
					logger = logger.With("user_id", u.ID)
				}
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctxlog.WithLogger(r.Context(), logger)))

			level := slog.LevelInfo
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}

			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
