package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_DrainEmptiesFeed(t *testing.T) {
	svc := NewService(Config{Locale: "en"})
	svc.Notify(context.Background(), LevelSuccess, KeyTasksCreated)
	svc.Notify(context.Background(), LevelWarning, KeyTasksLoadFailed)

	r := chi.NewRouter()
	NewHandler(svc.Feed()).RegisterRoutes(r)

	drain := func() []Toast {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notifications", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var env struct {
			Data []Toast `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
		return env.Data
	}

	toasts := drain()
	require.Len(t, toasts, 2)
	assert.Equal(t, KeyTasksCreated, toasts[0].Key)
	assert.Equal(t, "Task created successfully", toasts[0].Message)
	assert.Equal(t, LevelWarning, toasts[1].Level)

	assert.Empty(t, drain())
}
