package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bissquit/task-garden/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_Users(t *testing.T) {
	profiles := &mockProfiles{users: []domain.User{
		{ID: "u1", Name: "Ana", Role: domain.RoleUser},
		{ID: "u2", Name: "Bruno", Role: domain.RoleAdmin},
	}}
	store := NewStore(profiles, &mockNotifier{}, Config{DegradedMode: true})
	require.NoError(t, store.Load(context.Background()))

	r := chi.NewRouter()
	NewHandler(store).RegisterRoutes(r)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"list", "/users", http.StatusOK},
		{"known user", "/users/u2", http.StatusOK},
		{"unknown user", "/users/u9", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users", nil))
	var env struct {
		Data []domain.User `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.Len(t, env.Data, 2)
}
