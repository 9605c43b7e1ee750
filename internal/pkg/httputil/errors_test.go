package httputil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errMissing = errors.New("missing")
	errBroken  = errors.New("broken")
)

func TestHandleError(t *testing.T) {
	mappings := []ErrorMapping{
		{Error: errMissing, Status: http.StatusNotFound},
		{Error: errBroken, Status: http.StatusInternalServerError, Message: "partially saved"},
	}

	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{
			name:   "mapped uses error text",
			err:    fmt.Errorf("get task: %w", errMissing),
			status: http.StatusNotFound,
			body:   `{"error":{"message":"get task: missing"}}`,
		},
		{
			name:   "mapped with message",
			err:    errBroken,
			status: http.StatusInternalServerError,
			body:   `{"error":{"message":"partially saved"}}`,
		},
		{
			name:   "deadline",
			err:    fmt.Errorf("list: %w", context.DeadlineExceeded),
			status: http.StatusGatewayTimeout,
			body:   `{"error":{"message":"backend timeout"}}`,
		},
		{
			name:   "unmapped",
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
			body:   `{"error":{"message":"internal error"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HandleError(context.Background(), rec, tt.err, mappings)
			assert.Equal(t, tt.status, rec.Code)
			assert.JSONEq(t, tt.body, rec.Body.String())
		})
	}
}

func TestValidationError_FieldNames(t *testing.T) {
	type request struct {
		StartDate string `validate:"required"`
		UserID    string `validate:"required"`
	}
	err := validator.New().Struct(request{})
	require.Error(t, err)

	rec := httptest.NewRecorder()
	ValidationError(rec, fmt.Errorf("invalid task: %w", err))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":{"message":"validation error","details":[
		{"field":"start_date","message":"required"},
		{"field":"user_id","message":"required"}
	]}}`, rec.Body.String())
}

func TestValidationError_PlainError(t *testing.T) {
	rec := httptest.NewRecorder()
	ValidationError(rec, errors.New("bad input"))
	assert.JSONEq(t, `{"error":{"message":"validation error","details":"bad input"}}`, rec.Body.String())
}
