package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromContext_DefaultWhenMissing(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestWith_AddsAttributes(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := With(WithLogger(context.Background(), base), "user_id", "u-1")
	FromContext(ctx).Info("hello")

	assert.Contains(t, buf.String(), "user_id=u-1")
	assert.Contains(t, buf.String(), "msg=hello")
}
