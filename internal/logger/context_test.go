package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ctx  func() (context.Context, *slog.Logger)
	}{
		{
			name: "Should return the injected logger",
			ctx: func() (context.Context, *slog.Logger) {
				l := slog.New(slog.NewJSONHandler(io.Discard, nil))
				return WithContext(context.Background(), l), l
			},
		},
		{
			name: "Should fall back to the default logger on an empty context",
			ctx: func() (context.Context, *slog.Logger) {
				return context.Background(), slog.Default()
			},
		},
		{
			name: "Should fall back when a nil logger was stored",
			ctx: func() (context.Context, *slog.Logger) {
				return WithContext(context.Background(), nil), slog.Default()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx, want := tt.ctx()

			assert.Same(t, want, FromContext(ctx))
		})
	}
}

func TestWith(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := WithContext(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))

	ctx = With(ctx, slog.String("request_id", "req-1"))
	FromContext(ctx).Info("handled")

	assert.Contains(t, buf.String(), "request_id=req-1")
	assert.Contains(t, buf.String(), "msg=handled")
}
