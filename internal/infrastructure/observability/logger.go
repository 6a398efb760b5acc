package observability

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

func InitLogger(level string) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type ctxKey struct{}

// WithContext returns a logger carrying attrs previously stored by WithAttrs.
func WithContext(ctx context.Context, attrs ...any) *slog.Logger {
	logger := slog.Default()
	if stored, ok := ctx.Value(ctxKey{}).([]any); ok {
		logger = logger.With(stored...)
	}
	return logger.With(attrs...)
}

// WithAttrs stores attrs in ctx for WithContext.
func WithAttrs(ctx context.Context, attrs ...any) context.Context {
	stored, _ := ctx.Value(ctxKey{}).([]any)
	merged := append(append([]any{}, stored...), attrs...)
	return context.WithValue(ctx, ctxKey{}, merged)
}
