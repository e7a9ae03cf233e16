package logger

import (
	"context"
	"log/slog"
	"os"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	TenantKey    ContextKey = "tenant_id"
	ActorKey     ContextKey = "actor_id"
)

// Config holds logger configuration
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// Init initializes the global slog logger with the given configuration
func Init(cfg *Config) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// WithValue stores a log attribute on ctx for later WithContext calls.
func WithValue(ctx context.Context, key ContextKey, value string) context.Context {
	return context.WithValue(ctx, key, value)
}

// WithContext returns a logger with context values extracted
func WithContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if ctx == nil {
		return logger
	}

	for _, key := range []ContextKey{RequestIDKey, TenantKey, ActorKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			logger = logger.With(string(key), v)
		}
	}

	return logger
}

func Info(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Info(msg, args...)
}

func Debug(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Debug(msg, args...)
}

func Warn(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Warn(msg, args...)
}

func Error(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Error(msg, args...)
}
