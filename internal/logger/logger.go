package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey ContextKey = "request_id"
	// TenantKey is the context key for tenant
	TenantKey ContextKey = "tenant"
	// UserKey is the context key for the authenticated user
	UserKey ContextKey = "user"
)

// Config holds logger configuration
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

// Init builds the global zap logger with the given configuration
func Init(cfg Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "console" || cfg.Format == "text" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(parseLevel(cfg.Level))
	zcfg.EncoderConfig.TimeKey = "time"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(l)
	return l, nil
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// WithContext returns the global logger annotated with request scoped values
func WithContext(ctx context.Context) *zap.Logger {
	return From(ctx, zap.L())
}

// From annotates base with request scoped values found in ctx
func From(ctx context.Context, base *zap.Logger) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}
	if ctx == nil {
		return base
	}
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		base = base.With(zap.String("request_id", requestID))
	}
	if tenant, ok := ctx.Value(TenantKey).(string); ok && tenant != "" {
		base = base.With(zap.String("tenant", tenant))
	}
	if user, ok := ctx.Value(UserKey).(string); ok && user != "" {
		base = base.With(zap.String("user", user))
	}
	return base
}

// OrNop returns l, or a no-op logger when l is nil
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
