package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInit(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"debug level console", Config{Level: "debug", Format: "console"}},
		{"info level json", Config{Level: "info", Format: "json"}},
		{"warn level json", Config{Level: "warn", Format: "json"}},
		{"default level", Config{Level: "invalid", Format: "json"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := Init(tt.config)
			if err != nil {
				t.Fatalf("Init failed: %v", err)
			}
			if l == nil {
				t.Fatal("Expected logger, got nil")
			}
			zap.L().Info("test message")
		})
	}
}

func TestFromAddsContextFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = context.WithValue(ctx, TenantKey, "acme")

	From(ctx, base).Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-1" {
		t.Errorf("Expected request_id req-1, got %v", fields["request_id"])
	}
	if fields["tenant"] != "acme" {
		t.Errorf("Expected tenant acme, got %v", fields["tenant"])
	}
	if _, ok := fields["user"]; ok {
		t.Error("Expected no user field")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Error("Expected no-op logger for nil")
	}
	l := zap.NewExample()
	if OrNop(l) != l {
		t.Error("Expected the same logger back")
	}
}
