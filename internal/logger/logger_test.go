package logger

import (
	"testing"

	"go.uber.org/zap"

	"live-quiz-service/internal/config"
)

func TestNewHonorsLevel(t *testing.T) {
	cfg := config.Config{}
	cfg.Log.Level = "warn"

	l, err := New(cfg)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if l.Core().Enabled(zap.InfoLevel) {
		t.Fatalf("expected info to be disabled at warn level")
	}
	if !l.Core().Enabled(zap.ErrorLevel) {
		t.Fatalf("expected error to be enabled")
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	cfg := config.Config{}
	cfg.Log.Level = "chatty"

	if _, err := New(cfg); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
