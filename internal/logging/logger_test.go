package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewAppliesLevel(t *testing.T) {
	logger, err := New("production", "warn")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("expected info to be disabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.WarnLevel) {
		t.Error("expected warn to be enabled")
	}
}

func TestNewDevelopmentDefaultsToDebug(t *testing.T) {
	logger, err := New("development", "")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected debug to be enabled in development")
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New("development", "loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
