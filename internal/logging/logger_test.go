// Package logging includes tests for the zap logger helpers.
package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	if err != nil {
		t.Fatalf("New(true) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("development logger ready")
}

// TestNewProductionLogger ensures the production logger configuration succeeds.
func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	if err != nil {
		t.Fatalf("New(false) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("production logger ready")
}

// TestNewWorkerLoggerLevels checks that quiet workers drop info logs.
func TestNewWorkerLoggerLevels(t *testing.T) {
	t.Parallel()

	quiet, err := NewWorker(1, false)
	if err != nil {
		t.Fatalf("NewWorker(false) error = %v", err)
	}
	if quiet.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("quiet worker should not log at info")
	}
	if !quiet.Core().Enabled(zapcore.WarnLevel) {
		t.Fatal("quiet worker should log warnings")
	}

	debug, err := NewWorker(1, true)
	if err != nil {
		t.Fatalf("NewWorker(true) error = %v", err)
	}
	if !debug.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("debug worker should log at debug")
	}
}
