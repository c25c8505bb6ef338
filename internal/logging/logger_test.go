package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewParsesLevel(t *testing.T) {
	logger, err := New("debug")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("Expected debug level to be enabled")
	}

	logger, err = New("")
	if err != nil {
		t.Fatalf("New with empty level failed: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("Expected default level to be info")
	}

	if _, err := New("chatty"); err == nil {
		t.Error("Expected error for unknown level")
	}
}

func TestWithOperation(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := WithOperation(zap.New(core), "bridge.image_to_text", "req-1")
	logger.Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["operation"] != "bridge.image_to_text" {
		t.Errorf("operation = %v", fields["operation"])
	}
	if fields["request_id"] != "req-1" {
		t.Errorf("request_id = %v", fields["request_id"])
	}

	// Empty request id is omitted
	core, logs = observer.New(zapcore.InfoLevel)
	WithOperation(zap.New(core), "provision", "").Info("x")
	if _, ok := logs.All()[0].ContextMap()["request_id"]; ok {
		t.Error("Expected request_id to be omitted")
	}
}
