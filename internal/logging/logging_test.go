package logging

import "testing"

func TestNewLevels(t *testing.T) {
	logger, err := New("debug", "json")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !logger.Core().Enabled(-1) {
		t.Fatalf("expected debug level enabled")
	}

	logger, err = New("warn", "console")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if logger.Core().Enabled(0) {
		t.Fatalf("info should be disabled at warn level")
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("loud", "json"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestUseConsole(t *testing.T) {
	if !useConsole("console") || useConsole("json") {
		t.Fatalf("explicit formats must be honoured")
	}
}
