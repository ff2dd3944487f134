package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	l, err := New("debug", true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !l.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("debug level not enabled")
	}

	l, err = New("", false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.Core().Enabled(zapcore.DebugLevel) || !l.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("default level should be info")
	}

	if _, err := New("loud", false); err == nil {
		t.Fatal("unknown level accepted")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
}
