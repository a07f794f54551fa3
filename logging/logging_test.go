package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{" WARN ", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewRespectsLevel(t *testing.T) {
	for _, env := range []string{"prod", "dev"} {
		l, err := New("warn", env)
		if err != nil {
			t.Fatalf("New(%q): %v", env, err)
		}
		if l.Core().Enabled(zapcore.InfoLevel) {
			t.Fatalf("%s: info must be disabled at warn", env)
		}
		if !l.Core().Enabled(zapcore.ErrorLevel) {
			t.Fatalf("%s: error must be enabled at warn", env)
		}
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("expected a logger")
	}
}
