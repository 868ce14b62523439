package logging

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevWriter := log.Writer()
	prevFlags := log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	prevLevel := GetLevel()
	t.Cleanup(func() {
		log.SetOutput(prevWriter)
		log.SetFlags(prevFlags)
		SetLevel(prevLevel)
	})
	return &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
		ok       bool
	}{
		{"debug", LevelDebug, true},
		{"DEBUG", LevelDebug, true},
		{"info", LevelInfo, true},
		{"warn", LevelWarn, true},
		{"warning", LevelWarn, true},
		{" error ", LevelError, true},
		{"", LevelInfo, false},
		{"verbose", LevelInfo, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseLevel(tt.input)
			if got != tt.expected || ok != tt.ok {
				t.Errorf("ParseLevel(%q) = (%v, %v), want (%v, %v)", tt.input, got, ok, tt.expected, tt.ok)
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(LevelWarn)

	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("messages below WARN should be filtered, got:\n%s", out)
	}
	if !strings.Contains(out, "[WARN] warn message") {
		t.Errorf("expected warn line, got:\n%s", out)
	}
	if !strings.Contains(out, "[ERROR] error message") {
		t.Errorf("expected error line, got:\n%s", out)
	}
}

func TestNamedLogger(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(LevelDebug)

	l := Named("pool").Named("worker-2")
	if l.Name() != "pool.worker-2" {
		t.Errorf("Name() = %q, want pool.worker-2", l.Name())
	}

	l.Info("job %s started", "abc")
	l.Debug("details")

	out := buf.String()
	if !strings.Contains(out, "[INFO] [pool.worker-2] job abc started") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "[DEBUG] [pool.worker-2] details") {
		t.Errorf("expected debug line, got:\n%s", out)
	}
}

func TestIsDebugEnabled(t *testing.T) {
	captureOutput(t)

	SetLevel(LevelDebug)
	if !IsDebugEnabled() {
		t.Error("expected debug enabled at LevelDebug")
	}

	SetLevel(LevelInfo)
	if IsDebugEnabled() {
		t.Error("expected debug disabled at LevelInfo")
	}
}

func TestLogLevelString(t *testing.T) {
	tests := map[LogLevel]string{
		LevelDebug:   "debug",
		LevelInfo:    "info",
		LevelWarn:    "warn",
		LevelError:   "error",
		LogLevel(42): "unknown(42)",
	}
	for level, want := range tests {
		if got := level.String(); got != want {
			t.Errorf("LogLevel(%d).String() = %q, want %q", int(level), got, want)
		}
	}
}
