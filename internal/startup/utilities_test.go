package startup

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("STARTUP_TEST_SET", "custom")
	t.Setenv("STARTUP_TEST_EMPTY", "")

	if got := getEnv("STARTUP_TEST_SET", "default"); got != "custom" {
		t.Errorf("getEnv(set) = %q, want custom", got)
	}
	if got := getEnv("STARTUP_TEST_EMPTY", "default"); got != "default" {
		t.Errorf("getEnv(empty) = %q, want default", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"", false, false},
		{"true", false, true},
		{"1", false, true},
		{"false", true, false},
		{"0", true, false},
		{"yes", true, true},
		{"yes", false, false},
	}

	for _, tt := range tests {
		t.Setenv("STARTUP_TEST_BOOL", tt.value)
		if got := getEnvBool("STARTUP_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("getEnvBool(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		value string
		want  int
	}{
		{"", 4},
		{"12", 12},
		{"-3", -3},
		{"many", 4},
		{"2.5", 4},
	}

	for _, tt := range tests {
		t.Setenv("STARTUP_TEST_INT", tt.value)
		if got := getEnvInt("STARTUP_TEST_INT", 4); got != tt.want {
			t.Errorf("getEnvInt(%q) = %d, want %d", tt.value, got, tt.want)
		}
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", time.Hour},
		{"90s", 90 * time.Second},
		{"24h", 24 * time.Hour},
		{"1d", time.Hour},
		{"600", time.Hour},
	}

	for _, tt := range tests {
		t.Setenv("STARTUP_TEST_DURATION", tt.value)
		if got := getEnvDuration("STARTUP_TEST_DURATION", time.Hour); got != tt.want {
			t.Errorf("getEnvDuration(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestGetEnvFloat(t *testing.T) {
	tests := []struct {
		value string
		want  float64
	}{
		{"", 2},
		{"0.5", 0.5},
		{"10", 10},
		{"-1", -1},
		{"fast", 2},
	}

	for _, tt := range tests {
		t.Setenv("STARTUP_TEST_FLOAT", tt.value)
		if got := getEnvFloat("STARTUP_TEST_FLOAT", 2); got != tt.want {
			t.Errorf("getEnvFloat(%q) = %g, want %g", tt.value, got, tt.want)
		}
	}
}

func TestEnsureDirectory(t *testing.T) {
	base := t.TempDir()

	nested := filepath.Join(base, "a", "b")
	if err := ensureDirectory(nested, "test"); err != nil {
		t.Fatalf("ensureDirectory(new) error = %v", err)
	}
	if err := ensureDirectory(nested, "test"); err != nil {
		t.Errorf("ensureDirectory(existing) error = %v", err)
	}

	file := filepath.Join(base, "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ensureDirectory(file, "test"); err == nil {
		t.Error("ensureDirectory(file) succeeded, want error")
	}
}

func TestTestWriteAccess(t *testing.T) {
	dir := t.TempDir()
	if err := testWriteAccess(dir); err != nil {
		t.Fatalf("testWriteAccess() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".write-test")); !os.IsNotExist(err) {
		t.Error("write test file was left behind")
	}
	if err := testWriteAccess(filepath.Join(dir, "missing")); err == nil {
		t.Error("testWriteAccess(missing dir) succeeded, want error")
	}
}

func TestRedact(t *testing.T) {
	if got := redact(""); got != "(unset)" {
		t.Errorf("redact(\"\") = %q", got)
	}
	if got := redact("sk-secret"); got == "sk-secret" {
		t.Error("redact leaked the secret")
	}
}
