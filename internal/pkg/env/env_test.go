package env

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestGet(t *testing.T) {
	t.Setenv("STL_TEST_VALUE", "abc")
	if got := Get("STL_TEST_VALUE", "x"); got != "abc" {
		t.Errorf("Get = %q, want abc", got)
	}
	if got := Get("STL_TEST_MISSING", "x"); got != "x" {
		t.Errorf("Get = %q, want x", got)
	}
}

func TestTypedGetters(t *testing.T) {
	t.Setenv("STL_TEST_INT", "12")
	t.Setenv("STL_TEST_BAD_INT", "twelve")
	t.Setenv("STL_TEST_DUR", "15m")
	t.Setenv("STL_TEST_BOOL", "true")

	if got := GetInt("STL_TEST_INT", 1); got != 12 {
		t.Errorf("GetInt = %d, want 12", got)
	}
	if got := GetInt("STL_TEST_BAD_INT", 1); got != 1 {
		t.Errorf("GetInt(bad) = %d, want fallback 1", got)
	}
	if got := GetDuration("STL_TEST_DUR", time.Second); got != 15*time.Minute {
		t.Errorf("GetDuration = %v, want 15m", got)
	}
	if got := GetDuration("STL_TEST_MISSING", time.Second); got != time.Second {
		t.Errorf("GetDuration(missing) = %v", got)
	}
	if !GetBool("STL_TEST_BOOL", false) {
		t.Error("GetBool = false, want true")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"info+2", slog.LevelInfo + 2},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tt.raw)
			if got := ParseLogLevel(slog.LevelInfo); got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNewLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_FORMAT", "json")
	NewLogger(&buf, slog.LevelInfo).Info("synced", "wallet", "w1")
	if !strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), `"wallet":"w1"`) {
		t.Errorf("json output = %q", buf.String())
	}

	buf.Reset()
	t.Setenv("LOG_FORMAT", "")
	logger := NewLogger(&buf, slog.LevelWarn)
	logger.Info("hidden")
	logger.Warn("shown", "wallet", "w1")
	if out := buf.String(); strings.Contains(out, "hidden") || !strings.Contains(out, "wallet=w1") {
		t.Errorf("text output = %q", out)
	}
}
