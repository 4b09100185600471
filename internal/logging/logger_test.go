package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "json", Output: &buf})

	logger.Info("analysis started", "file", "app.py")

	out := buf.String()
	if !strings.Contains(out, `"msg":"analysis started"`) {
		t.Errorf("expected JSON message, got %s", out)
	}
	if !strings.Contains(out, `"file":"app.py"`) {
		t.Errorf("expected file attr, got %s", out)
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Format: "text", Output: &buf})

	logger.Info("dropped")
	logger.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("warn should pass: %s", out)
	}
}

func TestNew_AutoFormatFallsBackToJSON(t *testing.T) {
	// A bytes.Buffer is not a terminal, so auto selects JSON.
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "auto", Output: &buf})

	logger.Info("hello")
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Errorf("auto on non-terminal should emit JSON: %s", buf.String())
	}
}

func TestLogger_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "json", Output: &buf})

	logger.Info("provider configured",
		"key", "sk-ant-REDACTED")

	out := buf.String()
	if strings.Contains(out, "sk-ant-") {
		t.Errorf("anthropic key leaked into log: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("expected redaction marker: %s", out)
	}
}

func TestLogger_RedactsMessageText(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "json", Output: &buf})

	logger.Info("loaded api_key=abcdefghij0123456789abcdef from env")
	if strings.Contains(buf.String(), "abcdefghij0123456789abcdef") {
		t.Errorf("generic api key leaked: %s", buf.String())
	}
}

func TestLogger_WithHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "json", Output: &buf})

	logger.WithSession("sess-1").WithFile("a.py").WithProvider("claude").Info("iteration")

	out := buf.String()
	for _, want := range []string{`"session_id":"sess-1"`, `"file":"a.py"`, `"provider":"claude"`} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %s", want, out)
		}
	}
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	logger.Info("discarded")
	logger.WithVuln("RCE").Error("also discarded")
}

func TestSanitizer_AddPattern(t *testing.T) {
	s := NewSanitizer()
	if err := s.AddPattern(`internal-[0-9]+`); err != nil {
		t.Fatalf("AddPattern() error = %v", err)
	}
	if got := s.Sanitize("id internal-12345 ok"); strings.Contains(got, "internal-12345") {
		t.Errorf("custom pattern not applied: %s", got)
	}

	if err := s.AddPattern(`([`); err == nil {
		t.Fatalf("expected error for invalid pattern")
	}
}
