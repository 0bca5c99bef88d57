package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWriter(&buf, "warn", "json")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	log.Info().Msg("hidden")
	log.Warn().Str("article", "A1").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if entry["message"] != "shown" || entry["article"] != "A1" || entry["level"] != "warn" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestNewWriterConsole(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWriter(&buf, "", "console")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	log.Info().Msg("batch started")
	if !strings.Contains(buf.String(), "batch started") {
		t.Errorf("console output %q lacks message", buf.String())
	}
}

func TestNewWriterRejectsBadSettings(t *testing.T) {
	if _, err := NewWriter(&bytes.Buffer{}, "loud", "json"); err == nil {
		t.Error("bad level should fail")
	}
	if _, err := NewWriter(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Error("bad format should fail")
	}
}
