package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readLogEntries(t *testing.T, path string) []map[string]any {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("unmarshal log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNewLoggerEmitsStructuredSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "zortexd.jsonl")
	logger, closer, err := NewLogger(path, "debug", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closer.Close()

	logger.Info("scan applied", "doc", "projects/launch.md", "xp_delta", 15)

	entries := readLogEntries(t, path)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]
	for _, key := range []string{"timestamp", "level", "msg", "service"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("missing %q in %#v", key, entry)
		}
	}
	if entry["service"] != "zortexd" {
		t.Fatalf("service = %#v", entry["service"])
	}
	if entry["doc"] != "projects/launch.md" {
		t.Fatalf("doc = %#v", entry["doc"])
	}
}

func TestNewLoggerRedactsCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zortexd.jsonl")
	logger, closer, err := NewLogger(path, "info", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closer.Close()

	logger.Info("ntfy configured",
		"ntfy_token", "tk_abc123",
		"header", "Authorization: Bearer super-secret",
	)

	entries := readLogEntries(t, path)
	entry := entries[len(entries)-1]
	if entry["ntfy_token"] != "[REDACTED]" {
		t.Fatalf("token not redacted: %#v", entry["ntfy_token"])
	}
	if entry["header"] != "[REDACTED]" {
		t.Fatalf("auth header not redacted: %#v", entry["header"])
	}
}

func TestNewLoggerHonorsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zortexd.jsonl")
	logger, closer, err := NewLogger(path, "warn", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closer.Close()

	logger.Info("dropped")
	logger.Warn("kept")

	entries := readLogEntries(t, path)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0]["msg"] != "kept" {
		t.Fatalf("msg = %#v", entries[0]["msg"])
	}
}

func TestNewLoggerWithoutFile(t *testing.T) {
	logger, closer, err := NewLogger("", "info", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closer.Close()
	logger.Info("goes nowhere")
}
