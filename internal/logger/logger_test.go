package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	apperrors "github.com/mp3forge/backend/internal/errors"
)

func parseEntry(t *testing.T, buf *bytes.Buffer) Entry {
	t.Helper()
	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v (raw: %s)", err, buf.String())
	}
	return entry
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"nonsense", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Output: &buf, Level: LevelWarn})

	log.Debug(context.Background(), "debug message")
	log.Info(context.Background(), "info message")

	if buf.Len() != 0 {
		t.Errorf("expected no output below warn level, got: %s", buf.String())
	}

	log.Warn(context.Background(), "warn message")
	if buf.Len() == 0 {
		t.Error("expected warn message to be logged")
	}
}

func TestEntryFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Output: &buf, Level: LevelDebug, Component: "scheduler"})

	log.Info(context.Background(), "job started", map[string]interface{}{
		"job_id":     "abc-123",
		"file_count": 3,
	})

	entry := parseEntry(t, &buf)
	if entry.Level != "info" {
		t.Errorf("level = %q, want info", entry.Level)
	}
	if entry.Message != "job started" {
		t.Errorf("message = %q", entry.Message)
	}
	if entry.Component != "scheduler" {
		t.Errorf("component = %q, want scheduler", entry.Component)
	}
	if entry.Fields["job_id"] != "abc-123" {
		t.Errorf("job_id field = %v", entry.Fields["job_id"])
	}
}

func TestRequestIDFromContext(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Output: &buf, Level: LevelDebug})

	ctx := apperrors.WithRequestID(context.Background(), "req-42")
	log.Info(ctx, "with request id")

	entry := parseEntry(t, &buf)
	if entry.RequestID != "req-42" {
		t.Errorf("request_id = %q, want req-42", entry.RequestID)
	}
}

func TestErrorEntry(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Output: &buf, Level: LevelDebug})

	appErr := apperrors.ToolFailure("encoder exited with status 1")
	log.Error(context.Background(), "conversion failed", appErr)

	entry := parseEntry(t, &buf)
	if entry.Error == nil {
		t.Fatal("expected error details")
	}
	if entry.Error.Code != apperrors.CodeToolFailure {
		t.Errorf("error code = %q, want %q", entry.Error.Code, apperrors.CodeToolFailure)
	}
	if entry.Error.StackTrace == "" {
		t.Error("expected stack trace on error entry")
	}
	if entry.Caller == "" {
		t.Error("expected caller on error entry")
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	base := New(&Config{Output: &buf, Level: LevelDebug})
	child := base.WithComponent("worker")

	child.Info(context.Background(), "picked up task")

	entry := parseEntry(t, &buf)
	if entry.Component != "worker" {
		t.Errorf("component = %q, want worker", entry.Component)
	}
}
