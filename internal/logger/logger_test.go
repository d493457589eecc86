package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestNewLoggerEmitsFieldVocabulary(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})
	l = l.WithComponent("writer").WithOperation("write_page").WithEmailID("m1").
		WithCategory(CategoryTransient).WithRetryCount(2).WithCircuitState("open").
		WithError(errors.New("boom"))

	l.Info("creating page")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	for key, want := range map[string]string{
		"component":     "writer",
		"operation":     "write_page",
		"email_id":      "m1",
		"category":      "TRANSIENT",
		"circuit_state": "open",
		"error":         "boom",
		"severity":      "INFO",
		"message":       "creating page",
	} {
		if got, _ := line[key].(string); got != want {
			t.Errorf("field %q: got %q, want %q", key, got, want)
		}
	}
	if line["retry_count"] != float64(2) {
		t.Errorf("retry_count: got %v", line["retry_count"])
	}
}

func TestWithContextNestsAsSubObject(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf}).WithContext(map[string]any{"provider": "openai", "attempt": 1})
	l.Info("calling provider")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	ctx, ok := line["context"].(map[string]any)
	if !ok {
		t.Fatalf("expected a nested context object, got %v", line["context"])
	}
	if ctx["provider"] != "openai" {
		t.Errorf("got %v", ctx["provider"])
	}
}

func TestLevelBelowThresholdIsSuppressed(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelWarn, Output: &buf})
	l.Info("should not appear")

	if buf.Len() != 0 {
		t.Errorf("expected no output below the configured level, got %q", buf.String())
	}
}

func TestWithErrorNilIsNoop(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})
	l2 := l.WithError(nil)
	if l2 != l {
		t.Error("expected WithError(nil) to return the same logger instance")
	}
}

func TestParseLevelDefaultsToInfoOnUnknownString(t *testing.T) {
	if got := ParseLevel("not-a-level"); got != LevelInfo {
		t.Errorf("got %v", got)
	}
	if got := ParseLevel("DEBUG"); got != LevelDebug {
		t.Errorf("got %v", got)
	}
}

func TestDefaultInitializesOnce(t *testing.T) {
	first := Default()
	second := Default()
	if first != second {
		t.Error("expected Default() to return the same process-wide instance")
	}
}
