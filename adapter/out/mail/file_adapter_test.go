package mail

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"collabiq/internal/apperr"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFetchReturnsEverythingWhenNoCursor(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.jsonl", `{"message_id":"m2","body_text":"two","received_at":"2026-01-01T00:00:00Z"}
{"message_id":"m1","body_text":"one","received_at":"2026-01-01T00:00:00Z"}
`)

	a := NewFileAdapter(dir)
	got, err := a.Fetch(context.Background(), "")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 2 || got[0].MessageID != "m1" || got[1].MessageID != "m2" {
		t.Errorf("expected messages sorted by id, got %+v", got)
	}
}

func TestFetchFiltersByCursor(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.jsonl", `{"message_id":"m1","body_text":"one","received_at":"2026-01-01T00:00:00Z"}
{"message_id":"m2","body_text":"two","received_at":"2026-01-01T00:00:00Z"}
{"message_id":"m3","body_text":"three","received_at":"2026-01-01T00:00:00Z"}
`)

	a := NewFileAdapter(dir)
	got, err := a.Fetch(context.Background(), "m1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 2 || got[0].MessageID != "m2" {
		t.Errorf("expected only messages after m1, got %+v", got)
	}
}

func TestFetchReturnsEmptyWhenCursorIsLatest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.jsonl", `{"message_id":"m1","body_text":"one","received_at":"2026-01-01T00:00:00Z"}`)

	a := NewFileAdapter(dir)
	got, err := a.Fetch(context.Background(), "m1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no messages past the latest cursor, got %+v", got)
	}
}

func TestFetchIgnoresNonJSONLFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.jsonl", `{"message_id":"m1","body_text":"one","received_at":"2026-01-01T00:00:00Z"}`)
	writeFile(t, dir, "readme.txt", "not a message file")

	a := NewFileAdapter(dir)
	got, err := a.Fetch(context.Background(), "")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected the non-jsonl file to be ignored, got %+v", got)
	}
}

func TestFetchMissingDirectoryReturnsNoMessages(t *testing.T) {
	a := NewFileAdapter(filepath.Join(t.TempDir(), "does-not-exist"))
	got, err := a.Fetch(context.Background(), "")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil messages for a missing directory, got %+v", got)
	}
}

func TestFetchMalformedLineIsPermanentError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.jsonl", `not valid json`)

	a := NewFileAdapter(dir)
	_, err := a.Fetch(context.Background(), "")
	if err == nil {
		t.Fatal("expected an error for a malformed mail file")
	}
	if apperr.CategoryOf(err) != apperr.Permanent {
		t.Errorf("expected a Permanent error for malformed input, got %s", apperr.CategoryOf(err))
	}
}
