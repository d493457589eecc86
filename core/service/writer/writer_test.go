package writer

import (
	"context"
	"errors"
	"testing"

	"collabiq/core/domain"
	"collabiq/core/port/out"
	"collabiq/core/service/mapping"
	"collabiq/internal/apperr"
	"collabiq/internal/dlqstore"
	"collabiq/internal/resilience"
)

type fakeWorkspace struct {
	existingID string
	found      bool
	queryErr   error

	createErr error
	createID  string
	createdAt int

	updateErr  error
	updateCall int
}

func (f *fakeWorkspace) QueryByMessageID(ctx context.Context, databaseID, messageID string) (string, bool, error) {
	if f.queryErr != nil {
		return "", false, f.queryErr
	}
	return f.existingID, f.found, nil
}

func (f *fakeWorkspace) CreatePage(ctx context.Context, write out.PageWrite) (string, error) {
	f.createdAt++
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.createID, nil
}

func (f *fakeWorkspace) UpdatePage(ctx context.Context, pageID string, write out.PageWrite) error {
	f.updateCall++
	return f.updateErr
}

func (f *fakeWorkspace) CreateCompany(ctx context.Context, name string) (string, error) {
	return "", nil
}

func newWriter(t *testing.T, ws out.WorkspaceWriter, behavior DuplicateBehavior) (*Writer, *dlqstore.Store) {
	t.Helper()
	dlq := dlqstore.New(t.TempDir())
	w := New(ws, dlq, resilience.NewRegistry(), "collabs-db", behavior)
	return w, dlq
}

func validInput(messageID string) mapping.Input {
	return mapping.Input{Entities: domain.ExtractedEntities{MessageID: messageID}}
}

func TestCreateEntryCreatesNewPage(t *testing.T) {
	ws := &fakeWorkspace{createID: "new-page"}
	w, _ := newWriter(t, ws, DuplicateSkip)

	result, err := w.CreateEntry(context.Background(), validInput("m1"))
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	if result.Status != StatusCreated || result.PageID != "new-page" {
		t.Errorf("got %+v", result)
	}
}

func TestCreateEntrySkipsExistingByDefault(t *testing.T) {
	ws := &fakeWorkspace{existingID: "existing-page", found: true}
	w, _ := newWriter(t, ws, DuplicateSkip)

	result, err := w.CreateEntry(context.Background(), validInput("m1"))
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	if result.Status != StatusSkipped || result.PageID != "existing-page" {
		t.Errorf("got %+v", result)
	}
	if ws.updateCall != 0 || ws.createdAt != 0 {
		t.Error("expected neither create nor update to be called when skipping a duplicate")
	}
}

func TestCreateEntryUpdatesExistingWhenConfigured(t *testing.T) {
	ws := &fakeWorkspace{existingID: "existing-page", found: true}
	w, _ := newWriter(t, ws, DuplicateUpdate)

	result, err := w.CreateEntry(context.Background(), validInput("m1"))
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	if result.Status != StatusUpdated || ws.updateCall != 1 {
		t.Errorf("got %+v, updateCall=%d", result, ws.updateCall)
	}
}

func TestCreateEntryProceedsWhenDuplicateCheckFails(t *testing.T) {
	ws := &fakeWorkspace{queryErr: errors.New("query unavailable"), createID: "new-page"}
	w, _ := newWriter(t, ws, DuplicateSkip)

	result, err := w.CreateEntry(context.Background(), validInput("m1"))
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	if result.Status != StatusCreated {
		t.Errorf("expected the write to proceed as a create despite the failed duplicate check, got %+v", result)
	}
}

func TestCreateEntryParksToOnTerminalWriteFailure(t *testing.T) {
	ws := &fakeWorkspace{createErr: apperr.NewPermanent("workspace", "invalid payload", nil)}
	w, dlq := newWriter(t, ws, DuplicateSkip)

	result, err := w.CreateEntry(context.Background(), validInput("m1"))
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	if result.Status != StatusDLQed {
		t.Errorf("expected a terminal failure to be parked to the DLQ, got %+v", result)
	}

	entries, listErr := dlq.List(context.Background())
	if listErr != nil {
		t.Fatalf("List: %v", listErr)
	}
	if len(entries) != 1 || entries[0].MessageID != "m1" {
		t.Errorf("expected one parked DLQ entry for m1, got %+v", entries)
	}
}

func TestCreateEntryPanicsOnMissingMessageID(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected a panic for a missing message_id")
		}
	}()
	ws := &fakeWorkspace{}
	w, _ := newWriter(t, ws, DuplicateSkip)
	w.CreateEntry(context.Background(), mapping.Input{})
}

func TestCreateEntryParksOnMappingValidationError(t *testing.T) {
	bad := "too-short"
	ws := &fakeWorkspace{}
	w, dlq := newWriter(t, ws, DuplicateSkip)

	in := validInput("m1")
	in.CompanyMatch = domain.CompanyMatch{PageID: &bad}

	result, err := w.CreateEntry(context.Background(), in)
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	if result.Status != StatusDLQed {
		t.Errorf("expected a mapping validation failure to park to the DLQ, got %+v", result)
	}
	entries, _ := dlq.List(context.Background())
	if len(entries) != 1 {
		t.Errorf("expected one DLQ entry, got %d", len(entries))
	}
}
