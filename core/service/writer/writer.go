// Package writer implements the duplicate-aware writer (C10): queries for
// an existing row by message_id, maps and POSTs the payload under
// retry+breaker, and DLQ-writes on terminal failure.
package writer

import (
	"context"
	"fmt"
	"time"

	"collabiq/core/domain"
	"collabiq/core/port/out"
	"collabiq/core/service/mapping"
	"collabiq/internal/apperr"
	"collabiq/internal/dlqstore"
	"collabiq/internal/logger"
	"collabiq/internal/resilience"
)

// DuplicateBehavior controls what happens when a row already exists for a
// message_id.
type DuplicateBehavior string

const (
	DuplicateSkip   DuplicateBehavior = "skip"
	DuplicateUpdate DuplicateBehavior = "update"
)

// WriteStatus is the outcome of CreateEntry.
type WriteStatus string

const (
	StatusCreated WriteStatus = "created"
	StatusUpdated WriteStatus = "updated"
	StatusSkipped WriteStatus = "skipped"
	StatusDLQed   WriteStatus = "dlqed"
)

// WriteResult is C10's public return value.
type WriteResult struct {
	PageID string
	Status WriteStatus
}

// Writer is the public contract create_collabiq_entry implements.
type Writer struct {
	workspace         out.WorkspaceWriter
	dlq               *dlqstore.Store
	breaker           *resilience.Breaker
	collabsDatabaseID string
	duplicateBehavior DuplicateBehavior
	log               *logger.Logger
}

func New(workspace out.WorkspaceWriter, dlq *dlqstore.Store, breakers *resilience.Registry, collabsDatabaseID string, duplicateBehavior DuplicateBehavior) *Writer {
	if duplicateBehavior == "" {
		duplicateBehavior = DuplicateSkip
	}
	return &Writer{
		workspace:         workspace,
		dlq:               dlq,
		breaker:           breakers.Get("workspace"),
		collabsDatabaseID: collabsDatabaseID,
		duplicateBehavior: duplicateBehavior,
		log:               logger.Default().WithComponent("writer"),
	}
}

// CreateEntry implements create_collabiq_entry (§4.10).
func (w *Writer) CreateEntry(ctx context.Context, in mapping.Input) (WriteResult, error) {
	messageID := in.Entities.MessageID
	if messageID == "" {
		// Missing message_id is a programmer error: fail fast rather than
		// silently writing an unidentifiable row.
		panic("writer.CreateEntry: message_id is required")
	}

	existingID, found, err := w.workspace.QueryByMessageID(ctx, w.collabsDatabaseID, messageID)
	if err != nil {
		// Duplicate check failing degrades to a possible duplicate; it
		// does not abort the write (§4.10).
		w.log.WithEmailID(messageID).WithError(err).Warn("duplicate check failed, proceeding with write")
	}

	payload, err := mapping.Map(in)
	if err != nil {
		return w.dlqOnFailure(ctx, messageID, payload, err)
	}

	if found {
		switch w.duplicateBehavior {
		case DuplicateUpdate:
			if err := w.updateWithRetry(ctx, existingID, payload); err != nil {
				return w.dlqOnFailure(ctx, messageID, payload, err)
			}
			return WriteResult{PageID: existingID, Status: StatusUpdated}, nil
		default:
			return WriteResult{PageID: existingID, Status: StatusSkipped}, nil
		}
	}

	pageID, err := w.createWithRetry(ctx, payload)
	if err != nil {
		return w.dlqOnFailure(ctx, messageID, payload, err)
	}
	return WriteResult{PageID: pageID, Status: StatusCreated}, nil
}

// createWithRetry gates on the shared workspace breaker but leaves
// recording its outcome to the adapter's own HTTP round trip (C1's
// Client.do already records success/failure on this same breaker instance
// for the identical call; recording it again here would double-count
// every outcome and trip/clear the breaker at half its configured
// thresholds).
func (w *Writer) createWithRetry(ctx context.Context, payload map[string]any) (string, error) {
	result, err := resilience.Do(ctx, resilience.WorkspacePolicy(), func(ctx context.Context, attempt int) (string, resilience.RetryAfterHint, error) {
		if !w.breaker.Allow() {
			return "", resilience.RetryAfterHint{}, apperr.ErrCircuitOpen
		}
		id, err := w.workspace.CreatePage(ctx, out.PageWrite{DatabaseID: w.collabsDatabaseID, Properties: payload})
		if err != nil {
			return "", resilience.RetryAfterHint{}, err
		}
		return id, resilience.RetryAfterHint{}, nil
	})
	if err != nil {
		return "", err
	}
	return result.Value, nil
}

func (w *Writer) updateWithRetry(ctx context.Context, pageID string, payload map[string]any) error {
	_, err := resilience.Do(ctx, resilience.WorkspacePolicy(), func(ctx context.Context, attempt int) (struct{}, resilience.RetryAfterHint, error) {
		if !w.breaker.Allow() {
			return struct{}{}, resilience.RetryAfterHint{}, apperr.ErrCircuitOpen
		}
		err := w.workspace.UpdatePage(ctx, pageID, out.PageWrite{DatabaseID: w.collabsDatabaseID, Properties: payload})
		if err != nil {
			return struct{}{}, resilience.RetryAfterHint{}, err
		}
		return struct{}{}, resilience.RetryAfterHint{}, nil
	})
	return err
}

// dlqOnFailure writes a workspace_write DLQ entry. The caller treats a
// successful DLQ write as success of the cycle step: the email is
// "parked," not "lost," and the cursor may still advance (§4.10).
func (w *Writer) dlqOnFailure(ctx context.Context, messageID string, payload map[string]any, writeErr error) (WriteResult, error) {
	category := apperr.CategoryOf(writeErr)
	now := time.Now()
	entry := domain.DLQEntry{
		DLQID:           dlqstore.NewDLQID(now, messageID),
		MessageID:       messageID,
		OperationType:   domain.OpWorkspaceWrite,
		Status:          domain.DLQPending,
		OriginalPayload: payload,
		ErrorDetails: domain.ErrorDetails{
			Type:    string(category),
			Message: writeErr.Error(),
		},
		CreatedAt:     now,
		LastAttemptAt: now,
	}
	if err := w.dlq.Write(ctx, entry); err != nil {
		return WriteResult{}, fmt.Errorf("write failed (%w) and DLQ write also failed: %w", writeErr, err)
	}
	return WriteResult{PageID: "", Status: StatusDLQed}, nil
}
