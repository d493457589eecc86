package out

import (
	"context"

	"collabiq/core/domain"
)

// ReplayOutcome is one DLQ entry's result after a replay attempt.
type ReplayOutcome string

const (
	ReplayCompleted ReplayOutcome = "completed"
	ReplayUpdated   ReplayOutcome = "updated" // retry_count incremented, still pending
	ReplayFailed    ReplayOutcome = "failed"
)

// DLQStore persists failed operations and supports idempotent replay
// (§4.3).
type DLQStore interface {
	Write(ctx context.Context, entry domain.DLQEntry) error
	Get(ctx context.Context, dlqID string) (domain.DLQEntry, error)
	List(ctx context.Context) ([]domain.DLQEntry, error)
	// Replay runs replayFn for entry and, on success, atomically marks it
	// completed in both the entry file and the processed-ids index.
	Replay(ctx context.Context, dlqID string, replayFn func(domain.DLQEntry) error) (ReplayOutcome, error)
	// ReplayAll walks every pending/failed entry in modification-time
	// order, replaying each via replayFn.
	ReplayAll(ctx context.Context, replayFn func(domain.DLQEntry) error) (map[string]ReplayOutcome, error)
}
